package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/JoshADC/hikvision-isapi/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Repository struct {
	db *gorm.DB
}

// SettingState is the last-known flat path/value map for one camera,
// persisted so a restart can serve state before the first poll completes.
type SettingState struct {
	DeviceID  string          `gorm:"primaryKey;type:uuid"`
	Values    json.RawMessage `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func NewRepository(dsn string) (*Repository, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.Device{}, &SettingState{}); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) UpsertDevice(ctx context.Context, d *model.Device) error {
	d.UpdatedAt = time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *Repository) GetByExternal(ctx context.Context, protocol, externalID string) (*model.Device, error) {
	var dev model.Device
	if err := r.db.WithContext(ctx).Where(&model.Device{Protocol: protocol, ExternalID: externalID}).First(&dev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dev, nil
}

func (r *Repository) SetOffline(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&model.Device{}).
		Where(map[string]any{"id": id}).
		Update("online", false)
	if res.Error != nil {
		slog.Error("offline update error", "error", res.Error)
	}
	return res.Error
}

func (r *Repository) SaveSettingState(ctx context.Context, deviceID string, values json.RawMessage) error {
	ss := &SettingState{DeviceID: deviceID, Values: values, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"values", "updated_at"}),
	}).Create(ss).Error
}

func (r *Repository) GetSettingState(ctx context.Context, deviceID string) (json.RawMessage, error) {
	var ss SettingState
	if err := r.db.WithContext(ctx).First(&ss, &SettingState{DeviceID: deviceID}).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return ss.Values, nil
}
