package isapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"

	"github.com/JoshADC/hikvision-isapi/internal/model"
	"github.com/JoshADC/hikvision-isapi/internal/mqtt"
	"github.com/JoshADC/hikvision-isapi/internal/proto/adapterutil"
	"github.com/JoshADC/hikvision-isapi/internal/store"
)

const (
	hdpSchema              = "hdp.v1"
	hdpMetadataPrefix      = "homenavi/hdp/device/metadata/"
	hdpStatePrefix         = "homenavi/hdp/device/state/"
	hdpCommandPrefix       = "homenavi/hdp/device/command/"
	hdpCommandResultPrefix = "homenavi/hdp/device/command_result/"
	hdpAdapterHelloTopic   = "homenavi/hdp/adapter/hello"
	hdpAdapterStatusPrefix = "homenavi/hdp/adapter/status/"
)

var (
	metricSettingWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_setting_writes_total",
			Help: "Setting write attempts by outcome.",
		},
		[]string{"result"},
	)
	metricConflictRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "camera_conflict_retries_total",
			Help: "Corrective writes issued to clear device-reported setting conflicts.",
		},
	)
	metricPollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "camera_poll_errors_total",
			Help: "Failed polls of the camera's current settings.",
		},
	)
)

func init() {
	prometheus.MustRegister(metricSettingWrites, metricConflictRetries, metricPollErrors)
}

// ErrUnknownSetting is returned for change requests against a path that no
// descriptor covers.
var ErrUnknownSetting = errors.New("unknown setting")

// ErrInvalidValue is returned when a requested value cannot be coerced to
// the descriptor's kind or falls outside its bounds.
var ErrInvalidValue = errors.New("invalid value")

type Options struct {
	AdapterID    string
	Version      string
	PollInterval time.Duration
}

// CameraAdapter drives one camera: discovers its settings from the
// capability schema, polls current values, and applies change requests
// arriving over MQTT or the HTTP API.
type CameraAdapter struct {
	camera    *Client
	client    mqtt.ClientAPI
	repo      *store.Repository
	cache     *store.StateCache
	settings  *DescriptorStore
	adapterID string
	version   string
	pollEvery time.Duration

	ctx           context.Context
	cancel        context.CancelFunc
	cron          *cron.Cron
	subscriptions []string

	// One in-flight change per camera. Concurrent writes race at the
	// device, and the conflict resolver's read-modify-write chains must
	// not interleave.
	writeMu sync.Mutex

	devMu  sync.RWMutex
	device *model.Device
	info   DeviceInfo
}

func New(camera *Client, client mqtt.ClientAPI, repo *store.Repository, cache *store.StateCache, opts Options) *CameraAdapter {
	if strings.TrimSpace(opts.AdapterID) == "" {
		opts.AdapterID = "camera"
	}
	if strings.TrimSpace(opts.Version) == "" {
		opts.Version = "dev"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	return &CameraAdapter{
		camera:    camera,
		client:    client,
		repo:      repo,
		cache:     cache,
		settings:  NewDescriptorStore(),
		adapterID: opts.AdapterID,
		version:   opts.Version,
		pollEvery: opts.PollInterval,
	}
}

func (a *CameraAdapter) Name() string { return "camera" }

// Settings returns a snapshot of the current descriptors.
func (a *CameraAdapter) Settings() []model.Setting { return a.settings.List() }

// Device returns the registered device record, or nil before Start.
func (a *CameraAdapter) Device() *model.Device {
	a.devMu.RLock()
	defer a.devMu.RUnlock()
	if a.device == nil {
		return nil
	}
	dev := *a.device
	return &dev
}

func (a *CameraAdapter) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	slog.Info("camera adapter starting", "adapter_id", a.adapterID)
	_ = a.publishHello()
	_ = a.publishStatus("starting", "initializing")

	// Device info doubles as the credential check; the camera may still
	// be booting when we come up, so retry with backoff.
	info, err := backoff.Retry(a.ctx, func() (DeviceInfo, error) {
		return a.camera.GetDeviceInfo(a.ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		_ = a.publishStatus("error", "device unreachable")
		return fmt.Errorf("fetching device info: %w", err)
	}
	slog.Info("camera connected", "model", info.Model, "serial", info.SerialNumber, "firmware", info.FirmwareVersion)

	dev, err := a.registerDevice(a.ctx, info)
	if err != nil {
		return err
	}
	a.devMu.Lock()
	a.device = dev
	a.info = info
	a.devMu.Unlock()

	a.primeFromStore(a.ctx)

	if err := a.rebuildDescriptors(a.ctx); err != nil {
		_ = a.publishStatus("error", "capability fetch failed")
		return err
	}

	if err := a.subscribe(hdpCommandPrefix+"camera/#", a.handleCommand); err != nil {
		return err
	}

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", a.pollEvery), a.poll); err != nil {
		return fmt.Errorf("scheduling poll: %w", err)
	}
	a.cron.Start()

	a.publishMeta()
	a.publishState()
	_ = a.publishStatus("online", "healthy")
	slog.Info("camera adapter started", "adapter_id", a.adapterID, "settings", len(a.settings.List()), "poll", a.pollEvery)
	return nil
}

func (a *CameraAdapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.cron != nil {
		a.cron.Stop()
	}
	for _, topic := range a.subscriptions {
		if err := a.client.Unsubscribe(topic); err != nil {
			slog.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	if dev := a.Device(); dev != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.repo.SetOffline(ctx, dev.ID.String())
	}
	_ = a.publishStatus("offline", "shutdown")
}

func (a *CameraAdapter) subscribe(topic string, handler mqtt.Handler) error {
	if err := a.client.Subscribe(topic, handler); err != nil {
		return err
	}
	a.subscriptions = append(a.subscriptions, topic)
	return nil
}

func (a *CameraAdapter) registerDevice(ctx context.Context, info DeviceInfo) (*model.Device, error) {
	external := info.ExternalID()
	if external == "" {
		external = strings.ToLower(info.SerialNumber)
	}
	dev, _ := a.repo.GetByExternal(ctx, "camera", external)
	if dev == nil {
		dev = &model.Device{ID: uuid.New(), Protocol: "camera", ExternalID: external}
	}
	name := adapterutil.SanitizeString(info.DeviceName)
	if strings.TrimSpace(name) != "" {
		dev.Name = name
	} else if strings.TrimSpace(dev.Name) == "" {
		dev.Name = info.Model
	}
	dev.Host = a.camera.Host()
	dev.Manufacturer = "Hikvision"
	dev.Model = adapterutil.SanitizeString(info.Model)
	dev.SerialNumber = adapterutil.SanitizeString(info.SerialNumber)
	dev.Firmware = adapterutil.SanitizeString(info.FirmwareVersion)
	dev.FirmwareBuild = adapterutil.SanitizeString(info.FirmwareBuild)
	dev.Online = true
	dev.LastSeen = time.Now().UTC()
	if err := a.repo.UpsertDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("registering device: %w", err)
	}
	return dev, nil
}

// rebuildDescriptors refetches the capability schema and current values
// and replaces the descriptor collection.
func (a *CameraAdapter) rebuildDescriptors(ctx context.Context) error {
	schema, err := a.camera.GetCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("fetching capabilities: %w", err)
	}
	current, err := a.camera.GetCurrentValues(ctx)
	if err != nil {
		return fmt.Errorf("fetching current values: %w", err)
	}

	settings := ParseCapabilities(schema, current)
	a.settings.Rebuild(settings)
	a.settings.Refresh(FlattenValues(current))
	slog.Info("camera descriptors built", "count", len(settings))

	a.devMu.Lock()
	if a.device != nil {
		if b, err := json.Marshal(settings); err == nil {
			a.device.Settings = datatypes.JSON(b)
			_ = a.repo.UpsertDevice(ctx, a.device)
		}
	}
	a.devMu.Unlock()

	a.persistState(ctx)
	return nil
}

// primeFromStore republishes the persisted last-known state so the hub
// sees values before the first poll completes.
func (a *CameraAdapter) primeFromStore(ctx context.Context) {
	dev := a.Device()
	if dev == nil {
		return
	}
	id := dev.ID.String()
	b, err := a.cache.Get(ctx, id)
	if err != nil || len(b) == 0 {
		b, err = a.repo.GetSettingState(ctx, id)
		if err != nil || len(b) == 0 {
			return
		}
		_ = a.cache.Set(ctx, id, b)
	}
	var values map[string]string
	if err := json.Unmarshal(b, &values); err != nil || len(values) == 0 {
		return
	}
	deviceID := a.hdpDeviceID()
	if deviceID == "" {
		return
	}
	envelope := map[string]any{
		"schema":    hdpSchema,
		"type":      "state",
		"device_id": deviceID,
		"ts":        time.Now().UnixMilli(),
		"state":     values,
	}
	if eb, err := json.Marshal(envelope); err == nil {
		_ = a.client.PublishWith(hdpStatePrefix+deviceID, eb, true)
	}
	slog.Info("camera state primed from store", "keys", len(values))
}

// poll refreshes current values from the camera and republishes state.
func (a *CameraAdapter) poll() {
	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()

	current, err := a.camera.GetCurrentValues(ctx)
	if err != nil {
		metricPollErrors.Inc()
		slog.Warn("camera poll failed", "error", err)
		return
	}
	a.settings.Refresh(FlattenValues(current))
	a.persistState(ctx)
	a.publishState()
}

// Refresh forces an immediate poll.
func (a *CameraAdapter) Refresh() { a.poll() }

// SetSetting applies one change request. The value arrives as loose JSON
// and is coerced to the device vocabulary per the descriptor's kind.
// Known conflicts are resolved and retried; the returned PutResult carries
// device-side rejections, errors are transport-level only.
func (a *CameraAdapter) SetSetting(ctx context.Context, path string, value any) (PutResult, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	desc, ok := a.settings.Get(path)
	if !ok {
		return PutResult{}, fmt.Errorf("%w: %s", ErrUnknownSetting, path)
	}
	raw, err := coerceValue(desc, value)
	if err != nil {
		return PutResult{}, err
	}

	var result PutResult
	switch {
	case desc.Linked() && raw == desc.OffValue:
		// Turning off: disable flag and mode in one request. Disabling
		// is never conflict-gated.
		result, err = a.camera.PutSettings(ctx, []Edit{
			{Path: desc.LinkedEnabledPath, Value: "false"},
			{Path: desc.Path, Value: raw},
		})
	case desc.Linked():
		result, err = EnableWithResolution(ctx, a.camera, desc.LinkedEnabledPath, desc.Path, raw)
	default:
		result, err = PutWithResolution(ctx, a.camera, desc.Path, raw)
	}
	if err != nil {
		metricSettingWrites.WithLabelValues("error").Inc()
		return PutResult{}, err
	}
	if !result.Success {
		metricSettingWrites.WithLabelValues("rejected").Inc()
		slog.Warn("camera setting write rejected", "path", path, "value", raw, "subStatus", result.SubStatus)
		return result, nil
	}

	metricSettingWrites.WithLabelValues("ok").Inc()
	slog.Info("camera setting written", "path", path, "value", raw)
	a.settings.SetCurrent(path, raw)
	a.persistState(ctx)
	a.publishState()
	go a.poll()
	return result, nil
}

// coerceValue turns a loose API value into the raw device string for a
// descriptor. Numbers go out as integer text when whole; selects accept
// display labels as well as raw option values.
func coerceValue(desc model.Setting, value any) (string, error) {
	switch desc.Kind {
	case model.KindToggle:
		b, ok := adapterutil.CoerceBool(value)
		if !ok {
			return "", fmt.Errorf("%w: setting %s expects a boolean, got %v", ErrInvalidValue, desc.Path, value)
		}
		return strconv.FormatBool(b), nil
	case model.KindNumber:
		f, ok := adapterutil.NumericValue(value)
		if !ok {
			return "", fmt.Errorf("%w: setting %s expects a number, got %v", ErrInvalidValue, desc.Path, value)
		}
		if desc.Range != nil && (f < desc.Range.Min || f > desc.Range.Max) {
			return "", fmt.Errorf("%w: setting %s: %v out of range [%v, %v]", ErrInvalidValue, desc.Path, f, desc.Range.Min, desc.Range.Max)
		}
		if f == math.Trunc(f) {
			return strconv.Itoa(int(f)), nil
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case model.KindSelect:
		s := strings.TrimSpace(fmt.Sprint(value))
		for i, label := range desc.Labels {
			if label == s && i < len(desc.Options) {
				return desc.Options[i], nil
			}
		}
		for _, opt := range desc.Options {
			if opt == s {
				return opt, nil
			}
		}
		return "", fmt.Errorf("%w: setting %s: %q is not one of %v", ErrInvalidValue, desc.Path, s, desc.Options)
	default:
		return "", fmt.Errorf("%w: setting %s has unknown kind %q", ErrInvalidValue, desc.Path, desc.Kind)
	}
}

func (a *CameraAdapter) persistState(ctx context.Context) {
	dev := a.Device()
	if dev == nil {
		return
	}
	b, err := json.Marshal(a.settings.Values())
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, dev.ID.String(), b); err != nil {
		slog.Debug("camera state cache set failed", "error", err)
	}
	if err := a.repo.SaveSettingState(ctx, dev.ID.String(), b); err != nil {
		slog.Warn("camera state save failed", "error", err)
	}
}

func (a *CameraAdapter) handleCommand(_ paho.Client, m paho.Message) {
	var envelope map[string]any
	if err := json.Unmarshal(m.Payload(), &envelope); err != nil {
		slog.Debug("hdp command decode failed", "topic", m.Topic(), "error", err)
		return
	}
	corr := adapterutil.StringField(envelope, "corr")
	command := strings.ToLower(adapterutil.StringField(envelope, "command"))
	if command == "" {
		command = "set_state"
	}

	switch command {
	case "set_state":
		args, _ := envelope["args"].(map[string]any)
		if len(args) == 0 {
			args, _ = envelope["state"].(map[string]any)
		}
		if len(args) == 0 {
			a.publishCommandResult(corr, false, "", "no settings in command")
			return
		}
		ctx, cancel := context.WithTimeout(a.ctx, 2*time.Minute)
		defer cancel()
		failures := []string{}
		for path, value := range args {
			result, err := a.SetSetting(ctx, path, value)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			if !result.Success {
				failures = append(failures, fmt.Sprintf("%s: %s", path, result.SubStatus))
			}
		}
		if len(failures) > 0 {
			a.publishCommandResult(corr, false, "failed", strings.Join(failures, "; "))
			return
		}
		a.publishCommandResult(corr, true, "applied", "")
	case "refresh":
		a.poll()
		a.publishCommandResult(corr, true, "refreshed", "")
	default:
		slog.Debug("hdp command ignored", "command", command)
	}
}

func (a *CameraAdapter) publishHello() error {
	hdp := map[string]any{
		"schema":      hdpSchema,
		"type":        "hello",
		"adapter_id":  a.adapterID,
		"protocol":    "camera",
		"version":     a.version,
		"hdp_version": "1.0",
		"features": map[string]any{
			"supports_ack":         true,
			"supports_correlation": true,
			"supports_batch_state": true,
		},
		"ts": time.Now().UnixMilli(),
	}
	if b, err := json.Marshal(hdp); err == nil {
		_ = a.client.Publish(hdpAdapterHelloTopic, b)
	}
	return nil
}

func (a *CameraAdapter) publishStatus(status, reason string) error {
	hdp := map[string]any{
		"schema":     hdpSchema,
		"type":       "status",
		"adapter_id": a.adapterID,
		"status":     status,
		"reason":     reason,
		"version":    a.version,
		"ts":         time.Now().UnixMilli(),
	}
	if b, err := json.Marshal(hdp); err == nil {
		_ = a.client.PublishWith(hdpAdapterStatusPrefix+a.adapterID, b, true)
	}
	return nil
}

func (a *CameraAdapter) hdpDeviceID() string {
	dev := a.Device()
	if dev == nil || dev.ExternalID == "" {
		return ""
	}
	return fmt.Sprintf("camera/%s/%s", a.adapterID, dev.ExternalID)
}

func (a *CameraAdapter) publishMeta() {
	dev := a.Device()
	deviceID := a.hdpDeviceID()
	if dev == nil || deviceID == "" {
		return
	}
	envelope := map[string]any{
		"schema":       hdpSchema,
		"type":         "metadata",
		"device_id":    deviceID,
		"protocol":     "camera",
		"name":         dev.Name,
		"manufacturer": dev.Manufacturer,
		"model":        dev.Model,
		"serial":       dev.SerialNumber,
		"firmware":     dev.Firmware,
		"ts":           time.Now().UnixMilli(),
	}
	settings := a.settings.List()
	if len(settings) > 0 {
		envelope["settings"] = settings
	}
	if b, err := json.Marshal(envelope); err == nil {
		_ = a.client.PublishWith(hdpMetadataPrefix+deviceID, b, true)
	}
}

func (a *CameraAdapter) publishState() {
	deviceID := a.hdpDeviceID()
	if deviceID == "" {
		return
	}
	values := a.settings.Values()
	if len(values) == 0 {
		return
	}
	envelope := map[string]any{
		"schema":    hdpSchema,
		"type":      "state",
		"device_id": deviceID,
		"ts":        time.Now().UnixMilli(),
		"state":     values,
	}
	if b, err := json.Marshal(envelope); err == nil {
		_ = a.client.PublishWith(hdpStatePrefix+deviceID, b, true)
	}
}

func (a *CameraAdapter) publishCommandResult(corr string, success bool, status, errMsg string) {
	deviceID := a.hdpDeviceID()
	if deviceID == "" || corr == "" {
		return
	}
	envelope := map[string]any{
		"schema":    hdpSchema,
		"type":      "command_result",
		"device_id": deviceID,
		"corr":      corr,
		"success":   success,
		"ts":        time.Now().UnixMilli(),
	}
	if status != "" {
		envelope["status"] = status
	}
	if errMsg != "" {
		envelope["error"] = errMsg
	}
	if b, err := json.Marshal(envelope); err == nil {
		_ = a.client.Publish(hdpCommandResultPrefix+deviceID, b)
	}
}
