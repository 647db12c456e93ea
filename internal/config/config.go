package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port           string
	MQTTBrokerURL  string
	LogLevel       string
	Postgres       DBConfig
	RedisAddr      string
	RedisPassword  string
	AdapterID      string
	AdapterVersion string

	CameraHost     string
	CameraUsername string
	CameraPassword string
	CameraChannel  int
	PollInterval   time.Duration
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("CAMERA_ADAPTER_PORT", "8093"),
		MQTTBrokerURL:  getEnv("MQTT_BROKER_URL", "mqtt://mosquitto:1883"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AdapterID:      getEnv("CAMERA_ADAPTER_ID", "camera-adapter"),
		AdapterVersion: getEnv("CAMERA_ADAPTER_VERSION", "dev"),
		Postgres: DBConfig{
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   getEnv("POSTGRES_DB", "homenavi"),
			Host:     getEnv("POSTGRES_HOST", "postgres"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
		},
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		CameraHost:     os.Getenv("CAMERA_HOST"),
		CameraUsername: getEnv("CAMERA_USERNAME", "admin"),
		CameraPassword: os.Getenv("CAMERA_PASSWORD"),
		CameraChannel:  getEnvInt("CAMERA_CHANNEL", 1),
		PollInterval:   getEnvDuration("CAMERA_POLL_INTERVAL", 30*time.Second),
	}
	slog.Info("camera-adapter config loaded", "port", cfg.Port, "mqtt", cfg.MQTTBrokerURL, "camera", cfg.CameraHost, "channel", cfg.CameraChannel, "poll", cfg.PollInterval)
	return cfg
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid integer env value, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
		slog.Warn("invalid duration env value, using default", "key", k, "value", v, "default", def)
	}
	return def
}
