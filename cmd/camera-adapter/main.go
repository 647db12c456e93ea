package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/JoshADC/hikvision-isapi/internal/config"
	"github.com/JoshADC/hikvision-isapi/internal/httpapi"
	"github.com/JoshADC/hikvision-isapi/internal/mqtt"
	"github.com/JoshADC/hikvision-isapi/internal/observability"
	"github.com/JoshADC/hikvision-isapi/internal/proto/isapi"
	"github.com/JoshADC/hikvision-isapi/internal/store"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))

	if strings.TrimSpace(cfg.CameraHost) == "" {
		slog.Error("CAMERA_HOST is required")
		os.Exit(1)
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.Postgres.Host, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.Port)
	repo, err := store.NewRepository(dsn)
	if err != nil {
		slog.Error("db init failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	cache := store.NewStateCache(rdb)

	mClient := mqtt.New(cfg.MQTTBrokerURL)

	shutdownObs, promHandler, tracer := observability.SetupObservability("camera-adapter")
	defer shutdownObs()

	camera := isapi.NewClient(cfg.CameraHost, cfg.CameraUsername, cfg.CameraPassword, cfg.CameraChannel)
	adapter := isapi.New(camera, mClient, repo, cache, isapi.Options{
		AdapterID:    cfg.AdapterID,
		Version:      cfg.AdapterVersion,
		PollInterval: cfg.PollInterval,
	})
	if err := adapter.Start(context.Background()); err != nil {
		slog.Error("camera adapter start failed", "error", err)
		os.Exit(1)
	}

	api := httpapi.NewServer(adapter)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(observability.MetricsAndTracingMiddleware(tracer, "camera-adapter"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "PUT", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promHandler)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Route("/api", func(r chi.Router) {
		api.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("adapter server error", "error", err)
		}
	}()
	slog.Info("camera-adapter started", "port", cfg.Port, "adapter_id", cfg.AdapterID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	adapter.Stop()
	mClient.Disconnect()
	_ = rdb.Close()
	_ = srv.Shutdown(ctx)
	slog.Info("camera-adapter stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
