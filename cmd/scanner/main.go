package main

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/gate-scanner/cmd/scanner/handlers"
	"github.com/wachiwi/gate-scanner/pkg/camera"
	"github.com/wachiwi/gate-scanner/pkg/config"
	"github.com/wachiwi/gate-scanner/pkg/decoder"
	"github.com/wachiwi/gate-scanner/pkg/feedback"
	"github.com/wachiwi/gate-scanner/pkg/history"
	"github.com/wachiwi/gate-scanner/pkg/logger"
	"github.com/wachiwi/gate-scanner/pkg/redeem"
	"github.com/wachiwi/gate-scanner/pkg/sampler"
	"github.com/wachiwi/gate-scanner/pkg/scanner"
	"github.com/wachiwi/gate-scanner/pkg/speech"
	"github.com/wachiwi/gate-scanner/pkg/supervisor"
	"github.com/wachiwi/gate-scanner/pkg/telemetry"
)

//go:embed templates/*
var templateFS embed.FS

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	log := logger.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.Endpoint,
			DeviceID:       cfg.Supervisor.DeviceUUID,
			DeviceName:     cfg.Supervisor.DeviceName,
			MetricInterval: cfg.Telemetry.Interval,
		})
		if err != nil {
			slog.Error("Failed to set up telemetry", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					slog.Error("Failed to shut down telemetry", "error", err)
				}
			}()
		}
	}

	cameras := camera.NewManager(newDevice(cfg.Camera))
	ctrl := scanner.New(scanner.Deps{
		Cameras:  cameras,
		Sampler:  sampler.New(sampler.Config{FPS: cfg.Sampler.FPS, MaxWidth: cfg.Sampler.MaxWidth}),
		Decoder:  decoder.QR{},
		Redeemer: redeem.NewClient(cfg.Redeem.BaseURL, cfg.Redeem.Token, cfg.Redeem.Timeout),
	}, camera.Constraints{Width: cfg.Camera.Width, Height: cfg.Camera.Height, FPS: cfg.Camera.FPS})

	hist := history.New(cfg.History.Path, cfg.History.Retention)
	ctrl.Subscribe(hist.Record)

	var speaker feedback.Speaker
	if cfg.Feedback.SpeechURL != "" {
		speaker = speech.NewClient(cfg.Feedback.SpeechURL)
	}
	notifier := feedback.NewNotifier(feedback.Open(cfg.Feedback, speaker))
	ctrl.Subscribe(notifier.Notify)

	watchdog := scanner.NewWatchdog(log)
	if err := watchdog.WatchIdle(cfg.Watchdog.Schedule, ctrl, cfg.Watchdog.IdleLimit); err != nil {
		logger.Fatal("Failed to start watchdog", "error", err)
	}
	if cfg.History.Path != "" {
		err := watchdog.Every(cfg.History.FlushSchedule, "history-flush", func() {
			if err := hist.Flush(); err != nil {
				slog.Error("Failed to flush scan history", "error", err)
			}
		})
		if err != nil {
			logger.Fatal("Failed to schedule history flush", "error", err)
		}
	}
	watchdog.Start()

	var device handlers.DeviceStatus
	if cfg.Supervisor.Address != "" {
		device = supervisor.NewClient(cfg.Supervisor.Address, cfg.Supervisor.APIKey)
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(routerConfig{
		User:          cfg.User,
		Password:      cfg.Password,
		SessionSecret: cfg.SessionSecret,
		TemplateFS:    templateFS,
		Scanner:       ctrl,
		History:       hist,
		Sessions:      cameras,
		Device:        device,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Scanner is running", "addr", cfg.ListenAddr, "camera", cfg.Camera.Source)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to run server", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}

	<-watchdog.Stop().Done()
	ctrl.Close()
	if err := notifier.Close(); err != nil {
		slog.Error("Failed to close feedback", "error", err)
	}
	if err := hist.Flush(); err != nil {
		slog.Error("Failed to flush scan history", "error", err)
	}
}

func newDevice(cfg config.CameraConfig) camera.Device {
	switch cfg.Source {
	case config.SourcePattern:
		return &camera.PatternDevice{Code: cfg.PatternCode}
	case config.SourceImage:
		return &camera.ImageDevice{Path: cfg.ImagePath}
	default:
		return &camera.ProcessDevice{}
	}
}
