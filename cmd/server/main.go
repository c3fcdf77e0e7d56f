package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/api"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/auth"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/compaction"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/config"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/db"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/export"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/logging"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/room"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to a .toml, .json or .yaml config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger.Logger)
	export.SetLogger(logger.With("component", "export"))

	if configPath != "" {
		loader.OnChange(func(c *config.Config) {
			if err := logger.SetLevel(c.Logging.Level); err != nil {
				logger.Warn("config reload", "err", err)
				return
			}
			logger.Info("config reloaded", "log_level", c.Logging.Level)
		})
		if err := loader.Watch(); err != nil {
			logger.Warn("config watch disabled", "err", err)
		} else {
			defer loader.Close()
			go func() {
				for err := range loader.Errors() {
					logger.Warn("config watch", "err", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := room.NewRegistry(cfg.Rooms.HistoryCap, cfg.Rooms.SnapshotSize)
	hubOpts := []ws.Option{
		ws.WithLogger(logger.Logger),
		ws.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		ws.WithLimits(ws.Limits{
			MessagesPerSecond: float64(cfg.Limits.MessagesPerSecond),
			Burst:             cfg.Limits.Burst,
			MaxMessageSize:    cfg.Limits.MaxMessageSize,
			SendBuffer:        cfg.Limits.SendBuffer,
		}),
	}

	apiOpts := api.Options{
		Auth: auth.NewMemoryService(auth.WithTTL(cfg.TokenTTL())),
		Exporter: export.NewRasterizer(export.Options{
			MaxWidth:   cfg.Export.MaxWidth,
			MaxHeight:  cfg.Export.MaxHeight,
			Padding:    cfg.Export.Padding,
			Background: cfg.Export.Background,
		}),
		Logger:            logger.Logger,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerSecond: float64(cfg.Limits.HTTPRequestsPerSecond),
		Burst:             cfg.Limits.HTTPBurst,
	}

	if cfg.Storage.Enabled {
		database, err := db.New(cfg.Storage.Path, logger.Logger)
		if err != nil {
			return err
		}
		defer database.Close()

		recorder := db.NewRecorder(database, 0, logger.Logger)
		defer recorder.Close()
		hubOpts = append(hubOpts, ws.WithRecorder(recorder))
		apiOpts.Ledger = database

		compactor := compaction.New(database, compaction.Config{
			Interval:   cfg.CompactionInterval(),
			Threshold:  cfg.Compaction.Threshold,
			KeepRecent: cfg.Compaction.KeepRecent,
		}, logger.Logger)
		compactor.Start()
		defer compactor.Stop()
	}

	hub := ws.NewHub(registry, hubOpts...)
	go hub.Run(ctx)
	apiOpts.Hub = hub

	handler := api.New(apiOpts)
	defer handler.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("collab-canvas listening",
			"addr", cfg.Server.Addr,
			"storage", cfg.Storage.Enabled,
			"history_cap", cfg.Rooms.HistoryCap,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	stop()
	<-hub.Done()
	registry.Close()
	return nil
}
