// canvasbot is a headless collaborator. It joins a room, optionally draws
// a line, waits for the canvas to converge and writes what it sees to PNG.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/canvas"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/export"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/logging"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/session"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/ws", "server websocket url")
		roomID   = flag.String("room", "lobby", "room to join")
		name     = flag.String("name", "canvasbot", "display name")
		draw     = flag.Bool("draw", false, "draw a diagonal line after joining")
		color    = flag.String("color", "#e74c3c", "stroke color")
		wait     = flag.Duration("wait", 2*time.Second, "how long to listen before snapshotting")
		out      = flag.String("out", "canvas.png", "PNG output path")
		width    = flag.Int("width", 800, "snapshot width")
		height   = flag.Int("height", 600, "snapshot height")
		logLevel = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	logger, err := logging.New(os.Stderr, *logLevel, "text")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, logger.Logger, botConfig{
		url: *url, room: *roomID, name: *name, draw: *draw, color: *color,
		wait: *wait, out: *out, width: *width, height: *height,
	})
	if err != nil {
		logger.Error("canvasbot failed", "err", err)
		os.Exit(1)
	}
}

type botConfig struct {
	url, room, name, color, out string
	draw                        bool
	wait                        time.Duration
	width, height               int
}

func run(ctx context.Context, logger *slog.Logger, cfg botConfig) error {
	client := session.New(session.Options{
		URL:         cfg.url,
		DisplayName: cfg.name,
		Logger:      logger,
	})
	defer client.Close()

	surface := export.NewSurface(cfg.width, cfg.height, "")
	defer surface.Close()

	machine := canvas.New(
		canvas.WithSender(client),
		canvas.WithRenderer(surface),
		canvas.WithLogger(logger),
	)
	unbind := machine.Bind(client)
	defer unbind()
	offDisconnect := client.On(session.EventDisconnect, func(json.RawMessage) {
		machine.DropDrafts()
	})
	defer offDisconnect()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := client.JoinRoom(ctx, cfg.room); err != nil {
		return fmt.Errorf("join %s: %w", cfg.room, err)
	}
	logger.Info("joined", "room", cfg.room, "users", client.UserCount())

	if cfg.draw {
		w, h := float64(cfg.width), float64(cfg.height)
		machine.SetTool(canvas.ToolLine)
		machine.SetColor(cfg.color)
		machine.PointerDown(shape.Pt(w*0.1, h*0.1))
		machine.PointerMove(shape.Pt(w*0.9, h*0.9))
		machine.PointerUp(shape.Pt(w*0.9, h*0.9))
	}

	select {
	case <-ctx.Done():
	case <-time.After(cfg.wait):
	}

	if !machine.Flush() {
		surface.Render(machine.Frame())
	}
	for _, p := range client.Roster().Peers() {
		logger.Info("peer", "id", p.ID, "name", p.Name, "color", p.Color)
	}

	f, err := os.Create(cfg.out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := surface.EncodePNG(f); err != nil {
		return fmt.Errorf("write %s: %w", cfg.out, err)
	}
	logger.Info("snapshot written", "path", cfg.out, "shapes", machine.Store().Len())
	return client.LeaveRoom()
}
