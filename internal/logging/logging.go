// Package logging builds the process slog logger. The level is held in a
// LevelVar so it can change while the server runs.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New returns a logger writing text or JSON to w.
func New(w io.Writer, level, format string) (*Logger, error) {
	lv := new(slog.LevelVar)
	if err := setLevel(lv, level); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return &Logger{Logger: slog.New(h), level: lv}, nil
}

// SetLevel changes the minimum level of every logger derived from l.
func (l *Logger) SetLevel(level string) error {
	return setLevel(l.level, level)
}

func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

func setLevel(lv *slog.LevelVar, s string) error {
	if s == "" {
		lv.Set(slog.LevelInfo)
		return nil
	}
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	lv.Set(lvl)
	return nil
}
