package app

import (
	"io"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/graphiti-browser/internal/config"
)

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
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

// SetupLogging installs the default logger and returns the level handle
// used by config reloads. verbose forces debug.
func SetupLogging(w io.Writer, cfg config.LogConfig, verbose bool) *slog.LevelVar {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))
	if verbose {
		level.Set(slog.LevelDebug)
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
	return level
}
