package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/channel"
	"github.com/safesim/simdash/internal/config"
	"github.com/safesim/simdash/internal/journal"
	"github.com/safesim/simdash/internal/store"
)

// app holds the collaborators a command runs with
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	channel *channel.Channel
	journal *journal.Journal // nil when recording is off or unavailable
	closers []io.Closer
}

// loadConfig reads the config file and applies flag overrides
func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if opts.server != "" {
		cfg.ServerURL = opts.server
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.noJournal {
		cfg.JournalEnabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// newApp wires the store, channel and, when record is set, the journal.
// A journal that cannot be opened is logged and skipped.
func newApp(opts *options, record bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, logFile, err := openLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logFile}}
	a.store = store.New(logger)
	client := api.NewClient(cfg.ServerURL,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(logger),
	)
	a.channel = channel.New(client, a.store, cfg.PushPath, logger)

	if record && cfg.JournalEnabled {
		if err := a.openJournal(); err != nil {
			logger.Warn("journal unavailable", "path", cfg.JournalPath, "error", err)
		}
	}
	return a, nil
}

func (a *app) openJournal() error {
	db, err := journal.Open(a.cfg.JournalPath)
	if err != nil {
		return err
	}
	j, err := journal.New(db, a.cfg.ServerURL, a.logger)
	if err != nil {
		db.Close()
		return err
	}
	a.journal = j
	a.channel.SetRecorder(j)
	a.closers = append(a.closers, j)
	a.logger.Debug("journal session started", "session", j.SessionID())
	return nil
}

// Close releases everything newApp opened, last opened first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// openLogger opens the JSON log file. The dashboard owns the terminal, so
// logs never go to stdout.
func openLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	return logger, f, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
