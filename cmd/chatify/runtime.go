package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/chatify/internal/backend"
	"github.com/ashureev/chatify/internal/config"
	"github.com/ashureev/chatify/internal/credential"
	"github.com/ashureev/chatify/internal/session"
	"github.com/ashureev/chatify/internal/transcript"
	"github.com/joho/godotenv"
)

// runtime holds the process-wide dependencies shared by every command.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	logFile  *os.File
	creds    *credential.SQLiteStore
	client   *backend.Client
	probe    *session.Probe
	recorder transcript.Recorder
}

func setup(envFile, logLevel string) (*runtime, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	if err := rt.initLogger(logLevel); err != nil {
		return nil, err
	}

	rt.creds, err = credential.NewSQLite(cfg.DBPath)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	if err := rt.creds.Ping(context.Background()); err != nil {
		rt.Close()
		return nil, fmt.Errorf("credential store health check: %w", err)
	}

	mechanism := backend.MechanismBearer
	if cfg.UsesCookies() {
		mechanism = backend.MechanismCookie
	}
	rt.client = backend.New(backend.Options{
		BaseURL:     cfg.BackendURL,
		Credentials: rt.creds,
		Mechanism:   mechanism,
		CookieName:  cfg.CookieName,
		HTTPClient:  &http.Client{Timeout: cfg.RequestTimeout},
		Logger:      rt.logger,
	})
	rt.probe = session.NewProbe(rt.client, rt.logger)

	rt.recorder, err = transcript.New(transcript.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, rt.logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("initialize transcript: %w", err)
	}

	rt.logger.Debug("Runtime ready", "db_path", cfg.DBPath, "transcript", cfg.ConversationLog.Enabled)
	return rt, nil
}

// initLogger sends logs to the configured file so they never interleave
// with terminal output.
func (rt *runtime) initLogger(level string) error {
	if err := os.MkdirAll(filepath.Dir(rt.cfg.LogFile), 0o700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(rt.cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	rt.logFile = f

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler = slog.NewJSONHandler(f, opts)
	if rt.cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(f, opts)
	}
	rt.logger = slog.New(handler)
	slog.SetDefault(rt.logger)
	return nil
}

func (rt *runtime) Close() {
	if rt.recorder != nil {
		if err := rt.recorder.Close(); err != nil {
			rt.logger.Error("Failed to close transcript", "error", err)
		}
	}
	if rt.creds != nil {
		if err := rt.creds.Close(); err != nil {
			rt.logger.Error("Failed to close credential store", "error", err)
		}
	}
	if rt.logFile != nil {
		_ = rt.logFile.Close()
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
