package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

type contextKey string

const (
	ContextKeyCorrelationID     = contextKey("correlation_id")
	ContextKeyUploadID          = contextKey("upload_id")
	ContextKeyDataID            = contextKey("data_id")
	ContextKeyOperationDuration = contextKey("operation_duration")
)

// EngineLogger wraps slog.Logger with the handler chain the upload engine
// uses everywhere: fixed-timezone timestamps, contextual correlation ids,
// optional sampling, and optional log-volume metrics.
type EngineLogger struct {
	*slog.Logger
	config      *Config
	mu          sync.RWMutex
	serviceName string
	environment string
	timezone    *time.Location
	levelVar    *slog.LevelVar
}

type Config struct {
	Level          slog.Level
	OutputFormat   string // "json" or "text"
	AddSource      bool
	EnableSampling bool
	SampleRate     float64
	EnableMetrics  bool
	Timezone       string // IANA name, defaults to UTC
	Output         io.Writer
}

func DefaultConfig() *Config {
	return &Config{
		Level:         slog.LevelInfo,
		OutputFormat:  "json",
		AddSource:     false,
		SampleRate:    1.0,
		EnableMetrics: false,
		Timezone:      "UTC",
		Output:        os.Stdout,
	}
}

func New(serviceName string, cfg *Config) (*EngineLogger, error) {
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}

	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.OutputFormat == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	handler = NewTimeZoneHandler(handler, tz)
	handler = NewContextualHandler(handler)

	if cfg.EnableSampling && cfg.SampleRate < 1.0 {
		handler = NewSamplingHandler(handler, cfg.SampleRate)
	}

	if cfg.EnableMetrics {
		handler = NewMetricsHandler(handler, serviceName)
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	logger := slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("environment", environment),
		slog.Int("pid", os.Getpid()),
	)

	return &EngineLogger{
		Logger:      logger,
		config:      cfg,
		serviceName: serviceName,
		environment: environment,
		timezone:    tz,
		levelVar:    levelVar,
	}, nil
}

// SetLevel dynamically changes the log level.
func (l *EngineLogger) SetLevel(level slog.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levelVar.Set(level)
	l.config.Level = level
}

// GetLevel returns the current log level.
func (l *EngineLogger) GetLevel() slog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Level
}

// ForUpload returns a logger scoped to one upload-id.
func (l *EngineLogger) ForUpload(uploadID string) *slog.Logger {
	return l.With(
		slog.String("component", "worker"),
		slog.String("upload_id", uploadID),
	)
}

// ForScheduler returns a logger scoped to the scheduler/supervisor.
func (l *EngineLogger) ForScheduler() *slog.Logger {
	return l.With(slog.String("component", "scheduler"))
}

// ForClientPool returns a logger scoped to the refreshing client pool.
func (l *EngineLogger) ForClientPool(tenantID string) *slog.Logger {
	return l.With(
		slog.String("component", "clientpool"),
		slog.String("tenant_id", tenantID),
	)
}

// ForConfirmation returns a logger scoped to the confirmation sink.
func (l *EngineLogger) ForConfirmation(dataID string) *slog.Logger {
	return l.With(
		slog.String("component", "confirmsink"),
		slog.String("data_id", dataID),
	)
}

// WithOperation creates a logger with operation context.
func (l *EngineLogger) WithOperation(operation string) *slog.Logger {
	return l.With(slog.String("operation", operation))
}

// GetTimezone returns the logger's timezone.
func (l *EngineLogger) GetTimezone() *time.Location {
	return l.timezone
}
