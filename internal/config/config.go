// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/highlight-reel/internal/timeline"
)

// Static errors for configuration validation.
var (
	// ErrInvalidFPS is returned when OUTPUT_FPS is not positive.
	ErrInvalidFPS = errors.New("config: OUTPUT_FPS must be positive")
	// ErrInvalidOutputSize is returned when only one of OUTPUT_WIDTH and OUTPUT_HEIGHT is set.
	ErrInvalidOutputSize = errors.New("config: OUTPUT_WIDTH and OUTPUT_HEIGHT must be set together")
	// ErrInvalidAudioMode is returned for an unknown AUDIO_MODE.
	ErrInvalidAudioMode = errors.New("config: AUDIO_MODE must be midpoint or crossfade")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_RENDERS is not positive.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_RENDERS must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir     string `env:"TEMP_DIR, default=/tmp/highlight-reel" json:"temp_dir"`
	OutputDir   string `env:"OUTPUT_DIR, default=/tmp/highlight-reel/out" json:"output_dir"`
	CatalogPath string `env:"CATALOG_PATH, default=/tmp/highlight-reel/catalog.db" json:"catalog_path"`

	// Render settings
	OutputFPS          float64 `env:"OUTPUT_FPS, default=30" json:"output_fps"`
	OutputWidth        int     `env:"OUTPUT_WIDTH, default=0" json:"output_width"`
	OutputHeight       int     `env:"OUTPUT_HEIGHT, default=0" json:"output_height"`
	PrefetchMarginMS   int     `env:"PREFETCH_MARGIN_MS, default=500" json:"prefetch_margin_ms"`
	AudioMode          string  `env:"AUDIO_MODE, default=midpoint" json:"audio_mode"`
	ProgressIntervalMS int     `env:"PROGRESS_INTERVAL_MS, default=100" json:"progress_interval_ms"`

	// Processing settings
	MaxConcurrentRenders int `env:"MAX_CONCURRENT_RENDERS, default=2" json:"max_concurrent_renders"`

	// Tooling
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// PrefetchMargin returns PREFETCH_MARGIN_MS as a duration.
func (c *Config) PrefetchMargin() time.Duration {
	return time.Duration(c.PrefetchMarginMS) * time.Millisecond
}

// ProgressInterval returns PROGRESS_INTERVAL_MS as a duration.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

// ParsedAudioMode returns the configured audio mode.
func (c *Config) ParsedAudioMode() (timeline.AudioMode, error) {
	mode, err := timeline.ParseAudioMode(c.AudioMode)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidAudioMode, err)
	}
	return mode, nil
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the render settings are usable.
func (c *Config) Validate() error {
	if c.OutputFPS <= 0 {
		return ErrInvalidFPS
	}
	if (c.OutputWidth > 0) != (c.OutputHeight > 0) {
		return ErrInvalidOutputSize
	}
	if _, err := c.ParsedAudioMode(); err != nil {
		return err
	}
	if c.MaxConcurrentRenders <= 0 {
		return ErrInvalidConcurrency
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, OutputDir: %s, CatalogPath: %s, OutputFPS: %g, OutputSize: %dx%d, AudioMode: %s, MaxConcurrentRenders: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.OutputDir,
		c.CatalogPath,
		c.OutputFPS,
		c.OutputWidth,
		c.OutputHeight,
		c.AudioMode,
		c.MaxConcurrentRenders,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
