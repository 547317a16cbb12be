// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// ErrInvalid is returned when a loaded value fails validation.
var ErrInvalid = errors.New("config: invalid value")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Output locations
	OutputDir    string `env:"OUTPUT_DIR" json:"output_dir,omitempty"`
	ThumbnailDir string `env:"THUMBNAIL_DIR" json:"thumbnail_dir,omitempty"`
	TempDir      string `env:"TEMP_DIR, default=/tmp/vidmerge" json:"temp_dir"`

	// Merge settings
	MergeBackend     string        `env:"MERGE_BACKEND, default=composition" json:"merge_backend" validate:"oneof=composition mux process"`
	FFmpegPath       string        `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath      string        `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`
	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL, default=1s" json:"progress_interval" validate:"min=1ms"`

	// Metadata and thumbnails
	MetadataWorkers   int `env:"METADATA_WORKERS, default=4" json:"metadata_workers" validate:"min=1,max=64"`
	ThumbnailQuality  int `env:"THUMBNAIL_QUALITY, default=40" json:"thumbnail_quality" validate:"min=1,max=100"`
	ThumbnailMaxWidth int `env:"THUMBNAIL_MAX_WIDTH, default=0" json:"thumbnail_max_width" validate:"min=0"`

	// HistoryDB is the SQLite file for merge history. Empty keeps history in memory.
	HistoryDB string `env:"HISTORY_DB" json:"history_db,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json TEXT JSON"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

// LoadFrom reads configuration from a fixed set of variables.
func LoadFrom(env map[string]string) (*Config, error) {
	return load(envconfig.MapLookuper(env))
}

func load(l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalid, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OutputDir: %s, TempDir: %s, MergeBackend: %s, MetadataWorkers: %d, HistoryDB: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.OutputDir,
		c.TempDir,
		c.MergeBackend,
		c.MetadataWorkers,
		c.HistoryDB,
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
