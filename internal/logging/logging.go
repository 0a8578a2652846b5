// Package logging builds the process logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and encoding of the process logger.
type Config struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `json:"level" yaml:"level" env:"LEVEL"`

	// Format is "json" or "console".
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns info-level JSON logging.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// Validate checks the level and format names.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.levelName()); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.format() {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("logging: unknown format %q (want json or console)", c.Format)
	}
}

func (c Config) levelName() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

func (c Config) format() string {
	if c.Format == "" {
		return "json"
	}
	return strings.ToLower(c.Format)
}

// New builds a logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(cfg.levelName())

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format(time.RFC3339))
	}
	encCfg.EncodeDuration = func(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(d.String())
	}

	var encoder zapcore.Encoder
	if cfg.format() == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	return zap.New(zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level)), nil
}

type loggerContextKey struct{}

// NewContext returns a context carrying log.
func NewContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, log)
}

// FromContext returns the logger carried by ctx, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
