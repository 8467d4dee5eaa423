// Package logger wraps zap so the rest of the module logs through one
// package-level instance instead of threading a *zap.Logger everywhere.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the module logs.
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	Filename   string // empty means stderr only
	MaxSize    int    // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig logs at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: "info"}
}

var log *zap.Logger

func init() {
	log, _ = zap.NewProduction()
}

// Init (re)configures the package-level logger. Safe to call more than once;
// tests call it per-case to point at a fresh temp file.
func Init(cfg Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	var writer zapcore.WriteSyncer
	if cfg.Filename == "" {
		writer = zapcore.Lock(os.Stderr)
	} else {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    orDefault(cfg.MaxSize, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     orDefault(cfg.MaxAge, 28),
			Compress:   cfg.Compress,
		})
	}

	log = zap.New(zapcore.NewCore(encoder, writer, level))
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// With returns a child logger carrying the given structured fields.
func With(fields ...zap.Field) *zap.Logger {
	return log.With(fields...)
}

func Debug(msg string, fields ...zap.Field) { log.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { log.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { log.Error(msg, fields...) }

// Sync flushes any buffered log entries.
func Sync() error {
	return log.Sync()
}

// Field constructors re-exported so callers need not import zap directly.
var (
	String = zap.String
	Int    = zap.Int
	Int32  = zap.Int32
	Uint32 = zap.Uint32
	Bool   = zap.Bool
	ErrF   = zap.Error
)
