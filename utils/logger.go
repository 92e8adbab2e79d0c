package utils

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFile receives a copy of every log line next to stdout
const LogFile = "arbwatch.log"

var (
	log   *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	once  sync.Once
)

// InitLogger builds the process logger. Debug pins the level to debug;
// otherwise SetLevel applies the configured log_level later.
func InitLogger(debug bool) *zap.Logger {
	once.Do(func() {
		if debug {
			level.SetLevel(zapcore.DebugLevel)
		}

		encoder := zap.NewProductionEncoderConfig()
		encoder.TimeKey = "timestamp"
		encoder.EncodeTime = zapcore.ISO8601TimeEncoder

		logger, err := zap.Config{
			Level:            level,
			Encoding:         "json",
			EncoderConfig:    encoder,
			OutputPaths:      []string{"stdout", LogFile},
			ErrorOutputPaths: []string{"stderr"},
		}.Build(zap.AddStacktrace(zapcore.ErrorLevel))
		if err != nil {
			panic(err)
		}

		log = logger
	})

	return log
}

// GetLogger returns the process logger, building an info-level one if needed
func GetLogger() *zap.Logger {
	if log == nil {
		return InitLogger(false)
	}
	return log
}

// SetLevel applies a configured level name. It is a no-op in debug mode.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	if level.Level() == zapcore.DebugLevel {
		return nil
	}
	level.SetLevel(l)
	return nil
}

// CleanupLogger flushes buffered entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
