package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger.
var Logger *zap.Logger

// Init builds the global logger. "production" selects JSON output at info
// level; anything else gets a colored console encoder at debug level.
func Init(env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := config.Build()
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// Sync flushes any buffered log entries.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Get returns the global logger, or a no-op logger before Init has run so
// library code and tests never need to initialise logging.
func Get() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

// Named returns a child of the global logger.
func Named(name string) *zap.Logger {
	return Get().Named(name)
}
