package utils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

type loggerOptions struct {
	name        string
	outputPaths []string
}

// LoggerOption customises the global logger.
type LoggerOption func(*loggerOptions)

// WithName names the root logger; components add their own Named suffix.
func WithName(name string) LoggerOption {
	return func(o *loggerOptions) { o.name = name }
}

// WithOutputPaths replaces stdout as the log destination, e.g. with a file.
func WithOutputPaths(paths ...string) LoggerOption {
	return func(o *loggerOptions) { o.outputPaths = paths }
}

// InitLogger initializes the global logger instance. Later calls return the
// first logger and ignore their arguments.
func InitLogger(debug bool, opts ...LoggerOption) *zap.Logger {
	once.Do(func() {
		logger, err := NewLogger(debug, opts...)
		if err != nil {
			panic(err)
		}
		log = logger
	})

	return log
}

// NewLogger builds a production JSON logger with ISO8601 timestamps.
func NewLogger(debug bool, opts ...LoggerOption) (*zap.Logger, error) {
	o := loggerOptions{
		outputPaths: []string{"stdout"},
	}
	for _, opt := range opts {
		opt(&o)
	}

	config := zap.NewProductionConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.OutputPaths = o.outputPaths
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}
	if o.name != "" {
		logger = logger.Named(o.name)
	}
	return logger, nil
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if log == nil {
		return InitLogger(false)
	}
	return log
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
