package callrelay

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RelayLogger wraps zerolog for structured logging
type RelayLogger struct {
	logger zerolog.Logger
}

// LogConfig represents the configuration for logging
type LogConfig struct {
	Level  zerolog.Level
	Pretty bool
	Output io.Writer
	Fields map[string]interface{}
}

// DefaultLogConfig returns a default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  zerolog.InfoLevel,
		Pretty: true,
		Output: os.Stdout,
		Fields: make(map[string]interface{}),
	}
}

// NewRelayLogger creates a new structured logger
func NewRelayLogger(config *LogConfig) *RelayLogger {
	if config == nil {
		config = DefaultLogConfig()
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if config.Pretty {
		logger = log.Output(zerolog.ConsoleWriter{
			Out:        config.Output,
			TimeFormat: time.Kitchen,
		})
	} else {
		logger = zerolog.New(config.Output)
	}

	logger = logger.Level(config.Level).With().Timestamp().Logger()

	if len(config.Fields) > 0 {
		logger = logger.With().Fields(config.Fields).Logger()
	}

	return &RelayLogger{logger: logger}
}

// WithComponent adds a component field to the logger
func (l *RelayLogger) WithComponent(component string) *RelayLogger {
	return &RelayLogger{
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

// WithField adds a field to the logger
func (l *RelayLogger) WithField(key string, value interface{}) *RelayLogger {
	return &RelayLogger{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

// WithFields adds multiple fields to the logger
func (l *RelayLogger) WithFields(fields map[string]interface{}) *RelayLogger {
	return &RelayLogger{
		logger: l.logger.With().Fields(fields).Logger(),
	}
}

// WithError adds an error field to the logger
func (l *RelayLogger) WithError(err error) *RelayLogger {
	return &RelayLogger{
		logger: l.logger.With().Err(err).Logger(),
	}
}

func (l *RelayLogger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *RelayLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *RelayLogger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *RelayLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *RelayLogger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *RelayLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *RelayLogger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

func (l *RelayLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *RelayLogger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

// LogRelayError logs a RelayError with its code and details as fields.
func (l *RelayLogger) LogRelayError(err *RelayError) {
	if err == nil {
		return
	}
	l.logger.Error().
		Str("error_code", err.Code).
		Time("error_time", err.Timestamp).
		Fields(err.Details).
		Msg(err.Message)
}

// Global logger instance
var globalLogger *RelayLogger

func init() {
	globalLogger = NewRelayLogger(DefaultLogConfig())
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *RelayLogger {
	return globalLogger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *RelayLogger) {
	globalLogger = logger
}
