// Package logger builds the zerolog loggers used across the remote.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string `json:"level" yaml:"level"`
	Debug      bool   `json:"debug" yaml:"debug"`
	Output     string `json:"output" yaml:"output"`
	TimeFormat string `json:"time_format" yaml:"time_format"`
	// Console switches from JSON lines to zerolog's human readable writer.
	Console bool `json:"console" yaml:"console"`
}

// DefaultConfig reads LOG_LEVEL, DEBUG, LOG_OUTPUT and LOG_TIME_FORMAT.
func DefaultConfig() Config {
	return Config{
		Level:      getEnvOrDefault("LOG_LEVEL", "info"),
		Debug:      getEnvBoolOrDefault("DEBUG", false),
		Output:     getEnvOrDefault("LOG_OUTPUT", "stderr"),
		TimeFormat: getEnvOrDefault("LOG_TIME_FORMAT", ""),
	}
}

// New builds a logger from cfg.
func New(cfg Config) (zerolog.Logger, error) {
	var output io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		output = os.Stdout
	}
	return NewWithWriter(cfg, output)
}

func NewWithWriter(cfg Config, output io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
	}

	timeFormat := time.RFC3339
	if cfg.TimeFormat != "" {
		timeFormat = cfg.TimeFormat
	}
	if cfg.Console {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: timeFormat}
	} else {
		zerolog.TimeFieldFormat = timeFormat
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}

// WithComponent tags every entry of the returned logger with component.
func WithComponent(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewTestLogger discards everything.
func NewTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	value = strings.ToLower(value)
	return value == "true" || value == "1" || value == "yes" || value == "on"
}
