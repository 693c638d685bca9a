// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Config controls level, format and destination of log output.
type Config struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"` // text or json
	Output     string `yaml:"output" toml:"output"` // stdout, stderr or file
	FilePath   string `yaml:"file_path" toml:"file_path"`
	MaxSize    int    `yaml:"max_size" toml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAge     int    `yaml:"max_age" toml:"max_age"` // days
	Compress   bool   `yaml:"compress" toml:"compress"`
	Caller     bool   `yaml:"caller" toml:"caller"`
}

// DefaultConfig returns text logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		Output:     "stderr",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q, must be: text or json", c.Format)
	}
	switch strings.ToLower(c.Output) {
	case "stdout", "stderr":
	case "file":
		if c.FilePath == "" {
			return fmt.Errorf("file_path is required when output is file")
		}
	default:
		return fmt.Errorf("unsupported log output %q, must be: stdout, stderr or file", c.Output)
	}
	return nil
}

// New creates a logger from cfg.
func New(cfg Config) (*logrus.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logrus.New()
	level, _ := logrus.ParseLevel(cfg.Level)
	logger.SetLevel(level)
	logger.SetReportCaller(cfg.Caller)

	if strings.ToLower(cfg.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	}

	out, err := output(cfg)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)
	return logger, nil
}

func output(cfg Config) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rotating := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	if strings.ToLower(cfg.Level) == "debug" {
		return io.MultiWriter(os.Stderr, rotating), nil
	}
	return rotating, nil
}

// Discard returns a logger that writes nowhere.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
