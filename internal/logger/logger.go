// Package logger builds the process-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aristath/taskflow/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// New creates a logger from cfg. Output always goes to stderr; when cfg.File
// is set it is also written to a size-rotated file.
func New(cfg config.LogConfig) (*logrus.Logger, error) {
	return newWithStream(cfg, os.Stderr)
}

// NewQuiet is New without the stderr stream, for when a terminal UI owns the
// screen. Without cfg.File every entry is discarded.
func NewQuiet(cfg config.LogConfig) (*logrus.Logger, error) {
	return newWithStream(cfg, io.Discard)
}

func newWithStream(cfg config.LogConfig, stream io.Writer) (*logrus.Logger, error) {
	log := logrus.New()

	if err := setFormatter(log, cfg.Format); err != nil {
		return nil, err
	}

	var out io.Writer = stream
	if cfg.File != "" {
		out = io.MultiWriter(stream, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	log.SetOutput(out)

	ApplyLevel(log, cfg.Level)
	return log, nil
}

func setFormatter(log *logrus.Logger, format string) error {
	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	default:
		return fmt.Errorf("unsupported log format: %s", format)
	}
	return nil
}

// ApplyLevel sets the level by name. An unknown name falls back to info
// and is reported through the logger itself.
func ApplyLevel(log *logrus.Logger, name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Invalid log level '%s', using 'info'", name)
		return
	}
	log.SetLevel(level)
}

// Component returns an entry tagged with the component name.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

// Discard returns an entry that writes nowhere, the default for
// components constructed without a logger.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
