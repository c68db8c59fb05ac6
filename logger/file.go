package logger

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSinkConfig controls a rotating log file.
type FileSinkConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileSink returns a Sink that writes to a size-rotated file. Close the
// returned writer on shutdown.
func NewFileSink(cfg FileSinkConfig) *lumberjack.Logger {
	size := cfg.MaxSizeMB
	if size <= 0 {
		size = 100
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    size,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
