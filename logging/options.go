package logging

import (
	"io"

	"github.com/pkg/errors"
)

// Options describes the outputs of a detect run's logger.
type Options struct {
	// Name is the logger name and the base name of the log file.
	Name string
	// Debug lowers the level to DEBUG.
	Debug bool
	// Console enables human readable output on ConsoleWriter, or stderr when it is nil.
	Console       bool
	ConsoleWriter io.Writer
	// LogPath is the directory holding the rotated log file. Empty disables file logging.
	LogPath    string
	MaxSizeMB  int
	MaxBackups int
}

// NewFromOptions builds a logger with the appenders requested by opts. A log file that cannot be
// opened is reported but the logger is still returned with its remaining appenders.
func NewFromOptions(opts Options) (Logger, error) {
	logger := NewBlankLogger(opts.Name)
	if opts.Debug {
		logger.SetLevel(DEBUG)
	} else {
		logger.SetLevel(INFO)
	}
	if opts.Console {
		if opts.ConsoleWriter != nil {
			logger.AddAppender(NewWriterAppender(opts.ConsoleWriter))
		} else {
			logger.AddAppender(NewStderrAppender())
		}
	}
	if opts.LogPath == "" {
		return logger, nil
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	fileAppender, err := NewFileAppender(opts.LogPath, opts.Name, maxSize, opts.MaxBackups)
	if err != nil {
		return logger, errors.Wrapf(err, "cannot log to %s", opts.LogPath)
	}
	logger.AddAppender(fileAppender)
	return logger, nil
}
