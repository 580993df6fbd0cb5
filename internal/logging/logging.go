// Package logging builds the loggers shared by fleetd services.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger with the given prefix. When logFile is non-empty
// the logger writes to a size-rotated file (and keeps a few compressed
// backups); otherwise it writes to stderr.
func New(prefix, logFile string) *log.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}
