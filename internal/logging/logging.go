// Package logging builds the daemon's zap logger: JSON (or console in debug
// mode) to stderr, teed to a size-rotated file.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger.
type Options struct {
	Debug bool
	// File is the rotated log file; empty disables the file sink.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stderr overrides the console sink (tests).
	Stderr io.Writer
}

// Logger owns the zap logger and the file sink.
type Logger struct {
	*zap.Logger
	file *lumberjack.Logger
	undo func()
}

// New builds the logger and redirects the standard library log package into
// it.
func New(opts Options) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEnc := zapcore.NewJSONEncoder(encCfg)
	if opts.Debug {
		level.SetLevel(zapcore.DebugLevel)
		devCfg := zap.NewDevelopmentEncoderConfig()
		consoleEnc = zapcore.NewConsoleEncoder(devCfg)
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(zapcore.AddSync(stderr)), level),
	}

	l := &Logger{}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(l.file), level))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	l.undo = zap.RedirectStdLog(l.Logger)
	return l
}

// AccessLog returns a writer that logs each line at info level under the
// "http" name, for HTTP access logging.
func (l *Logger) AccessLog() io.Writer {
	return zap.NewStdLog(l.Named("http")).Writer()
}

// Close flushes buffered entries, restores the standard library logger and
// closes the log file.
func (l *Logger) Close() error {
	l.Sync()
	l.undo()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
