package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the global log level and the optional rotating file.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup applies opts to every logger created afterwards. When a file is
// configured, logs are written both to stdout and to a lumberjack rotated
// file; the returned closer releases it.
func Setup(opts Options) (io.Closer, error) {
	if opts.Level != "" {
		lvl, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zerolog.SetGlobalLevel(lvl)
	}
	if opts.File == "" {
		outMu.Lock()
		out = nil
		outMu.Unlock()
		return nopCloser{}, nil
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	outMu.Lock()
	out = io.MultiWriter(os.Stdout, lj)
	outMu.Unlock()
	return lj, nil
}
