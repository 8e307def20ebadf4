package logger

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Logger.
type Options struct {
	Level   string    // debug, info, warn, error
	Format  string    // json, text
	Service string    // value of the "service" field on every line
	Output  io.Writer // replaces stdout and File when set
	File    FileOptions
}

// FileOptions enables a size-rotated log file next to stdout.
type FileOptions struct {
	Path       string
	Only       bool // skip stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultOptions logs JSON at info level to stdout.
func DefaultOptions() Options {
	return Options{Level: "info", Format: "json", Service: "bloodcell"}
}

// writer resolves the destination. The returned closer is nil unless a file is opened.
func (o Options) writer() (io.Writer, io.Closer) {
	if o.Output != nil {
		return o.Output, nil
	}
	if o.File.Path == "" {
		return os.Stdout, nil
	}

	file := &lumberjack.Logger{
		Filename:   o.File.Path,
		MaxSize:    o.File.MaxSizeMB,
		MaxBackups: o.File.MaxBackups,
		MaxAge:     o.File.MaxAgeDays,
		Compress:   o.File.Compress,
	}
	if o.File.Only {
		return file, file
	}
	return io.MultiWriter(os.Stdout, file), file
}
