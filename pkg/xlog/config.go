package xlog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewConfig returns the default logging config.
func NewConfig() Config {
	return Config{
		Level:        slog.LevelInfo,
		AddSource:    true,
		AttrReplacer: NormalizeSourceAttrReplacer(),
		StdFormat:    "text",
		StdWriter:    os.Stderr,
		Path:         "",
		MaxSize:      30,
		MaxAge:       0,
		MaxBackups:   0,
		Compress:     false,
	}
}

// Config configures the handlers of a Logger.
type Config struct {
	// Level is the minimum level emitted, LevelInfo by default.
	Level slog.Level
	// AddSource adds the file and line of the log call.
	AddSource bool
	// AttrReplacer rewrites attributes, NormalizeSourceAttrReplacer by default.
	AttrReplacer AttrReplacer

	// StdFormat is "text" or "json".
	StdFormat string
	// StdWriter defaults to os.Stderr so command output on stdout stays clean.
	StdWriter io.Writer

	// Path of the rotated log file. Empty disables file output.
	Path string
	// MaxSize in megabytes before the file is rotated.
	MaxSize int
	// MaxAge in days of rotated files. Zero keeps them forever.
	MaxAge int
	// MaxBackups is the number of rotated files kept. Zero keeps all.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// BuildHandler creates a new slog.Handler with config.
func (c *Config) BuildHandler() slog.Handler {
	opts := c.buildHandlerOptions()
	if c.StdFormat == "json" {
		writer := c.StdWriter
		if fw := c.buildFileWriter(); fw != nil {
			writer = io.MultiWriter(c.StdWriter, fw)
		}
		return NewLeveledHandlerCreator(JSONHandlerCreator)(writer, opts)
	}

	// console output format as "text"
	handlers := []slog.Handler{}

	stdHandler := NewLeveledHandlerCreator(TextHandlerCreator)(c.StdWriter, opts)
	handlers = append(handlers, stdHandler)

	if fw := c.buildFileWriter(); fw != nil {
		fileHandler := NewLeveledHandlerCreator(JSONHandlerCreator)(fw, opts)
		handlers = append(handlers, fileHandler)
	}
	return MultiHandler(handlers...)
}

func (c *Config) buildFileWriter() io.Writer {
	if c.Path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    c.MaxSize,
		MaxAge:     c.MaxAge,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

func (c *Config) buildHandlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		AddSource:   c.AddSource,
		Level:       c.Level,
		ReplaceAttr: c.AttrReplacer,
	}
}
