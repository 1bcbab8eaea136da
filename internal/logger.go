package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the JSON logger writing to console and, when configured,
// to a rotating log file. A log file that cannot be set up falls back to
// console only. The returned func closes the file.
func newLogger(cfg ApplicationConfig, console io.Writer) (*slog.Logger, func()) {
	out, closeFn, outErr := buildOutput(cfg.LogFile, console)

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if outErr != nil {
		logger.Warn("logger: file output disabled",
			slog.String("path", cfg.LogFile.Path),
			slog.String("error", outErr.Error()))
	}
	return logger, closeFn
}

func buildOutput(cfg LogFileConfig, console io.Writer) (io.Writer, func(), error) {
	noop := func() {}
	if cfg.Path == "" {
		return console, noop, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return console, noop, fmt.Errorf("create log dir: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	return io.MultiWriter(console, rotator), func() { _ = rotator.Close() }, nil
}
