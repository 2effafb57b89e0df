package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogger installs the default slog logger. Records go to a rotating
// file under baseDir and to console, which must not be stdout: stdout
// carries command output in CLI mode and the protocol in MCP mode.
func setupLogger(level, filename, baseDir string, console io.Writer) (io.Closer, error) {
	if filename == "" {
		filename = filepath.Join("logs", "kaia.log")
	}
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(baseDir, filename)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(console, logWriter), &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(h))
	return logWriter, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
