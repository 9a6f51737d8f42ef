package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerConfig struct {
	LogLevel      hclog.Level
	JSONLogFormat bool
	AppendFile    bool
	LogFilePath   string
	Name          string

	// RotatingLogsEnabled switches the file sink from a single
	// append/timestamped file to a size-rotated one backed by lumberjack.
	RotatingLogsEnabled bool
	RotateMaxSizeMB     int
	RotateMaxBackups    int
	RotateMaxAgeDays    int
	RotateCompress      bool
}

func NewLogger(config LoggerConfig) (hclog.Logger, error) {
	var output io.Writer

	switch {
	case config.RotatingLogsEnabled:
		path := strings.TrimSpace(config.LogFilePath)
		if path == "" {
			return nil, fmt.Errorf("log file path must be set when rotating logs are enabled")
		}

		if dir := filepath.Dir(path); dir != "." && dir != "/" {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("could not create log directory, %w", err)
			}
		}

		output = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    firstNonZero(config.RotateMaxSizeMB, 100),
			MaxBackups: firstNonZero(config.RotateMaxBackups, 5),
			MaxAge:     firstNonZero(config.RotateMaxAgeDays, 28),
			Compress:   config.RotateCompress,
		}
	default:
		f, err := getLogFileWriter(config)
		if err != nil {
			return nil, err
		}

		if f != nil {
			output = f
		}
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       config.Name,
		Level:      config.LogLevel,
		Output:     output,
		JSONFormat: config.JSONLogFormat,
	}), nil
}

// getLogFileWriter opens the non-rotating file sink: a fixed path when
// AppendFile is set, otherwise a fresh timestamp-suffixed path per call.
func getLogFileWriter(config LoggerConfig) (*os.File, error) {
	path := strings.TrimSpace(config.LogFilePath)
	if path == "" {
		return nil, nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("could not create log directory, %w", err)
		}
	}

	finalPath := path

	if !config.AppendFile {
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(path, ext)
		timestamp := strings.NewReplacer(":", "_", "-", "_").Replace(time.Now().UTC().Format(time.RFC3339))
		finalPath = base + "_" + timestamp + ext
	}

	f, err := os.OpenFile(finalPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("could not create or open log file, %w", err)
	}

	return f, nil
}

func firstNonZero(v, fallback int) int {
	if v != 0 {
		return v
	}

	return fallback
}
