package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const logTimeFormat = "15:04:05"

// InitLogger builds the arbor logger from the logging section of the config.
// Outputs "stdout"/"console" and "file" may be combined; file logs rotate at
// 100 MB keeping 3 backups.
func InitLogger(cfg *Config) arbor.ILogger {
	logger := arbor.NewLogger()

	console := false
	file := false
	for _, out := range cfg.Logging.Output {
		switch out {
		case "stdout", "console":
			console = true
		case "file":
			file = true
		}
	}

	if file {
		if path, err := logFilePath(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   path,
				TimeFormat: logTimeFormat,
				MaxSize:    100 * 1024 * 1024,
				MaxBackups: 3,
				OutputType: models.OutputFormatLogfmt,
			})
		}
	}
	if console || !file {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: logTimeFormat,
			OutputType: models.OutputFormatLogfmt,
		})
	}

	return logger.WithLevelFromString(cfg.Logging.Level)
}

// logFilePath places the log next to the binary, under logs/.
func logFilePath() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	logsDir := filepath.Join(filepath.Dir(execPath), "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(logsDir, "venari.log"), nil
}
