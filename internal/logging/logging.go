package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogFilePath names a per-process log file, e.g. logs/gatherer.20260212_213836.log.
func LogFilePath(logsDir, program string, start time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", program, start.Format("20060102_150405")))
}

// OpenLogFile creates logsDir if needed and opens a fresh log file in it.
func OpenLogFile(logsDir, program string, start time.Time) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	return os.OpenFile(LogFilePath(logsDir, program, start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
