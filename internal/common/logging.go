package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger = log.New(os.Stderr, "[fitsgate] ", log.LstdFlags|log.Lmicroseconds)
)

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// LogConfig controls the rotating log file written next to console output.
type LogConfig struct {
	Directory  string `yaml:"directory"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

// SetupLogging sends both the standard logger and Logf to console plus a
// lumberjack-rotated file under cfg.Directory. The returned closer releases
// the log file.
func SetupLogging(cfg LogConfig, console io.Writer) (io.Closer, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("log directory not configured")
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := cfg.Filename
	if name == "" {
		name = "fitsgate.log"
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	if console == nil {
		console = os.Stdout
	}
	out := io.MultiWriter(console, rotator)
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.SetOutput(out)
	return rotator, nil
}
