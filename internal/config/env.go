package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

const (
	// EnvLibraryPath overrides model.library_path
	EnvLibraryPath = "ONNXRUNTIME_LIB"
	// EnvModelPath overrides model.path
	EnvModelPath = "RETINAFACE_MODEL"
	// EnvLogLevel sets the command log level
	EnvLogLevel = "RETINAFACE_LOG_LEVEL"
)

// LoadEnv loads dotenv files into the process environment, ".env" when
// none are named. Missing files are skipped; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLibraryPath); v != "" {
		c.Model.LibraryPath = v
	}
	if v := os.Getenv(EnvModelPath); v != "" {
		c.Model.Path = v
	}
}
