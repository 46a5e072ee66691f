package utils

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/JourdanThomas/CubeSat/internal/logger"
)

// LoadEnvironment loads environment variables from .env files.
// An explicit file is loaded first, then the current directory, then the
// directory of the executable. Variables already set are never overridden.
func LoadEnvironment(explicit string) {
	if explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			logger.Warn("Could not load env file %s: %v", explicit, err)
		} else {
			logger.Info("Loaded env file %s", explicit)
		}
	}

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found in current directory or error loading it: %v", err)
	} else {
		logger.Info("Successfully loaded .env file from current directory")
	}

	execPath, err := os.Executable()
	if err != nil {
		logger.Debug("Could not determine executable path: %v", err)
		return
	}

	execDir := filepath.Dir(execPath)
	envPath := filepath.Join(execDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Debug("No .env file found in app directory (%s) or error loading it: %v", execDir, err)
	} else {
		logger.Info("Successfully loaded .env file from app directory: %s", execDir)
	}
}
