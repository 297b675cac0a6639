package executor

import (
	"krakendca/src/connectors"
	"krakendca/src/database"
	"krakendca/src/executors"
	"krakendca/src/server"

	"github.com/joho/godotenv"
)

// Config gathers the per-package configs. It is read once per command and passed down.
type Config struct {
	Executor executors.Config
	Database database.Config
	Kraken   connectors.Config
	Server   *server.Config
}

// GetConfig loads envPath (or ./.env when empty) if present, then the environment.
// Variables already set in the environment win over the file.
func GetConfig(envPath string) *Config {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	return &Config{
		Executor: executors.GetConfig(),
		Database: database.GetConfig(),
		Kraken:   connectors.GetConfig(),
		Server:   server.GetConfig(),
	}
}
