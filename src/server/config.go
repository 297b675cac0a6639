package server

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config of the daemon's healthcheck/metrics listener. An empty Port disables it.
type Config struct {
	Port            string        `envconfig:"PORT" default:"9898"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
