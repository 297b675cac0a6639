package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	KrakenAPIKey    string        `envconfig:"KRAKEN_API_KEY"`
	KrakenAPISecret string        `envconfig:"KRAKEN_API_SECRET"` // base64, as issued by Kraken
	KrakenBaseURL   string        `envconfig:"KRAKEN_BASE_URL" default:"https://api.kraken.com"`
	KrakenTimeout   time.Duration `envconfig:"KRAKEN_TIMEOUT" default:"15s"`
	// Shared last-nonce file for every process using the key. Empty: <STORE_DIR>/<ACCOUNT>/kraken.nonce
	KrakenNonceFile string `envconfig:"KRAKEN_NONCE_FILE"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
