package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Account       string             `envconfig:"ACCOUNT" default:"default"`
	Symbols       []string           `envconfig:"SYMBOLS" default:"xxbtzeur"`
	StoreDir      string             `envconfig:"STORE_DIR" default:"./data"`
	LedgerCSVDir  string             `envconfig:"LEDGER_CSV_DIR"`  // empty disables the csv ledger
	Spend         map[string]float64 `envconfig:"SPEND"`           // symbol:amount,... in quote currency
	MarkupFactor  float64            `envconfig:"MARKUP_FACTOR" default:"0.03"`
	MaxOpenOrders int                `envconfig:"MAX_OPEN_ORDERS" default:"10"`
	QuoteCurrency string             `envconfig:"QUOTE_CURRENCY" default:"EUR"`
	Expiration    time.Duration      `envconfig:"EXPIRATION" default:"24h"`
	CandleMinutes int                `envconfig:"CANDLE_INTERVAL" default:"60"`
	PriceWindow   time.Duration      `envconfig:"PRICE_WINDOW" default:"24h"`
	PassDelay     time.Duration      `envconfig:"PASS_DELAY" default:"2s"`
	LoopPeriod    time.Duration      `envconfig:"LOOP_PERIOD" default:"5m"`
	BuyEvery      time.Duration      `envconfig:"BUY_EVERY" default:"0s"` // 0 disables buys in the daemon
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Lookback is the number of closed candles covering PriceWindow.
func (c Config) Lookback() int {
	if c.CandleMinutes <= 0 || c.PriceWindow <= 0 {
		return 0
	}
	return int(c.PriceWindow / (time.Duration(c.CandleMinutes) * time.Minute))
}
