package controller

import "time"

// BuyerConfig is built once by the executor from its environment config.
type BuyerConfig struct {
	// IntervalMinutes is the candle size asked from the exchange.
	IntervalMinutes int

	// MaxOpenOrders skips the buy when the store already holds that many ids.
	MaxOpenOrders int

	// Expiration is the time-to-live of a DCA buy. Zero keeps it until canceled.
	Expiration time.Duration
}
