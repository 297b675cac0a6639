package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bucket as returned by the exchange.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	VWAP   decimal.Decimal `json:"vwap"`
	Volume decimal.Decimal `json:"volume"`
	Count  int64           `json:"count"`
}

// Mid returns (high+low)/2.
func (c Candle) Mid() decimal.Decimal {
	return c.High.Add(c.Low).Div(decimal.NewFromInt(2))
}
