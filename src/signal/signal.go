// Package signal decides whether a scheduled buy goes ahead and at which price and
// volume.
package signal

import (
	"context"
	"errors"

	"krakendca/src/model"

	"github.com/shopspring/decimal"
)

// Market is what a decider sees: closed candles oldest first, the last traded price and
// the quote amount to spend.
type Market struct {
	Symbol  string
	Candles []model.Candle
	Last    decimal.Decimal
	Spend   decimal.Decimal
}

// Decision is either a buy at Price for Volume, or a skip with a Reason.
type Decision struct {
	Buy    bool
	Price  decimal.Decimal
	Volume decimal.Decimal
	Reason string
}

func Skip(reason string) Decision {
	return Decision{Reason: reason}
}

type Decider interface {
	Decide(ctx context.Context, m Market) (Decision, error)
}

var ErrNoSpend = errors.New("spend must be positive")

// WeightedAverage prices the buy at the volume weighted mid price of the most recent
// Lookback candles (all of them when Lookback is 0) and sizes it as Spend / price.
type WeightedAverage struct {
	Lookback int
}

func (w WeightedAverage) Decide(_ context.Context, m Market) (Decision, error) {
	if !m.Spend.IsPositive() {
		return Decision{}, ErrNoSpend
	}

	candles := m.Candles
	if w.Lookback > 0 && len(candles) > w.Lookback {
		candles = candles[len(candles)-w.Lookback:]
	}

	price, ok := WeightedMid(candles)
	if !ok {
		return Skip("no traded volume in window"), nil
	}

	return Decision{
		Buy:    true,
		Price:  price,
		Volume: m.Spend.Div(price),
		Reason: "weighted average",
	}, nil
}

// WeightedMid returns Σ(mid·volume)/Σvolume. ok is false when the total volume or the
// resulting price is zero.
func WeightedMid(candles []model.Candle) (decimal.Decimal, bool) {
	total := decimal.Zero
	weighted := decimal.Zero
	for _, c := range candles {
		total = total.Add(c.Volume)
		weighted = weighted.Add(c.Mid().Mul(c.Volume))
	}
	if !total.IsPositive() {
		return decimal.Zero, false
	}
	price := weighted.Div(total)
	if !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}
