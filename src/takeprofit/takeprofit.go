// Package takeprofit derives and submits the limit sell that closes a filled buy at a
// fixed markup.
package takeprofit

import (
	"context"
	"errors"
	"fmt"

	"krakendca/src/metrics"
	"krakendca/src/model"
	"krakendca/src/reference"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var ErrInvalidFill = errors.New("invalid fill")

// OrderSubmitter is the part of the exchange client the issuer needs.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order model.Order) (string, error)
}

// Fill is a closed buy as reported by the exchange.
type Fill struct {
	TxID   string
	Price  decimal.Decimal
	Volume decimal.Decimal
	BuyRef reference.BuyRef
}

// ComputeTarget returns price p*(1+f) and the volume that keeps the notional p*v
// unchanged at that price.
func ComputeTarget(p, v, f decimal.Decimal) (price, volume decimal.Decimal) {
	price = p.Mul(decimal.NewFromInt(1).Add(f))
	volume = p.Mul(v).Div(price)
	return price, volume
}

type Issuer struct {
	submitter OrderSubmitter
	markup    decimal.Decimal
}

func NewIssuer(submitter OrderSubmitter, markup decimal.Decimal) (*Issuer, error) {
	if submitter == nil {
		return nil, errors.New("takeprofit - nil submitter")
	}
	if !markup.IsPositive() {
		return nil, fmt.Errorf("takeprofit - markup must be > 0, got %s", markup)
	}
	return &Issuer{submitter: submitter, markup: markup}, nil
}

func (i *Issuer) Markup() decimal.Decimal {
	return i.markup
}

// Issue submits the take-profit sell for fill and returns its exchange id. The sell
// never expires and carries the sell-space reference of the originating buy.
func (i *Issuer) Issue(ctx context.Context, symbol string, fill Fill) (string, error) {
	if !fill.Price.IsPositive() || !fill.Volume.IsPositive() {
		return "", fmt.Errorf("%w: price=%s volume=%s", ErrInvalidFill, fill.Price, fill.Volume)
	}
	if !fill.BuyRef.Valid() {
		return "", fmt.Errorf("%w: buy reference %d", ErrInvalidFill, fill.BuyRef)
	}

	price, volume := ComputeTarget(fill.Price, fill.Volume, i.markup)
	ref := reference.SellOf(fill.BuyRef)

	txid, err := i.submitter.SubmitOrder(ctx, model.Order{
		Side:    model.SideSell,
		Symbol:  symbol,
		Volume:  volume,
		Price:   &price,
		UserRef: ref.UserRef(),
	})
	if err != nil {
		return "", fmt.Errorf("submit take-profit for %s: %w", fill.TxID, err)
	}

	metrics.OrdersSubmitted.WithLabelValues(string(model.SideSell), "take_profit").Inc()
	logger.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"buy_txid": fill.TxID,
		"txid":     txid,
		"price":    price.String(),
		"volume":   volume.String(),
		"userref":  ref.UserRef(),
	}).Info("takeprofit - sell submitted")

	return txid, nil
}
