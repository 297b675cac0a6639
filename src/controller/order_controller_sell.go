package controller

import (
	"context"
	"fmt"

	"krakendca/src/metrics"
	"krakendca/src/model"
	"krakendca/src/pending"
	"krakendca/src/reference"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Seller places a manual limit sell and tracks it like any other order.
type Seller struct {
	submitter  OrderSubmitter
	exceptions ExceptionRecorder
}

func NewSeller(submitter OrderSubmitter, exceptions ExceptionRecorder) *Seller {
	return &Seller{submitter: submitter, exceptions: exceptions}
}

// Sell submits a limit sell. With buyRef set the sell is correlated to that buy;
// without it the order carries userref 0 and settles as an uncorrelated sell.
func (s *Seller) Sell(ctx context.Context, symbol, storePath string, volume, price decimal.Decimal, buyRef *reference.BuyRef) (string, error) {
	if !volume.IsPositive() || !price.IsPositive() {
		return "", fmt.Errorf("sell %s: volume and price must be positive (volume=%s price=%s)", symbol, volume, price)
	}

	var userref int64
	if buyRef != nil {
		if !buyRef.Valid() {
			return "", fmt.Errorf("sell %s: %w: %d", symbol, reference.ErrOutOfRange, *buyRef)
		}
		userref = reference.SellOf(*buyRef).UserRef()
	}

	fields := map[string]interface{}{
		"symbol":  symbol,
		"store":   storePath,
		"volume":  volume.String(),
		"price":   price.String(),
		"userref": userref,
	}

	unlock, err := pending.Lock(storePath)
	if err != nil {
		return "", err
	}
	defer func() {
		if e := unlock(); e != nil {
			logger.WithFields(fields).WithError(e).Warn("seller - failed to release store lock")
		}
	}()

	txid, err := s.submitter.SubmitOrder(ctx, model.Order{
		Side:    model.SideSell,
		Symbol:  symbol,
		Volume:  volume,
		Price:   &price,
		UserRef: userref,
	})
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("seller - sell order failed")
		Capture(ctx, s.exceptions, "seller", "kraken", "SubmitOrder", "error", err, fields)
		return "", err
	}
	metrics.OrdersSubmitted.WithLabelValues(string(model.SideSell), "manual").Inc()

	fields["txid"] = txid
	if err := pending.Append(storePath, txid); err != nil {
		logger.WithFields(fields).WithError(err).Error("seller - failed to append order id to store")
		return txid, err
	}

	logger.WithFields(fields).Info("seller - limit sell placed")
	return txid, nil
}
