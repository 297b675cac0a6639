package controller

import (
	"context"
	"errors"
	"fmt"

	"krakendca/src/metrics"
	"krakendca/src/model"
	"krakendca/src/pending"
	"krakendca/src/reference"
	"krakendca/src/signal"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// CandleSource returns closed candles oldest first and the last traded price.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, intervalMinutes int) ([]model.Candle, decimal.Decimal, error)
}

type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order model.Order) (string, error)
}

// Buyer places the recurring DCA buy of one instrument.
type Buyer struct {
	candles    CandleSource
	submitter  OrderSubmitter
	decider    signal.Decider
	cfg        BuyerConfig
	exceptions ExceptionRecorder

	newRef func() reference.BuyRef
}

func NewBuyer(candles CandleSource, submitter OrderSubmitter, decider signal.Decider, cfg BuyerConfig, exceptions ExceptionRecorder) *Buyer {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 60
	}
	return &Buyer{
		candles:    candles,
		submitter:  submitter,
		decider:    decider,
		cfg:        cfg,
		exceptions: exceptions,
		newRef:     reference.NewBuyRef,
	}
}

// Buy runs one DCA step for symbol and returns the new order id, or "" when the step
// was skipped. The store stays locked from the open-order count until the id is
// appended.
func (b *Buyer) Buy(ctx context.Context, symbol, storePath string, spend decimal.Decimal) (string, error) {
	fields := map[string]interface{}{
		"symbol": symbol,
		"store":  storePath,
		"spend":  spend.String(),
	}

	unlock, err := pending.Lock(storePath)
	if err != nil {
		return "", err
	}
	defer func() {
		if e := unlock(); e != nil {
			logger.WithFields(fields).WithError(e).Warn("buyer - failed to release store lock")
		}
	}()

	ids, err := pending.LoadAll(storePath)
	if err != nil {
		return "", err
	}
	if b.cfg.MaxOpenOrders > 0 && len(ids) >= b.cfg.MaxOpenOrders {
		fields["pending"] = len(ids)
		logger.WithFields(fields).Info("buyer - too many open orders, skipping")
		return "", nil
	}

	candles, last, err := b.candles.FetchCandles(ctx, symbol, b.cfg.IntervalMinutes)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("buyer - failed to fetch candles")
		Capture(ctx, b.exceptions, "buyer", "kraken", "FetchCandles", "error", err, fields)
		return "", err
	}

	decision, err := b.decider.Decide(ctx, signal.Market{
		Symbol:  symbol,
		Candles: candles,
		Last:    last,
		Spend:   spend,
	})
	if err != nil {
		return "", fmt.Errorf("decide buy for %s: %w", symbol, err)
	}
	if !decision.Buy {
		fields["reason"] = decision.Reason
		logger.WithFields(fields).Info("buyer - skipping")
		return "", nil
	}

	ref := reference.Buy(b.newRef())
	price := decision.Price
	txid, err := b.submitter.SubmitOrder(ctx, model.Order{
		Side:       model.SideBuy,
		Symbol:     symbol,
		Volume:     decision.Volume,
		Price:      &price,
		Expiration: b.cfg.Expiration,
		UserRef:    ref.UserRef(),
	})
	fields["price"] = price.String()
	fields["volume"] = decision.Volume.String()
	fields["userref"] = ref.UserRef()
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("buyer - buy order failed")
		Capture(ctx, b.exceptions, "buyer", "kraken", "SubmitOrder", "error", err, fields)
		return "", err
	}
	metrics.OrdersSubmitted.WithLabelValues(string(model.SideBuy), "dca").Inc()

	fields["txid"] = txid
	if err := pending.Append(storePath, txid); err != nil {
		// the order is live on the exchange but unknown to the store
		logger.WithFields(fields).WithError(err).Error("buyer - failed to append order id to store")
		return txid, errors.Join(errors.New("buyer - order placed but not stored"), err)
	}

	logger.WithFields(fields).Info("buyer - limit buy placed")
	return txid, nil
}
