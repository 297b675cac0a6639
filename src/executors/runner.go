package executors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"krakendca/src/controller"
	"krakendca/src/ledger"
	"krakendca/src/pending"
	"krakendca/src/reconcile"
	"krakendca/src/reference"
	"krakendca/src/signal"
	"krakendca/src/takeprofit"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Exchange is everything the runner needs from the exchange client.
type Exchange interface {
	controller.CandleSource
	controller.OrderSubmitter
	reconcile.OrderQuerier
}

// Runner drives passes, buys and sells for one account.
type Runner struct {
	cfg        Config
	reconciler *reconcile.Reconciler
	buyer      *controller.Buyer
	seller     *controller.Seller
	log        *logrus.Entry

	wait func(ctx context.Context, d time.Duration) error
}

// NewRunner wires the components. l and exceptions may be nil.
func NewRunner(cfg Config, ex Exchange, l ledger.Ledger, exceptions controller.ExceptionRecorder, log *logrus.Entry) (*Runner, error) {
	if ex == nil {
		return nil, errors.New("executors - nil exchange")
	}
	if cfg.Account == "" {
		return nil, errors.New("executors - account not set")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("account", cfg.Account)

	issuer, err := takeprofit.NewIssuer(ex, decimal.NewFromFloat(cfg.MarkupFactor))
	if err != nil {
		return nil, err
	}

	rec := reconcile.NewReconciler(ex, issuer, l, reconcile.Options{
		FeeAsset:   cfg.QuoteCurrency,
		Exceptions: exceptions,
		Logger:     log,
	})

	buyer := controller.NewBuyer(ex, ex, signal.WeightedAverage{Lookback: cfg.Lookback()}, controller.BuyerConfig{
		IntervalMinutes: cfg.CandleMinutes,
		MaxOpenOrders:   cfg.MaxOpenOrders,
		Expiration:      cfg.Expiration,
	}, exceptions)

	return &Runner{
		cfg:        cfg,
		reconciler: rec,
		buyer:      buyer,
		seller:     controller.NewSeller(ex, exceptions),
		log:        log,
		wait:       sleepCtx,
	}, nil
}

func (r *Runner) StorePath(symbol string) string {
	return pending.PathFor(r.cfg.StoreDir, r.cfg.Account, symbol)
}

// ReconcileAll runs one pass per symbol, back to back with PassDelay in between. A
// failed pass does not stop the others.
func (r *Runner) ReconcileAll(ctx context.Context) (map[string]reconcile.Summary, error) {
	out := make(map[string]reconcile.Summary, len(r.cfg.Symbols))
	var errs []error

	for i, symbol := range r.cfg.Symbols {
		if i > 0 {
			if err := r.wait(ctx, r.cfg.PassDelay); err != nil {
				errs = append(errs, err)
				break
			}
		}

		sum, err := r.reconciler.Run(ctx, reconcile.Pass{
			Account:   r.cfg.Account,
			Symbol:    symbol,
			StorePath: r.StorePath(symbol),
		})
		out[symbol] = sum
		if err != nil {
			r.log.WithField("symbol", symbol).WithError(err).Error("executors - reconcile pass failed")
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}

	return out, errors.Join(errs...)
}

// BuyAll runs the DCA buy of every symbol with a configured spend.
func (r *Runner) BuyAll(ctx context.Context) error {
	var errs []error
	for _, symbol := range r.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := r.Buy(ctx, symbol); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}
	return errors.Join(errs...)
}

// Buy runs the DCA buy of one symbol. It is a no-op without a configured spend.
func (r *Runner) Buy(ctx context.Context, symbol string) (string, error) {
	amount, ok := r.cfg.Spend[symbol]
	if !ok || amount <= 0 {
		r.log.WithField("symbol", symbol).Debug("executors - no spend configured, skipping buy")
		return "", nil
	}
	return r.buyer.Buy(ctx, symbol, r.StorePath(symbol), decimal.NewFromFloat(amount))
}

func (r *Runner) Sell(ctx context.Context, symbol string, volume, price decimal.Decimal, buyRef *reference.BuyRef) (string, error) {
	return r.seller.Sell(ctx, symbol, r.StorePath(symbol), volume, price, buyRef)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
