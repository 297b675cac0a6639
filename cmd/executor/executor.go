package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"krakendca/src/connectors"
	"krakendca/src/controller"
	"krakendca/src/database"
	"krakendca/src/executors"
	"krakendca/src/ledger"
	"krakendca/src/reference"
	"krakendca/src/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// reportExchange is the exchange column the reconciler writes.
const reportExchange = "kraken"

type Executor struct {
	Config *Config
	Log    *logrus.Entry
}

// Runner connects the optional database, assembles the ledgers and returns a runner
// bound to the Kraken client.
func (t *Executor) Runner() (*executors.Runner, error) {
	cfg := t.Config
	if cfg.Kraken.KrakenAPIKey == "" || cfg.Kraken.KrakenAPISecret == "" {
		return nil, errors.New("KRAKEN_API_KEY and KRAKEN_API_SECRET must be set")
	}

	var ledgers ledger.Multi
	var exceptions controller.ExceptionRecorder

	if cfg.Database.EnableDB {
		// Initialize main (read/write) database
		if err := database.InitMainDB(cfg.Database); err != nil {
			t.Log.WithError(err).Error("Failed to connect to main database")
			return nil, err
		}
		ledgers = append(ledgers, repository.NewSettlementRepository())
		exceptions = repository.NewExceptionRepository()
	}

	if cfg.Executor.LedgerCSVDir != "" {
		csvLedger, err := ledger.NewCSVLedger(filepath.Join(cfg.Executor.LedgerCSVDir, cfg.Executor.Account))
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, csvLedger)
	}

	if len(ledgers) == 0 {
		t.Log.Warn("No ledger configured (ENABLE_DB=false, LEDGER_CSV_DIR empty), settled legs are only logged")
	}

	kraken := cfg.Kraken
	if kraken.KrakenNonceFile == "" {
		// commands of one account may run as separate processes
		kraken.KrakenNonceFile = filepath.Join(cfg.Executor.StoreDir, cfg.Executor.Account, "kraken.nonce")
	}
	client := connectors.NewKrakenSpotClientFromConfig(kraken)
	return executors.NewRunner(cfg.Executor, client, ledgers, exceptions, t.Log)
}

func (t *Executor) Reconcile() error {
	r, err := t.Runner()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sums, err := r.ReconcileAll(ctx)
	for symbol, sum := range sums {
		t.Log.WithFields(logrus.Fields{
			"symbol":       symbol,
			"open":         sum.Open,
			"dropped":      sum.Dropped,
			"settled":      sum.Settled,
			"take_profits": sum.TakeProfits,
			"retained":     sum.Retained,
			"failures":     sum.Failures,
		}).Info("reconcile summary")
	}
	return err
}

func (t *Executor) Buy(symbol string) error {
	r, err := t.Runner()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if symbol != "" {
		_, err := r.Buy(ctx, symbol)
		return err
	}
	return r.BuyAll(ctx)
}

func (t *Executor) Sell(symbol string, volume, price decimal.Decimal, buyRef *reference.BuyRef) error {
	r, err := t.Runner()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	txid, err := r.Sell(ctx, symbol, volume, price, buyRef)
	if err != nil {
		return err
	}
	t.Log.WithField("txid", txid).Info("sell placed")
	return nil
}

// Report prints the round trips of symbol (every configured symbol when empty) from the
// database ledger, or the single leg txid when given.
func (t *Executor) Report(symbol, txid string) error {
	cfg := t.Config
	if !cfg.Database.EnableDB {
		return errors.New("report reads the database ledger, set ENABLE_DB=true")
	}
	if err := database.InitMainDB(cfg.Database); err != nil {
		t.Log.WithError(err).Error("Failed to connect to main database")
		return err
	}
	repo := repository.NewSettlementRepository()
	ctx := context.Background()

	if txid != "" {
		leg, err := repo.FindByExchangeID(ctx, reportExchange, txid)
		if err != nil {
			return fmt.Errorf("find %s: %w", txid, err)
		}
		t.Log.WithFields(logrus.Fields{
			"symbol":    leg.Symbol,
			"side":      leg.Side,
			"tstamp":    leg.Tstamp,
			"price":     leg.Price,
			"volume":    leg.Volume,
			"fees":      leg.Fees,
			"reference": leg.Reference,
			"user_ref":  leg.UserRef,
		}).Info("leg")
		return nil
	}

	symbols := cfg.Executor.Symbols
	if symbol != "" {
		symbols = []string{symbol}
	}

	for _, sym := range symbols {
		legs, err := repo.ListBySymbol(ctx, sym)
		if err != nil {
			return fmt.Errorf("list %s: %w", sym, err)
		}
		trips, err := repo.RoundTrips(ctx, sym)
		if err != nil {
			return err
		}

		buys := 0
		for _, l := range legs {
			if l.Side == "Buy" {
				buys++
			}
		}

		profit := decimal.Zero
		for _, trip := range trips {
			profit = profit.Add(trip.Profit())
			t.Log.WithFields(logrus.Fields{
				"symbol":     sym,
				"reference":  trip.Reference,
				"buy_id":     trip.BuyID,
				"buy_price":  trip.BuyPrice,
				"sell_id":    trip.SellID,
				"sell_price": trip.SellPrice,
				"profit":     trip.Profit(),
			}).Info("round trip")
		}

		t.Log.WithFields(logrus.Fields{
			"symbol":      sym,
			"legs":        len(legs),
			"buys":        buys,
			"round_trips": len(trips),
			"unmatched":   buys - len(trips),
			"profit":      profit,
		}).Info("report summary")
	}
	return nil
}

func (t *Executor) Start() error {
	r, err := t.Runner()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	t.Log.WithField("symbols", t.Config.Executor.Symbols).Info("Starting DCA loop")

	if err := r.StartLoop(ctx, t.Config.Server); err != nil {
		t.Log.WithError(err).Error("DCA loop failed")
		return err
	}
	return nil
}
