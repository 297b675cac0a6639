package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"krakendca/cmd/executor"
	"krakendca/src/reference"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "krakendca"
	app.Usage = "Kraken DCA buyer and order reconciler"
	app.Version = Version

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "env", Usage: "path of a .env file (default ./.env)"},
	}

	app.Commands = []cli.Command{
		reconcileCMD,
		buyCMD,
		sellCMD,
		daemonCMD,
		reportCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	reconcileCMD = cli.Command{
		Name:        "reconcile",
		Usage:       "run one reconciliation pass per symbol",
		Action:      reconcileAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Query every pending order, record settled legs, place take-profits`,
	}
	buyCMD = cli.Command{
		Name:      "buy",
		Usage:     "place the DCA buy",
		Action:    buyAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "symbol", Usage: "only this symbol (default: every symbol in SYMBOLS)"},
		},
		Description: `Place one limit buy per symbol at the weighted average price`,
	}
	sellCMD = cli.Command{
		Name:      "sell",
		Usage:     "place a manual limit sell",
		Action:    sellAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "symbol", Usage: "instrument, e.g. xxbtzeur"},
			cli.StringFlag{Name: "volume", Usage: "base volume"},
			cli.StringFlag{Name: "price", Usage: "limit price"},
			cli.Int64Flag{Name: "reference", Value: -1, Usage: "buy reference to correlate with (-1: none)"},
		},
		Description: `Place a limit sell and track it in the pending store`,
	}
	daemonCMD = cli.Command{
		Name:        "daemon",
		Usage:       "run the reconcile loop with healthcheck and metrics",
		Action:      daemonAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run passes every LOOP_PERIOD, buys every BUY_EVERY`,
	}
	reportCMD = cli.Command{
		Name:      "report",
		Usage:     "match recorded buys with their take-profit sells",
		Action:    reportAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "symbol", Usage: "only this symbol (default: every symbol in SYMBOLS)"},
			cli.StringFlag{Name: "txid", Usage: "show a single recorded leg"},
		},
		Description: `Join sells to buys through the buy reference and sum the profit (needs ENABLE_DB)`,
	}
)

func newExecutor(c *cli.Context, cmd string) *executor.Executor {
	cfg := executor.GetConfig(c.GlobalString("env"))
	SetupLogger(cfg.Database.LogLevel, cfg.Database.LogFormat)
	return &executor.Executor{
		Config: cfg,
		Log:    logrus.WithField("cmd", cmd),
	}
}

// SetupLogger applies LOG_LEVEL and LOG_FORMAT (text | json).
func SetupLogger(levelStr, format string) {
	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func reconcileAction(c *cli.Context) error {
	logrus.Info("Starting reconcile CMD")

	e := newExecutor(c, "reconcile")
	if err := e.Reconcile(); err != nil {
		e.Log.WithError(err).Error("reconcile failed")
		return err
	}
	return nil
}

func buyAction(c *cli.Context) error {
	logrus.Info("Starting buy CMD")

	e := newExecutor(c, "buy")
	if err := e.Buy(c.String("symbol")); err != nil {
		e.Log.WithError(err).Error("buy failed")
		return err
	}
	return nil
}

func sellAction(c *cli.Context) error {
	logrus.Info("Starting sell CMD")

	symbol := c.String("symbol")
	if symbol == "" {
		return errors.New("--symbol is required")
	}
	volume, err := decimal.NewFromString(c.String("volume"))
	if err != nil {
		return fmt.Errorf("--volume: %w", err)
	}
	price, err := decimal.NewFromString(c.String("price"))
	if err != nil {
		return fmt.Errorf("--price: %w", err)
	}

	var buyRef *reference.BuyRef
	if ref := c.Int64("reference"); ref != reference.None {
		b := reference.BuyRef(ref)
		if !b.Valid() {
			return fmt.Errorf("--reference %d: %w", ref, reference.ErrOutOfRange)
		}
		buyRef = &b
	}

	e := newExecutor(c, "sell")
	if err := e.Sell(symbol, volume, price, buyRef); err != nil {
		e.Log.WithError(err).Error("sell failed")
		return err
	}
	return nil
}

func reportAction(c *cli.Context) error {
	logrus.Info("Starting report CMD")

	e := newExecutor(c, "report")
	if err := e.Report(c.String("symbol"), c.String("txid")); err != nil {
		e.Log.WithError(err).Error("report failed")
		return err
	}
	return nil
}

func daemonAction(c *cli.Context) error {
	logrus.Info("Starting daemon CMD")

	e := newExecutor(c, "daemon")
	return e.Start()
}
