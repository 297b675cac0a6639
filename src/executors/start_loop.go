package executors

import (
	"context"
	"errors"
	"time"

	"krakendca/src/server"

	logger "github.com/sirupsen/logrus"
)

// StartLoop reconciles every LoopPeriod and, when BuyEvery is set, buys on its own
// ticker. Both run in this goroutine so a buy never overlaps a pass. The HTTP server
// serves healthcheck and metrics until ctx is done; a nil srv or empty port disables it.
func (r *Runner) StartLoop(ctx context.Context, srv *server.Config) error {
	if r.cfg.LoopPeriod <= 0 {
		return errors.New("executors - LOOP_PERIOD must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverDone := make(chan error, 1)
	if srv != nil && srv.Port != "" {
		go func() {
			serverDone <- server.StartServer(ctx, srv)
		}()
	}

	ticker := time.NewTicker(r.cfg.LoopPeriod) // Set up a ticker that fires periodically
	defer ticker.Stop()

	var buyTick <-chan time.Time
	if r.cfg.BuyEvery > 0 {
		buyTicker := time.NewTicker(r.cfg.BuyEvery)
		defer buyTicker.Stop()
		buyTick = buyTicker.C
	}

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("loop stopped")
			return nil

		case err := <-serverDone:
			if err != nil {
				return err
			}
			serverDone = nil

		case <-ticker.C:
			r.tick(ctx)

		case <-buyTick:
			logger.Info("buy tick")
			if err := r.BuyAll(ctx); err != nil {
				r.log.WithError(err).Error("executors - buy round failed")
			}
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	logger.Info("loop tick")
	if _, err := r.ReconcileAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.log.WithError(err).Error("executors - reconcile round failed")
	}
}
