// Package reconcile runs the order lifecycle pass over one pending store: query every
// outstanding order, record closed legs, issue take-profits for filled buys and swap in
// the ids that are still outstanding.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"krakendca/src/controller"
	"krakendca/src/ledger"
	"krakendca/src/metrics"
	"krakendca/src/model"
	"krakendca/src/pending"
	"krakendca/src/reference"
	"krakendca/src/takeprofit"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultExchange = "kraken"
	defaultFeeAsset = "EUR"
)

type OrderQuerier interface {
	QueryOrder(ctx context.Context, txid string) (*model.OrderInfo, error)
}

type TakeProfitIssuer interface {
	Issue(ctx context.Context, symbol string, fill takeprofit.Fill) (string, error)
}

// Pass names one (account, instrument) store.
type Pass struct {
	Account   string
	Symbol    string
	StorePath string
}

// Summary counts what a pass did with each id.
type Summary struct {
	Open        int // still open on the exchange
	Dropped     int // expired or canceled without fill
	Settled     int // closed and fully handled
	TakeProfits int // take-profit sells issued
	Retained    int // kept for the next pass after a failure or an unclear status
	Failures    int // exchange, ledger or take-profit errors
}

type Options struct {
	Exchange string // ledger exchange column, "kraken" when empty
	FeeAsset string // "EUR" when empty

	// Exceptions receives a copy of every failure. Nil disables persistence.
	Exceptions controller.ExceptionRecorder

	Logger *logrus.Entry
}

type Reconciler struct {
	client     OrderQuerier
	issuer     TakeProfitIssuer
	ledger     ledger.Ledger
	exchange   string
	feeAsset   string
	exceptions controller.ExceptionRecorder
	log        *logrus.Entry
}

// NewReconciler wires a reconciler. A nil ledger records nothing.
func NewReconciler(client OrderQuerier, issuer TakeProfitIssuer, l ledger.Ledger, opts Options) *Reconciler {
	if l == nil {
		l = ledger.Nop{}
	}
	if opts.Exchange == "" {
		opts.Exchange = defaultExchange
	}
	if opts.FeeAsset == "" {
		opts.FeeAsset = defaultFeeAsset
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{
		client:     client,
		issuer:     issuer,
		ledger:     l,
		exchange:   opts.Exchange,
		feeAsset:   opts.FeeAsset,
		exceptions: opts.Exceptions,
		log:        opts.Logger,
	}
}

// passState accumulates the next store snapshot.
type passState struct {
	next    []string
	seen    map[string]struct{}
	summary Summary
}

func (s *passState) keep(id string) {
	if _, dup := s.seen[id]; dup {
		return
	}
	s.seen[id] = struct{}{}
	s.next = append(s.next, id)
}

// Run executes one pass. Errors are returned only for store or lock failures and for a
// cancelled context; per-order failures are logged, counted and their id kept.
func (r *Reconciler) Run(ctx context.Context, pass Pass) (Summary, error) {
	log := r.log.WithFields(logrus.Fields{
		"pass_id": uuid.NewString(),
		"account": pass.Account,
		"symbol":  pass.Symbol,
	})

	unlock, err := pending.Lock(pass.StorePath)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if e := unlock(); e != nil {
			log.WithError(e).Warn("reconcile - failed to release store lock")
		}
	}()

	ids, err := pending.LoadAll(pass.StorePath)
	if err != nil {
		return Summary{}, err
	}
	log.WithField("pending", len(ids)).Debug("reconcile - pass started")

	st := &passState{next: make([]string, 0, len(ids)), seen: make(map[string]struct{}, len(ids))}

	var runErr error
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			for _, rest := range ids[i:] {
				st.keep(rest)
				st.summary.Retained++
			}
			metrics.ReconcileOutcomes.WithLabelValues("retained").Add(float64(len(ids) - i))
			runErr = fmt.Errorf("reconcile %s: %w", pass.Symbol, err)
			break
		}
		r.reconcileOne(ctx, log.WithField("txid", id), pass, id, st)
	}

	if err := pending.ReplaceAll(pass.StorePath, st.next); err != nil {
		return st.summary, errors.Join(runErr, fmt.Errorf("rewrite store: %w", err))
	}
	metrics.PendingOrders.WithLabelValues(pass.Symbol).Set(float64(len(st.next)))

	log.WithFields(logrus.Fields{
		"open":         st.summary.Open,
		"dropped":      st.summary.Dropped,
		"settled":      st.summary.Settled,
		"take_profits": st.summary.TakeProfits,
		"retained":     st.summary.Retained,
		"failures":     st.summary.Failures,
		"pending":      len(st.next),
	}).Info("reconcile - pass finished")

	return st.summary, runErr
}

func (r *Reconciler) reconcileOne(ctx context.Context, log *logrus.Entry, pass Pass, id string, st *passState) {
	info, err := r.client.QueryOrder(ctx, id)
	if err != nil {
		log.WithError(err).Warn("reconcile - failed to query order, keeping it")
		r.capture(ctx, "QueryOrder", pass, id, err)
		st.keep(id)
		st.summary.Retained++
		st.summary.Failures++
		metrics.ReconcileOutcomes.WithLabelValues("failed").Inc()
		return
	}

	log = log.WithFields(logrus.Fields{
		"status":  info.Status,
		"side":    info.Side,
		"userref": info.UserRef,
	})

	switch info.Status {
	case model.OrderStatusOpen:
		st.keep(id)
		st.summary.Open++
		metrics.ReconcileOutcomes.WithLabelValues("open").Inc()

	case model.OrderStatusExpired:
		if info.Volume.IsPositive() {
			log.WithFields(logrus.Fields{
				"raw_status": info.RawStatus,
				"volume":     info.Volume,
			}).Info("reconcile - order expired partly filled, settling executed volume")
			r.settle(ctx, log, pass, id, info, st)
			return
		}
		log.WithField("raw_status", info.RawStatus).Info("reconcile - order expired, dropping it")
		st.summary.Dropped++
		metrics.ReconcileOutcomes.WithLabelValues("expired").Inc()

	case model.OrderStatusClosed:
		r.settle(ctx, log, pass, id, info, st)

	default:
		r.retainUnclear(ctx, log, pass, id, st, fmt.Errorf("order %s has unknown status %q", id, info.RawStatus))
	}
}

func (r *Reconciler) settle(ctx context.Context, log *logrus.Entry, pass Pass, id string, info *model.OrderInfo, st *passState) {
	switch info.Side {
	case model.SideBuy:
		r.settleBuy(ctx, log, pass, info, st)
	case model.SideSell:
		r.settleSell(ctx, log, pass, info, st)
	default:
		r.retainUnclear(ctx, log, pass, id, st, fmt.Errorf("closed order %s has no side", id))
	}
}

func (r *Reconciler) retainUnclear(ctx context.Context, log *logrus.Entry, pass Pass, id string, st *passState, err error) {
	log.WithError(err).Warn("reconcile - unclear order state, keeping it")
	r.capture(ctx, "QueryOrder", pass, id, err)
	st.keep(id)
	st.summary.Retained++
	metrics.ReconcileOutcomes.WithLabelValues("retained").Inc()
}

func (r *Reconciler) settleBuy(ctx context.Context, log *logrus.Entry, pass Pass, info *model.OrderInfo, st *passState) {
	id := info.TxID

	ref, refErr := reference.Decode(info.UserRef)
	if refErr == nil && ref.IsSell() {
		refErr = fmt.Errorf("%w: buy %s carries sell reference %d", reference.ErrOutOfRange, id, info.UserRef)
	}

	if !r.record(ctx, log, pass, info, reference.None, st) {
		return
	}

	if refErr != nil {
		// the leg is recorded but no take-profit can be correlated with it
		log.WithError(refErr).Error("reconcile - filled buy has no usable reference, keeping it")
		r.capture(ctx, "DecodeReference", pass, id, refErr)
		st.keep(id)
		st.summary.Retained++
		st.summary.Failures++
		metrics.ReconcileOutcomes.WithLabelValues("retained").Inc()
		return
	}

	tpID, err := r.issuer.Issue(ctx, pass.Symbol, takeprofit.Fill{
		TxID:   id,
		Price:  info.Price,
		Volume: info.Volume,
		BuyRef: ref.BuyRef(),
	})
	if err != nil {
		log.WithError(err).Error("reconcile - take-profit failed, keeping buy for next pass")
		r.capture(ctx, "IssueTakeProfit", pass, id, err)
		st.keep(id)
		st.summary.Retained++
		st.summary.Failures++
		metrics.ReconcileOutcomes.WithLabelValues("retained").Inc()
		return
	}

	log.WithField("take_profit_txid", tpID).Info("reconcile - buy settled, take-profit placed")
	st.keep(tpID)
	st.summary.TakeProfits++
	st.summary.Settled++
	metrics.ReconcileOutcomes.WithLabelValues("settled").Inc()
}

func (r *Reconciler) settleSell(ctx context.Context, log *logrus.Entry, pass Pass, info *model.OrderInfo, st *passState) {
	correlated := reference.None
	if reference.IsSellSpace(info.UserRef) {
		b, err := reference.DecodeBuy(info.UserRef)
		if err != nil {
			log.WithError(err).Warn("reconcile - sell reference out of range, recording without correlation")
		} else {
			correlated = int64(b)
		}
	} else {
		log.Warn("reconcile - sell without take-profit reference, recording without correlation")
	}

	if !r.record(ctx, log, pass, info, correlated, st) {
		return
	}

	log.WithField("buy_ref", correlated).Info("reconcile - sell settled")
	st.summary.Settled++
	metrics.ReconcileOutcomes.WithLabelValues("settled").Inc()
}

// record writes the leg and reports whether the pass may go on with it. On failure the
// id is kept so the leg is written on a later pass.
func (r *Reconciler) record(ctx context.Context, log *logrus.Entry, pass Pass, info *model.OrderInfo, correlated int64, st *passState) bool {
	userRef := info.UserRef
	s := model.Settlement{
		Exchange:  r.exchange,
		Symbol:    pass.Symbol,
		Tstamp:    info.Timestamp,
		Side:      info.Side.Capitalized(),
		Price:     info.Price,
		Volume:    info.Volume,
		ID:        info.TxID,
		Fees:      info.Fee,
		FeesAsset: r.feeAsset,
		Reference: correlated,
		UserRef:   &userRef,
	}

	recorded, err := r.ledger.Record(ctx, s)
	if err != nil {
		log.WithError(err).Error("reconcile - failed to record settlement, keeping order")
		r.capture(ctx, "RecordSettlement", pass, info.TxID, err)
		st.keep(info.TxID)
		st.summary.Retained++
		st.summary.Failures++
		metrics.ReconcileOutcomes.WithLabelValues("retained").Inc()
		return false
	}

	if recorded {
		metrics.SettlementsRecorded.WithLabelValues(string(info.Side)).Inc()
	} else {
		log.Debug("reconcile - settlement already recorded")
	}
	return true
}

func (r *Reconciler) capture(ctx context.Context, method string, pass Pass, id string, err error) {
	if r.exceptions == nil {
		return
	}
	controller.Capture(ctx, r.exceptions, "reconciler", r.exchange, method, "warn", err, map[string]interface{}{
		"account": pass.Account,
		"symbol":  pass.Symbol,
		"txid":    id,
	})
}
