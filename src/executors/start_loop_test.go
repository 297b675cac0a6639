package executors

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"krakendca/src/model"
	"krakendca/src/pending"
	"krakendca/src/reference"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	mu      sync.Mutex
	status  map[string]*model.OrderInfo
	queried []string
	orders  []model.Order
	nextID  int
}

func (f *fakeExchange) QueryOrder(_ context.Context, txid string) (*model.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, txid)
	if info, ok := f.status[txid]; ok {
		return info, nil
	}
	return &model.OrderInfo{TxID: txid, Status: model.OrderStatusOpen, Side: model.SideBuy}, nil
}

func (f *fakeExchange) SubmitOrder(_ context.Context, o model.Order) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	f.nextID++
	return "ONEW" + string(rune('0'+f.nextID)), nil
}

func (f *fakeExchange) FetchCandles(context.Context, string, int) ([]model.Candle, decimal.Decimal, error) {
	return []model.Candle{
		{High: decimal.NewFromInt(110), Low: decimal.NewFromInt(90), Volume: decimal.NewFromInt(1)},
	}, decimal.NewFromInt(100), nil
}

func testConfig(t *testing.T) Config {
	return Config{
		Account:       "alice",
		Symbols:       []string{"xxbtzeur", "xethzeur"},
		StoreDir:      t.TempDir(),
		Spend:         map[string]float64{"xxbtzeur": 50},
		MarkupFactor:  0.03,
		MaxOpenOrders: 10,
		QuoteCurrency: "EUR",
		Expiration:    time.Hour,
		CandleMinutes: 60,
		PriceWindow:   24 * time.Hour,
		PassDelay:     time.Second,
		LoopPeriod:    10 * time.Millisecond,
	}
}

func writeStore(t *testing.T, path string, ids ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := ""
	for _, id := range ids {
		content += id + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLookback(t *testing.T) {
	cfg := Config{CandleMinutes: 60, PriceWindow: 24 * time.Hour}
	assert.Equal(t, 24, cfg.Lookback())
	assert.Equal(t, 0, Config{}.Lookback())
}

func TestReconcileAllRunsEverySymbolWithDelay(t *testing.T) {
	cfg := testConfig(t)
	ex := &fakeExchange{status: map[string]*model.OrderInfo{
		"OB1": {
			TxID: "OB1", Status: model.OrderStatusClosed, Side: model.SideBuy, UserRef: 5,
			Price: decimal.NewFromInt(100), Volume: decimal.NewFromInt(2),
		},
	}}

	r, err := NewRunner(cfg, ex, nil, nil, nil)
	require.NoError(t, err)

	var waits []time.Duration
	r.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	writeStore(t, r.StorePath("xxbtzeur"), "OB1")
	writeStore(t, r.StorePath("xethzeur"), "OE1")

	sums, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second}, waits)
	assert.Equal(t, 1, sums["xxbtzeur"].TakeProfits)
	assert.Equal(t, 1, sums["xethzeur"].Open)

	require.Len(t, ex.orders, 1)
	tp := ex.orders[0]
	assert.Equal(t, model.SideSell, tp.Side)
	assert.Equal(t, reference.EncodeSell(5), tp.UserRef)
	assert.Equal(t, "103", tp.Price.String())

	ids, err := pending.LoadAll(r.StorePath("xxbtzeur"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ONEW1"}, ids)
}

func TestBuyAllOnlyBuysConfiguredSymbols(t *testing.T) {
	cfg := testConfig(t)
	ex := &fakeExchange{}
	r, err := NewRunner(cfg, ex, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.BuyAll(context.Background()))
	require.Len(t, ex.orders, 1)
	assert.Equal(t, "xxbtzeur", ex.orders[0].Symbol)
	assert.Equal(t, model.SideBuy, ex.orders[0].Side)
	assert.Equal(t, time.Hour, ex.orders[0].Expiration)

	ids, err := pending.LoadAll(r.StorePath("xxbtzeur"))
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestNewRunnerRejectsBadMarkup(t *testing.T) {
	cfg := testConfig(t)
	cfg.MarkupFactor = 0
	_, err := NewRunner(cfg, &fakeExchange{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestStartLoopStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Symbols = []string{"xxbtzeur"}
	ex := &fakeExchange{}
	r, err := NewRunner(cfg, ex, nil, nil, nil)
	require.NoError(t, err)
	writeStore(t, r.StorePath("xxbtzeur"), "OPEN1")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.StartLoop(ctx, nil) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	assert.NotEmpty(t, ex.queried)
}
