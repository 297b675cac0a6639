package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"krakendca/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("kraken-test-secret"))

type recordedRequest struct {
	Path   string
	Header http.Header
	Form   url.Values
	Body   string
	Query  url.Values
}

// fakeKraken answers with a canned body per path and records every request.
type fakeKraken struct {
	mu       sync.Mutex
	answers  map[string]string
	status   map[string]int
	requests []recordedRequest
}

func newFakeKraken(t *testing.T) (*fakeKraken, *KrakenSpotClient) {
	t.Helper()

	f := &fakeKraken{answers: map[string]string{}, status: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))

		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Form:   form,
			Body:   string(body),
			Query:  r.URL.Query(),
		})
		answer, ok := f.answers[r.URL.Path]
		code := f.status[r.URL.Path]
		f.mu.Unlock()

		if code == 0 {
			code = http.StatusOK
		}
		if !ok {
			answer = `{"error":["EGeneral:Unknown method"]}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(answer))
	}))
	t.Cleanup(srv.Close)

	return f, NewKrakenSpotClient("test-key", testSecret, srv.URL, 5*time.Second)
}

func (f *fakeKraken) on(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[path] = body
}

func (f *fakeKraken) requestsTo(path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedRequest, 0)
	for _, r := range f.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

const assetPairsXBTEUR = `{"error":[],"result":{"XXBTZEUR":{"altname":"XBTEUR","pair_decimals":1,"lot_decimals":8}}}`

func TestSubmitOrderLimitWithExpiration(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathAssetPairs, assetPairsXBTEUR)
	f.on(pathAddOrder, `{"error":[],"result":{"descr":{"order":"buy 0.00100000 XBTEUR @ limit 30000.1"},"txid":["OABC-123"]}}`)

	price := decimal.RequireFromString("30000.06")
	txid, err := c.SubmitOrder(context.Background(), model.Order{
		Side:       model.SideBuy,
		Symbol:     "XXBTZEUR",
		Volume:     decimal.RequireFromString("0.001000009"),
		Price:      &price,
		Expiration: 24 * time.Hour,
		UserRef:    42,
	})
	require.NoError(t, err)
	assert.Equal(t, "OABC-123", txid)

	reqs := f.requestsTo(pathAddOrder)
	require.Len(t, reqs, 1)
	form := reqs[0].Form
	assert.Equal(t, "XXBTZEUR", form.Get("pair"))
	assert.Equal(t, "buy", form.Get("type"))
	assert.Equal(t, "limit", form.Get("ordertype"))
	assert.Equal(t, "0.00100000", form.Get("volume"))
	assert.Equal(t, "30000.1", form.Get("price"))
	assert.Equal(t, "+86400", form.Get("expiretm"))
	assert.Equal(t, "GTD", form.Get("timeinforce"))
	assert.Equal(t, "42", form.Get("userref"))
	assert.NotEmpty(t, form.Get("nonce"))
	assert.Equal(t, "test-key", reqs[0].Header.Get("API-Key"))
}

func TestSubmitOrderMarketIsGTC(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathAssetPairs, assetPairsXBTEUR)
	f.on(pathAddOrder, `{"error":[],"result":{"txid":["OMKT-1"]}}`)

	_, err := c.SubmitOrder(context.Background(), model.Order{
		Side:   model.SideSell,
		Symbol: "XXBTZEUR",
		Volume: decimal.RequireFromString("1.5"),
	})
	require.NoError(t, err)

	form := f.requestsTo(pathAddOrder)[0].Form
	assert.Equal(t, "market", form.Get("ordertype"))
	assert.Equal(t, "GTC", form.Get("timeinforce"))
	assert.Empty(t, form.Get("price"))
	assert.Empty(t, form.Get("expiretm"))
	assert.Equal(t, "1.50000000", form.Get("volume"))
}

func TestSubmitOrderReturnsFirstOfSeveralTxIDs(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathAssetPairs, assetPairsXBTEUR)
	f.on(pathAddOrder, `{"error":[],"result":{"txid":["OFIRST","OSECOND"]}}`)

	txid, err := c.SubmitOrder(context.Background(), model.Order{
		Side: model.SideBuy, Symbol: "XXBTZEUR", Volume: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "OFIRST", txid)
}

func TestSubmitOrderRejectsVolumeBelowLot(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathAssetPairs, assetPairsXBTEUR)

	_, err := c.SubmitOrder(context.Background(), model.Order{
		Side: model.SideBuy, Symbol: "XXBTZEUR", Volume: decimal.RequireFromString("0.000000001"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOrder))
	assert.Empty(t, f.requestsTo(pathAddOrder), "invalid order must not be sent")
}

func TestPrecisionIsCached(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathAssetPairs, assetPairsXBTEUR)

	for i := 0; i < 3; i++ {
		p, err := c.FetchPrecision(context.Background(), "XXBTZEUR")
		require.NoError(t, err)
		assert.Equal(t, model.Precision{VolumeDecimals: 8, PriceDecimals: 1}, p)
	}
	assert.Len(t, f.requestsTo(pathAssetPairs), 1)
}

func TestFetchPrecisionUnknownPair(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathAssetPairs, `{"error":[],"result":{}}`)

	_, err := c.FetchPrecision(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, ErrUnknownPair))
}

func TestSignatureMatchesBody(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathQueryOrders, `{"error":[],"result":{}}`)

	_, err := c.QueryOrder(context.Background(), "OXYZ")
	require.NoError(t, err)

	req := f.requestsTo(pathQueryOrders)[0]
	nonce := req.Form.Get("nonce")
	require.NotEmpty(t, nonce)

	secret, _ := base64.StdEncoding.DecodeString(testSecret)
	sum := sha256.Sum256([]byte(nonce + req.Body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(pathQueryOrders))
	mac.Write(sum[:])
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, req.Header.Get("API-Sign"))
	assert.Equal(t, "false", req.Form.Get("trades"))
	assert.Equal(t, "OXYZ", req.Form.Get("txid"))
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	n := &nonceSource{now: func() time.Time { return frozen }}

	prev, err := n.next()
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		v, err := n.next()
		require.NoError(t, err)
		require.Greater(t, v, prev)
		prev = v
	}

	// a clock going backwards must not reuse a nonce
	frozen = frozen.Add(-time.Hour)
	v, err := n.next()
	require.NoError(t, err)
	assert.Greater(t, v, prev)
}

func TestNonceFileSharedBetweenSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alice", "kraken.nonce")
	frozen := func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	// two processes signing for the same key in the same millisecond
	a := &nonceSource{now: frozen, path: path}
	b := &nonceSource{now: frozen, path: path}

	seen := map[int64]bool{}
	prev := int64(0)
	for i := 0; i < 20; i++ {
		src := a
		if i%2 == 1 {
			src = b
		}
		v, err := src.next()
		require.NoError(t, err)
		require.False(t, seen[v], "nonce %d reused", v)
		require.Greater(t, v, prev)
		seen[v] = true
		prev = v
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(prev, 10)+"\n", string(raw))
}

func TestNonceFileCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kraken.nonce")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number"), 0o644))

	n := &nonceSource{now: time.Now, path: path}
	_, err := n.next()
	assert.Error(t, err)
}

func TestPrivateRequestUsesNonceFile(t *testing.T) {
	f, c := newFakeKraken(t)
	path := filepath.Join(t.TempDir(), "kraken.nonce")
	require.NoError(t, os.WriteFile(path, []byte("99999999999999\n"), 0o644))
	c.WithNonceFile(path)
	f.on(pathQueryOrders, `{"error":[],"result":{"O1":{"status":"open","descr":{"type":"buy"}}}}`)

	_, err := c.QueryOrder(context.Background(), "O1")
	require.NoError(t, err)

	reqs := f.requestsTo(pathQueryOrders)
	require.Len(t, reqs, 1)
	assert.Equal(t, "100000000000000", reqs[0].Form.Get("nonce"))
}

func TestQueryOrderStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		volExec string
		want    model.OrderStatus
	}{
		{"open", "open", "0", model.OrderStatusOpen},
		{"pending", "pending", "0", model.OrderStatusOpen},
		{"closed", "closed", "0.5", model.OrderStatusClosed},
		{"expired", "expired", "0", model.OrderStatusExpired},
		{"canceled unfilled", "canceled", "0.00000000", model.OrderStatusExpired},
		{"expired partial", "expired", "0.01", model.OrderStatusClosed},
		{"canceled partial", "canceled", "0.1", model.OrderStatusClosed},
		{"garbage", "weird", "0", model.OrderStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapStatus(tt.status, decimal.RequireFromString(tt.volExec)))
		})
	}
}

func TestQueryOrderClosedBuy(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathQueryOrders, `{"error":[],"result":{"OB1":{
		"status":"closed","userref":5,
		"descr":{"pair":"XBTEUR","type":"buy","ordertype":"limit","price":"100.0"},
		"vol":"2.00000000","vol_exec":"2.00000000","cost":"200.0","fee":"0.40","price":"100.0",
		"opentm":1700000000.25,"closetm":1700000100.5}}}`)

	info, err := c.QueryOrder(context.Background(), "OB1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusClosed, info.Status)
	assert.Equal(t, model.SideBuy, info.Side)
	assert.Equal(t, int64(5), info.UserRef)
	assert.True(t, info.Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, info.Volume.Equal(decimal.NewFromInt(2)))
	assert.True(t, info.Fee.Equal(decimal.RequireFromString("0.4")))
	assert.Equal(t, int64(1700000100), info.Timestamp.Unix())
}

func TestQueryOrderFallsBackToVolAndOpenTime(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathQueryOrders, `{"error":[],"result":{"OS1":{
		"status":"closed","descr":{"type":"sell"},"vol":"1.0","fee":"0","price":"10","opentm":1700000000}}}`)

	info, err := c.QueryOrder(context.Background(), "OS1")
	require.NoError(t, err)
	assert.Equal(t, model.SideSell, info.Side)
	assert.Equal(t, int64(0), info.UserRef)
	assert.True(t, info.Volume.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(1700000000), info.Timestamp.Unix())
}

func TestQueryOrderPartlyFilledExpiredBuyIsClosed(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathQueryOrders, `{"error":[],"result":{"OEXP":{
		"status":"expired","userref":5,"descr":{"pair":"XBTEUR","type":"buy"},
		"vol":"0.05000000","vol_exec":"0.01000000","fee":"0.0016","price":"100.0",
		"opentm":1700000000,"closetm":1700086400}}}`)

	info, err := c.QueryOrder(context.Background(), "OEXP")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusClosed, info.Status)
	assert.Equal(t, "expired", info.RawStatus)
	assert.True(t, info.Volume.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, int64(1700086400), info.Timestamp.Unix())
}

func TestQueryOrderExpiredWithoutVolExecIsExpired(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathQueryOrders, `{"error":[],"result":{"OEXP":{
		"status":"expired","descr":{"type":"buy"},"vol":"0.05","price":"0","opentm":1700000000}}}`)

	info, err := c.QueryOrder(context.Background(), "OEXP")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusExpired, info.Status)
	assert.True(t, info.Volume.IsZero())
}

func TestQueryOrderMissingTxIDIsUnknown(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathQueryOrders, `{"error":[],"result":{"OTHER":{"status":"open"}}}`)

	info, err := c.QueryOrder(context.Background(), "OMISSING")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusUnknown, info.Status)
}

func TestExchangeRejection(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathQueryOrders, `{"error":["EOrder:Unknown order"],"result":{}}`)

	_, err := c.QueryOrder(context.Background(), "OX")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExchangeFailure))

	var rej *ExchangeRejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, []string{"EOrder:Unknown order"}, rej.Messages)
}

func TestTransportErrorOnNon2xx(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathQueryOrders, `bad gateway`)
	f.mu.Lock()
	f.status[pathQueryOrders] = http.StatusBadGateway
	f.mu.Unlock()

	_, err := c.QueryOrder(context.Background(), "OX")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExchangeFailure))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, "bad gateway", te.Body)
	assert.Len(t, f.requestsTo(pathQueryOrders), 1, "no retry expected")
}

func TestTransportErrorOnConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewKrakenSpotClient("k", testSecret, base, time.Second)
	_, err := c.QueryOrder(context.Background(), "OX")
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.NotNil(t, te.Err)
	assert.True(t, errors.Is(err, ErrExchangeFailure))
}

func TestFetchCandlesDropsFormingCandle(t *testing.T) {
	f, c := newFakeKraken(t)
	f.on(pathOHLC, `{"error":[],"result":{"XXBTZEUR":[
		[1700000000,"100.0","110.0","90.0","105.0","101.0","2.0",10],
		[1700003600,"105.0","120.0","100.0","115.0","111.0","3.0",12],
		[1700007200,"115.0","118.0","112.0","117.5","116.0","0.5",3]
	],"last":1700003600}}`)

	candles, last, err := c.FetchCandles(context.Background(), "XXBTZEUR", 60)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, last.Equal(decimal.RequireFromString("117.5")))
	assert.Equal(t, int64(1700000000), candles[0].Time.Unix())
	assert.True(t, candles[1].High.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, int64(12), candles[1].Count)

	q := f.requestsTo(pathOHLC)[0].Query
	assert.Equal(t, "XXBTZEUR", q.Get("pair"))
	assert.Equal(t, "60", q.Get("interval"))
}
