package connectors

// REST client for Kraken spot (/0/public, /0/private).
// RESTY ONLY, NO RETRY: a failed call is reported and the caller decides.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"krakendca/src/metrics"
	"krakendca/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultKrakenSpotBaseURL = "https://api.kraken.com"
	defaultKrakenTimeout     = 15 * time.Second

	pathAddOrder    = "/0/private/AddOrder"
	pathQueryOrders = "/0/private/QueryOrders"
	pathOHLC        = "/0/public/OHLC"
	pathAssetPairs  = "/0/public/AssetPairs"
)

// krakenEnvelope is the shape of every spot answer.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type krakenAddOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

type krakenOrder struct {
	Status string `json:"status"`
	Descr  struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
	} `json:"descr"`
	UserRef *int64  `json:"userref"`
	Vol     string  `json:"vol"`
	VolExec string  `json:"vol_exec"`
	Cost    string  `json:"cost"`
	Fee     string  `json:"fee"`
	Price   string  `json:"price"`
	OpenTm  float64 `json:"opentm"`
	CloseTm float64 `json:"closetm"`
}

type krakenAssetPair struct {
	AltName       string `json:"altname"`
	PairDecimals  int32  `json:"pair_decimals"`
	LotDecimals   int32  `json:"lot_decimals"`
	Base          string `json:"base"`
	Quote         string `json:"quote"`
	OrderMin      string `json:"ordermin"`
	CostDecimals  int32  `json:"cost_decimals"`
	FeeVolumeCurr string `json:"fee_volume_currency"`
}

// -----------------------------
// CLIENT
// -----------------------------
type KrakenSpotClient struct {
	apiKey    string
	apiSecret string // base64-encoded secret from Kraken
	baseURL   string
	http      *resty.Client

	nonces *nonceSource

	precMu    sync.Mutex
	precision map[string]model.Precision
}

func NewKrakenSpotClient(apiKey, apiSecret, baseURL string, timeout time.Duration) *KrakenSpotClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultKrakenSpotBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = defaultKrakenTimeout
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)

	return &KrakenSpotClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		http:      httpClient,
		nonces:    &nonceSource{now: time.Now},
		precision: make(map[string]model.Precision),
	}
}

// NewKrakenSpotClientFromConfig wires a client from connectors.Config.
func NewKrakenSpotClientFromConfig(cfg Config) *KrakenSpotClient {
	c := NewKrakenSpotClient(cfg.KrakenAPIKey, cfg.KrakenAPISecret, cfg.KrakenBaseURL, cfg.KrakenTimeout)
	if cfg.KrakenNonceFile != "" {
		c.WithNonceFile(cfg.KrakenNonceFile)
	}
	return c
}

// WithNonceFile shares the nonce through path with every process using the same key.
// Call it before the first private request.
func (c *KrakenSpotClient) WithNonceFile(path string) *KrakenSpotClient {
	c.nonces.path = path
	return c
}

// -----------------------------
// AUTH
// -----------------------------
//
// Kraken spot REST private endpoints:
//  1. postData = url-encoded body, including nonce
//  2. sha256(nonce + postData)
//  3. hmac-sha512(base64dec(secret), uriPath + sha256Digest)
//  4. base64-encode result into API-Sign

// nonceSource hands out millisecond nonces that never repeat or go backwards for one key.
// With a path set, the last nonce is shared through that file under an exclusive lock so
// separate processes signing for the same key stay ordered too.
type nonceSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
	path string
}

func (n *nonceSource) next() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.path == "" {
		return n.advance(0), nil
	}

	if err := os.MkdirAll(filepath.Dir(n.path), 0o755); err != nil {
		return 0, fmt.Errorf("nonce dir: %w", err)
	}
	lock := flock.New(n.path + ".lock")
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock nonce file %s: %w", n.path, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.WithError(err).Warn("kraken - failed to release nonce lock")
		}
	}()

	stored, err := readNonce(n.path)
	if err != nil {
		return 0, err
	}
	v := n.advance(stored)
	if err := os.WriteFile(n.path, []byte(strconv.FormatInt(v, 10)+"\n"), 0o644); err != nil {
		return 0, fmt.Errorf("write nonce file %s: %w", n.path, err)
	}
	return v, nil
}

// advance returns max(now, last+1, floor+1) and remembers it.
func (n *nonceSource) advance(floor int64) int64 {
	v := n.now().UnixMilli()
	if v <= n.last {
		v = n.last + 1
	}
	if v <= floor {
		v = floor + 1
	}
	n.last = v
	return v
}

func readNonce(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read nonce file %s: %w", path, err)
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("nonce file %s: %w", path, err)
	}
	return v, nil
}

func computeAPISign(uriPath, nonce, postData, apiSecretB64 string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(apiSecretB64)
	if err != nil {
		return "", fmt.Errorf("base64 decode api secret failed: %w", err)
	}

	sum := sha256.Sum256([]byte(nonce + postData))

	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write([]byte(uriPath))
	_, _ = mac.Write(sum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// -----------------------------
// LOW-LEVEL REQUESTS
// -----------------------------
func (c *KrakenSpotClient) doPublicRequest(ctx context.Context, path string, params url.Values, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
	if len(params) > 0 {
		req = req.SetQueryString(params.Encode())
	}

	resp, err := req.Get(path)
	return c.decode(path, resp, err, out)
}

func (c *KrakenSpotClient) doPrivateRequest(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	n, err := c.nonces.next()
	if err != nil {
		return err
	}
	nonce := strconv.FormatInt(n, 10)
	params.Set("nonce", nonce)

	// The body is sent exactly as signed.
	postData := params.Encode()
	sign, err := computeAPISign(path, nonce, postData, c.apiSecret)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/x-www-form-urlencoded; charset=utf-8").
		SetHeader("API-Key", c.apiKey).
		SetHeader("API-Sign", sign).
		SetBody(postData).
		Post(path)
	return c.decode(path, resp, err, out)
}

func (c *KrakenSpotClient) decode(path string, resp *resty.Response, err error, out any) error {
	if err != nil {
		metrics.ExchangeFailures.WithLabelValues("transport").Inc()
		return &TransportError{Path: path, Err: err}
	}

	raw := resp.Body()
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		metrics.ExchangeFailures.WithLabelValues("transport").Inc()
		return &TransportError{Path: path, StatusCode: resp.StatusCode(), Body: string(raw)}
	}

	var env krakenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.ExchangeFailures.WithLabelValues("transport").Inc()
		return &TransportError{
			Path:       path,
			StatusCode: resp.StatusCode(),
			Body:       string(raw),
			Err:        fmt.Errorf("json unmarshal failed: %w", err),
		}
	}
	if len(env.Error) > 0 {
		metrics.ExchangeFailures.WithLabelValues("rejection").Inc()
		return &ExchangeRejection{Path: path, Messages: env.Error}
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("kraken %s: json unmarshal into output failed: %w. raw=%s", path, err, string(raw))
		}
	}
	return nil
}

// -----------------------------
// TRADING
// -----------------------------

// SubmitOrder places one order and returns its exchange id. Volume is truncated to the
// pair's lot decimals and the limit price rounded to its price decimals.
func (c *KrakenSpotClient) SubmitOrder(ctx context.Context, order model.Order) (string, error) {
	if strings.TrimSpace(order.Symbol) == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if order.Side != model.SideBuy && order.Side != model.SideSell {
		return "", fmt.Errorf("%w: side %q", ErrInvalidOrder, order.Side)
	}
	if order.Expiration < 0 {
		return "", fmt.Errorf("%w: negative expiration", ErrInvalidOrder)
	}

	prec, err := c.FetchPrecision(ctx, order.Symbol)
	if err != nil {
		return "", err
	}

	params, err := addOrderValues(order, prec)
	if err != nil {
		return "", err
	}

	fields := map[string]interface{}{
		"symbol":  order.Symbol,
		"side":    order.Side,
		"volume":  params.Get("volume"),
		"price":   params.Get("price"),
		"userref": order.UserRef,
	}

	var out krakenAddOrderResult
	if err := c.doPrivateRequest(ctx, pathAddOrder, params, &out); err != nil {
		logger.WithFields(fields).WithError(err).Error("kraken - AddOrder failed")
		return "", err
	}

	if len(out.TxID) == 0 {
		return "", &ExchangeRejection{Path: pathAddOrder, Messages: []string{"no txid in answer"}}
	}
	if len(out.TxID) != 1 {
		logger.WithFields(fields).Errorf("kraken - expecting only one txid, got %d", len(out.TxID))
	}

	fields["txid"] = out.TxID[0]
	fields["descr"] = out.Descr.Order
	logger.WithFields(fields).Info("kraken - order submitted")

	return out.TxID[0], nil
}

func addOrderValues(order model.Order, prec model.Precision) (url.Values, error) {
	volume, err := formatVolume(order.Volume, prec.VolumeDecimals)
	if err != nil {
		return nil, err
	}

	v := url.Values{}
	v.Set("pair", order.Symbol)
	v.Set("type", string(order.Side))
	v.Set("volume", volume)
	v.Set("userref", strconv.FormatInt(order.UserRef, 10))

	if order.IsMarket() {
		v.Set("ordertype", "market")
	} else {
		price, err := formatPrice(*order.Price, prec.PriceDecimals)
		if err != nil {
			return nil, err
		}
		v.Set("ordertype", "limit")
		v.Set("price", price)
	}

	if order.Expiration > 0 {
		v.Set("expiretm", fmt.Sprintf("+%d", int64(order.Expiration/time.Second)))
		v.Set("timeinforce", "GTD")
	} else {
		v.Set("timeinforce", "GTC")
	}

	return v, nil
}

func formatVolume(volume decimal.Decimal, decimals int32) (string, error) {
	if decimals < 0 {
		return "", fmt.Errorf("%w: negative volume decimals %d", ErrInvalidOrder, decimals)
	}
	truncated := volume.Truncate(decimals)
	if !truncated.IsPositive() {
		return "", fmt.Errorf("%w: volume %s is not positive at %d decimals", ErrInvalidOrder, volume, decimals)
	}
	return truncated.StringFixed(decimals), nil
}

func formatPrice(price decimal.Decimal, decimals int32) (string, error) {
	if decimals < 0 {
		return "", fmt.Errorf("%w: negative price decimals %d", ErrInvalidOrder, decimals)
	}
	rounded := price.Round(decimals)
	if !rounded.IsPositive() {
		return "", fmt.Errorf("%w: price %s is not positive at %d decimals", ErrInvalidOrder, price, decimals)
	}
	return rounded.StringFixed(decimals), nil
}

// -----------------------------
// PRIVATE QUERIES
// -----------------------------

// QueryOrder returns the normalized status of one order. An id missing from the answer
// is reported as OrderStatusUnknown, not as an error.
func (c *KrakenSpotClient) QueryOrder(ctx context.Context, txid string) (*model.OrderInfo, error) {
	if strings.TrimSpace(txid) == "" {
		return nil, errors.New("txid is required")
	}

	params := url.Values{}
	params.Set("txid", txid)
	params.Set("trades", "false")

	var out map[string]krakenOrder
	if err := c.doPrivateRequest(ctx, pathQueryOrders, params, &out); err != nil {
		return nil, err
	}

	o, ok := out[txid]
	if !ok {
		logger.WithFields(map[string]interface{}{"txid": txid}).Warn("kraken - txid absent from QueryOrders answer")
		return &model.OrderInfo{TxID: txid, Status: model.OrderStatusUnknown}, nil
	}

	return toOrderInfo(txid, o)
}

func toOrderInfo(txid string, o krakenOrder) (*model.OrderInfo, error) {
	info := &model.OrderInfo{
		TxID:      txid,
		RawStatus: o.Status,
		Pair:      o.Descr.Pair,
	}

	if side, ok := model.ParseSide(o.Descr.Type); ok {
		info.Side = side
	}
	if o.UserRef != nil {
		info.UserRef = *o.UserRef
	}

	var err error
	if info.Price, err = parseDecimal(o.Price); err != nil {
		return nil, fmt.Errorf("order %s price: %w", txid, err)
	}
	if info.Fee, err = parseDecimal(o.Fee); err != nil {
		return nil, fmt.Errorf("order %s fee: %w", txid, err)
	}
	volExec, err := parseDecimal(o.VolExec)
	if err != nil {
		return nil, fmt.Errorf("order %s vol_exec: %w", txid, err)
	}
	info.Status = mapStatus(o.Status, volExec)
	info.Volume = volExec
	if strings.TrimSpace(o.VolExec) == "" && info.Status == model.OrderStatusClosed {
		if info.Volume, err = parseDecimal(o.Vol); err != nil {
			return nil, fmt.Errorf("order %s vol: %w", txid, err)
		}
	}

	ts := o.CloseTm
	if ts == 0 {
		ts = o.OpenTm
	}
	info.Timestamp = unixFloat(ts)

	return info, nil
}

// mapStatus collapses Kraken statuses onto open, closed, expired or unknown. An expired or
// canceled order that executed nothing is expired; one that executed part of its volume
// is closed for that volume.
func mapStatus(raw string, volExec decimal.Decimal) model.OrderStatus {
	switch strings.ToLower(raw) {
	case "open", "pending":
		return model.OrderStatusOpen
	case "closed":
		return model.OrderStatusClosed
	case "expired", "canceled":
		// a partly filled order that ended is settled for its executed volume
		if volExec.IsPositive() {
			return model.OrderStatusClosed
		}
		return model.OrderStatusExpired
	default:
		return model.OrderStatusUnknown
	}
}

// -----------------------------
// PUBLIC MARKET DATA
// -----------------------------

// FetchCandles returns the closed candles oldest first and the close of the candle still
// forming, used as the last price.
func (c *KrakenSpotClient) FetchCandles(ctx context.Context, symbol string, intervalMinutes int) ([]model.Candle, decimal.Decimal, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, decimal.Zero, errors.New("symbol is required")
	}

	params := url.Values{}
	params.Set("pair", symbol)
	params.Set("interval", strconv.Itoa(intervalMinutes))

	var out map[string]json.RawMessage
	if err := c.doPublicRequest(ctx, pathOHLC, params, &out); err != nil {
		return nil, decimal.Zero, err
	}

	var rows [][]interface{}
	found := false
	for key, raw := range out {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, decimal.Zero, fmt.Errorf("kraken OHLC %s: %w", key, err)
		}
		found = true
		break
	}
	if !found {
		return nil, decimal.Zero, fmt.Errorf("%w: no OHLC data for %s", ErrUnknownPair, symbol)
	}
	if len(rows) == 0 {
		return nil, decimal.Zero, fmt.Errorf("kraken OHLC: no candles for %s", symbol)
	}

	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		cd, err := parseCandle(row)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("kraken OHLC row %d: %w", i, err)
		}
		candles = append(candles, cd)
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })

	last := candles[len(candles)-1].Close
	return candles[:len(candles)-1], last, nil
}

// parseCandle reads [time, open, high, low, close, vwap, volume, count].
func parseCandle(row []interface{}) (model.Candle, error) {
	if len(row) < 8 {
		return model.Candle{}, fmt.Errorf("expected 8 fields, got %d", len(row))
	}

	ts, ok := row[0].(float64)
	if !ok {
		return model.Candle{}, fmt.Errorf("bad time %v", row[0])
	}
	count, ok := row[7].(float64)
	if !ok {
		return model.Candle{}, fmt.Errorf("bad count %v", row[7])
	}

	values := make([]decimal.Decimal, 6)
	for i := range values {
		s, ok := row[i+1].(string)
		if !ok {
			return model.Candle{}, fmt.Errorf("bad field %d: %v", i+1, row[i+1])
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, fmt.Errorf("bad field %d: %w", i+1, err)
		}
		values[i] = d
	}

	return model.Candle{
		Time:   time.Unix(int64(ts), 0).UTC(),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		VWAP:   values[4],
		Volume: values[5],
		Count:  int64(count),
	}, nil
}

// FetchPrecision returns the lot and price decimals of symbol. Answers are cached for
// the life of the client.
func (c *KrakenSpotClient) FetchPrecision(ctx context.Context, symbol string) (model.Precision, error) {
	c.precMu.Lock()
	p, ok := c.precision[symbol]
	c.precMu.Unlock()
	if ok {
		return p, nil
	}

	params := url.Values{}
	params.Set("pair", symbol)

	var out map[string]krakenAssetPair
	if err := c.doPublicRequest(ctx, pathAssetPairs, params, &out); err != nil {
		return model.Precision{}, err
	}

	pair, ok := out[symbol]
	if !ok {
		for key, candidate := range out {
			if strings.EqualFold(key, symbol) || strings.EqualFold(candidate.AltName, symbol) || len(out) == 1 {
				pair, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		return model.Precision{}, fmt.Errorf("%w: %s", ErrUnknownPair, symbol)
	}

	p = model.Precision{VolumeDecimals: pair.LotDecimals, PriceDecimals: pair.PairDecimals}

	c.precMu.Lock()
	c.precision[symbol] = p
	c.precMu.Unlock()

	logger.WithFields(map[string]interface{}{
		"symbol":          symbol,
		"volume_decimals": p.VolumeDecimals,
		"price_decimals":  p.PriceDecimals,
	}).Debug("kraken - pair precision cached")

	return p, nil
}

// -----------------------------
// HELPERS
// -----------------------------
func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func unixFloat(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
