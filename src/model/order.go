package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts the exchange spelling in any case. Unknown values return ok=false.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	default:
		return "", false
	}
}

// Ledger spelling used by the transactions table ("Buy" / "Sell").
func (s Side) Capitalized() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

type OrderStatus string

const (
	OrderStatusOpen    OrderStatus = "open"
	OrderStatusClosed  OrderStatus = "closed"
	OrderStatusExpired OrderStatus = "expired"
	OrderStatusUnknown OrderStatus = "unknown"
)

// Order is an order as known locally before submission. It stops existing once the
// exchange id it produced has been appended to the pending store.
type Order struct {
	Side   Side
	Symbol string
	Volume decimal.Decimal

	// Price nil selects a market order.
	Price *decimal.Decimal

	// Expiration is a time-to-live from submission. Zero means good-till-canceled.
	Expiration time.Duration

	UserRef int64
}

func (o Order) IsMarket() bool {
	return o.Price == nil
}

// OrderInfo is the normalized result of querying one order on the exchange.
type OrderInfo struct {
	TxID      string
	Status    OrderStatus
	RawStatus string
	Side      Side
	Pair      string
	UserRef   int64

	// Price is the average fill price, Volume the executed volume.
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// Precision is the number of decimals an instrument accepts for volume and price.
type Precision struct {
	VolumeDecimals int32
	PriceDecimals  int32
}
