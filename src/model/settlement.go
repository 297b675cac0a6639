package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settlement is one closed order leg. Rows are never updated or deleted; the pair
// (exchange, id) identifies a leg, so writing the same leg twice is a no-op.
type Settlement struct {
	Exchange  string          `gorm:"column:exchange;primaryKey;size:32" json:"exchange"`
	Symbol    string          `gorm:"column:symbol;size:32;not null;index" json:"symbol"`
	Tstamp    time.Time       `gorm:"column:tstamp;not null" json:"tstamp"`
	Side      string          `gorm:"column:side;size:8;not null" json:"side"` // Buy | Sell
	Price     decimal.Decimal `gorm:"column:price;type:numeric" json:"price"`
	Volume    decimal.Decimal `gorm:"column:volume;type:numeric" json:"volume"`
	ID        string          `gorm:"column:id;primaryKey;size:64" json:"id"`
	Fees      decimal.Decimal `gorm:"column:fees;type:numeric" json:"fees"`
	FeesAsset string          `gorm:"column:fees_asset;size:16" json:"fees_asset"`

	// Reference is the originating buy reference for a sell leg, -1 for a buy leg.
	Reference int64 `gorm:"column:reference" json:"reference"`

	// UserRef is the userref the order carried on the exchange. A sell's Reference matches
	// the UserRef of the buy it took profit on. Nil for rows written before the column.
	UserRef *int64 `gorm:"column:user_ref;index" json:"user_ref,omitempty"`
}

func (Settlement) TableName() string {
	return "transactions"
}

// RoundTrip is a filled buy joined with the sell correlated to it.
type RoundTrip struct {
	Symbol    string          `json:"symbol"`
	Reference int64           `json:"reference"`
	BuyID     string          `json:"buy_id"`
	BuyTstamp time.Time       `json:"buy_tstamp"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	BuyVolume decimal.Decimal `json:"buy_volume"`
	BuyFees   decimal.Decimal `json:"buy_fees"`

	SellID     string          `json:"sell_id"`
	SellTstamp time.Time       `json:"sell_tstamp"`
	SellPrice  decimal.Decimal `json:"sell_price"`
	SellVolume decimal.Decimal `json:"sell_volume"`
	SellFees   decimal.Decimal `json:"sell_fees"`
}

// Profit is the quote amount gained net of both legs' fees.
func (t RoundTrip) Profit() decimal.Decimal {
	return t.SellPrice.Mul(t.SellVolume).
		Sub(t.BuyPrice.Mul(t.BuyVolume)).
		Sub(t.BuyFees).
		Sub(t.SellFees)
}
