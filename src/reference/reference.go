// Package reference maps Kraken "userref" integers onto buy references and the
// take-profit sells correlated with them.
//
// Buy references live in [0, Range). The take-profit sell of buy b carries b + Range,
// so the buy is recovered from any sell reference by subtracting Range. Range must stay
// above every buy reference ever issued or the two spaces collide.
package reference

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Range is 2^23, the size of the buy reference space.
const Range int64 = 1 << 23

// None is stored as the correlated reference of a buy leg.
const None int64 = -1

var (
	ErrOutOfRange   = errors.New("reference out of range")
	ErrNotSellSpace = errors.New("reference is not in sell space")
)

// BuyRef is a reference drawn for a buy order.
type BuyRef int64

func (b BuyRef) Valid() bool {
	return b >= 0 && int64(b) < Range
}

// NewBuyRef draws uniformly from [0, Range).
func NewBuyRef() BuyRef {
	return BuyRef(rand.Int64N(Range))
}

// EncodeSell returns the userref of the take-profit sell spawned by b.
func EncodeSell(b BuyRef) int64 {
	return int64(b) + Range
}

// DecodeBuy recovers the buy reference from a sell userref.
func DecodeBuy(sell int64) (BuyRef, error) {
	if !IsSellSpace(sell) {
		return 0, fmt.Errorf("%w: %d", ErrNotSellSpace, sell)
	}
	if sell >= 2*Range {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, sell)
	}
	return BuyRef(sell - Range), nil
}

func IsSellSpace(userref int64) bool {
	return userref >= Range
}

// Reference is either a buy reference or the sell correlated with one. The zero value
// is Buy(0).
type Reference struct {
	buy  BuyRef
	sell bool
}

func Buy(b BuyRef) Reference {
	return Reference{buy: b}
}

func SellOf(b BuyRef) Reference {
	return Reference{buy: b, sell: true}
}

// Decode classifies a raw userref.
func Decode(userref int64) (Reference, error) {
	if userref < 0 {
		return Reference{}, fmt.Errorf("%w: %d", ErrOutOfRange, userref)
	}
	if !IsSellSpace(userref) {
		return Buy(BuyRef(userref)), nil
	}
	b, err := DecodeBuy(userref)
	if err != nil {
		return Reference{}, err
	}
	return SellOf(b), nil
}

func (r Reference) IsSell() bool {
	return r.sell
}

// BuyRef returns the buy this reference belongs to: itself for a buy, the originating
// buy for a sell.
func (r Reference) BuyRef() BuyRef {
	return r.buy
}

// UserRef is the integer sent to the exchange.
func (r Reference) UserRef() int64 {
	if r.sell {
		return EncodeSell(r.buy)
	}
	return int64(r.buy)
}

func (r Reference) String() string {
	if r.sell {
		return fmt.Sprintf("sell-of(%d)", r.buy)
	}
	return fmt.Sprintf("buy(%d)", r.buy)
}
