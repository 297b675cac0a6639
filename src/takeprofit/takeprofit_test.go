package takeprofit

import (
	"context"
	"errors"
	"testing"

	"krakendca/src/model"
	"krakendca/src/reference"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submitterStub struct {
	orders []model.Order
	txid   string
	err    error
}

func (s *submitterStub) SubmitOrder(_ context.Context, order model.Order) (string, error) {
	s.orders = append(s.orders, order)
	return s.txid, s.err
}

func TestComputeTargetConservesNotional(t *testing.T) {
	cases := []struct{ p, v, f string }{
		{"100", "2", "0.03"},
		{"30123.7", "0.00042", "0.015"},
		{"0.5", "1000", "0.1"},
	}

	for _, c := range cases {
		p := decimal.RequireFromString(c.p)
		v := decimal.RequireFromString(c.v)
		f := decimal.RequireFromString(c.f)

		price, volume := ComputeTarget(p, v, f)

		assert.True(t, price.Equal(p.Mul(decimal.NewFromInt(1).Add(f))), "price for %v", c)

		diff := price.Mul(volume).Sub(p.Mul(v)).Abs()
		assert.True(t, diff.LessThan(decimal.RequireFromString("1e-10")), "notional drift %s for %v", diff, c)
	}
}

func TestComputeTargetThreePercentMarkup(t *testing.T) {
	price, volume := ComputeTarget(decimal.NewFromInt(100), decimal.NewFromInt(2), decimal.RequireFromString("0.03"))
	assert.Equal(t, "103", price.String())
	assert.Equal(t, "1.94174757", volume.Round(8).String())
}

func TestNewIssuerRejectsNonPositiveMarkup(t *testing.T) {
	_, err := NewIssuer(&submitterStub{}, decimal.Zero)
	require.Error(t, err)

	_, err = NewIssuer(&submitterStub{}, decimal.RequireFromString("-0.01"))
	require.Error(t, err)
}

func TestIssueSubmitsCorrelatedLimitSell(t *testing.T) {
	stub := &submitterStub{txid: "OTP1"}
	issuer, err := NewIssuer(stub, decimal.RequireFromString("0.03"))
	require.NoError(t, err)

	txid, err := issuer.Issue(context.Background(), "XXBTZEUR", Fill{
		TxID:   "OB1",
		Price:  decimal.NewFromInt(100),
		Volume: decimal.NewFromInt(2),
		BuyRef: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "OTP1", txid)

	require.Len(t, stub.orders, 1)
	o := stub.orders[0]
	assert.Equal(t, model.SideSell, o.Side)
	assert.Equal(t, "XXBTZEUR", o.Symbol)
	require.NotNil(t, o.Price)
	assert.Equal(t, "103", o.Price.String())
	assert.Zero(t, o.Expiration)
	assert.Equal(t, reference.Range+5, o.UserRef)
}

func TestIssueRejectsEmptyFill(t *testing.T) {
	stub := &submitterStub{txid: "OTP1"}
	issuer, err := NewIssuer(stub, decimal.RequireFromString("0.03"))
	require.NoError(t, err)

	_, err = issuer.Issue(context.Background(), "XXBTZEUR", Fill{TxID: "OB1", Price: decimal.NewFromInt(100), BuyRef: 5})
	assert.True(t, errors.Is(err, ErrInvalidFill))
	assert.Empty(t, stub.orders)
}

func TestIssuePropagatesSubmitError(t *testing.T) {
	boom := errors.New("boom")
	issuer, err := NewIssuer(&submitterStub{err: boom}, decimal.RequireFromString("0.03"))
	require.NoError(t, err)

	_, err = issuer.Issue(context.Background(), "XXBTZEUR", Fill{
		TxID: "OB1", Price: decimal.NewFromInt(100), Volume: decimal.NewFromInt(2), BuyRef: 5,
	})
	assert.True(t, errors.Is(err, boom))
}
