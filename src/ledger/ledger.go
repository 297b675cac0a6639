// Package ledger records settled order legs exactly once.
package ledger

import (
	"context"
	"errors"

	"krakendca/src/model"
)

// Ledger writes one settled leg. recorded is false when the leg was already present or
// the ledger ignores it.
type Ledger interface {
	Record(ctx context.Context, s model.Settlement) (recorded bool, err error)
}

// Nop accepts every leg and records nothing.
type Nop struct{}

func (Nop) Record(context.Context, model.Settlement) (bool, error) { return false, nil }

// Multi writes every leg to all ledgers. It reports recorded when any of them wrote a
// new row, and joins the errors of those that failed.
type Multi []Ledger

func (m Multi) Record(ctx context.Context, s model.Settlement) (bool, error) {
	recorded := false
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		ok, err := l.Record(ctx, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recorded = recorded || ok
	}
	return recorded, errors.Join(errs...)
}
