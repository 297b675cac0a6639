package connectors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExchangeFailure matches every transport or exchange-side failure.
	ErrExchangeFailure = errors.New("exchange failure")

	// ErrInvalidOrder is returned before anything is sent.
	ErrInvalidOrder = errors.New("invalid order")

	ErrUnknownPair = errors.New("unknown pair")
)

// TransportError is a connection failure or a non-2xx answer.
type TransportError struct {
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kraken %s: transport: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("kraken %s: HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrExchangeFailure }

// ExchangeRejection is a 2xx answer whose "error" list is not empty.
type ExchangeRejection struct {
	Path     string
	Messages []string
}

func (e *ExchangeRejection) Error() string {
	return fmt.Sprintf("kraken %s: rejected: %s", e.Path, strings.Join(e.Messages, "; "))
}

func (e *ExchangeRejection) Is(target error) bool { return target == ErrExchangeFailure }
