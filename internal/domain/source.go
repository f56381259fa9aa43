package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceSource returns the current market price for a symbol. Implementations
// return an error wrapping ErrFetch for transport, status or decoding failures.
type PriceSource interface {
	Fetch(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// NotificationSink delivers a message to the owner of a subscription.
type NotificationSink interface {
	Send(ctx context.Context, ownerID, message string) error
}
