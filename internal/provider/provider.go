// Package provider defines the payment provider capability and the registry that
// selects an adapter by name or by direction of money flow.
package provider

import (
	"context"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentRequestResult is what a provider returns when asked to collect money from a user.
type PaymentRequestResult struct {
	ProviderTransactionID string
	Status                domain.Status
}

// SendFundsResult is what a provider returns when asked to pay money out to a user.
type SendFundsResult struct {
	ProviderTransactionID string
	Status                domain.Status
}

// Adapter abstracts one external payment provider. Implementations must be safe for
// concurrent use.
type Adapter interface {
	// Name identifies the provider; it is stored on every record the adapter creates.
	Name() string

	// RequestPaymentFromUser asks the provider to collect amount from user.
	RequestPaymentFromUser(ctx context.Context, user domain.User, amount decimal.Decimal) (PaymentRequestResult, error)

	// HandlePaymentNotification authenticates and decodes a raw provider callback.
	// Unauthenticated or malformed payloads fail with apperr.KindDecodeFailure.
	HandlePaymentNotification(ctx context.Context, payload []byte) (domain.Snapshot, error)

	// GetTransaction fetches the provider's current view of a transaction.
	// Unknown ids fail with apperr.KindNotFound.
	GetTransaction(ctx context.Context, providerTransactionID string) (domain.Snapshot, error)

	// SendFundsToUser asks the provider to pay amount out to user.
	SendFundsToUser(ctx context.Context, user domain.User, amount decimal.Decimal, metadata map[string]interface{}) (SendFundsResult, error)
}
