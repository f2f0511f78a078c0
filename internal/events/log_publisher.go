package events

import (
	"context"

	"github.com/dvloznov/donation-tracker/internal/logger"
)

// LogPublisher writes events to the context logger instead of a broker.
// It is the development default.
type LogPublisher struct{}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// PublishSettled implements Publisher.
func (p *LogPublisher) PublishSettled(ctx context.Context, event SettledEvent) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("event_type", TypeSettled).
		Str("transaction_id", event.TransactionID).
		Str("provider", event.Provider).
		Str("provider_transaction_id", event.ProviderTransactionID).
		Str("status", string(event.Status)).
		Str("settled_amount", event.SettledAmount.String()).
		Msg("Event published")
	return nil
}

var _ Publisher = (*LogPublisher)(nil)
