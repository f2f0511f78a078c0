// Package events announces ledger records reaching a terminal status.
package events

import (
	"context"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// TypeSettled is the event type carried in message headers.
const TypeSettled = "transaction.settled"

// SettledEvent is published once per record, when an applied update makes it terminal.
type SettledEvent struct {
	TransactionID         string          `json:"transaction_id"`
	Provider              string          `json:"provider"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Status                domain.Status   `json:"status"`
	FailureReason         string          `json:"failure_reason,omitempty"`
	ExpectedAmount        decimal.Decimal `json:"expected_amount"`
	SettledAmount         decimal.Decimal `json:"settled_amount"`
	Kind                  domain.Kind     `json:"kind"`
	From                  string          `json:"from"`
	To                    string          `json:"to"`
	OccurredAt            time.Time       `json:"occurred_at"`
}

// NewSettledEvent builds the event for tx.
func NewSettledEvent(tx *domain.Transaction) SettledEvent {
	return SettledEvent{
		TransactionID:         tx.ID,
		Provider:              tx.Provider,
		ProviderTransactionID: tx.ProviderTransactionID,
		Status:                tx.Status,
		FailureReason:         tx.FailureReason,
		ExpectedAmount:        tx.ExpectedAmount,
		SettledAmount:         tx.Amount,
		Kind:                  tx.Kind,
		From:                  tx.From,
		To:                    tx.To,
		OccurredAt:            tx.UpdatedAt,
	}
}

// Publisher delivers settled events to downstream consumers.
type Publisher interface {
	PublishSettled(ctx context.Context, event SettledEvent) error
}
