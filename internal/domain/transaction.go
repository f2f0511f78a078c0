package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the reconciliation state of a ledger transaction.
type Status string

const (
	StatusPending          Status = "pending"
	StatusPaymentRequested Status = "paymentRequested"
	StatusPaymentQueued    Status = "paymentQueued"
	StatusSuccess          Status = "success"
	StatusFailed           Status = "failed"
)

// IsTerminal reports whether s is absorbing. Terminal records are never written again.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPaymentRequested, StatusPaymentQueued, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// TerminalStatuses lists the absorbing statuses, for use in store filters.
var TerminalStatuses = []Status{StatusSuccess, StatusFailed}

// Kind distinguishes money flowing into the platform from money flowing out.
type Kind string

const (
	KindDonation     Kind = "donation"
	KindDistribution Kind = "distribution"
)

// Transaction is the ledger entry for one money movement.
// ExpectedAmount and Provider are set at creation and never change.
type Transaction struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status        Status `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`

	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	Amount         decimal.Decimal `json:"amount"` // settled amount, zero until the provider confirms

	// From is empty when the payer is external to the platform.
	From         string `json:"from"`
	To           string `json:"to"`
	Kind         Kind   `json:"kind"`
	FromExternal bool   `json:"from_external"`
	ToExternal   bool   `json:"to_external"`

	Provider              string                 `json:"provider"`
	ProviderTransactionID string                 `json:"provider_transaction_id"`
	Metadata              map[string]interface{} `json:"metadata"`
}

// HasParticipant reports whether userID is the source or destination of the transaction.
func (t *Transaction) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return t.From == userID || t.To == userID
}

// Clone returns a copy whose metadata map can be mutated independently.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.Metadata = CloneMetadata(t.Metadata)
	return &c
}

// CloneMetadata shallow-copies a metadata map, never returning nil.
func CloneMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Payer is what a provider tells us about the participant on its side.
type Payer struct {
	Phone string `json:"phone,omitempty"`
}

// Snapshot is a provider's view of a transaction at one point in time.
// It is produced per notification or poll and applied immediately; it is never stored.
type Snapshot struct {
	ProviderTransactionID string
	Status                Status
	Amount                decimal.Decimal
	FailureReason         string
	Metadata              map[string]interface{}
	Payer                 Payer
}

// StatusUpdate carries the fields a reconciliation may write.
type StatusUpdate struct {
	Status        Status
	Amount        decimal.Decimal
	FailureReason string
	Metadata      map[string]interface{}
	UpdatedAt     time.Time
}

// UpdateFromSnapshot builds the update applied for snap at time now.
func UpdateFromSnapshot(snap Snapshot, now time.Time) StatusUpdate {
	return StatusUpdate{
		Status:        snap.Status,
		Amount:        snap.Amount,
		FailureReason: snap.FailureReason,
		Metadata:      CloneMetadata(snap.Metadata),
		UpdatedAt:     now,
	}
}

// Apply writes u onto t. Callers must have checked that t is not terminal.
func (u StatusUpdate) Apply(t *Transaction) {
	t.Status = u.Status
	t.Amount = u.Amount
	t.FailureReason = u.FailureReason
	t.Metadata = CloneMetadata(u.Metadata)
	t.UpdatedAt = u.UpdatedAt
}
