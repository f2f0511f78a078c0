// Package store defines the transaction store contract shared by every backend.
package store

import (
	"context"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Key selects the record a conditional update targets: either by ID, or by the
// (Provider, ProviderTransactionID) pair. ID wins when both are set.
type Key struct {
	ID                    string
	Provider              string
	ProviderTransactionID string
}

// ByID builds a key for a transaction id.
func ByID(id string) Key {
	return Key{ID: id}
}

// ByProviderTransaction builds a key for a provider-assigned id.
func ByProviderTransaction(provider, providerTransactionID string) Key {
	return Key{Provider: provider, ProviderTransactionID: providerTransactionID}
}

// IsZero reports whether the key selects nothing.
func (k Key) IsZero() bool {
	return k.ID == "" && (k.Provider == "" || k.ProviderTransactionID == "")
}

// TransactionStore provides durable storage for ledger transactions.
//
// Insert enforces uniqueness of (provider, providerTransactionID) for non-empty provider ids
// and fails with apperr.KindUniqueness on collision. Lookups fail with apperr.KindNotFound.
// Any other fault is reported as apperr.KindStorageFailure.
type TransactionStore interface {
	// Insert persists tx and returns the stored record with server defaults applied.
	Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)

	// FindByID returns the record with the given id.
	FindByID(ctx context.Context, id string) (*domain.Transaction, error)

	// FindByParticipant returns every record where participantID is the source or destination.
	// Order is unspecified.
	FindByParticipant(ctx context.Context, participantID string) ([]*domain.Transaction, error)

	// FindByProviderTransactionID returns the record a provider id belongs to.
	FindByProviderTransactionID(ctx context.Context, provider, providerTransactionID string) (*domain.Transaction, error)

	// CompareAndUpdateStatus atomically applies upd to the record matched by key if, and only
	// if, that record is not terminal. It returns the post-update record and applied=true, or
	// the unchanged terminal record and applied=false. NotFound when nothing matches key.
	CompareAndUpdateStatus(ctx context.Context, key Key, upd domain.StatusUpdate) (*domain.Transaction, bool, error)

	// FindStale returns up to limit non-terminal records last updated before cutoff.
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error)
}

// Provisioner is implemented by backends that need indexes or tables created
// before they can serve traffic.
type Provisioner interface {
	Provision(ctx context.Context) error
}

// PrepareForInsert fills the defaults every backend applies on insert: an id when none
// was given, pending status, zero settled amount and empty metadata.
func PrepareForInsert(tx *domain.Transaction, now time.Time) *domain.Transaction {
	c := tx.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.StatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	c.Amount = decimal.Zero
	c.FailureReason = ""
	c.Metadata = map[string]interface{}{}
	return c
}
