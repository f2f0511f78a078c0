package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/store"
)

type providerKey struct {
	provider string
	id       string
}

// Store is an in-memory implementation of store.TransactionStore.
// It stores transactions in memory and is safe for concurrent use.
// Data is lost on service restart - for persistence, use the mongo, postgres or bigquery store.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Transaction
	byProvider map[providerKey]string
	now        func() time.Time
}

// NewStore creates a new in-memory transaction store.
func NewStore() *Store {
	return &Store{
		byID:       make(map[string]*domain.Transaction),
		byProvider: make(map[providerKey]string),
		now:        time.Now,
	}
}

// Insert implements the TransactionStore interface.
// The uniqueness check and the write happen under one lock.
func (s *Store) Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	row := store.PrepareForInsert(tx, s.now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[row.ID]; exists {
		return nil, apperr.Uniqueness(apperr.WithMessagef("transaction %s already exists", row.ID))
	}

	if row.ProviderTransactionID != "" {
		pk := providerKey{provider: row.Provider, id: row.ProviderTransactionID}
		if _, exists := s.byProvider[pk]; exists {
			return nil, apperr.Uniqueness(apperr.WithMessagef(
				"provider transaction %s/%s already recorded", row.Provider, row.ProviderTransactionID))
		}
		s.byProvider[pk] = row.ID
	}

	s.byID[row.ID] = row

	// Return a copy to avoid external modifications
	return row.Clone(), nil
}

// FindByID implements the TransactionStore interface.
func (s *Store) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.byID[id]
	if !exists {
		return nil, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}
	return tx.Clone(), nil
}

// FindByParticipant implements the TransactionStore interface.
func (s *Store) FindByParticipant(ctx context.Context, participantID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Transaction{}
	for _, tx := range s.byID {
		if tx.HasParticipant(participantID) {
			result = append(result, tx.Clone())
		}
	}
	return result, nil
}

// FindByProviderTransactionID implements the TransactionStore interface.
func (s *Store) FindByProviderTransactionID(ctx context.Context, provider, providerTransactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx := s.lookupLocked(store.ByProviderTransaction(provider, providerTransactionID))
	if tx == nil {
		return nil, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}
	return tx.Clone(), nil
}

// CompareAndUpdateStatus implements the TransactionStore interface.
// The terminal check and the write happen under one lock, so two concurrent
// reconciliations can never both apply a terminal status.
func (s *Store) CompareAndUpdateStatus(ctx context.Context, key store.Key, upd domain.StatusUpdate) (*domain.Transaction, bool, error) {
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.lookupLocked(key)
	if tx == nil {
		return nil, false, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}

	if tx.Status.IsTerminal() {
		return tx.Clone(), false, nil
	}

	upd.Apply(tx)
	return tx.Clone(), true, nil
}

// FindStale implements the TransactionStore interface. Oldest records come first.
func (s *Store) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.byID {
		if tx.Status.IsTerminal() || !tx.UpdatedAt.Before(cutoff) {
			continue
		}
		result = append(result, tx.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) lookupLocked(key store.Key) *domain.Transaction {
	if key.ID != "" {
		return s.byID[key.ID]
	}
	if key.ProviderTransactionID == "" {
		return nil
	}
	id, ok := s.byProvider[providerKey{provider: key.Provider, id: key.ProviderTransactionID}]
	if !ok {
		return nil
	}
	return s.byID[id]
}

// Ensure Store implements TransactionStore interface.
var _ store.TransactionStore = (*Store)(nil)
