// Package storetest runs the behaviour every store.TransactionStore backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run exercises s. Ids are random so s may point at a shared database.
func Run(t *testing.T, s store.TransactionStore) {
	t.Helper()

	t.Run("InsertRejectsDuplicateProviderTransaction", func(t *testing.T) { testUniqueness(t, s) })
	t.Run("CompareAndUpdateStatus", func(t *testing.T) { testCompareAndUpdate(t, s) })
	t.Run("CompareAndUpdateStatusMissing", func(t *testing.T) { testCompareAndUpdateMissing(t, s) })
	t.Run("ConcurrentTerminalWrites", func(t *testing.T) { testConcurrentTerminalWrites(t, s) })
	t.Run("FindByParticipant", func(t *testing.T) { testFindByParticipant(t, s) })
}

func newTx(userID, provider, ptid string) *domain.Transaction {
	return &domain.Transaction{
		Status:                domain.StatusPaymentRequested,
		ExpectedAmount:        decimal.NewFromInt(100),
		To:                    userID,
		Kind:                  domain.KindDonation,
		FromExternal:          true,
		Provider:              provider,
		ProviderTransactionID: ptid,
	}
}

func testUniqueness(t *testing.T, s store.TransactionStore) {
	ctx := context.Background()
	ptid := uuid.NewString()

	if _, err := s.Insert(ctx, newTx(uuid.NewString(), "sandbox", ptid)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	_, err := s.Insert(ctx, newTx(uuid.NewString(), "sandbox", ptid))
	if !apperr.IsKind(err, apperr.KindUniqueness) {
		t.Errorf("Expected uniqueness error for a reused provider transaction id, got %v", err)
	}

	if _, err := s.Insert(ctx, newTx(uuid.NewString(), "other", ptid)); err != nil {
		t.Errorf("Expected the same id under another provider to be accepted, got %v", err)
	}
}

func testCompareAndUpdate(t *testing.T, s store.TransactionStore) {
	ctx := context.Background()
	ptid := uuid.NewString()

	inserted, err := s.Insert(ctx, newTx(uuid.NewString(), "sandbox", ptid))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, applied, err := s.CompareAndUpdateStatus(ctx, store.ByProviderTransaction("sandbox", ptid), domain.StatusUpdate{
		Status:    domain.StatusSuccess,
		Amount:    decimal.NewFromInt(100),
		Metadata:  map[string]interface{}{"ref": "abc"},
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CompareAndUpdateStatus failed: %v", err)
	}
	if !applied || got.Status != domain.StatusSuccess || !got.Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("Expected the update to apply, got applied=%v %+v", applied, got)
	}

	again, applied, err := s.CompareAndUpdateStatus(ctx, store.ByID(inserted.ID), domain.StatusUpdate{
		Status:        domain.StatusFailed,
		FailureReason: "late",
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CompareAndUpdateStatus on terminal record returned error: %v", err)
	}
	if applied {
		t.Error("Expected update on terminal record to be a no-op")
	}
	if again.Status != domain.StatusSuccess || again.FailureReason != "" {
		t.Errorf("Expected the terminal record unchanged, got %+v", again)
	}
}

func testCompareAndUpdateMissing(t *testing.T, s store.TransactionStore) {
	_, applied, err := s.CompareAndUpdateStatus(context.Background(), store.ByProviderTransaction("sandbox", uuid.NewString()), domain.StatusUpdate{
		Status:    domain.StatusSuccess,
		UpdatedAt: time.Now().UTC(),
	})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("Expected not found for an unknown record, got %v", err)
	}
	if applied {
		t.Error("Expected nothing applied for an unknown record")
	}
}

func testConcurrentTerminalWrites(t *testing.T, s store.TransactionStore) {
	ctx := context.Background()
	inserted, err := s.Insert(ctx, newTx(uuid.NewString(), "sandbox", uuid.NewString()))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := domain.StatusSuccess
			if i%2 == 0 {
				status = domain.StatusFailed
			}
			_, applied, err := s.CompareAndUpdateStatus(ctx, store.ByID(inserted.ID), domain.StatusUpdate{
				Status:    status,
				UpdatedAt: time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("CompareAndUpdateStatus failed: %v", err)
				return
			}
			if applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if appliedCount != 1 {
		t.Errorf("Expected exactly one terminal write to apply, got %d", appliedCount)
	}
}

func testFindByParticipant(t *testing.T, s store.TransactionStore) {
	ctx := context.Background()
	userID := uuid.NewString()

	for i := 0; i < 2; i++ {
		if _, err := s.Insert(ctx, newTx(userID, "sandbox", uuid.NewString())); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := s.FindByParticipant(ctx, userID)
	if err != nil {
		t.Fatalf("FindByParticipant failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 records for %s, got %d", userID, len(got))
	}
}
