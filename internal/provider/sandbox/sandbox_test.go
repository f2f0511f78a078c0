package sandbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

func TestRequestAndPoll(t *testing.T) {
	a := New("", "secret")
	ctx := context.Background()

	if a.Name() != DefaultName {
		t.Errorf("Expected default name %q, got %q", DefaultName, a.Name())
	}

	res, err := a.RequestPaymentFromUser(ctx, domain.User{ID: "u1", Phone: "+254700000001"}, decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("RequestPaymentFromUser failed: %v", err)
	}
	if res.ProviderTransactionID == "" || res.Status != domain.StatusPaymentRequested {
		t.Fatalf("Unexpected request result: %+v", res)
	}

	snap, err := a.GetTransaction(ctx, res.ProviderTransactionID)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if snap.Status != domain.StatusPaymentRequested || snap.Payer.Phone != "+254700000001" {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}

	if _, err := a.GetTransaction(ctx, "unknown"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("Expected not found for unknown id, got %v", err)
	}
}

func TestSettleProducesVerifiableNotification(t *testing.T) {
	a := New("sandbox", "secret")
	ctx := context.Background()

	res, _ := a.RequestPaymentFromUser(ctx, domain.User{ID: "u1"}, decimal.NewFromInt(50))

	payload, err := a.Settle(res.ProviderTransactionID, domain.StatusSuccess, decimal.Zero, "")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	snap, err := a.HandlePaymentNotification(ctx, payload)
	if err != nil {
		t.Fatalf("HandlePaymentNotification failed: %v", err)
	}
	if snap.ProviderTransactionID != res.ProviderTransactionID {
		t.Errorf("Expected id %s, got %s", res.ProviderTransactionID, snap.ProviderTransactionID)
	}
	if snap.Status != domain.StatusSuccess {
		t.Errorf("Expected success, got %q", snap.Status)
	}
	if !snap.Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected settled amount to default to expected amount, got %s", snap.Amount)
	}

	polled, _ := a.GetTransaction(ctx, res.ProviderTransactionID)
	if polled.Status != domain.StatusSuccess {
		t.Errorf("Expected poll to reflect settlement, got %q", polled.Status)
	}
}

func TestSettle_Errors(t *testing.T) {
	a := New("sandbox", "secret")

	if _, err := a.Settle("missing", domain.StatusFailed, decimal.Zero, "x"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if _, err := a.Settle("missing", domain.Status("bogus"), decimal.Zero, ""); !apperr.IsKind(err, apperr.KindInvalidArgument) {
		t.Errorf("Expected invalid argument, got %v", err)
	}
}

func TestHandlePaymentNotification_Rejects(t *testing.T) {
	a := New("sandbox", "secret")
	other := New("sandbox", "other-secret")
	ctx := context.Background()

	forged, _ := other.Sign(Event{TransactionID: "P1", Status: domain.StatusSuccess, Amount: "10"})
	badStatus, _ := a.Sign(Event{TransactionID: "P1", Status: "bogus"})
	noID, _ := a.Sign(Event{Status: domain.StatusSuccess})
	badAmount, _ := a.Sign(Event{TransactionID: "P1", Status: domain.StatusSuccess, Amount: "ten"})

	tampered, _ := a.Sign(Event{TransactionID: "P1", Status: domain.StatusFailed})
	var n Notification
	json.Unmarshal(tampered, &n)
	n.Event = json.RawMessage(`{"transaction_id":"P1","status":"success","amount":"1000"}`)
	tampered, _ = json.Marshal(n)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("hello")},
		{"empty envelope", []byte(`{}`)},
		{"bad signature encoding", []byte(`{"event":{"transaction_id":"P1"},"signature":"zz"}`)},
		{"wrong secret", forged},
		{"tampered event", tampered},
		{"unknown status", badStatus},
		{"missing transaction id", noID},
		{"bad amount", badAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.HandlePaymentNotification(ctx, tt.payload)
			if !apperr.IsKind(err, apperr.KindDecodeFailure) {
				t.Errorf("Expected decode failure, got %v", err)
			}
		})
	}
}

func TestSendFundsToUser(t *testing.T) {
	a := New("sandbox", "secret")
	ctx := context.Background()

	res, err := a.SendFundsToUser(ctx, domain.User{ID: "u2"}, decimal.NewFromInt(20), map[string]interface{}{"note": "rent"})
	if err != nil {
		t.Fatalf("SendFundsToUser failed: %v", err)
	}
	if res.Status != domain.StatusPaymentQueued {
		t.Errorf("Expected paymentQueued, got %q", res.Status)
	}

	snap, _ := a.GetTransaction(ctx, res.ProviderTransactionID)
	if snap.Metadata["note"] != "rent" {
		t.Errorf("Expected metadata to be kept, got %v", snap.Metadata)
	}
}

func TestCancelledContext(t *testing.T) {
	a := New("sandbox", "secret")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.RequestPaymentFromUser(ctx, domain.User{ID: "u1"}, decimal.NewFromInt(1)); !apperr.IsKind(err, apperr.KindProviderFailure) {
		t.Errorf("Expected provider failure, got %v", err)
	}
}
