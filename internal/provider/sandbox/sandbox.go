// Package sandbox implements a local simulated payment provider. It keeps its own
// authoritative transaction state and emits HMAC-signed notifications, which makes the
// whole reconciliation flow runnable without a real payment network.
package sandbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/provider"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultName is the provider name used when none is configured.
const DefaultName = "sandbox"

type direction string

const (
	directionCollect direction = "collect"
	directionPayout  direction = "payout"
)

type record struct {
	id            string
	direction     direction
	status        domain.Status
	expected      decimal.Decimal
	amount        decimal.Decimal
	failureReason string
	phone         string
	metadata      map[string]interface{}
	updatedAt     time.Time
}

// Event is the body of a sandbox notification.
type Event struct {
	TransactionID string                 `json:"transaction_id"`
	Status        domain.Status          `json:"status"`
	Amount        string                 `json:"amount"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	Phone         string                 `json:"phone,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

// Notification is the signed envelope delivered to the notification endpoint.
type Notification struct {
	Event     json.RawMessage `json:"event"`
	Signature string          `json:"signature"`
}

// Adapter is a provider.Adapter backed by in-process state.
type Adapter struct {
	name   string
	secret []byte
	now    func() time.Time

	mu   sync.RWMutex
	txns map[string]*record
}

// New creates a sandbox adapter. Notifications are signed with secret.
func New(name, secret string) *Adapter {
	if name == "" {
		name = DefaultName
	}
	return &Adapter{
		name:   name,
		secret: []byte(secret),
		now:    time.Now,
		txns:   make(map[string]*record),
	}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string {
	return a.name
}

// RequestPaymentFromUser implements provider.Adapter. The payment starts in paymentRequested.
func (a *Adapter) RequestPaymentFromUser(ctx context.Context, user domain.User, amount decimal.Decimal) (provider.PaymentRequestResult, error) {
	if err := ctx.Err(); err != nil {
		return provider.PaymentRequestResult{}, apperr.ProviderFailure(apperr.WithError(err))
	}

	rec := a.open(directionCollect, user, amount, nil, domain.StatusPaymentRequested)
	return provider.PaymentRequestResult{ProviderTransactionID: rec.id, Status: rec.status}, nil
}

// SendFundsToUser implements provider.Adapter. The payout starts in paymentQueued.
func (a *Adapter) SendFundsToUser(ctx context.Context, user domain.User, amount decimal.Decimal, metadata map[string]interface{}) (provider.SendFundsResult, error) {
	if err := ctx.Err(); err != nil {
		return provider.SendFundsResult{}, apperr.ProviderFailure(apperr.WithError(err))
	}

	rec := a.open(directionPayout, user, amount, metadata, domain.StatusPaymentQueued)
	return provider.SendFundsResult{ProviderTransactionID: rec.id, Status: rec.status}, nil
}

func (a *Adapter) open(dir direction, user domain.User, amount decimal.Decimal, metadata map[string]interface{}, status domain.Status) *record {
	rec := &record{
		id:        uuid.NewString(),
		direction: dir,
		status:    status,
		expected:  amount,
		amount:    decimal.Zero,
		phone:     user.Phone,
		metadata:  domain.CloneMetadata(metadata),
		updatedAt: a.now().UTC(),
	}

	a.mu.Lock()
	a.txns[rec.id] = rec
	a.mu.Unlock()

	return rec
}

// GetTransaction implements provider.Adapter.
func (a *Adapter) GetTransaction(ctx context.Context, providerTransactionID string) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, apperr.ProviderFailure(apperr.WithError(err))
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.txns[providerTransactionID]
	if !ok {
		return domain.Snapshot{}, apperr.NotFound(apperr.WithMessagef("sandbox transaction %s not found", providerTransactionID))
	}
	return rec.snapshot(), nil
}

// HandlePaymentNotification implements provider.Adapter. The envelope signature must be
// the hex HMAC-SHA256 of the raw event bytes under the adapter secret.
func (a *Adapter) HandlePaymentNotification(ctx context.Context, payload []byte) (domain.Snapshot, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.Snapshot{}, apperr.DecodeFailure(apperr.WithError(err))
	}
	if len(n.Event) == 0 {
		return domain.Snapshot{}, apperr.DecodeFailure(apperr.WithMessage("notification has no event"))
	}

	sig, err := hex.DecodeString(n.Signature)
	if err != nil || !hmac.Equal(sig, a.sign(n.Event)) {
		return domain.Snapshot{}, apperr.DecodeFailure(apperr.WithMessage("notification signature mismatch"))
	}

	var ev Event
	if err := json.Unmarshal(n.Event, &ev); err != nil {
		return domain.Snapshot{}, apperr.DecodeFailure(apperr.WithError(err))
	}
	if ev.TransactionID == "" {
		return domain.Snapshot{}, apperr.DecodeFailure(apperr.WithMessage("notification has no transaction id"))
	}
	if !ev.Status.IsValid() {
		return domain.Snapshot{}, apperr.DecodeFailure(apperr.WithMessagef("unknown status %q", ev.Status))
	}

	amount := decimal.Zero
	if ev.Amount != "" {
		amount, err = decimal.NewFromString(ev.Amount)
		if err != nil {
			return domain.Snapshot{}, apperr.DecodeFailure(apperr.WithError(err))
		}
	}

	return domain.Snapshot{
		ProviderTransactionID: ev.TransactionID,
		Status:                ev.Status,
		Amount:                amount,
		FailureReason:         ev.FailureReason,
		Metadata:              domain.CloneMetadata(ev.Metadata),
		Payer:                 domain.Payer{Phone: ev.Phone},
	}, nil
}

// Settle moves a sandbox transaction to status and returns the signed notification the
// provider would deliver for it. A zero amount settles for the expected amount on success.
func (a *Adapter) Settle(providerTransactionID string, status domain.Status, amount decimal.Decimal, reason string) ([]byte, error) {
	if !status.IsValid() {
		return nil, apperr.InvalidArgument(apperr.WithMessagef("unknown status %q", status))
	}

	a.mu.Lock()
	rec, ok := a.txns[providerTransactionID]
	if !ok {
		a.mu.Unlock()
		return nil, apperr.NotFound(apperr.WithMessagef("sandbox transaction %s not found", providerTransactionID))
	}

	if amount.IsZero() && status == domain.StatusSuccess {
		amount = rec.expected
	}
	rec.status = status
	rec.amount = amount
	rec.failureReason = reason
	rec.updatedAt = a.now().UTC()
	ev := rec.event()
	a.mu.Unlock()

	return a.Sign(ev)
}

// Sign wraps ev into a signed notification payload.
func (a *Adapter) Sign(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("Sign: encoding event: %w", err)
	}

	payload, err := json.Marshal(Notification{
		Event:     raw,
		Signature: hex.EncodeToString(a.sign(raw)),
	})
	if err != nil {
		return nil, fmt.Errorf("Sign: encoding notification: %w", err)
	}
	return payload, nil
}

func (a *Adapter) sign(b []byte) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(b)
	return mac.Sum(nil)
}

func (r *record) snapshot() domain.Snapshot {
	return domain.Snapshot{
		ProviderTransactionID: r.id,
		Status:                r.status,
		Amount:                r.amount,
		FailureReason:         r.failureReason,
		Metadata:              domain.CloneMetadata(r.metadata),
		Payer:                 domain.Payer{Phone: r.phone},
	}
}

func (r *record) event() Event {
	return Event{
		TransactionID: r.id,
		Status:        r.status,
		Amount:        r.amount.String(),
		FailureReason: r.failureReason,
		Phone:         r.phone,
		Metadata:      domain.CloneMetadata(r.metadata),
		OccurredAt:    r.updatedAt,
	}
}

// Ensure Adapter implements provider.Adapter interface.
var _ provider.Adapter = (*Adapter)(nil)
