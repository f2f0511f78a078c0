package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/events"
	"github.com/dvloznov/donation-tracker/internal/jobs"
	"github.com/dvloznov/donation-tracker/internal/provider"
	"github.com/dvloznov/donation-tracker/internal/provider/sandbox"
	"github.com/dvloznov/donation-tracker/internal/store"
	"github.com/dvloznov/donation-tracker/internal/store/memory"
	"github.com/dvloznov/donation-tracker/internal/users"
	"github.com/shopspring/decimal"
)

// MockAdapter is a mock implementation of provider.Adapter for testing.
type MockAdapter struct {
	NameValue                     string
	RequestPaymentFromUserFunc    func(ctx context.Context, user domain.User, amount decimal.Decimal) (provider.PaymentRequestResult, error)
	HandlePaymentNotificationFunc func(ctx context.Context, payload []byte) (domain.Snapshot, error)
	GetTransactionFunc            func(ctx context.Context, id string) (domain.Snapshot, error)
	SendFundsToUserFunc           func(ctx context.Context, user domain.User, amount decimal.Decimal, metadata map[string]interface{}) (provider.SendFundsResult, error)

	mu        sync.Mutex
	pollCalls int
}

func (m *MockAdapter) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

func (m *MockAdapter) RequestPaymentFromUser(ctx context.Context, user domain.User, amount decimal.Decimal) (provider.PaymentRequestResult, error) {
	if m.RequestPaymentFromUserFunc != nil {
		return m.RequestPaymentFromUserFunc(ctx, user, amount)
	}
	return provider.PaymentRequestResult{ProviderTransactionID: "P1", Status: domain.StatusPaymentRequested}, nil
}

func (m *MockAdapter) HandlePaymentNotification(ctx context.Context, payload []byte) (domain.Snapshot, error) {
	if m.HandlePaymentNotificationFunc != nil {
		return m.HandlePaymentNotificationFunc(ctx, payload)
	}
	return domain.Snapshot{ProviderTransactionID: string(payload), Status: domain.StatusSuccess, Amount: decimal.NewFromInt(100)}, nil
}

func (m *MockAdapter) GetTransaction(ctx context.Context, id string) (domain.Snapshot, error) {
	m.mu.Lock()
	m.pollCalls++
	m.mu.Unlock()

	if m.GetTransactionFunc != nil {
		return m.GetTransactionFunc(ctx, id)
	}
	return domain.Snapshot{ProviderTransactionID: id, Status: domain.StatusPaymentQueued}, nil
}

func (m *MockAdapter) SendFundsToUser(ctx context.Context, user domain.User, amount decimal.Decimal, metadata map[string]interface{}) (provider.SendFundsResult, error) {
	if m.SendFundsToUserFunc != nil {
		return m.SendFundsToUserFunc(ctx, user, amount, metadata)
	}
	return provider.SendFundsResult{ProviderTransactionID: "S1", Status: domain.StatusPaymentQueued}, nil
}

func (m *MockAdapter) PollCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCalls
}

// MockPublisher records settled events.
type MockPublisher struct {
	PublishSettledFunc func(ctx context.Context, event events.SettledEvent) error

	mu     sync.Mutex
	events []events.SettledEvent
}

func (m *MockPublisher) PublishSettled(ctx context.Context, event events.SettledEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()

	if m.PublishSettledFunc != nil {
		return m.PublishSettledFunc(ctx, event)
	}
	return nil
}

func (m *MockPublisher) Events() []events.SettledEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.SettledEvent(nil), m.events...)
}

// MockStore wraps a memory store and lets tests override single methods.
type MockStore struct {
	*memory.Store
	FindByIDFunc func(ctx context.Context, id string) (*domain.Transaction, error)
	InsertFunc   func(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
}

func (m *MockStore) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return m.Store.FindByID(ctx, id)
}

func (m *MockStore) Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx)
	}
	return m.Store.Insert(ctx, tx)
}

type fixture struct {
	svc       *Service
	store     *memory.Store
	adapter   *MockAdapter
	publisher *MockPublisher
}

func newFixture(t *testing.T, adapter *MockAdapter) *fixture {
	t.Helper()

	if adapter == nil {
		adapter = &MockAdapter{}
	}
	reg := provider.NewRegistry()
	reg.Register(adapter)

	st := memory.NewStore()
	pub := &MockPublisher{}
	dir := users.NewMemoryDirectory(
		domain.User{ID: "donor", Phone: "+254700000001"},
		domain.User{ID: "beneficiary", Phone: "+254700000002"},
	)

	svc := New(Deps{Store: st, Providers: reg, Users: dir, Events: pub}, Config{ProviderTimeout: time.Second})
	return &fixture{svc: svc, store: st, adapter: adapter, publisher: pub}
}

func TestInitiateDonation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tx, err := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("InitiateDonation failed: %v", err)
	}

	if tx.Status != domain.StatusPaymentRequested {
		t.Errorf("Expected paymentRequested, got %q", tx.Status)
	}
	if tx.From != "" || !tx.FromExternal || tx.To != "donor" || tx.ToExternal {
		t.Errorf("Unexpected participants: %+v", tx)
	}
	if tx.Kind != domain.KindDonation || tx.Provider != "mock" || tx.ProviderTransactionID != "P1" {
		t.Errorf("Unexpected provider fields: %+v", tx)
	}
	if !tx.ExpectedAmount.Equal(decimal.NewFromInt(100)) || !tx.Amount.IsZero() {
		t.Errorf("Unexpected amounts: expected=%s settled=%s", tx.ExpectedAmount, tx.Amount)
	}
	if tx.Metadata == nil || len(tx.Metadata) != 0 {
		t.Errorf("Expected empty metadata, got %v", tx.Metadata)
	}
}

func TestInitiateDonation_Rejects(t *testing.T) {
	called := false
	f := newFixture(t, &MockAdapter{
		RequestPaymentFromUserFunc: func(ctx context.Context, user domain.User, amount decimal.Decimal) (provider.PaymentRequestResult, error) {
			called = true
			return provider.PaymentRequestResult{}, nil
		},
	})

	tests := []struct {
		name   string
		user   string
		amount decimal.Decimal
		want   apperr.Kind
	}{
		{"zero amount", "donor", decimal.Zero, apperr.KindInvalidArgument},
		{"negative amount", "donor", decimal.NewFromInt(-5), apperr.KindInvalidArgument},
		{"unknown user", "ghost", decimal.NewFromInt(5), apperr.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.InitiateDonation(context.Background(), tt.user, tt.amount)
			if apperr.KindOf(err) != tt.want {
				t.Errorf("Expected %q, got %v", tt.want, err)
			}
		})
	}

	if called {
		t.Error("Expected provider not to be called")
	}
}

func TestInitiateDonation_ProviderFailureCreatesNothing(t *testing.T) {
	f := newFixture(t, &MockAdapter{
		RequestPaymentFromUserFunc: func(ctx context.Context, user domain.User, amount decimal.Decimal) (provider.PaymentRequestResult, error) {
			return provider.PaymentRequestResult{}, errors.New("gateway unreachable")
		},
	})
	ctx := context.Background()

	_, err := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(10))
	if apperr.KindOf(err) != apperr.KindProviderFailure {
		t.Fatalf("Expected provider failure, got %v", err)
	}

	all, _ := f.svc.GetAllByUser(ctx, "donor")
	if len(all) != 0 {
		t.Errorf("Expected no record after provider failure, got %d", len(all))
	}
}

func TestInitiateDonation_ProviderTimeout(t *testing.T) {
	f := newFixture(t, &MockAdapter{
		RequestPaymentFromUserFunc: func(ctx context.Context, user domain.User, amount decimal.Decimal) (provider.PaymentRequestResult, error) {
			<-ctx.Done()
			return provider.PaymentRequestResult{}, ctx.Err()
		},
	})
	f.svc.providerTimeout = 20 * time.Millisecond
	ctx := context.Background()

	_, err := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(10))
	if apperr.KindOf(err) != apperr.KindProviderFailure {
		t.Fatalf("Expected provider failure on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded cause, got %v", err)
	}

	all, _ := f.svc.GetAllByUser(ctx, "donor")
	if len(all) != 0 {
		t.Errorf("Expected no record after timeout, got %d", len(all))
	}
}

func TestInitiateDonation_DuplicateProviderIDIsStorageFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("first InitiateDonation failed: %v", err)
	}

	_, err := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(10))
	if apperr.KindOf(err) != apperr.KindStorageFailure {
		t.Fatalf("Expected storage failure, got %v", err)
	}
	if !apperr.IsKind(err, apperr.KindUniqueness) {
		t.Errorf("Expected uniqueness cause to stay inspectable, got %v", err)
	}

	all, _ := f.svc.GetAllByUser(ctx, "donor")
	if len(all) != 1 {
		t.Errorf("Expected the first record only, got %d", len(all))
	}
}

func TestInitiateDonation_StorageFaultIsWrapped(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&MockAdapter{})
	st := &MockStore{
		Store: memory.NewStore(),
		InsertFunc: func(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
			return nil, errors.New("connection reset")
		},
	}
	svc := New(Deps{Store: st, Providers: reg, Users: users.NewMemoryDirectory(domain.User{ID: "donor"})}, Config{})

	_, err := svc.InitiateDonation(context.Background(), "donor", decimal.NewFromInt(10))
	if apperr.KindOf(err) != apperr.KindStorageFailure {
		t.Errorf("Expected storage failure, got %v", err)
	}
}

func TestHandleProviderNotification(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created, _ := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(100))

	tx, err := f.svc.HandleProviderNotification(ctx, "mock", []byte("P1"))
	if err != nil {
		t.Fatalf("HandleProviderNotification failed: %v", err)
	}
	if tx.ID != created.ID || tx.Status != domain.StatusSuccess || !tx.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Unexpected record after notification: %+v", tx)
	}
	if got := f.publisher.Events(); len(got) != 1 || got[0].TransactionID != created.ID {
		t.Fatalf("Expected one settled event for %s, got %+v", created.ID, got)
	}

	// A duplicate notification returns the same terminal record and publishes nothing.
	again, err := f.svc.HandleProviderNotification(ctx, "mock", []byte("P1"))
	if err != nil {
		t.Fatalf("duplicate HandleProviderNotification failed: %v", err)
	}
	if again.Status != domain.StatusSuccess || !again.UpdatedAt.Equal(tx.UpdatedAt) {
		t.Errorf("Expected unchanged terminal record, got %+v", again)
	}
	if got := f.publisher.Events(); len(got) != 1 {
		t.Errorf("Expected no second event, got %d", len(got))
	}
}

func TestHandleProviderNotification_LateConflictingNotification(t *testing.T) {
	status := domain.StatusFailed
	f := newFixture(t, &MockAdapter{
		HandlePaymentNotificationFunc: func(ctx context.Context, payload []byte) (domain.Snapshot, error) {
			return domain.Snapshot{ProviderTransactionID: "P1", Status: status, FailureReason: "declined"}, nil
		},
	})
	ctx := context.Background()

	f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(100))
	first, _ := f.svc.HandleProviderNotification(ctx, "mock", nil)

	status = domain.StatusSuccess
	second, err := f.svc.HandleProviderNotification(ctx, "mock", nil)
	if err != nil {
		t.Fatalf("HandleProviderNotification failed: %v", err)
	}
	if second.Status != domain.StatusFailed || second.FailureReason != first.FailureReason {
		t.Errorf("Expected terminal failed record to be kept, got %+v", second)
	}
}

func TestHandleProviderNotification_Errors(t *testing.T) {
	f := newFixture(t, &MockAdapter{
		HandlePaymentNotificationFunc: func(ctx context.Context, payload []byte) (domain.Snapshot, error) {
			switch string(payload) {
			case "garbage":
				return domain.Snapshot{}, apperr.DecodeFailure(apperr.WithMessage("bad signature"))
			case "raw-error":
				return domain.Snapshot{}, errors.New("unexpected EOF")
			case "no-status":
				return domain.Snapshot{ProviderTransactionID: "P1"}, nil
			}
			return domain.Snapshot{ProviderTransactionID: string(payload), Status: domain.StatusSuccess}, nil
		},
	})
	ctx := context.Background()

	tests := []struct {
		name     string
		provider string
		payload  string
		want     apperr.Kind
	}{
		{"unknown provider", "other", "P1", apperr.KindNotFound},
		{"undecodable", "mock", "garbage", apperr.KindDecodeFailure},
		{"unclassified adapter error", "mock", "raw-error", apperr.KindDecodeFailure},
		{"missing status", "mock", "no-status", apperr.KindDecodeFailure},
		{"never requested", "mock", "P999", apperr.KindTransactionNotRequested},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.HandleProviderNotification(ctx, tt.provider, []byte(tt.payload))
			if apperr.KindOf(err) != tt.want {
				t.Errorf("Expected %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := f.store.FindByProviderTransactionID(ctx, "mock", "P999"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("Expected no record to be created for an unrequested transaction, got %v", err)
	}
}

func TestCheckUserTransactionStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created, _ := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(100))

	if _, err := f.svc.CheckUserTransactionStatus(ctx, "beneficiary", created.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("Expected not found for non-participant, got %v", err)
	}
	if _, err := f.svc.CheckUserTransactionStatus(ctx, "donor", "missing"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("Expected not found for unknown id, got %v", err)
	}

	polled, err := f.svc.CheckUserTransactionStatus(ctx, "donor", created.ID)
	if err != nil {
		t.Fatalf("CheckUserTransactionStatus failed: %v", err)
	}
	if polled.Status != domain.StatusPaymentQueued {
		t.Errorf("Expected poll to apply paymentQueued, got %q", polled.Status)
	}
	if f.adapter.PollCalls() != 1 {
		t.Errorf("Expected one provider poll, got %d", f.adapter.PollCalls())
	}
	if len(f.publisher.Events()) != 0 {
		t.Error("Expected no event for a non-terminal update")
	}
}

func TestCheckUserTransactionStatus_TerminalSkipsProvider(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created, _ := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(100))
	f.svc.HandleProviderNotification(ctx, "mock", []byte("P1"))

	tx, err := f.svc.CheckUserTransactionStatus(ctx, "donor", created.ID)
	if err != nil {
		t.Fatalf("CheckUserTransactionStatus failed: %v", err)
	}
	if tx.Status != domain.StatusSuccess {
		t.Errorf("Expected success, got %q", tx.Status)
	}
	if f.adapter.PollCalls() != 0 {
		t.Errorf("Expected no provider call for a terminal record, got %d", f.adapter.PollCalls())
	}
}

func TestCheckUserTransactionStatus_PollFailureLeavesRecord(t *testing.T) {
	f := newFixture(t, &MockAdapter{
		GetTransactionFunc: func(ctx context.Context, id string) (domain.Snapshot, error) {
			return domain.Snapshot{}, errors.New("503 from provider")
		},
	})
	ctx := context.Background()

	created, _ := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(100))

	_, err := f.svc.CheckUserTransactionStatus(ctx, "donor", created.ID)
	if apperr.KindOf(err) != apperr.KindProviderFailure {
		t.Fatalf("Expected provider failure, got %v", err)
	}

	stored, _ := f.store.FindByID(ctx, created.ID)
	if stored.Status != created.Status || !stored.UpdatedAt.Equal(created.UpdatedAt) {
		t.Errorf("Expected record untouched, got %+v", stored)
	}
}

func TestCheckUserTransactionStatus_StorageFault(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&MockAdapter{})
	st := &MockStore{
		Store: memory.NewStore(),
		FindByIDFunc: func(ctx context.Context, id string) (*domain.Transaction, error) {
			return nil, errors.New("i/o timeout")
		},
	}
	svc := New(Deps{Store: st, Providers: reg, Users: users.NewMemoryDirectory()}, Config{})

	_, err := svc.CheckUserTransactionStatus(context.Background(), "donor", "tx")
	if apperr.KindOf(err) != apperr.KindStorageFailure {
		t.Errorf("Expected storage failure, got %v", err)
	}
}

func TestConcurrentReconciliationSettlesOnce(t *testing.T) {
	f := newFixture(t, &MockAdapter{
		HandlePaymentNotificationFunc: func(ctx context.Context, payload []byte) (domain.Snapshot, error) {
			return domain.Snapshot{ProviderTransactionID: "P1", Status: domain.StatusSuccess, Amount: decimal.NewFromInt(100)}, nil
		},
		GetTransactionFunc: func(ctx context.Context, id string) (domain.Snapshot, error) {
			return domain.Snapshot{ProviderTransactionID: id, Status: domain.StatusFailed, FailureReason: "expired"}, nil
		},
	})
	ctx := context.Background()

	created, _ := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(100))

	var wg sync.WaitGroup
	results := make(chan *domain.Transaction, 40)
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tx, err := f.svc.HandleProviderNotification(ctx, "mock", nil)
			if err != nil {
				errs <- err
				return
			}
			results <- tx
		}()
		go func() {
			defer wg.Done()
			tx, err := f.svc.CheckUserTransactionStatus(ctx, "donor", created.ID)
			if err != nil {
				errs <- err
				return
			}
			results <- tx
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("Expected losing attempts to succeed without error, got %v", err)
	}

	evs := f.publisher.Events()
	if len(evs) != 1 {
		t.Fatalf("Expected exactly one settled event, got %d", len(evs))
	}

	final, _ := f.store.FindByID(ctx, created.ID)
	if final.Status != evs[0].Status {
		t.Errorf("Expected stored status %q to match the settled event %q", final.Status, evs[0].Status)
	}
	for tx := range results {
		if tx.Status.IsTerminal() && tx.Status != final.Status {
			t.Errorf("Caller observed %q after the record settled as %q", tx.Status, final.Status)
		}
	}
}

func TestPublishFailureDoesNotFailReconciliation(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.PublishSettledFunc = func(ctx context.Context, event events.SettledEvent) error {
		return errors.New("broker down")
	}
	ctx := context.Background()

	f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(100))
	tx, err := f.svc.HandleProviderNotification(ctx, "mock", []byte("P1"))
	if err != nil {
		t.Fatalf("Expected success despite publish failure, got %v", err)
	}
	if tx.Status != domain.StatusSuccess {
		t.Errorf("Expected success, got %q", tx.Status)
	}
}

func TestSendDistribution(t *testing.T) {
	var gotMetadata map[string]interface{}
	f := newFixture(t, &MockAdapter{
		SendFundsToUserFunc: func(ctx context.Context, user domain.User, amount decimal.Decimal, metadata map[string]interface{}) (provider.SendFundsResult, error) {
			if user.ID != "beneficiary" {
				t.Errorf("Expected payout to beneficiary, got %s", user.ID)
			}
			gotMetadata = metadata
			return provider.SendFundsResult{ProviderTransactionID: "S1", Status: domain.StatusPaymentQueued}, nil
		},
	})
	ctx := context.Background()

	tx, err := f.svc.SendDistribution(ctx, "donor", "beneficiary", decimal.NewFromInt(40), map[string]interface{}{"reason": "school fees"})
	if err != nil {
		t.Fatalf("SendDistribution failed: %v", err)
	}
	if tx.Kind != domain.KindDistribution || tx.From != "donor" || tx.To != "beneficiary" {
		t.Errorf("Unexpected distribution record: %+v", tx)
	}
	if tx.FromExternal || tx.ToExternal {
		t.Error("Expected both participants to be internal")
	}
	if tx.Status != domain.StatusPaymentQueued || tx.ProviderTransactionID != "S1" {
		t.Errorf("Unexpected provider fields: %+v", tx)
	}
	if gotMetadata["reason"] != "school fees" {
		t.Errorf("Expected metadata to reach the provider, got %v", gotMetadata)
	}

	for _, uid := range []string{"donor", "beneficiary"} {
		all, _ := f.svc.GetAllByUser(ctx, uid)
		if len(all) != 1 {
			t.Errorf("Expected %s to see the distribution, got %d records", uid, len(all))
		}
	}

	if _, err := f.svc.SendDistribution(ctx, "donor", "donor", decimal.NewFromInt(1), nil); apperr.KindOf(err) != apperr.KindInvalidArgument {
		t.Errorf("Expected invalid argument for self-payment, got %v", err)
	}
	if _, err := f.svc.SendDistribution(ctx, "donor", "ghost", decimal.NewFromInt(1), nil); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("Expected not found for unknown recipient, got %v", err)
	}
}

func TestRoundTripWithSandbox(t *testing.T) {
	sb := sandbox.New("sandbox", "secret")
	reg := provider.NewRegistry()
	reg.Register(sb)
	pub := &MockPublisher{}
	svc := New(Deps{
		Store:     memory.NewStore(),
		Providers: reg,
		Users:     users.NewMemoryDirectory(domain.User{ID: "donor", Phone: "+254700000001"}),
		Events:    pub,
	}, Config{ProviderTimeout: time.Second})
	ctx := context.Background()

	created, err := svc.InitiateDonation(ctx, "donor", decimal.RequireFromString("250.50"))
	if err != nil {
		t.Fatalf("InitiateDonation failed: %v", err)
	}

	payload, err := sb.Settle(created.ProviderTransactionID, domain.StatusSuccess, decimal.Zero, "")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	settled, err := svc.HandleProviderNotification(ctx, "sandbox", payload)
	if err != nil {
		t.Fatalf("HandleProviderNotification failed: %v", err)
	}
	if settled.Status != domain.StatusSuccess || !settled.Amount.Equal(decimal.RequireFromString("250.50")) {
		t.Errorf("Unexpected settled record: %+v", settled)
	}

	checked, err := svc.CheckUserTransactionStatus(ctx, "donor", created.ID)
	if err != nil {
		t.Fatalf("CheckUserTransactionStatus failed: %v", err)
	}
	if checked.Status != domain.StatusSuccess {
		t.Errorf("Expected success, got %q", checked.Status)
	}

	forged := append([]byte(nil), payload...)
	forged[len(forged)-3] ^= 1
	if _, err := svc.HandleProviderNotification(ctx, "sandbox", forged); apperr.KindOf(err) != apperr.KindDecodeFailure {
		t.Errorf("Expected decode failure for tampered payload, got %v", err)
	}
	if len(pub.Events()) != 1 {
		t.Errorf("Expected one settled event, got %d", len(pub.Events()))
	}
}

// recordingPublisher is a jobs.Publisher that keeps what it was given.
type recordingPublisher struct {
	jobs []*jobs.ReconcileJob
}

func (r *recordingPublisher) PublishReconcile(ctx context.Context, job *jobs.ReconcileJob) error {
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func TestEnqueueStaleAndHandleJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created, _ := f.svc.InitiateDonation(ctx, "donor", decimal.NewFromInt(100))
	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	pub := &recordingPublisher{}
	n, err := f.svc.EnqueueStale(ctx, pub, 5*time.Minute, 10)
	if err != nil {
		t.Fatalf("EnqueueStale failed: %v", err)
	}
	if n != 1 || pub.jobs[0].TransactionID != created.ID {
		t.Fatalf("Expected one job for %s, got %d", created.ID, n)
	}

	job := pub.jobs[0]
	if err := f.svc.HandleJob(ctx, job); err != nil {
		t.Fatalf("HandleJob failed: %v", err)
	}
	if job.ResultStatus != string(domain.StatusPaymentQueued) {
		t.Errorf("Expected result status paymentQueued, got %q", job.ResultStatus)
	}

	err = f.svc.HandleJob(ctx, &jobs.ReconcileJob{TransactionID: "missing"})
	if !jobs.IsPermanent(err) {
		t.Errorf("Expected permanent error for a missing record, got %v", err)
	}
}

func TestRunStaleSweep(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.InitiateDonation(context.Background(), "donor", decimal.NewFromInt(100))
	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	pub := &recordingPublisher{}
	done := make(chan struct{})
	go func() {
		f.svc.RunStaleSweep(ctx, pub, 10*time.Millisecond, 5*time.Minute, 10)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected sweep to stop when the context is done")
	}

	if len(pub.jobs) == 0 {
		t.Error("Expected at least one sweep to publish a job")
	}
}

var _ store.TransactionStore = (*MockStore)(nil)
