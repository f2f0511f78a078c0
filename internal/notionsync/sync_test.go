package notionsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

type MockNotionService struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePageFunc    func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabaseFunc func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.CreatePageFunc != nil {
		return m.CreatePageFunc(ctx, databaseID, properties)
	}
	return &notionapi.Page{ID: "new-page"}, nil
}

func (m *MockNotionService) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.UpdatePageFunc != nil {
		return m.UpdatePageFunc(ctx, pageID, properties)
	}
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if m.QueryDatabaseFunc != nil {
		return m.QueryDatabaseFunc(ctx, databaseID, filter)
	}
	return &notionapi.DatabaseQueryResponse{}, nil
}

type MockSource struct {
	FindByParticipantFunc func(ctx context.Context, participantID string) ([]*domain.Transaction, error)
}

func (m *MockSource) FindByParticipant(ctx context.Context, participantID string) ([]*domain.Transaction, error) {
	return m.FindByParticipantFunc(ctx, participantID)
}

func mirroredPage(pageID, txID string, status domain.Status) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			PropTransactionID: &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: txID}},
			},
			PropStatus: &notionapi.SelectProperty{
				Select: notionapi.Option{Name: string(status)},
			},
		},
	}
}

func ledgerTx(id string, status domain.Status) *domain.Transaction {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Transaction{
		ID:             id,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         status,
		ExpectedAmount: decimal.NewFromInt(50),
		Amount:         decimal.Zero,
		To:             "u1",
		FromExternal:   true,
		Kind:           domain.KindDonation,
		Provider:       "sandbox",
	}
}

func TestSyncTransactions(t *testing.T) {
	source := &MockSource{
		FindByParticipantFunc: func(ctx context.Context, participantID string) ([]*domain.Transaction, error) {
			return []*domain.Transaction{
				ledgerTx("new", domain.StatusPaymentRequested),
				ledgerTx("moved", domain.StatusSuccess),
				ledgerTx("same", domain.StatusPaymentRequested),
				ledgerTx("final", domain.StatusFailed),
			}, nil
		},
	}

	queries := 0
	var created, updated []string
	notion := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			queries++
			if filter.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{mirroredPage("p-moved", "moved", domain.StatusPaymentRequested)},
					HasMore:    true,
					NextCursor: "next",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{
				Results: []notionapi.Page{
					mirroredPage("p-same", "same", domain.StatusPaymentRequested),
					mirroredPage("p-final", "final", domain.StatusSuccess),
				},
			}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			rt := properties[PropTransactionID].(notionapi.RichTextProperty)
			created = append(created, rt.RichText[0].Text.Content)
			return &notionapi.Page{ID: "p-new"}, nil
		},
		UpdatePageFunc: func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
			updated = append(updated, pageID)
			if sel := properties[PropStatus].(notionapi.SelectProperty); sel.Select.Name != string(domain.StatusSuccess) {
				t.Errorf("Expected status success in update, got %q", sel.Select.Name)
			}
			return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
		},
	}

	result, err := SyncTransactions(context.Background(), source, notion, "db", "u1", false)
	if err != nil {
		t.Fatalf("SyncTransactions failed: %v", err)
	}

	if queries != 2 {
		t.Errorf("Expected 2 paginated queries, got %d", queries)
	}
	if len(created) != 1 || created[0] != "new" {
		t.Errorf("Expected to create page for 'new', got %v", created)
	}
	if len(updated) != 1 || updated[0] != "p-moved" {
		t.Errorf("Expected to update p-moved, got %v", updated)
	}
	if result.Created != 1 || result.Updated != 1 || result.Skipped != 2 || result.Failed != 0 {
		t.Errorf("Unexpected result %+v", result)
	}
}

func TestSyncTransactions_DryRun(t *testing.T) {
	source := &MockSource{
		FindByParticipantFunc: func(ctx context.Context, participantID string) ([]*domain.Transaction, error) {
			return []*domain.Transaction{ledgerTx("new", domain.StatusPending)}, nil
		},
	}
	notion := &MockNotionService{
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			t.Error("CreatePage must not be called in dry run")
			return nil, nil
		},
	}

	result, err := SyncTransactions(context.Background(), source, notion, "db", "u1", true)
	if err != nil {
		t.Fatalf("SyncTransactions failed: %v", err)
	}
	if result.Created != 1 {
		t.Errorf("Expected 1 would-be creation, got %+v", result)
	}
}

func TestSyncTransactions_Errors(t *testing.T) {
	failingSource := &MockSource{
		FindByParticipantFunc: func(ctx context.Context, participantID string) ([]*domain.Transaction, error) {
			return nil, errors.New("store down")
		},
	}
	if _, err := SyncTransactions(context.Background(), failingSource, &MockNotionService{}, "db", "u1", false); err == nil {
		t.Error("Expected error when source fails")
	}

	source := &MockSource{
		FindByParticipantFunc: func(ctx context.Context, participantID string) ([]*domain.Transaction, error) {
			return []*domain.Transaction{ledgerTx("a", domain.StatusPending)}, nil
		},
	}
	failingNotion := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return nil, errors.New("rate limited")
		},
	}
	if _, err := SyncTransactions(context.Background(), source, failingNotion, "db", "u1", false); err == nil {
		t.Error("Expected error when Notion query fails")
	}

	createFails := &MockNotionService{
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			return nil, errors.New("validation_error")
		},
	}
	result, err := SyncTransactions(context.Background(), source, createFails, "db", "u1", false)
	if err != nil {
		t.Fatalf("Expected per-record failures to be counted, got %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 failure, got %+v", result)
	}
}

func TestTransactionToNotionProperties(t *testing.T) {
	tx := ledgerTx("tx-1", domain.StatusFailed)
	tx.FailureReason = "insufficient funds"
	tx.ProviderTransactionID = "P1"

	props := TransactionToNotionProperties(tx)

	title := props[PropName].(notionapi.TitleProperty)
	if got := title.Title[0].Text.Content; got != "donation 50.00" {
		t.Errorf("Unexpected title %q", got)
	}
	if _, ok := props[PropFrom]; ok {
		t.Error("Expected no From property for an external payer")
	}
	if _, ok := props[PropFailureReason]; !ok {
		t.Error("Expected Failure Reason property")
	}
	if n := props[PropExpectedAmount].(notionapi.NumberProperty); n.Number != 50 {
		t.Errorf("Expected amount 50, got %v", n.Number)
	}
}
