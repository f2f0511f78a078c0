// Package postgres stores ledger transactions in PostgreSQL through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/store"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const columns = `id, created_at, updated_at, status, failure_reason, expected_amount, amount,
	from_user, to_user, kind, from_external, to_external, provider, provider_transaction_id, metadata`

// Store is the PostgreSQL implementation of store.TransactionStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a Store over db.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Provision creates the table and indexes.
func (s *Store) Provision(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("Provision: %w", err)
		}
	}
	return nil
}

// Insert implements store.TransactionStore. The partial unique index enforces
// provider id uniqueness.
func (s *Store) Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	row := store.PrepareForInsert(tx, s.now().UTC())

	metadata, err := json.Marshal(row.Metadata)
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("Insert: encoding metadata: %w", err)))
	}

	const insertTx = `
		INSERT INTO transactions (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.ExecContext(ctx, insertTx,
		row.ID, row.CreatedAt, row.UpdatedAt, string(row.Status), row.FailureReason,
		row.ExpectedAmount, row.Amount, row.From, row.To, string(row.Kind),
		row.FromExternal, row.ToExternal, row.Provider, row.ProviderTransactionID, metadata,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("Insert: insert transaction: %w", err))
	}

	return row, nil
}

// FindByID implements store.TransactionStore.
func (s *Store) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.findOne(ctx, store.ByID(id))
}

// FindByProviderTransactionID implements store.TransactionStore.
func (s *Store) FindByProviderTransactionID(ctx context.Context, provider, providerTransactionID string) (*domain.Transaction, error) {
	return s.findOne(ctx, store.ByProviderTransaction(provider, providerTransactionID))
}

// FindByParticipant implements store.TransactionStore.
func (s *Store) FindByParticipant(ctx context.Context, participantID string) ([]*domain.Transaction, error) {
	if participantID == "" {
		return []*domain.Transaction{}, nil
	}

	const query = `
		SELECT ` + columns + `
		FROM transactions
		WHERE from_user = $1 OR to_user = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, participantID)
	if err != nil {
		return nil, classify(fmt.Errorf("FindByParticipant: query: %w", err))
	}
	defer rows.Close()

	return collect(rows, "FindByParticipant")
}

// CompareAndUpdateStatus implements store.TransactionStore as one conditional UPDATE.
// When nothing was updated a follow-up read tells a terminal record from a missing one.
func (s *Store) CompareAndUpdateStatus(ctx context.Context, key store.Key, upd domain.StatusUpdate) (*domain.Transaction, bool, error) {
	if key.IsZero() {
		return nil, false, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = s.now().UTC()
	}

	metadata, err := json.Marshal(domain.CloneMetadata(upd.Metadata))
	if err != nil {
		return nil, false, apperr.StorageFailure(apperr.WithError(fmt.Errorf("CompareAndUpdateStatus: encoding metadata: %w", err)))
	}

	where, args := keyClause(key, 6)
	query := `
		UPDATE transactions
		SET status = $1, amount = $2, failure_reason = $3, metadata = $4, updated_at = $5
		WHERE ` + where + ` AND status <> ALL($` + fmt.Sprint(6+len(args)) + `)
		RETURNING ` + columns

	params := append([]interface{}{string(upd.Status), upd.Amount, upd.FailureReason, metadata, upd.UpdatedAt}, args...)
	params = append(params, pq.Array(terminalStatuses()))

	tx, err := scanOne(s.db.QueryRowContext(ctx, query, params...))
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, classify(fmt.Errorf("CompareAndUpdateStatus: update: %w", err))
	}

	current, err := s.findOne(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// FindStale implements store.TransactionStore.
func (s *Store) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + columns + `
		FROM transactions
		WHERE status <> ALL($1) AND updated_at < $2
		ORDER BY updated_at
	`
	args := []interface{}{pq.Array(terminalStatuses()), cutoff}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("FindStale: query: %w", err))
	}
	defer rows.Close()

	return collect(rows, "FindStale")
}

func (s *Store) findOne(ctx context.Context, key store.Key) (*domain.Transaction, error) {
	if key.IsZero() {
		return nil, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}

	where, args := keyClause(key, 1)
	query := `SELECT ` + columns + ` FROM transactions WHERE ` + where

	tx, err := scanOne(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}
	if err != nil {
		return nil, classify(fmt.Errorf("findOne: %w", err))
	}
	return tx, nil
}

// keyClause renders the predicate for key with placeholders numbered from first.
func keyClause(key store.Key, first int) (string, []interface{}) {
	if key.ID != "" {
		return fmt.Sprintf("id = $%d", first), []interface{}{key.ID}
	}
	return fmt.Sprintf("provider = $%d AND provider_transaction_id = $%d", first, first+1),
		[]interface{}{key.Provider, key.ProviderTransactionID}
}

func terminalStatuses() []string {
	out := make([]string, 0, len(domain.TerminalStatuses))
	for _, st := range domain.TerminalStatuses {
		out = append(out, string(st))
	}
	return out
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOne(row scanner) (*domain.Transaction, error) {
	var (
		tx       domain.Transaction
		status   string
		kind     string
		metadata []byte
	)
	err := row.Scan(
		&tx.ID, &tx.CreatedAt, &tx.UpdatedAt, &status, &tx.FailureReason,
		&tx.ExpectedAmount, &tx.Amount, &tx.From, &tx.To, &kind,
		&tx.FromExternal, &tx.ToExternal, &tx.Provider, &tx.ProviderTransactionID, &metadata,
	)
	if err != nil {
		return nil, err
	}

	tx.Status = domain.Status(status)
	tx.Kind = domain.Kind(kind)
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	tx.Metadata = map[string]interface{}{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &tx, nil
}

func collect(rows *sql.Rows, op string) ([]*domain.Transaction, error) {
	txs := []*domain.Transaction{}
	for rows.Next() {
		tx, err := scanOne(rows)
		if err != nil {
			return nil, classify(fmt.Errorf("%s: scan: %w", op, err))
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("%s: rows: %w", op, err))
	}
	return txs, nil
}

// classify maps unique-violation errors to Uniqueness and everything else to StorageFailure.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperr.Uniqueness(apperr.WithError(err))
	}
	return apperr.StorageFailure(apperr.WithError(err))
}

// Ensure Store implements the store interfaces.
var (
	_ store.TransactionStore = (*Store)(nil)
	_ store.Provisioner      = (*Store)(nil)
)
