// Package bigquery stores ledger transactions in a BigQuery table. Uniqueness and the
// terminal-status guard are expressed as single DML statements, so they hold across
// concurrent writers without client-side locking.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/store"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const transactionsTable = "transactions"

// Store is the BigQuery implementation of store.TransactionStore. It holds a shared
// BigQuery client to avoid creating a new connection for each operation.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

// New creates a Store with its own client.
func New(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: creating client: %w", err)
	}
	return NewWithClient(client, projectID, datasetID), nil
}

// NewWithClient creates a Store over an existing client.
func NewWithClient(client *bigquery.Client, projectID, datasetID string) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID, now: time.Now}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table() string {
	return tableRef(s.projectID, s.datasetID, transactionsTable)
}

func tableRef(project, dataset, table string) string {
	return "`" + project + "." + dataset + "." + table + "`"
}

// Provision creates the dataset and the transactions table when they are missing.
func (s *Store) Provision(ctx context.Context) error {
	ds := s.client.DatasetInProject(s.projectID, s.datasetID)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isHTTPStatus(err, http.StatusNotFound) {
			return fmt.Errorf("Provision: reading dataset %s: %w", s.datasetID, err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isHTTPStatus(err, http.StatusConflict) {
			return fmt.Errorf("Provision: creating dataset %s: %w", s.datasetID, err)
		}
	}

	meta := &bigquery.TableMetadata{
		Schema: transactionSchema,
		Clustering: &bigquery.Clustering{
			Fields: []string{"provider", "provider_transaction_id"},
		},
	}
	if err := ds.Table(transactionsTable).Create(ctx, meta); err != nil && !isHTTPStatus(err, http.StatusConflict) {
		return fmt.Errorf("Provision: creating table %s: %w", transactionsTable, err)
	}
	return nil
}

func isHTTPStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

// Insert implements store.TransactionStore. The MERGE only inserts when neither the id nor
// a non-empty (provider, provider_transaction_id) pair is already present.
func (s *Store) Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	row := store.PrepareForInsert(tx, s.now().UTC())

	params, err := insertParameters(row)
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("Insert: %w", err)))
	}

	q := s.client.Query(insertStatement(s.table()))
	q.Parameters = params

	affected, err := runDML(ctx, q)
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("Insert: %w", err)))
	}
	if affected == 0 {
		return nil, apperr.Uniqueness(apperr.WithMessagef(
			"provider transaction %s/%s already recorded", row.Provider, row.ProviderTransactionID))
	}

	return row, nil
}

// insertStatement is the MERGE behind Insert. The never-true UPDATE clause makes BigQuery
// schedule it as mutating DML, so two inserts racing on the same table are serialized or
// one fails with a concurrent update error instead of both committing.
func insertStatement(table string) string {
	return fmt.Sprintf(`
		MERGE %s T
		USING (
			SELECT
				@transaction_id AS transaction_id,
				@provider AS provider,
				@provider_transaction_id AS provider_transaction_id
		) S
		ON T.transaction_id = S.transaction_id
		   OR (S.provider_transaction_id != ''
		       AND T.provider = S.provider
		       AND T.provider_transaction_id = S.provider_transaction_id)
		WHEN MATCHED AND FALSE THEN
		  UPDATE SET updated_ts = T.updated_ts
		WHEN NOT MATCHED THEN
		  INSERT (` + selectColumns + `)
		  VALUES (
			@transaction_id,
			@created_ts,
			@updated_ts,
			@status,
			@failure_reason,
			@expected_amount,
			@amount,
			@from_user,
			@to_user,
			@kind,
			@from_external,
			@to_external,
			@provider,
			@provider_transaction_id,
			PARSE_JSON(@metadata)
		  )
	`, table)
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

	q := s.client.Query(fmt.Sprintf(`
		SELECT`+selectColumns+`
		FROM %s
		WHERE from_user = @participant OR to_user = @participant
		ORDER BY created_ts DESC
	`, s.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "participant", Value: participantID},
	}

	txs, err := readRows(ctx, q)
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("FindByParticipant: %w", err)))
	}
	return txs, nil
}

// CompareAndUpdateStatus implements store.TransactionStore. The UPDATE carries the
// non-terminal guard; the affected row count decides whether the update applied.
func (s *Store) CompareAndUpdateStatus(ctx context.Context, key store.Key, upd domain.StatusUpdate) (*domain.Transaction, bool, error) {
	if key.IsZero() {
		return nil, false, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = s.now().UTC()
	}

	metadata, err := encodeMetadata(upd.Metadata)
	if err != nil {
		return nil, false, apperr.StorageFailure(apperr.WithError(fmt.Errorf("CompareAndUpdateStatus: %w", err)))
	}

	where, keyParams := keyClause(key)
	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    amount = @amount,
		    failure_reason = @failure_reason,
		    metadata = PARSE_JSON(@metadata),
		    updated_ts = @updated_ts
		WHERE %s
		  AND status NOT IN UNNEST(@terminal_statuses)
	`, s.table(), where))
	q.Parameters = append(keyParams,
		bigquery.QueryParameter{Name: "status", Value: string(upd.Status)},
		bigquery.QueryParameter{Name: "amount", Value: toRational(upd.Amount)},
		bigquery.QueryParameter{Name: "failure_reason", Value: upd.FailureReason},
		bigquery.QueryParameter{Name: "metadata", Value: metadata},
		bigquery.QueryParameter{Name: "updated_ts", Value: upd.UpdatedAt},
		bigquery.QueryParameter{Name: "terminal_statuses", Value: terminalStatuses()},
	)

	affected, err := runDML(ctx, q)
	if err != nil {
		return nil, false, apperr.StorageFailure(apperr.WithError(fmt.Errorf("CompareAndUpdateStatus: %w", err)))
	}

	tx, err := s.findOne(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return tx, affected > 0, nil
}

// FindStale implements store.TransactionStore.
func (s *Store) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT`+selectColumns+`
		FROM %s
		WHERE status NOT IN UNNEST(@terminal_statuses)
		  AND updated_ts < @cutoff
		ORDER BY updated_ts
	`, s.table())
	if limit > 0 {
		query += fmt.Sprintf("LIMIT %d\n", limit)
	}

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "terminal_statuses", Value: terminalStatuses()},
		{Name: "cutoff", Value: cutoff},
	}

	txs, err := readRows(ctx, q)
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("FindStale: %w", err)))
	}
	return txs, nil
}

func (s *Store) findOne(ctx context.Context, key store.Key) (*domain.Transaction, error) {
	if key.IsZero() {
		return nil, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}

	where, params := keyClause(key)
	q := s.client.Query(fmt.Sprintf(`
		SELECT`+selectColumns+`
		FROM %s
		WHERE %s
		LIMIT 1
	`, s.table(), where))
	q.Parameters = params

	txs, err := readRows(ctx, q)
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("findOne: %w", err)))
	}
	if len(txs) == 0 {
		return nil, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}
	return txs[0], nil
}

// keyClause renders the WHERE predicate selecting key. ID wins when set.
func keyClause(key store.Key) (string, []bigquery.QueryParameter) {
	if key.ID != "" {
		return "transaction_id = @key_id", []bigquery.QueryParameter{
			{Name: "key_id", Value: key.ID},
		}
	}
	return "provider = @key_provider AND provider_transaction_id = @key_provider_transaction_id", []bigquery.QueryParameter{
		{Name: "key_provider", Value: key.Provider},
		{Name: "key_provider_transaction_id", Value: key.ProviderTransactionID},
	}
}

func terminalStatuses() []string {
	out := make([]string, 0, len(domain.TerminalStatuses))
	for _, st := range domain.TerminalStatuses {
		out = append(out, string(st))
	}
	return out
}

// runDML runs a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	return affectedRows(status)
}

// affectedRows reads the DML row count. Missing statistics are an error; a zero would read
// as "no row matched".
func affectedRows(status *bigquery.JobStatus) (int64, error) {
	if status == nil || status.Statistics == nil {
		return 0, fmt.Errorf("job returned no statistics")
	}
	stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok {
		return 0, fmt.Errorf("job statistics are %T, not query statistics", status.Statistics.Details)
	}
	return stats.NumDMLAffectedRows, nil
}

func readRows(ctx context.Context, q *bigquery.Query) ([]*domain.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	txs := []*domain.Transaction{}
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}

		tx, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Ensure Store implements the store interfaces.
var (
	_ store.TransactionStore = (*Store)(nil)
	_ store.Provisioner      = (*Store)(nil)
)

