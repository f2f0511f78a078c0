package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// numericScale is the fractional precision of a BigQuery NUMERIC.
const numericScale = 9

// TransactionRow mirrors one row of <dataset>.transactions.
// from/to are reserved words in GoogleSQL, hence from_user/to_user.
type TransactionRow struct {
	TransactionID string    `bigquery:"transaction_id"` // REQUIRED
	CreatedTS     time.Time `bigquery:"created_ts"`     // REQUIRED
	UpdatedTS     time.Time `bigquery:"updated_ts"`     // REQUIRED

	Status        string              `bigquery:"status"`         // REQUIRED
	FailureReason bigquery.NullString `bigquery:"failure_reason"` // NULLABLE

	ExpectedAmount *big.Rat `bigquery:"expected_amount"` // REQUIRED NUMERIC
	Amount         *big.Rat `bigquery:"amount"`          // REQUIRED NUMERIC

	FromUser     string `bigquery:"from_user"`
	ToUser       string `bigquery:"to_user"`
	Kind         string `bigquery:"kind"`
	FromExternal bool   `bigquery:"from_external"`
	ToExternal   bool   `bigquery:"to_external"`

	Provider              string `bigquery:"provider"`
	ProviderTransactionID string `bigquery:"provider_transaction_id"`

	Metadata bigquery.NullJSON `bigquery:"metadata"` // NULLABLE JSON
}

// transactionSchema is the table layout Provision creates.
var transactionSchema = bigquery.Schema{
	{Name: "transaction_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "created_ts", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "updated_ts", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "status", Type: bigquery.StringFieldType, Required: true},
	{Name: "failure_reason", Type: bigquery.StringFieldType},
	{Name: "expected_amount", Type: bigquery.NumericFieldType, Required: true},
	{Name: "amount", Type: bigquery.NumericFieldType, Required: true},
	{Name: "from_user", Type: bigquery.StringFieldType},
	{Name: "to_user", Type: bigquery.StringFieldType},
	{Name: "kind", Type: bigquery.StringFieldType, Required: true},
	{Name: "from_external", Type: bigquery.BooleanFieldType},
	{Name: "to_external", Type: bigquery.BooleanFieldType},
	{Name: "provider", Type: bigquery.StringFieldType, Required: true},
	{Name: "provider_transaction_id", Type: bigquery.StringFieldType},
	{Name: "metadata", Type: bigquery.JSONFieldType},
}

// selectColumns lists the columns in TransactionRow order.
const selectColumns = `
			transaction_id,
			created_ts,
			updated_ts,
			status,
			failure_reason,
			expected_amount,
			amount,
			from_user,
			to_user,
			kind,
			from_external,
			to_external,
			provider,
			provider_transaction_id,
			metadata`

func toRational(d decimal.Decimal) *big.Rat {
	return d.Round(numericScale).Rat()
}

func fromRational(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(r.FloatString(numericScale))
}

func encodeMetadata(m map[string]interface{}) (string, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encodeMetadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(j bigquery.NullJSON) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if !j.Valid || j.JSONVal == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(j.JSONVal), &out); err != nil {
		return nil, fmt.Errorf("decodeMetadata: %w", err)
	}
	return out, nil
}

// toDomain converts a row read from BigQuery.
func (r *TransactionRow) toDomain() (*domain.Transaction, error) {
	expected, err := fromRational(r.ExpectedAmount)
	if err != nil {
		return nil, fmt.Errorf("toDomain: expected_amount: %w", err)
	}
	amount, err := fromRational(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("toDomain: amount: %w", err)
	}
	metadata, err := decodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}

	return &domain.Transaction{
		ID:                    r.TransactionID,
		CreatedAt:             r.CreatedTS.UTC(),
		UpdatedAt:             r.UpdatedTS.UTC(),
		Status:                domain.Status(r.Status),
		FailureReason:         r.FailureReason.StringVal,
		ExpectedAmount:        expected,
		Amount:                amount,
		From:                  r.FromUser,
		To:                    r.ToUser,
		Kind:                  domain.Kind(r.Kind),
		FromExternal:          r.FromExternal,
		ToExternal:            r.ToExternal,
		Provider:              r.Provider,
		ProviderTransactionID: r.ProviderTransactionID,
		Metadata:              metadata,
	}, nil
}

// insertParameters binds every column of tx for the insert statement.
func insertParameters(tx *domain.Transaction) ([]bigquery.QueryParameter, error) {
	metadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return nil, err
	}

	return []bigquery.QueryParameter{
		{Name: "transaction_id", Value: tx.ID},
		{Name: "created_ts", Value: tx.CreatedAt},
		{Name: "updated_ts", Value: tx.UpdatedAt},
		{Name: "status", Value: string(tx.Status)},
		{Name: "failure_reason", Value: tx.FailureReason},
		{Name: "expected_amount", Value: toRational(tx.ExpectedAmount)},
		{Name: "amount", Value: toRational(tx.Amount)},
		{Name: "from_user", Value: tx.From},
		{Name: "to_user", Value: tx.To},
		{Name: "kind", Value: string(tx.Kind)},
		{Name: "from_external", Value: tx.FromExternal},
		{Name: "to_external", Value: tx.ToExternal},
		{Name: "provider", Value: tx.Provider},
		{Name: "provider_transaction_id", Value: tx.ProviderTransactionID},
		{Name: "metadata", Value: metadata},
	}, nil
}
