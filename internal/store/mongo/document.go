package mongo

import (
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// document is the stored shape of a transaction. Field names match the
// transactions collection schema and the indexes created by Provision.
type document struct {
	ID                    string                 `bson:"_id"`
	CreatedAt             time.Time              `bson:"createdAt"`
	UpdatedAt             time.Time              `bson:"updatedAt"`
	Status                string                 `bson:"status"`
	FailureReason         string                 `bson:"failureReason,omitempty"`
	ExpectedAmount        primitive.Decimal128   `bson:"expectedAmount"`
	Amount                primitive.Decimal128   `bson:"amount"`
	From                  string                 `bson:"from,omitempty"`
	To                    string                 `bson:"to,omitempty"`
	Kind                  string                 `bson:"type"`
	FromExternal          bool                   `bson:"fromExternal"`
	ToExternal            bool                   `bson:"toExternal"`
	Provider              string                 `bson:"provider"`
	ProviderTransactionID string                 `bson:"providerTransactionId,omitempty"`
	Metadata              map[string]interface{} `bson:"metadata"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("converting %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("converting decimal128 %s: %w", v, err)
	}
	return d, nil
}

func toDocument(tx *domain.Transaction) (*document, error) {
	expected, err := toDecimal128(tx.ExpectedAmount)
	if err != nil {
		return nil, err
	}
	amount, err := toDecimal128(tx.Amount)
	if err != nil {
		return nil, err
	}

	return &document{
		ID:                    tx.ID,
		CreatedAt:             tx.CreatedAt,
		UpdatedAt:             tx.UpdatedAt,
		Status:                string(tx.Status),
		FailureReason:         tx.FailureReason,
		ExpectedAmount:        expected,
		Amount:                amount,
		From:                  tx.From,
		To:                    tx.To,
		Kind:                  string(tx.Kind),
		FromExternal:          tx.FromExternal,
		ToExternal:            tx.ToExternal,
		Provider:              tx.Provider,
		ProviderTransactionID: tx.ProviderTransactionID,
		Metadata:              domain.CloneMetadata(tx.Metadata),
	}, nil
}

func (d *document) toDomain() (*domain.Transaction, error) {
	expected, err := fromDecimal128(d.ExpectedAmount)
	if err != nil {
		return nil, err
	}
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return nil, err
	}

	return &domain.Transaction{
		ID:                    d.ID,
		CreatedAt:             d.CreatedAt.UTC(),
		UpdatedAt:             d.UpdatedAt.UTC(),
		Status:                domain.Status(d.Status),
		FailureReason:         d.FailureReason,
		ExpectedAmount:        expected,
		Amount:                amount,
		From:                  d.From,
		To:                    d.To,
		Kind:                  domain.Kind(d.Kind),
		FromExternal:          d.FromExternal,
		ToExternal:            d.ToExternal,
		Provider:              d.Provider,
		ProviderTransactionID: d.ProviderTransactionID,
		Metadata:              domain.CloneMetadata(d.Metadata),
	}, nil
}
