// Package mongo stores ledger transactions in a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the collection transactions are written to.
const CollectionName = "transactions"

// Store is the MongoDB implementation of store.TransactionStore.
type Store struct {
	collection *mongo.Collection
	now        func() time.Time
}

// Connect dials uri and verifies the deployment is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("Connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("Connect: ping: %w", err)
	}
	return client, nil
}

// New creates a Store over db.transactions.
func New(db *mongo.Database) *Store {
	return &Store{collection: db.Collection(CollectionName), now: time.Now}
}

// Provision creates the provider id uniqueness index and the participant indexes.
// The unique index is partial so records without a provider id never collide.
func (s *Store) Provision(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "providerTransactionId", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().
				SetName("provider_tx_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"providerTransactionId": bson.M{"$gt": ""}}),
		},
		{Keys: bson.D{{Key: "from", Value: 1}}, Options: options.Index().SetName("from")},
		{Keys: bson.D{{Key: "to", Value: 1}}, Options: options.Index().SetName("to")},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}, Options: options.Index().SetName("status_updated")},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("Provision: creating indexes: %w", err)
	}
	return nil
}

// Insert implements store.TransactionStore.
func (s *Store) Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	row := store.PrepareForInsert(tx, s.now().UTC())

	doc, err := toDocument(row)
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("Insert: %w", err)))
	}

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperr.Uniqueness(apperr.WithError(fmt.Errorf("Insert: %w", err)))
		}
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("Insert: %w", err)))
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

	filter := bson.M{"$or": bson.A{bson.M{"from": participantID}, bson.M{"to": participantID}}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return s.find(ctx, "FindByParticipant", filter, opts)
}

// CompareAndUpdateStatus implements store.TransactionStore with a single
// FindOneAndUpdate guarded by a status filter.
func (s *Store) CompareAndUpdateStatus(ctx context.Context, key store.Key, upd domain.StatusUpdate) (*domain.Transaction, bool, error) {
	if key.IsZero() {
		return nil, false, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = s.now().UTC()
	}

	amount, err := toDecimal128(upd.Amount)
	if err != nil {
		return nil, false, apperr.StorageFailure(apperr.WithError(fmt.Errorf("CompareAndUpdateStatus: %w", err)))
	}

	filter := keyFilter(key)
	filter["status"] = bson.M{"$nin": terminalStatuses()}

	update := bson.M{"$set": bson.M{
		"status":        string(upd.Status),
		"amount":        amount,
		"failureReason": upd.FailureReason,
		"metadata":      domain.CloneMetadata(upd.Metadata),
		"updatedAt":     upd.UpdatedAt,
	}}

	var doc document
	err = s.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	switch {
	case err == nil:
		tx, err := doc.toDomain()
		if err != nil {
			return nil, false, apperr.StorageFailure(apperr.WithError(fmt.Errorf("CompareAndUpdateStatus: %w", err)))
		}
		return tx, true, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		// Either the record is terminal or it does not exist.
		current, err := s.findOne(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	default:
		return nil, false, apperr.StorageFailure(apperr.WithError(fmt.Errorf("CompareAndUpdateStatus: %w", err)))
	}
}

// FindStale implements store.TransactionStore.
func (s *Store) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error) {
	filter := bson.M{
		"status":    bson.M{"$nin": terminalStatuses()},
		"updatedAt": bson.M{"$lt": cutoff},
	}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, "FindStale", filter, opts)
}

func (s *Store) findOne(ctx context.Context, key store.Key) (*domain.Transaction, error) {
	if key.IsZero() {
		return nil, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}

	var doc document
	err := s.collection.FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("findOne: %w", err)))
	}

	tx, err := doc.toDomain()
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("findOne: %w", err)))
	}
	return tx, nil
}

func (s *Store) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*domain.Transaction, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("%s: find: %w", op, err)))
	}
	defer cursor.Close(ctx)

	txs := []*domain.Transaction{}
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("%s: decode: %w", op, err)))
		}
		tx, err := doc.toDomain()
		if err != nil {
			return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("%s: %w", op, err)))
		}
		txs = append(txs, tx)
	}
	if err := cursor.Err(); err != nil {
		return nil, apperr.StorageFailure(apperr.WithError(fmt.Errorf("%s: cursor: %w", op, err)))
	}
	return txs, nil
}

func keyFilter(key store.Key) bson.M {
	if key.ID != "" {
		return bson.M{"_id": key.ID}
	}
	return bson.M{"provider": key.Provider, "providerTransactionId": key.ProviderTransactionID}
}

func terminalStatuses() bson.A {
	out := bson.A{}
	for _, st := range domain.TerminalStatuses {
		out = append(out, string(st))
	}
	return out
}

// Ensure Store implements the store interfaces.
var (
	_ store.TransactionStore = (*Store)(nil)
	_ store.Provisioner      = (*Store)(nil)
)
