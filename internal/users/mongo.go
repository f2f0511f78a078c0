package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the collection the account service writes users to.
const CollectionName = "users"

// safeProjection keeps password hashes and tokens out of the process.
var safeProjection = bson.D{{Key: "_id", Value: 1}, {Key: "phone", Value: 1}, {Key: "roles", Value: 1}}

// MongoDirectory reads users from the account service's MongoDB collection.
type MongoDirectory struct {
	collection *mongo.Collection
}

// NewMongoDirectory creates a directory over db.users.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{collection: db.Collection(CollectionName)}
}

// GetUser implements Directory.
func (d *MongoDirectory) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := d.collection.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(safeProjection)).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, apperr.NotFound(apperr.WithMessage("user not found"))
	}
	if err != nil {
		return domain.User{}, apperr.StorageFailure(apperr.WithError(fmt.Errorf("GetUser: finding user %s: %w", id, err)))
	}
	return u, nil
}

var _ Directory = (*MongoDirectory)(nil)
