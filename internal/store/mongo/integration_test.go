package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/store/storetest"
	"github.com/google/uuid"
)

// Set DONATIONS_TEST_MONGO_URI to run against a real server, e.g. mongodb://localhost:27017.
// Each run uses a throwaway database.
func TestStoreAgainstMongo(t *testing.T) {
	uri := os.Getenv("DONATIONS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DONATIONS_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := Connect(ctx, uri)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect(context.Background())

	db := client.Database("donations_test_" + uuid.NewString()[:8])
	defer db.Drop(context.Background())

	s := New(db)
	if err := s.Provision(ctx); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	storetest.Run(t, s)
}
