package users

import (
	"context"
	"testing"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
)

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory(domain.User{ID: "u1", Phone: "+254700000001", Roles: []string{"donor"}})
	ctx := context.Background()

	u, err := d.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Phone != "+254700000001" || !u.HasRole("donor") {
		t.Errorf("Unexpected user: %+v", u)
	}

	u.Roles[0] = "admin"
	again, _ := d.GetUser(ctx, "u1")
	if again.HasRole("admin") {
		t.Error("Expected returned roles to be a copy")
	}

	if _, err := d.GetUser(ctx, "ghost"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}
