// Package users resolves platform participants for the ledger. Account management and
// authentication live elsewhere; this package only reads.
package users

import (
	"context"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

// Directory looks up users by id. Misses fail with apperr.KindNotFound.
type Directory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}
