package users

import (
	"context"
	"sync"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
)

// MemoryDirectory is an in-memory Directory, seeded from configuration in development.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewMemoryDirectory creates a directory holding seed.
func NewMemoryDirectory(seed ...domain.User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]domain.User, len(seed))}
	for _, u := range seed {
		d.Put(u)
	}
	return d
}

// Put adds or replaces a user.
func (d *MemoryDirectory) Put(u domain.User) {
	roles := append([]string(nil), u.Roles...)
	u.Roles = roles

	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// GetUser implements Directory.
func (d *MemoryDirectory) GetUser(ctx context.Context, id string) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return domain.User{}, apperr.NotFound(apperr.WithMessage("user not found"))
	}
	u.Roles = append([]string(nil), u.Roles...)
	return u, nil
}

var _ Directory = (*MemoryDirectory)(nil)
