package auth

import (
	"context"
	"fmt"
)

// AdminStore creates or promotes the bootstrap account.
type AdminStore interface {
	EnsureAdmin(ctx context.Context, username, hashedPassword string) (bool, error)
}

// BootstrapAdmin makes sure username exists as an active admin. The
// password only applies when the account is created. It reports whether
// the account was created.
func BootstrapAdmin(ctx context.Context, store AdminStore, hasher *PasswordHasher, username, password string) (bool, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return false, fmt.Errorf("admin username: %w", err)
	}
	hashed, err := hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("admin password: %w", err)
	}
	return store.EnsureAdmin(ctx, name, hashed)
}
