package domain

import (
	"context"
	"time"
)

// APIKey is a machine credential tied to one user. API-key requests are
// never subject to impersonation.
type APIKey struct {
	ID         int
	UserID     int
	Key        string
	Name       string
	Active     bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Expired reports whether the key is past its expiry. Keys without an
// expiry never expire.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// APIKeyRepository defines the data-access contract for API keys.
type APIKeyRepository interface {
	// GetByKey returns the key record matching the exact credential string.
	// Returns (nil, nil) when no key is found.
	GetByKey(ctx context.Context, key string) (*APIKey, error)

	// TouchLastUsed sets last_used_at to now for the given key.
	TouchLastUsed(ctx context.Context, id int) error
}
