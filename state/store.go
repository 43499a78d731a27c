// Package state provides keyed, typed, TTL-bearing state with versioning.
// Reads never observe expired entries; a background sweeper reclaims them.
package state

import (
	"context"
	"time"
)

// Category tags a state entry by its owner.
type Category string

const (
	CategoryWorkflow Category = "workflow"
	CategoryAgent    Category = "agent"
	CategorySession  Category = "session"
	CategoryCache    Category = "cache"
)

// Entry is one keyed state record. Version increases on every write.
type Entry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	Category  Category    `json:"category"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ExpiresAt time.Time   `json:"expires_at,omitempty"`
	Version   int64       `json:"version"`
}

// expired reports whether the entry has passed its expiry. A zero
// ExpiresAt means the entry never expires.
func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store is the state contract shared by the in-memory and Redis
// implementations. A zero ttl means the entry never expires.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, category Category, ttl time.Duration) error
	Get(ctx context.Context, key string) (interface{}, bool)
	GetEntry(ctx context.Context, key string) (*Entry, bool)
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	GetAll(ctx context.Context, pattern string) map[string]interface{}
	// Increment atomically adds delta to the integer at key, creating it
	// with zero when absent, and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Close() error
}
