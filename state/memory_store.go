package state

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/bidwise/rfpcore/core"
)

// sweepInterval is how often the background sweeper reclaims expired
// entries. Expired entries are invisible to readers before reclamation.
const sweepInterval = time.Minute

// MemoryStore is the in-memory Store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	logger  core.Logger
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a store and starts its expiry sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*Entry),
		logger:  &core.NoOpLogger{},
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// SetLogger configures the logger for this store.
func (s *MemoryStore) SetLogger(logger core.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Set writes a value, bumping the version counter on overwrite.
func (s *MemoryStore) Set(ctx context.Context, key string, value interface{}, category Category, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, exists := s.entries[key]
	if exists && !entry.expired(now) {
		entry.Value = value
		entry.Category = category
		entry.UpdatedAt = now
		entry.Version++
		if ttl > 0 {
			entry.ExpiresAt = now.Add(ttl)
		} else {
			entry.ExpiresAt = time.Time{}
		}
		return nil
	}

	entry = &Entry{
		Key:       key,
		Value:     value,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// Get returns the value at key. Expired entries are discarded in place.
func (s *MemoryStore) Get(ctx context.Context, key string) (interface{}, bool) {
	entry, ok := s.GetEntry(ctx, key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// GetEntry returns a copy of the full entry at key.
func (s *MemoryStore) GetEntry(ctx context.Context, key string) (*Entry, bool) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	if !exists {
		s.mu.RUnlock()
		return nil, false
	}
	if entry.expired(time.Now()) {
		s.mu.RUnlock()
		// A read observing an expired entry reclaims it in place.
		s.mu.Lock()
		if current, still := s.entries[key]; still && current.expired(time.Now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	out := *entry
	s.mu.RUnlock()
	return &out, true
}

// Delete removes the entry at key, reporting whether one existed.
func (s *MemoryStore) Delete(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, existed := s.entries[key]
	delete(s.entries, key)
	return existed && !entry.expired(time.Now())
}

// Exists reports whether a live entry is present at key.
func (s *MemoryStore) Exists(ctx context.Context, key string) bool {
	_, ok := s.GetEntry(ctx, key)
	return ok
}

// GetAll returns all live values whose keys match the glob pattern.
func (s *MemoryStore) GetAll(ctx context.Context, pattern string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make(map[string]interface{})
	for key, entry := range s.entries {
		if entry.expired(now) {
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			s.logger.Warn("Invalid glob pattern", map[string]interface{}{
				"operation": "state_get_all",
				"pattern":   pattern,
				"error":     err.Error(),
			})
			return out
		}
		if matched {
			out[key] = entry.Value
		}
	}
	return out
}

// Increment atomically adds delta to the integer at key.
func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, exists := s.entries[key]
	if !exists || entry.expired(now) {
		entry = &Entry{
			Key:       key,
			Value:     int64(0),
			Category:  CategoryCache,
			CreatedAt: now,
			Version:   0,
		}
		s.entries[key] = entry
	}

	current, ok := entry.Value.(int64)
	if !ok {
		return 0, fmt.Errorf("state.Increment [%s]: value is not an integer", key)
	}
	current += delta
	entry.Value = current
	entry.UpdatedAt = now
	entry.Version++
	return current, nil
}

// sweep periodically reclaims expired entries.
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.reclaim()
		}
	}
}

func (s *MemoryStore) reclaim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	reclaimed := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			reclaimed++
		}
	}
	if reclaimed > 0 {
		s.logger.Debug("Reclaimed expired state entries", map[string]interface{}{
			"operation": "state_sweep",
			"reclaimed": reclaimed,
		})
	}
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
