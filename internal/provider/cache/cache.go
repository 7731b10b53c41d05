package cache

import (
    "fmt"
    "sync"

    "fxprovider/internal/provider"
)

// entry stores the last snapshot of a single provider with its bucket timestamp.
type entry struct {
    snapshot   provider.Snapshot
    normalized int64
}

// Store keeps one snapshot per provider name. Writers replace the whole entry
// and readers always get a deep copy, so a cached snapshot is never shared.
type Store struct {
    mu    sync.RWMutex
    items map[string]entry // key: provider name
}

func New() *Store { return &Store{items: make(map[string]entry)} }

// Set replaces the entry for name.
func (s *Store) Set(name string, snap provider.Snapshot, normalizedTs int64) error {
    if name == "" {
        return fmt.Errorf("%w: provider name is empty", provider.ErrInvalidArgument)
    }
    if snap == nil {
        return fmt.Errorf("%w: %s: snapshot is nil", provider.ErrInvalidArgument, name)
    }
    if normalizedTs < 0 {
        return fmt.Errorf("%w: %s: negative timestamp %d", provider.ErrInvalidArgument, name, normalizedTs)
    }
    // own copy; the caller may keep mutating its map
    e := entry{snapshot: snap.Clone(0), normalized: normalizedTs}

    s.mu.Lock()
    if s.items == nil { s.items = make(map[string]entry) }
    s.items[name] = e
    s.mu.Unlock()
    return nil
}

// TryGet returns a copy of the cached snapshot for name with every timestamp
// set to ts, or false when nothing is cached.
func (s *Store) TryGet(name string, ts int64) (provider.Snapshot, bool) {
    s.mu.RLock()
    e, ok := s.items[name]
    s.mu.RUnlock()
    if !ok { return nil, false }
    return e.snapshot.Clone(ts), true
}

// Timestamp returns the normalized timestamp of the cached entry.
func (s *Store) Timestamp(name string) (int64, bool) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    e, ok := s.items[name]
    return e.normalized, ok
}

// Len returns the number of assets cached for name.
func (s *Store) Len(name string) int {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return len(s.items[name].snapshot)
}

func (s *Store) Clear(name string) {
    s.mu.Lock()
    delete(s.items, name)
    s.mu.Unlock()
}
