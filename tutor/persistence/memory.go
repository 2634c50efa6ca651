package persistence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store and AttemptLog. Data is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	attempts  map[string][]Attempt
	closed    bool
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*Snapshot),
		attempts:  make(map[string][]Attempt),
	}
}

// Save stores a copy of snap.
func (s *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	stored := cloneSnapshot(snap)
	stored.UpdatedAt = time.Now()
	s.snapshots[snap.SessionID] = stored
	return nil
}

// Load returns a copy of the stored snapshot.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

// Delete removes a snapshot.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.snapshots[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.snapshots, sessionID)
	return nil
}

// List returns session ids by UpdatedAt, newest first.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	snaps := make([]*Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].UpdatedAt.Equal(snaps[j].UpdatedAt) {
			return snaps[i].SessionID < snaps[j].SessionID
		}
		return snaps[i].UpdatedAt.After(snaps[j].UpdatedAt)
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	ids := make([]string, len(snaps))
	for i, snap := range snaps {
		ids[i] = snap.SessionID
	}
	return ids, nil
}

// RecordAttempt appends a graded answer.
func (s *MemoryStore) RecordAttempt(ctx context.Context, attempt *Attempt) error {
	if attempt == nil || attempt.SessionID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	a := *attempt
	a.Topics = append([]string(nil), attempt.Topics...)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.attempts[a.SessionID] = append(s.attempts[a.SessionID], a)
	return nil
}

// Attempts returns the graded answers of a session in recording order.
func (s *MemoryStore) Attempts(ctx context.Context, sessionID string) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return append([]Attempt(nil), s.attempts[sessionID]...), nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
