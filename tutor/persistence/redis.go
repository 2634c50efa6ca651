package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/tutorflow/internal/cache"
	"go.uber.org/zap"
)

// RedisStore keeps snapshots as JSON strings with a sorted-set index
// scored by update time. It shares the connection of a cache.Manager and
// does not close it.
type RedisStore struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed store on top of an open cache manager.
func NewRedisStore(m *cache.Manager, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	if m == nil {
		return nil, fmt.Errorf("redis store requires a cache manager")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		cache:  m,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "snapshot_store"), zap.String("backend", "redis")),
	}, nil
}

func (s *RedisStore) snapshotKey(sessionID string) string {
	return s.cache.Key("session", sessionID)
}

func (s *RedisStore) indexKey() string {
	return s.cache.Key("sessions")
}

// Save writes the snapshot and bumps it in the index.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	stored := *snap
	stored.UpdatedAt = time.Now()
	if err := s.cache.SetJSON(ctx, s.snapshotKey(snap.SessionID), &stored, s.ttl); err != nil {
		return s.wrap(err)
	}
	if err := s.cache.IndexAdd(ctx, s.indexKey(), snap.SessionID, float64(stored.UpdatedAt.UnixNano())); err != nil {
		return s.wrap(err)
	}
	return nil
}

// Load reads a snapshot.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	var snap Snapshot
	if err := s.cache.GetJSON(ctx, s.snapshotKey(sessionID), &snap); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, ErrNotFound
		}
		return nil, s.wrap(err)
	}
	return &snap, nil
}

// Delete removes the snapshot and its index entry.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	key := s.snapshotKey(sessionID)
	n, err := s.cache.Exists(ctx, key)
	if err != nil {
		return s.wrap(err)
	}
	if err := s.cache.IndexRemove(ctx, s.indexKey(), sessionID); err != nil {
		return s.wrap(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return s.wrap(err)
	}
	return nil
}

// List returns indexed sessions whose snapshot still exists. Index entries
// left behind by expired snapshots are pruned.
func (s *RedisStore) List(ctx context.Context, limit int) ([]string, error) {
	members, err := s.cache.IndexRecent(ctx, s.indexKey(), 0)
	if err != nil {
		return nil, s.wrap(err)
	}

	ids := make([]string, 0, len(members))
	var stale []string
	for _, id := range members {
		n, err := s.cache.Exists(ctx, s.snapshotKey(id))
		if err != nil {
			return nil, s.wrap(err)
		}
		if n == 0 {
			stale = append(stale, id)
			continue
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	if len(stale) > 0 {
		if err := s.cache.IndexRemove(ctx, s.indexKey(), stale...); err != nil {
			s.logger.Warn("failed to prune session index", zap.Int("stale", len(stale)), zap.Error(err))
		}
	}
	return ids, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.wrap(s.cache.Ping(ctx))
}

// Close is a no-op; the cache manager is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, cache.ErrClosed) {
		return ErrStoreClosed
	}
	return fmt.Errorf("redis snapshot store: %w", err)
}
