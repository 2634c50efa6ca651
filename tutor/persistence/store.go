// Package persistence stores tutor session snapshots so that a session can
// be rebuilt after a restart or on another node.
//
// Supported backends:
// - Memory: development and tests (default)
// - Redis: shared storage through internal/cache
// - SQL: gorm-backed tables, with an append-only quiz attempt log
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/BaSui01/tutorflow/tracker"
)

// Common errors
var (
	ErrNotFound     = errors.New("snapshot not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// Snapshot is the persisted form of a tutor session.
type Snapshot struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Topic     string `json:"topic,omitempty"`

	// PendingQuiz holds the question awaiting an answer, encoded by the
	// tutor package. Empty when nothing is pending.
	PendingQuiz json.RawMessage `json:"pending_quiz,omitempty"`

	Tracker   tracker.State `json:"tracker"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Attempt is one graded quiz answer.
type Attempt struct {
	SessionID     string    `json:"session_id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	CorrectAnswer string    `json:"correct_answer"`
	Correct       bool      `json:"correct"`
	Topics        []string  `json:"topics"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists session snapshots.
type Store interface {
	// Save inserts or replaces the snapshot of snap.SessionID. The stored
	// copy is stamped with the save time; snap itself is left untouched.
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns ErrNotFound when no snapshot exists.
	Load(ctx context.Context, sessionID string) (*Snapshot, error)

	// Delete returns ErrNotFound when no snapshot exists.
	Delete(ctx context.Context, sessionID string) error

	// List returns session ids, most recently updated first. limit <= 0
	// returns all of them.
	List(ctx context.Context, limit int) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// AttemptLog is implemented by stores that keep a history of graded
// answers. Attempts are never updated or removed.
type AttemptLog interface {
	RecordAttempt(ctx context.Context, attempt *Attempt) error
	Attempts(ctx context.Context, sessionID string) ([]Attempt, error)
}

// StoreConfig selects and tunes a backend.
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// TTL is how long a Redis snapshot survives without updates.
	// Zero keeps the cache default.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// AutoMigrate creates the SQL tables with gorm instead of relying on
	// the migrate command.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeMemory,
		TTL:  24 * time.Hour,
	}
}

func validate(snap *Snapshot) error {
	if snap == nil || snap.SessionID == "" {
		return ErrInvalidInput
	}
	return nil
}

func cloneSnapshot(snap *Snapshot) *Snapshot {
	out := *snap
	if snap.PendingQuiz != nil {
		out.PendingQuiz = append(json.RawMessage(nil), snap.PendingQuiz...)
	}
	out.Tracker.Questions = append([]tracker.Question(nil), snap.Tracker.Questions...)
	out.Tracker.Answers = append([]tracker.Answer(nil), snap.Tracker.Answers...)
	return &out
}
