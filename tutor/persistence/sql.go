package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// snapshotRecord maps to the session_snapshots table.
type snapshotRecord struct {
	SessionID   string    `gorm:"column:session_id;primaryKey;size:64"`
	State       string    `gorm:"column:state;size:16;not null"`
	Topic       string    `gorm:"column:topic;size:255"`
	PendingQuiz string    `gorm:"column:pending_quiz;type:text"`
	Tracker     string    `gorm:"column:tracker;type:text;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;index"`
}

func (snapshotRecord) TableName() string { return "session_snapshots" }

// attemptRecord maps to the append-only quiz_attempts table.
type attemptRecord struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID     string    `gorm:"column:session_id;size:64;not null;index"`
	Question      string    `gorm:"column:question;type:text"`
	Answer        string    `gorm:"column:answer;size:64"`
	CorrectAnswer string    `gorm:"column:correct_answer;size:64"`
	Correct       bool      `gorm:"column:correct"`
	Topics        string    `gorm:"column:topics;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (attemptRecord) TableName() string { return "quiz_attempts" }

// SQLStore persists snapshots and quiz attempts through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLStore creates a SQL-backed store. When autoMigrate is set the
// tables are created with gorm; otherwise the schema is expected to be in
// place (see the migrate command).
func NewSQLStore(db *gorm.DB, autoMigrate bool, logger *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sql store requires a database")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := db.AutoMigrate(&snapshotRecord{}, &attemptRecord{}); err != nil {
			return nil, fmt.Errorf("auto migrate snapshot tables: %w", err)
		}
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "snapshot_store"), zap.String("backend", "sql")),
	}, nil
}

// Save upserts the snapshot row.
func (s *SQLStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	trackerJSON, err := json.Marshal(snap.Tracker)
	if err != nil {
		return fmt.Errorf("failed to marshal tracker: %w", err)
	}
	rec := snapshotRecord{
		SessionID:   snap.SessionID,
		State:       snap.State,
		Topic:       snap.Topic,
		PendingQuiz: string(snap.PendingQuiz),
		Tracker:     string(trackerJSON),
		UpdatedAt:   time.Now(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "topic", "pending_quiz", "tracker", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load reads one snapshot row.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	var rec snapshotRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snap := &Snapshot{
		SessionID: rec.SessionID,
		State:     rec.State,
		Topic:     rec.Topic,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.PendingQuiz != "" {
		snap.PendingQuiz = json.RawMessage(rec.PendingQuiz)
	}
	if err := json.Unmarshal([]byte(rec.Tracker), &snap.Tracker); err != nil {
		return nil, fmt.Errorf("decode tracker of %s: %w", sessionID, err)
	}
	return snap, nil
}

// Delete removes the snapshot row. Recorded attempts are kept.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&snapshotRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete snapshot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns session ids ordered by updated_at descending.
func (s *SQLStore) List(ctx context.Context, limit int) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&snapshotRecord{}).Order("updated_at DESC").Order("session_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []string
	if err := q.Pluck("session_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return ids, nil
}

// RecordAttempt inserts one row into quiz_attempts.
func (s *SQLStore) RecordAttempt(ctx context.Context, attempt *Attempt) error {
	if attempt == nil || attempt.SessionID == "" {
		return ErrInvalidInput
	}
	topics, err := json.Marshal(attempt.Topics)
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}
	rec := attemptRecord{
		SessionID:     attempt.SessionID,
		Question:      attempt.Question,
		Answer:        attempt.Answer,
		CorrectAnswer: attempt.CorrectAnswer,
		Correct:       attempt.Correct,
		Topics:        string(topics),
		CreatedAt:     attempt.CreatedAt,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Attempts returns a session's attempts in insertion order.
func (s *SQLStore) Attempts(ctx context.Context, sessionID string) ([]Attempt, error) {
	var recs []attemptRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]Attempt, 0, len(recs))
	for _, rec := range recs {
		a := Attempt{
			SessionID:     rec.SessionID,
			Question:      rec.Question,
			Answer:        rec.Answer,
			CorrectAnswer: rec.CorrectAnswer,
			Correct:       rec.Correct,
			CreatedAt:     rec.CreatedAt,
		}
		if rec.Topics != "" {
			if err := json.Unmarshal([]byte(rec.Topics), &a.Topics); err != nil {
				s.logger.Warn("skipping malformed attempt topics", zap.Uint("id", rec.ID), zap.Error(err))
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLStore) Close() error {
	return nil
}
