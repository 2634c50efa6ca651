package tutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/tutorflow/tracker"
	"github.com/BaSui01/tutorflow/tutor/persistence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatFactory 为每个会话创建独立的群聊
type ChatFactory func() *GroupChat

// ManagerConfig 会话管理器配置
type ManagerConfig struct {
	Thresholds tracker.Thresholds `json:"thresholds" yaml:"thresholds"`
	// IdleTimeout 超过该时长未活动的会话从内存中移出，快照仍保留在存储中；0 表示不回收
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	// SaveTimeout 单次快照写入的超时
	SaveTimeout time.Duration `json:"save_timeout" yaml:"save_timeout"`
}

// DefaultManagerConfig 返回默认配置
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Thresholds:  tracker.DefaultThresholds(),
		IdleTimeout: 30 * time.Minute,
		SaveTimeout: 5 * time.Second,
	}
}

// Manager 创建、查找与持久化会话。内存未命中时从存储恢复。
type Manager struct {
	cfg     ManagerConfig
	store   persistence.Store
	newChat ChatFactory
	metrics Metrics
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager 创建会话管理器，store 为 nil 时使用内存存储
func NewManager(store persistence.Store, newChat ChatFactory, cfg ManagerConfig, metrics Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if store == nil {
		store = persistence.NewMemoryStore()
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = DefaultManagerConfig().SaveTimeout
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		newChat:  newChat,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "session_manager")),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

func (m *Manager) newSession(id string) *Session {
	var chat *GroupChat
	if m.newChat != nil {
		chat = m.newChat()
	}
	deps := SessionDeps{
		Chat:       chat,
		Thresholds: m.cfg.Thresholds,
		Metrics:    m.metrics,
		Logger:     m.logger,
	}
	if log, ok := m.store.(persistence.AttemptLog); ok {
		deps.Attempts = log
	}
	s := NewSession(id, deps)
	s.afterTurn = func(ctx context.Context, s *Session) {
		err := m.Save(context.WithoutCancel(ctx), s)
		switch {
		case errors.Is(err, ErrSessionNotFound):
			m.logger.Debug("session deleted during turn, snapshot skipped", zap.String("session_id", s.ID()))
		case err != nil:
			m.logger.Warn("failed to snapshot session", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
	return s
}

func (m *Manager) track(s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[s.ID()]; ok {
		return existing
	}
	m.sessions[s.ID()] = s
	m.metrics.SetActiveSessions(len(m.sessions))
	return s
}

// Create 创建新会话并写入初始快照
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s := m.track(m.newSession(uuid.NewString()))
	if err := m.Save(ctx, s); err != nil {
		m.forget(s.ID())
		return nil, err
	}
	m.logger.Info("session created", zap.String("session_id", s.ID()))
	return s, nil
}

// Get 返回会话，内存中没有时尝试从存储恢复
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		if s.Deleted() {
			return nil, ErrSessionNotFound
		}
		return s, nil
	}

	snap, err := m.store.Load(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	restored := m.newSession(id)
	if err := restored.restoreSnapshot(snap); err != nil {
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}
	m.logger.Info("session restored", zap.String("session_id", id), zap.String("state", snap.State))
	return m.track(restored), nil
}

// Handle 在会话中处理一条输入
func (m *Manager) Handle(ctx context.Context, id, input string) (<-chan Event, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Handle(ctx, input)
}

// Reset 重置会话并写入快照
func (m *Manager) Reset(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.TryReset(); err != nil {
		return nil, err
	}
	if err := m.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Delete 删除会话与其快照。进行中的轮次结束后不会再写回快照。
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.RLock()
	s, inMemory := m.sessions[id]
	m.mu.RUnlock()
	if inMemory {
		s.markDeleted()
	}

	err := m.store.Delete(ctx, id)
	if inMemory {
		m.forget(id)
	}
	if errors.Is(err, persistence.ErrNotFound) {
		if inMemory {
			return nil
		}
		return ErrSessionNotFound
	}
	return err
}

// List 返回最近更新的会话 ID
func (m *Manager) List(ctx context.Context, limit int) ([]string, error) {
	return m.store.List(ctx, limit)
}

// Attempts 返回会话的判分记录，存储不支持时返回空
func (m *Manager) Attempts(ctx context.Context, id string) ([]persistence.Attempt, error) {
	log, ok := m.store.(persistence.AttemptLog)
	if !ok {
		return nil, nil
	}
	return log.Attempts(ctx, id)
}

// Save 写入会话快照，已删除的会话返回 ErrSessionNotFound
func (m *Manager) Save(ctx context.Context, s *Session) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.deleted.Load() {
		return ErrSessionNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SaveTimeout)
	defer cancel()
	if err := m.store.Save(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID(), err)
	}
	return nil
}

// Count 返回内存中的会话数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Ping 检查存储
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func (m *Manager) forget(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.metrics.SetActiveSessions(len(m.sessions))
	return ok
}

// EvictIdle 保存并移出空闲超过 idle 的会话，返回移出数量
func (m *Manager) EvictIdle(ctx context.Context, idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	evicted := 0
	for _, s := range stale {
		if !s.turnMu.TryLock() {
			continue
		}
		err := m.Save(ctx, s)
		if err == nil {
			m.forget(s.ID())
			evicted++
		} else {
			m.logger.Warn("keeping idle session after failed save", zap.String("session_id", s.ID()), zap.Error(err))
		}
		s.turnMu.Unlock()
	}
	if evicted > 0 {
		m.logger.Debug("idle sessions evicted", zap.Int("count", evicted))
	}
	return evicted
}

// Start 启动空闲会话回收循环，IdleTimeout 为 0 时不做任何事
func (m *Manager) Start() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	interval := m.cfg.IdleTimeout / 2
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.EvictIdle(context.Background(), m.cfg.IdleTimeout)
			}
		}
	}()
}

// Close 停止回收循环并保存所有会话
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var errs []error
	for _, s := range sessions {
		if s.Deleted() {
			continue
		}
		if err := m.Save(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
