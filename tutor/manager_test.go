package tutor

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/tutorflow/tutor/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(store persistence.Store, p chatProviders, metrics Metrics) *Manager {
	factory := func() *GroupChat {
		return NewGroupChat(p.agents(), nil, nil, GroupChatConfig{}, metrics, nil)
	}
	return NewManager(store, factory, DefaultManagerConfig(), metrics, nil)
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	return events
}

func TestManager_CreateHandleAndRestore(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	p := newChatProviders()
	p.quiz.WithResponse(quizReply(1, "B"))
	metrics := &recordingMetrics{}
	m := newTestManager(store, p, metrics)

	s, err := m.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, metrics.snapshot().active)

	snap, err := store.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, "chat", snap.State)

	ch, err := m.Handle(ctx, s.ID(), "quiz me on terriers")
	require.NoError(t, err)
	drain(t, ch)
	ch, err = m.Handle(ctx, s.ID(), "a")
	require.NoError(t, err)
	drain(t, ch)

	// 另一个实例从同一存储恢复
	other := newTestManager(store, p, nil)
	restored, err := other.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, StateQuiz, restored.State())
	assert.Equal(t, "terriers", restored.Topic())
	require.NotNil(t, restored.PendingQuiz())
	assert.Equal(t, 1, restored.Summary().Performance.TotalQuestions)
	assert.Empty(t, restored.History())

	again, err := other.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Same(t, restored, again)

	attempts, err := other.Attempts(ctx, s.ID())
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Correct)
}

func TestManager_NotFound(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(nil, newChatProviders(), nil)

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Handle(ctx, "missing", "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Reset(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "missing"), ErrSessionNotFound)
}

func TestManager_ResetAndDelete(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	p := newChatProviders()
	p.quiz.WithResponse(quizReply(1, "B"))
	m := newTestManager(store, p, nil)

	s, err := m.Create(ctx)
	require.NoError(t, err)
	ch, err := m.Handle(ctx, s.ID(), "quiz me on terriers")
	require.NoError(t, err)
	drain(t, ch)

	reset, err := m.Reset(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, StateChat, reset.State())
	snap, err := store.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, "chat", snap.State)
	assert.Empty(t, snap.PendingQuiz)

	require.NoError(t, m.Delete(ctx, s.ID()))
	assert.Zero(t, m.Count())
	_, err = store.Load(ctx, s.ID())
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, s.ID()), ErrSessionNotFound)
}

func TestManager_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(nil, newChatProviders(), nil)

	first, err := m.Create(ctx)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Create(ctx)
	require.NoError(t, err)

	ids, err := m.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID(), first.ID()}, ids)

	ids, err = m.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID()}, ids)
	assert.NoError(t, m.Ping(ctx))
}

func TestManager_EvictIdle(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	metrics := &recordingMetrics{}
	m := newTestManager(store, newChatProviders(), metrics)

	s, err := m.Create(ctx)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, m.EvictIdle(ctx, time.Hour))
	assert.Equal(t, 1, m.EvictIdle(ctx, 10*time.Millisecond))
	assert.Zero(t, m.Count())
	assert.Zero(t, metrics.snapshot().active)

	restored, err := m.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), restored.ID())
	assert.Equal(t, 1, m.Count())
}

func TestManager_EvictIdleSkipsBusySessions(t *testing.T) {
	ctx := context.Background()
	p := newChatProviders()
	p.tutor.WithDelay(100 * time.Millisecond)
	m := newTestManager(nil, p, nil)

	s, err := m.Create(ctx)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	ch, err := m.Handle(ctx, s.ID(), "geometry")
	require.NoError(t, err)
	assert.Zero(t, m.EvictIdle(ctx, 10*time.Millisecond))
	drain(t, ch)
	assert.Equal(t, 1, m.Count())
}

func TestManager_CloseSavesSessions(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	m := newTestManager(store, newChatProviders(), nil)
	m.Start()

	s, err := m.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, s.ID()))

	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))
	_, err = store.Load(ctx, s.ID())
	assert.NoError(t, err)
}

func TestManager_DeleteDuringTurnStaysDeleted(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	p := newChatProviders()
	p.tutor.WithResponse("Terriers hunt vermin.").WithDelay(200 * time.Millisecond)
	m := newTestManager(store, p, nil)

	s, err := m.Create(ctx)
	require.NoError(t, err)
	ch, err := m.Handle(ctx, s.ID(), "terriers")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Delete(ctx, s.ID()))
	_, err = m.Get(ctx, s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// 轮次结束后快照不会被写回
	drain(t, ch)
	_, err = store.Load(ctx, s.ID())
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = m.Get(ctx, s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Save(ctx, s), ErrSessionNotFound)
	assert.True(t, s.Deleted())
	assert.Zero(t, m.Count())
	assert.NoError(t, m.Close(ctx))
}

func TestManager_UnreadTurnDoesNotBlockLookups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(persistence.NewMemoryStore(), newChatProviders(), nil)

	stuck, err := m.Create(ctx)
	require.NoError(t, err)
	ch, err := m.Handle(ctx, stuck.ID(), "terriers")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stuck.Topic() == "terriers" }, 2*time.Second, 10*time.Millisecond)

	done := make(chan int, 1)
	go func() {
		evicted := m.EvictIdle(ctx, 0)
		_, _ = m.Create(ctx)
		done <- evicted
	}()
	select {
	case evicted := <-done:
		assert.Zero(t, evicted, "a session with a running turn is kept")
		assert.Equal(t, 2, m.Count())
	case <-time.After(time.Second):
		t.Fatal("manager blocked behind an unread event")
	}

	cancel()
	for range ch {
	}
}
