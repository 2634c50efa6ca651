package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/tutorflow/tracker"
	"github.com/BaSui01/tutorflow/tutor/persistence"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("tutor: session not found")
	// ErrSessionBusy 会话正在处理另一轮对话
	ErrSessionBusy = errors.New("tutor: session is handling another turn")
	// ErrEmptyInput 输入为空
	ErrEmptyInput = errors.New("tutor: empty input")
)

// 固定提示文案
const (
	DefaultTopic      = "general knowledge"
	GoodbyeMessage    = "Thank you for learning with me! Goodbye."
	ResetMessage      = "[Conversation has been reset]"
	ReviewTriggerText = "[System: Detected pattern of errors. Initiating learning gap analysis...]"
)

// unmatchedTopic 占位题目的主题，用于让后续题目与答案重新对齐
const unmatchedTopic = "unmatched"

// SessionDeps 会话依赖
type SessionDeps struct {
	Chat       *GroupChat
	Thresholds tracker.Thresholds
	// Attempts 可选，记录每次判分
	Attempts persistence.AttemptLog
	Metrics  Metrics
	Logger   *zap.Logger
}

// Session 单个学生的对话会话：持有自己的 tracker、状态机与群聊历史
type Session struct {
	id string

	// turnMu 串行化轮次，mu 保护下列字段
	turnMu sync.Mutex
	mu     sync.RWMutex

	tracker       *tracker.Tracker
	machine       *Machine
	chat          *GroupChat
	topic         string
	topicSelected bool
	pending       *QuizItem
	createdAt     time.Time
	updatedAt     time.Time

	// saveMu 串行化快照写入；deleted 置位后不再写入
	saveMu  sync.Mutex
	deleted atomic.Bool

	attempts  persistence.AttemptLog
	afterTurn func(ctx context.Context, s *Session)
	metrics   Metrics
	logger    *zap.Logger
}

// NewSession 创建会话
func NewSession(id string, deps SessionDeps) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Chat == nil {
		deps.Chat = NewGroupChat(nil, nil, nil, DefaultGroupChatConfig(), deps.Metrics, deps.Logger)
	}
	now := time.Now()
	s := &Session{
		id:        id,
		tracker:   tracker.NewWithThresholds(deps.Thresholds),
		chat:      deps.Chat,
		createdAt: now,
		updatedAt: now,
		attempts:  deps.Attempts,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With(zap.String("component", "tutor_session"), zap.String("session_id", id)),
	}
	s.machine = NewMachine(func(from, to State) {
		s.metrics.RecordStateTransition(string(from), string(to))
		s.logger.Info("session state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	})
	return s
}

// ID 返回会话 ID
func (s *Session) ID() string { return s.id }

// State 返回当前状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.Current()
}

// Topic 返回已选主题
func (s *Session) Topic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topic
}

// PendingQuiz 返回待答题目的副本
func (s *Session) PendingQuiz() *QuizItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return nil
	}
	cp := *s.pending
	return &cp
}

// History 返回群聊历史
func (s *Session) History() []Message { return s.chat.History() }

// view 供策略读取的信号
func (s *Session) view() TurnView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := s.machine.Current()
	review := s.tracker.ShouldTriggerReview()
	return TurnView{
		State:            state,
		ConsecutiveWrong: s.tracker.ConsecutiveWrong(),
		ProblemTopics:    s.tracker.ProblemTopics(),
		ReviewNeeded:     review,
		AwaitingQuestion: state == StateQuiz && s.pending == nil && !review,
	}
}

// Handle 处理一条用户输入，事件写入返回的通道，以 done 事件结束。
// 同一会话同时只允许一轮，否则返回 ErrSessionBusy。
func (s *Session) Handle(ctx context.Context, input string) (<-chan Event, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	if !s.turnMu.TryLock() {
		return nil, ErrSessionBusy
	}

	ch := make(chan Event)
	go func() {
		defer close(ch)
		defer s.turnMu.Unlock()
		emit := func(ev Event) {
			select {
			case <-ctx.Done():
			case ch <- ev:
			}
		}

		exit := s.turn(ctx, input, emit)

		s.mu.Lock()
		s.updatedAt = time.Now()
		s.mu.Unlock()
		if s.afterTurn != nil {
			s.afterTurn(ctx, s)
		}
		emit(Event{Type: EventDone, State: s.State(), Exit: exit})
	}()
	return ch, nil
}

// turn 执行一轮，返回用户是否要求退出
func (s *Session) turn(ctx context.Context, input string, emit func(Event)) bool {
	intent := Classify(input)
	switch intent.Kind {
	case IntentExit:
		emit(systemEvent(GoodbyeMessage))
		return true
	case IntentReset:
		s.Reset()
		emit(systemEvent(ResetMessage))
		return false
	}

	out := s.applyIntent(intent)
	for _, ev := range out.events {
		emit(ev)
	}
	if out.attempt != nil && s.attempts != nil {
		if err := s.attempts.RecordAttempt(context.WithoutCancel(ctx), out.attempt); err != nil {
			s.logger.Warn("failed to record quiz attempt", zap.Error(err))
		}
	}

	s.chat.AddUserMessage(out.content)
	for _, note := range out.notes {
		s.chat.AddSystemMessage(note)
	}

	hooks := TurnHooks{View: s.view, AfterReply: s.afterReply}
	if _, err := s.chat.Invoke(ctx, hooks, emit); err != nil {
		s.logger.Warn("turn failed", zap.Error(err))
		return false
	}

	if request, ok := s.checkReview(); ok {
		emit(systemEvent(ReviewTriggerText))
		s.chat.AddSystemMessage(request)
		if _, err := s.chat.Invoke(ctx, hooks, emit); err != nil {
			s.logger.Warn("review turn failed", zap.Error(err))
		}
	}
	return false
}

// intentOutcome 是 applyIntent 在持锁期间得出的结果。事件与判分记录在解锁后
// 才发送和写入，慢消费者不会占住 s.mu。
type intentOutcome struct {
	// content 写入历史的用户消息
	content string
	// notes 附加在用户消息之后的系统说明
	notes   []string
	events  []Event
	attempt *persistence.Attempt
}

// applyIntent 依据意图更新主题、状态与 tracker
func (s *Session) applyIntent(intent Intent) intentOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := intentOutcome{content: intent.Text}
	if !s.topicSelected && intent.Kind != IntentQuizRequest {
		s.topic = intent.Text
		s.topicSelected = true
		out.events = append(out.events, systemEvent(fmt.Sprintf("[Topic selected: %s]", s.topic)))
		out.content = fmt.Sprintf("I'd like to learn about %s. Can you help me with that?", s.topic)
		return out
	}

	state := s.machine.Current()
	switch intent.Kind {
	case IntentQuizRequest:
		s.startQuiz(intent.Topic, &out)
		out.notes = append(out.notes, fmt.Sprintf("The student wants a quiz on: %s.", s.topic))
		return out

	case IntentAnswer:
		if state == StateReview && s.pending != nil {
			s.transition(StateQuiz)
			state = StateQuiz
		}
		if state == StateQuiz {
			s.gradeAnswer(intent, &out)
			return out
		}
	}

	if state == StateReview {
		s.transition(StateChat)
	}
	return out
}

// startQuiz 在持锁状态下进入测验；已在测验中时只更新主题
func (s *Session) startQuiz(topic string, out *intentOutcome) {
	if topic == "" {
		topic = s.topic
	}
	if topic == "" {
		topic = DefaultTopic
	}
	s.topic = topic
	s.topicSelected = true

	if s.machine.Current() == StateQuiz {
		return
	}
	s.transition(StateQuiz)
	s.tracker.Reset()
	s.pending = nil
	out.events = append(out.events, systemEvent(fmt.Sprintf("[Quiz started: %s]", topic)))
}

// gradeAnswer 在持锁状态下判分并写入 tracker，给导师的判分说明追加到 out.notes
func (s *Session) gradeAnswer(intent Intent, out *intentOutcome) {
	if s.pending == nil {
		err := s.tracker.AddAnswer(intent.Text, false)
		s.metrics.RecordQuizAnswer(AnswerUnmatched)
		if errors.Is(err, tracker.ErrSequenceMismatch) {
			out.events = append(out.events,
				warningEvent(fmt.Sprintf("answer %s was recorded but no question is pending: %v", intent.Option, err)))
		}
		out.notes = append(out.notes, fmt.Sprintf("The student answered %s but no quiz question was pending.", intent.Option))
		return
	}

	item := s.pending
	s.pending = nil
	correct := item.Grade(intent.Option)
	if err := s.tracker.AddAnswer(intent.Text, correct); err != nil {
		out.events = append(out.events, warningEvent(err.Error()))
	}

	result, verdict := AnswerWrong, "incorrect"
	if correct {
		result, verdict = AnswerCorrect, "correct"
	}
	s.metrics.RecordQuizAnswer(result)
	out.events = append(out.events, systemEvent(fmt.Sprintf("[Answer %s recorded: %s]", intent.Option, verdict)))

	out.attempt = &persistence.Attempt{
		SessionID:     s.id,
		Question:      item.Question,
		Answer:        intent.Option,
		CorrectAnswer: item.Answer,
		Correct:       correct,
		Topics:        item.Topics,
	}
	out.notes = append(out.notes, fmt.Sprintf("Quiz grading: the student chose option %s. The correct answer is %s (%s). The student's answer is %s.",
		intent.Option, item.Answer, item.Options[item.Answer], verdict))
}

// afterReply 登记 QuizCreator 给出的题目
func (s *Session) afterReply(msg Message) []Event {
	if msg.Name != QuizCreatorName {
		return nil
	}
	item, err := ParseQuizItem(msg.Content)
	if err != nil {
		s.logger.Warn("quiz item not understood", zap.Error(err))
		return []Event{warningEvent(fmt.Sprintf("could not read the quiz question: %v", err))}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state := s.machine.Current(); state != StateQuiz && state != StateReview {
		s.logger.Debug("ignoring quiz item outside quiz", zap.String("state", string(state)))
		return nil
	}
	// 之前没有题目对应的答案会占住位置，用占位题目补齐
	for s.tracker.QuestionCount() < s.tracker.AnswerCount() {
		_ = s.tracker.AddQuestion("(no question pending)", "", []string{unmatchedTopic})
	}
	if err := s.tracker.AddQuestion(item.Question, item.Answer, item.Topics); err != nil {
		return []Event{warningEvent(err.Error())}
	}
	s.pending = item
	return nil
}

// checkReview 测验中 tracker 要求复习时切换到 review，返回给 Evaluator 的请求
func (s *Session) checkReview() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Current() != StateQuiz || !s.tracker.ShouldTriggerReview() {
		return "", false
	}
	s.transition(StateReview)
	s.metrics.RecordReviewTriggered()

	summary, _ := json.Marshal(s.tracker.Summary())
	return fmt.Sprintf("I notice the student has %d consecutive wrong answers or is struggling with specific topics. "+
		"Please analyze the student's performance and identify potential knowledge gaps.\nPerformance summary: %s",
		s.tracker.ConsecutiveWrong(), summary), true
}

// transition 在持锁状态下切换状态，非法转换只记录日志
func (s *Session) transition(to State) {
	if err := s.machine.Transition(to); err != nil {
		s.logger.Error("rejected state transition", zap.Error(err))
	}
}

// TryReset 在没有进行中的轮次时重置，否则返回 ErrSessionBusy
func (s *Session) TryReset() error {
	if !s.turnMu.TryLock() {
		return ErrSessionBusy
	}
	defer s.turnMu.Unlock()
	s.Reset()
	return nil
}

// Reset 清空 tracker、历史、主题与状态
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Reset()
	s.machine.Reset()
	s.chat.Reset()
	s.topic = ""
	s.topicSelected = false
	s.pending = nil
	s.updatedAt = time.Now()
}

// =============================================================================
// 📋 摘要与快照
// =============================================================================

// SessionSummary 会话概览
type SessionSummary struct {
	ID          string          `json:"id"`
	State       State           `json:"state"`
	Topic       string          `json:"topic,omitempty"`
	PendingQuiz string          `json:"pending_quiz,omitempty"`
	Performance tracker.Summary `json:"performance"`
	Messages    int             `json:"messages"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Summary 返回会话概览
func (s *Session) Summary() SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := SessionSummary{
		ID:          s.id,
		State:       s.machine.Current(),
		Topic:       s.topic,
		Performance: s.tracker.Summary(),
		Messages:    len(s.chat.History()),
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
	if s.pending != nil {
		sum.PendingQuiz = s.pending.Render()
	}
	return sum
}

// Snapshot 导出可持久化的会话状态；群聊历史不在其中
func (s *Session) Snapshot() *persistence.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &persistence.Snapshot{
		SessionID: s.id,
		State:     string(s.machine.Current()),
		Topic:     s.topic,
		Tracker:   s.tracker.Export(),
	}
	if s.pending != nil {
		if data, err := json.Marshal(s.pending); err == nil {
			snap.PendingQuiz = data
		}
	}
	return snap
}

// restoreSnapshot 用快照覆盖会话状态
func (s *Session) restoreSnapshot(snap *persistence.Snapshot) error {
	state, err := ParseState(snap.State)
	if err != nil {
		return err
	}
	var pending *QuizItem
	if len(snap.PendingQuiz) > 0 {
		var item QuizItem
		if err := json.Unmarshal(snap.PendingQuiz, &item); err != nil {
			return fmt.Errorf("decode pending quiz: %w", err)
		}
		pending = &item
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker = tracker.Restore(snap.Tracker)
	s.machine.restore(state)
	s.topic = snap.Topic
	s.topicSelected = snap.Topic != ""
	s.pending = pending
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}
	return nil
}

// markDeleted 等待进行中的快照写入完成后标记删除
func (s *Session) markDeleted() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.deleted.Store(true)
}

// Deleted 报告会话是否已被删除
func (s *Session) Deleted() bool { return s.deleted.Load() }

// idleSince 最近一次活动时间
func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
