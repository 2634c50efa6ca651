package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/tutorflow/llm"
	"github.com/BaSui01/tutorflow/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMetrics 记录会话层上报的指标
type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
	answers     []string
	reviews     int
	replies     []string
	active      int
}

func (r *recordingMetrics) RecordStateTransition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *recordingMetrics) RecordQuizAnswer(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, result)
}

func (r *recordingMetrics) RecordReviewTriggered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviews++
}

func (r *recordingMetrics) RecordAgentReply(agent, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, agent+":"+status)
}

func (r *recordingMetrics) SetActiveSessions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = n
}

func (r *recordingMetrics) snapshot() recordingMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recordingMetrics{
		transitions: append([]string(nil), r.transitions...),
		answers:     append([]string(nil), r.answers...),
		reviews:     r.reviews,
		replies:     append([]string(nil), r.replies...),
		active:      r.active,
	}
}

type chatProviders struct {
	tutor, evaluator, quiz *mocks.MockProvider
}

func newChatProviders() chatProviders {
	return chatProviders{
		tutor:     mocks.NewMockProvider().WithName("tutor"),
		evaluator: mocks.NewMockProvider().WithName("evaluator"),
		quiz:      mocks.NewMockProvider().WithName("quiz"),
	}
}

func (p chatProviders) agents() []*Agent {
	return []*Agent{
		TutorAgent(p.tutor, "gpt-4o", nil),
		EvaluatorAgent(p.evaluator, "o1", nil),
		QuizCreatorAgent(p.quiz, "gpt-4o", nil),
	}
}

// neverTerminate 让一轮群聊跑满 MaxIterations
type neverTerminate struct{}

func (neverTerminate) ShouldTerminate(context.Context, *Agent, []Message, TurnView) (bool, error) {
	return false, nil
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) ofType(t EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// contentOf 拼接某个 agent 的流式内容
func contentOf(events []Event, agent string) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == EventContent && ev.Agent == agent {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

func TestGroupChat_TutorAnswersAndTerminates(t *testing.T) {
	p := newChatProviders()
	p.tutor.WithResponse("Terriers were bred to hunt vermin.")
	metrics := &recordingMetrics{}
	chat := NewGroupChat(p.agents(), nil, nil, GroupChatConfig{}, metrics, nil)

	chat.AddUserMessage("Tell me about terriers")
	c := &collector{}
	result, err := chat.Invoke(context.Background(), TurnHooks{}, c.emit)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, ReasonComplete, result.Reason)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, TutorName, result.Messages[0].Name)
	assert.Equal(t, "Terriers were bred to hunt vermin.", contentOf(c.events, TutorName))
	assert.Len(t, c.ofType(EventAgentStart), 1)
	assert.Len(t, c.ofType(EventAgentEnd), 1)

	history := chat.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	assert.NotEmpty(t, history[1].ID)

	req := p.tutor.GetLastCall().Request
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, tutorInstructions, req.Messages[0].Content)
	assert.Equal(t, "Tell me about terriers", req.Messages[1].Content)
	assert.Equal(t, float32(0.7), req.Temperature)
	assert.Equal(t, TutorName, req.Metadata["agent"])

	assert.Equal(t, []string{"Tutor:success"}, metrics.snapshot().replies)
	assert.Zero(t, p.evaluator.GetCallCount())
	assert.Zero(t, p.quiz.GetCallCount())
}

func TestGroupChat_MaxIterations(t *testing.T) {
	p := newChatProviders()
	chat := NewGroupChat(p.agents(), nil, neverTerminate{}, GroupChatConfig{MaxIterations: 3}, nil, nil)
	chat.AddUserMessage("hello")

	result, err := chat.Invoke(context.Background(), TurnHooks{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, ReasonMaxIterations, result.Reason)
	assert.Len(t, chat.History(), 4)

	for i := 1; i < len(result.Messages); i++ {
		assert.NotEqual(t, result.Messages[i-1].Name, result.Messages[i].Name, "no agent speaks twice in a row")
	}
}

func TestGroupChat_OtherAgentsKeepTheirNames(t *testing.T) {
	p := newChatProviders()
	chat := NewGroupChat(p.agents(), nil, nil, GroupChatConfig{}, nil, nil)
	chat.AddUserMessage("quiz me")
	chat.AddMessage(Message{Role: llm.RoleAssistant, Name: QuizCreatorName, Content: "Q1"})
	chat.AddUserMessage("b")

	_, err := chat.Invoke(context.Background(), TurnHooks{}, nil)
	require.NoError(t, err)

	msgs := p.tutor.GetLastCall().Request.Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, QuizCreatorName, msgs[2].Name)
	assert.Equal(t, "Q1", msgs[2].Content)
}

func TestGroupChat_AfterReplyEventsForwarded(t *testing.T) {
	p := newChatProviders()
	chat := NewGroupChat(p.agents(), nil, nil, GroupChatConfig{}, nil, nil)
	chat.AddUserMessage("hi")

	var seen []string
	hooks := TurnHooks{
		View: func() TurnView { return TurnView{State: StateChat} },
		AfterReply: func(msg Message) []Event {
			seen = append(seen, msg.Name)
			return []Event{warningEvent("checked " + msg.Name)}
		},
	}
	c := &collector{}
	_, err := chat.Invoke(context.Background(), hooks, c.emit)
	require.NoError(t, err)
	assert.Equal(t, []string{TutorName}, seen)

	warnings := c.ofType(EventWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "checked Tutor", warnings[0].Content)
}

func TestGroupChat_ProviderError(t *testing.T) {
	p := newChatProviders()
	p.tutor.WithError(errors.New("upstream down"))
	metrics := &recordingMetrics{}
	chat := NewGroupChat(p.agents(), nil, nil, GroupChatConfig{}, metrics, nil)
	chat.AddUserMessage("hi")

	c := &collector{}
	_, err := chat.Invoke(context.Background(), TurnHooks{}, c.emit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")

	errs := c.ofType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, TutorName, errs[0].Agent)
	assert.Equal(t, []string{"Tutor:error"}, metrics.snapshot().replies)
	assert.Len(t, chat.History(), 1)
}

// failingSelection 总是返回错误
type failingSelection struct{}

func (failingSelection) Next(context.Context, []*Agent, []Message, TurnView) (*Agent, error) {
	return nil, errors.New("no idea")
}

func TestGroupChat_SelectionError(t *testing.T) {
	p := newChatProviders()
	chat := NewGroupChat(p.agents(), failingSelection{}, nil, GroupChatConfig{}, nil, nil)
	chat.AddUserMessage("hi")

	c := &collector{}
	result, err := chat.Invoke(context.Background(), TurnHooks{}, c.emit)
	require.Error(t, err)
	assert.Zero(t, result.Iterations)
	assert.Len(t, c.ofType(EventError), 1)
}

func TestGroupChat_NoAgents(t *testing.T) {
	chat := NewGroupChat(nil, nil, nil, GroupChatConfig{}, nil, nil)
	_, err := chat.Invoke(context.Background(), TurnHooks{}, nil)
	assert.Error(t, err)
}

func TestGroupChat_CanceledContext(t *testing.T) {
	p := newChatProviders()
	chat := NewGroupChat(p.agents(), nil, nil, GroupChatConfig{}, nil, nil)
	chat.AddUserMessage("hi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := chat.Invoke(ctx, TurnHooks{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.tutor.GetCallCount())
}

func TestGroupChat_DisableStreamingUsesBlockingReply(t *testing.T) {
	p := newChatProviders()
	p.tutor.WithResponse("one two three")
	metrics := &recordingMetrics{}
	chat := NewGroupChat(p.agents(), nil, nil, GroupChatConfig{DisableStreaming: true}, metrics, nil)
	chat.AddUserMessage("count")

	c := &collector{}
	result, err := chat.Invoke(context.Background(), TurnHooks{}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, ReasonComplete, result.Reason)

	content := c.ofType(EventContent)
	require.Len(t, content, 1)
	assert.Equal(t, "one two three", content[0].Content)
	assert.Equal(t, "one two three", chat.History()[1].Content)
	assert.Equal(t, []string{"Tutor:success"}, metrics.snapshot().replies)

	calls := p.tutor.GetCalls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Stream)
}

func TestGroupChat_DisableStreamingError(t *testing.T) {
	p := newChatProviders()
	p.tutor.WithError(errors.New("completion refused"))
	chat := NewGroupChat(p.agents(), nil, nil, GroupChatConfig{DisableStreaming: true}, nil, nil)
	chat.AddUserMessage("hi")

	c := &collector{}
	_, err := chat.Invoke(context.Background(), TurnHooks{}, c.emit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tutor: completion refused")
	assert.Len(t, c.ofType(EventError), 1)
	assert.Empty(t, c.ofType(EventContent))
}

func TestGroupChat_QuizCreatorAnswerKeyHidden(t *testing.T) {
	reply := "Question 1: pick the terrier.\n\n```json\n" +
		`{"question": "Pick the terrier", "options": {"A": "Poodle", "B": "Jack Russell", "C": "Beagle", "D": "Greyhound"}, "answer": "B", "topics": ["terriers"]}` +
		"\n```"

	for _, disable := range []bool{false, true} {
		t.Run(fmt.Sprintf("disable_streaming=%v", disable), func(t *testing.T) {
			p := newChatProviders()
			p.quiz.WithResponse(reply)
			if !disable {
				p.quiz.WithStreamChunks([]string{"Question 1: pick the terrier.\n\n`", "``json\n{\"question\"", reply[len("Question 1: pick the terrier.\n\n```json\n{\"question\""):]})
			}
			chat := NewGroupChat(p.agents(), nil, nil, GroupChatConfig{DisableStreaming: disable}, nil, nil)
			chat.AddUserMessage("quiz me")

			hooks := TurnHooks{View: func() TurnView { return TurnView{State: StateQuiz, AwaitingQuestion: true} }}
			chat.AddMessage(Message{Role: llm.RoleAssistant, Name: TutorName, Content: "Here comes a question."})
			c := &collector{}
			_, err := chat.Invoke(context.Background(), hooks, c.emit)
			require.NoError(t, err)

			shown := contentOf(c.events, QuizCreatorName)
			assert.NotContains(t, shown, `"answer"`)
			assert.NotContains(t, shown, "```")
			assert.Contains(t, shown, "Question 1: pick the terrier.")
			assert.Contains(t, shown, "Pick the terrier\nA) Poodle\nB) Jack Russell")

			history := chat.History()
			last := history[len(history)-1]
			assert.Equal(t, QuizCreatorName, last.Name)
			assert.Equal(t, reply, last.Content)
		})
	}
}

func TestGroupChat_ResetAndDefaults(t *testing.T) {
	chat := NewGroupChat(newChatProviders().agents(), nil, nil, GroupChatConfig{}, nil, nil)
	assert.Equal(t, DefaultGroupChatConfig(), chat.Config())
	assert.NotNil(t, chat.Agent("evaluator"))
	assert.Nil(t, chat.Agent("Grader"))
	assert.Len(t, chat.Agents(), 3)

	for i := 0; i < 3; i++ {
		chat.AddUserMessage(fmt.Sprintf("m%d", i))
	}
	assert.Len(t, chat.History(), 3)
	chat.Reset()
	assert.Empty(t, chat.History())
}
