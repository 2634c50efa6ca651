package tutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/tutorflow/llm"
	"github.com/BaSui01/tutorflow/llm/tokenizer"
	"go.uber.org/zap"
)

// GroupChatConfig 群聊参数
type GroupChatConfig struct {
	// MaxIterations 每轮最多的 agent 发言次数
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// HistorySize 选择与终止策略看到的最近消息条数
	HistorySize int `json:"history_size" yaml:"history_size"`
	// TokenBudget 发给 agent 的历史 token 上限，0 表示不限制
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
	// TokenizerModel 决定 token 计数使用的编码
	TokenizerModel string `json:"tokenizer_model" yaml:"tokenizer_model"`
	// DisableStreaming 为 true 时 agent 以阻塞方式回复，适用于不支持流式的端点
	DisableStreaming bool `json:"disable_streaming" yaml:"disable_streaming"`
}

// DefaultGroupChatConfig 返回默认群聊参数
func DefaultGroupChatConfig() GroupChatConfig {
	return GroupChatConfig{
		MaxIterations:  5,
		HistorySize:    10,
		TokenizerModel: "gpt-4o",
	}
}

// TurnHooks 由会话提供，在一轮群聊中读取最新信号并处理 agent 回复
type TurnHooks struct {
	// View 每次选择与终止判定前调用
	View func() TurnView
	// AfterReply 在 agent 回复写入历史后调用，返回的事件会被转发
	AfterReply func(msg Message) []Event
}

func (h TurnHooks) view() TurnView {
	if h.View == nil {
		return TurnView{State: StateChat}
	}
	return h.View()
}

// TurnResult 一轮群聊的结果
type TurnResult struct {
	Iterations int       `json:"iterations"`
	Reason     string    `json:"reason"`
	Messages   []Message `json:"messages"`
}

// 终止原因
const (
	ReasonComplete      = "complete"
	ReasonMaxIterations = "max_iterations"
)

// GroupChat 多个 agent 围绕一份共享历史轮流发言
type GroupChat struct {
	agents      []*Agent
	selection   SelectionStrategy
	termination TerminationStrategy
	cfg         GroupChatConfig

	strategyReducer HistoryReducer
	agentReducer    HistoryReducer

	metrics Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	history []Message
}

// NewGroupChat 创建群聊。selection 为 nil 时使用 RuleSelection，
// termination 为 nil 时 Tutor 发言即结束本轮。
func NewGroupChat(agents []*Agent, selection SelectionStrategy, termination TerminationStrategy, cfg GroupChatConfig, metrics Metrics, logger *zap.Logger) *GroupChat {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	def := DefaultGroupChatConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.TokenizerModel == "" {
		cfg.TokenizerModel = def.TokenizerModel
	}
	if selection == nil {
		selection = RuleSelection{Initial: TutorName}
	}
	if termination == nil {
		termination = RuleTermination{Agents: []string{TutorName}}
	}

	g := &GroupChat{
		agents:    agents,
		selection: selection,
		termination: quizAwareTermination{
			inner:          termination,
			hasQuizCreator: findAgent(agents, QuizCreatorName) != nil,
		},
		cfg:             cfg,
		strategyReducer: HistoryReducer{TargetCount: cfg.HistorySize},
		metrics:         metrics,
		logger:          logger.With(zap.String("component", "group_chat")),
	}
	if cfg.TokenBudget > 0 {
		g.agentReducer = HistoryReducer{TokenBudget: cfg.TokenBudget, Tokenizer: tokenizer.ForModel(cfg.TokenizerModel)}
	}
	return g
}

// Agents 返回参与者
func (g *GroupChat) Agents() []*Agent {
	return append([]*Agent(nil), g.agents...)
}

// Agent 按名称查找参与者
func (g *GroupChat) Agent(name string) *Agent {
	return findAgent(g.agents, name)
}

// Config 返回生效的群聊参数
func (g *GroupChat) Config() GroupChatConfig { return g.cfg }

// AddMessage 追加一条消息
func (g *GroupChat) AddMessage(msg Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if msg.ID == "" || msg.Timestamp.IsZero() {
		fresh := newMessage(msg.Role, msg.Name, msg.Content)
		if msg.ID == "" {
			msg.ID = fresh.ID
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = fresh.Timestamp
		}
	}
	g.history = append(g.history, msg)
}

// AddUserMessage 追加用户消息
func (g *GroupChat) AddUserMessage(content string) {
	g.AddMessage(newMessage(llm.RoleUser, "", content))
}

// AddSystemMessage 追加系统消息
func (g *GroupChat) AddSystemMessage(content string) {
	g.AddMessage(newMessage(llm.RoleSystem, "", content))
}

// History 返回完整历史的副本
func (g *GroupChat) History() []Message {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Message(nil), g.history...)
}

// Reset 清空历史
func (g *GroupChat) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = nil
}

// Invoke 运行一轮群聊，事件通过 emit 同步输出。达到 MaxIterations 不是错误。
func (g *GroupChat) Invoke(ctx context.Context, hooks TurnHooks, emit func(Event)) (TurnResult, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	if len(g.agents) == 0 {
		return TurnResult{}, fmt.Errorf("group chat has no agents")
	}

	var result TurnResult
	for result.Iterations < g.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		view := hooks.view()
		agent, err := g.selection.Next(ctx, g.agents, g.strategyReducer.Reduce(g.History()), view)
		if err != nil {
			emit(errorEvent("", err))
			return result, fmt.Errorf("select next agent: %w", err)
		}
		result.Iterations++

		msg, err := g.speak(ctx, agent, emit)
		if err != nil {
			return result, err
		}
		result.Messages = append(result.Messages, msg)

		if hooks.AfterReply != nil {
			for _, ev := range hooks.AfterReply(msg) {
				emit(ev)
			}
		}

		done, err := g.termination.ShouldTerminate(ctx, agent, g.strategyReducer.Reduce(g.History()), hooks.view())
		if err != nil {
			g.logger.Warn("termination check failed", zap.String("agent", agent.Name()), zap.Error(err))
		}
		if done {
			result.Reason = ReasonComplete
			break
		}
	}
	if result.Reason == "" {
		result.Reason = ReasonMaxIterations
		g.logger.Debug("turn stopped at iteration limit", zap.Int("max_iterations", g.cfg.MaxIterations))
	}
	return result, nil
}

// speak 获取 agent 回复并写入历史。中途失败时已收到的片段仍会保留。
func (g *GroupChat) speak(ctx context.Context, agent *Agent, emit func(Event)) (Message, error) {
	start := time.Now()
	name := agent.Name()
	emit(Event{Type: EventAgentStart, Agent: name})

	history := g.History()
	if g.cfg.TokenBudget > 0 {
		history = g.agentReducer.Reduce(history)
	}

	var redact *answerKeyFilter
	if agent.cfg.HideAnswerKey {
		redact = &answerKeyFilter{}
	}
	forward := func(delta string) {
		if redact != nil {
			delta = redact.Write(delta)
		}
		if delta != "" {
			emit(Event{Type: EventContent, Agent: name, Content: delta})
		}
	}

	content, err := g.generate(ctx, agent, history, forward)
	if err != nil {
		if content != "" {
			g.AddMessage(newMessage(llm.RoleAssistant, name, content))
		}
		g.metrics.RecordAgentReply(name, "error", time.Since(start))
		if !errors.Is(err, context.Canceled) {
			emit(errorEvent(name, err))
		}
		return Message{}, err
	}
	if redact != nil {
		if tail := redact.Flush(content); tail != "" {
			emit(Event{Type: EventContent, Agent: name, Content: tail})
		}
	}

	msg := newMessage(llm.RoleAssistant, name, content)
	g.AddMessage(msg)
	emit(Event{Type: EventAgentEnd, Agent: name})
	g.metrics.RecordAgentReply(name, "success", time.Since(start))
	return msg, nil
}

// generate 取得完整回复，内容按到达顺序交给 forward。DisableStreaming 时
// 使用阻塞调用，整段回复作为一个片段。
func (g *GroupChat) generate(ctx context.Context, agent *Agent, history []Message, forward func(string)) (string, error) {
	if g.cfg.DisableStreaming {
		msg, err := agent.Reply(ctx, history)
		if err != nil {
			return "", err
		}
		forward(msg.Content)
		return msg.Content, nil
	}

	ch, err := agent.Stream(ctx, history)
	if err != nil {
		return "", err
	}
	content, err := llm.CollectStream(ctx, ch, forward)
	if err != nil {
		return content, fmt.Errorf("%s stream: %w", agent.Name(), err)
	}
	return content, nil
}
