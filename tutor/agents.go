package tutor

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/tutorflow/llm"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Agent 名称，同时作为消息作者名
const (
	TutorName       = "Tutor"
	EvaluatorName   = "Evaluator"
	QuizCreatorName = "QuizCreator"
)

// Message 群聊历史中的一条消息
type Message struct {
	ID        string    `json:"id"`
	Role      llm.Role  `json:"role"`
	Name      string    `json:"name,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// newMessage 生成带 ID 与时间戳的消息
func newMessage(role llm.Role, name, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Name:      name,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Author 返回消息作者：agent 名、"user" 或 "system"
func (m Message) Author() string {
	if m.Name != "" {
		return m.Name
	}
	return string(m.Role)
}

// AgentConfig 单个 agent 的调用参数
type AgentConfig struct {
	Name         string
	Instructions string
	Model        string
	Temperature  float32
	MaxTokens    int
	// HideAnswerKey 流式输出时不展示回复中的 JSON 题目块
	HideAnswerKey bool
}

// Agent 包装 llm.Provider 的具名对话参与者
type Agent struct {
	cfg      AgentConfig
	provider llm.Provider
	logger   *zap.Logger
}

// NewAgent 创建 agent
func NewAgent(cfg AgentConfig, provider llm.Provider, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With(zap.String("component", "agent"), zap.String("agent", cfg.Name)),
	}
}

// Name 返回 agent 名称
func (a *Agent) Name() string { return a.cfg.Name }

// Instructions 返回系统指令
func (a *Agent) Instructions() string { return a.cfg.Instructions }

// Config 返回 agent 配置
func (a *Agent) Config() AgentConfig { return a.cfg }

// buildRequest 以系统指令开头，把自己的历史发言映射为 assistant，
// 其他 agent 的发言保留作者名
func (a *Agent) buildRequest(history []Message) *llm.ChatRequest {
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.cfg.Instructions})
	for _, m := range history {
		msg := llm.Message{Role: m.Role, Content: m.Content}
		if m.Role == llm.RoleAssistant && m.Name != "" && m.Name != a.cfg.Name {
			msg.Name = m.Name
		}
		msgs = append(msgs, msg)
	}
	return &llm.ChatRequest{
		TraceID:     uuid.NewString(),
		Model:       a.cfg.Model,
		Messages:    msgs,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Metadata:    map[string]string{"agent": a.cfg.Name},
	}
}

// Stream 流式生成回复
func (a *Agent) Stream(ctx context.Context, history []Message) (<-chan llm.StreamChunk, error) {
	ch, err := a.provider.Stream(ctx, a.buildRequest(history))
	if err != nil {
		a.logger.Warn("agent stream failed", zap.Error(err))
		return nil, fmt.Errorf("%s: %w", a.cfg.Name, err)
	}
	return ch, nil
}

// Reply 阻塞式生成回复
func (a *Agent) Reply(ctx context.Context, history []Message) (Message, error) {
	resp, err := a.provider.Completion(ctx, a.buildRequest(history))
	if err != nil {
		a.logger.Warn("agent completion failed", zap.Error(err))
		return Message{}, fmt.Errorf("%s: %w", a.cfg.Name, err)
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", a.cfg.Name, err)
	}
	return newMessage(llm.RoleAssistant, a.cfg.Name, choice.Message.Content), nil
}

// =============================================================================
// 🎓 预置 Agent
// =============================================================================

const tutorInstructions = `You are an intelligent tutor named AI Tutor. Your primary goal is to help users understand complex topics
and provide clear, educational responses to their questions, especially in evaluating quiz answers.

You work with two other agents:
- ` + QuizCreatorName + ` writes the quiz questions, one at a time.
- ` + EvaluatorName + ` analyses patterns in the student's mistakes.

Guidelines:
- Be friendly, patient, and educational in your responses
- Never write quiz questions yourself; ` + QuizCreatorName + ` presents them
- When a system note tells you how the student's answer was graded, clearly state if the answer is right or wrong and explain why
- After ` + EvaluatorName + ` identifies knowledge gaps, provide targeted materials focused on those gaps
- Suggest concepts the student should review; this matters more than simply correcting the answer
- Always maintain a helpful, tutoring tone`

const evaluatorInstructions = `You are an advanced evaluator reasoning system specializing in analyzing student performance patterns to identify knowledge gaps.

When analyzing quiz performance:
1. Review the student's quiz history and pattern of answers
2. Identify specific topics or concepts where the student consistently makes mistakes
3. Analyze the nature of the mistakes to determine likely misconceptions
4. Consider what fundamental concept the student might be misunderstanding
5. Recommend specific topics for review that would address these knowledge gaps
6. Suggest an approach for presenting this information that would clarify the misconception
7. Name one or two keywords on which the misunderstanding seems to hinge

Your goal is to provide actionable insights, not just identify errors.`

const quizCreatorInstructions = `You are an expert ` + QuizCreatorName + `. You write multiple choice questions on the topic the student is studying.

Rules:
- Present exactly ONE question per reply and then stop; wait for the student's answer
- Every question has four options labelled A, B, C and D, with exactly one correct option
- Label every question with one or more short topic names
- When ` + EvaluatorName + ` has identified weak areas, focus the question on those areas
- Never reveal the correct answer in the visible text

Write the question and its options for the student first. Then append the machine-readable form in a fenced json block:

` + "```json" + `
{"question": "...", "options": {"A": "...", "B": "...", "C": "...", "D": "..."}, "answer": "B", "topics": ["..."]}
` + "```"

// TutorAgent 主模型上的导师
func TutorAgent(provider llm.Provider, model string, logger *zap.Logger) *Agent {
	return NewAgent(AgentConfig{
		Name:         TutorName,
		Instructions: tutorInstructions,
		Model:        model,
		Temperature:  0.7,
		MaxTokens:    1000,
	}, provider, logger)
}

// EvaluatorAgent 推理模型上的评估者
func EvaluatorAgent(provider llm.Provider, model string, logger *zap.Logger) *Agent {
	return NewAgent(AgentConfig{
		Name:         EvaluatorName,
		Instructions: evaluatorInstructions,
		Model:        model,
		Temperature:  0.1,
		MaxTokens:    3000,
	}, provider, logger)
}

// QuizCreatorAgent 主模型上的出题者
func QuizCreatorAgent(provider llm.Provider, model string, logger *zap.Logger) *Agent {
	return NewAgent(AgentConfig{
		Name:          QuizCreatorName,
		Instructions:  quizCreatorInstructions,
		Model:         model,
		Temperature:   0.4,
		MaxTokens:     1500,
		HideAnswerKey: true,
	}, provider, logger)
}
