package tutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/tutorflow/llm"
	"go.uber.org/zap"
)

// TurnView 是策略做决定时看到的会话信号
type TurnView struct {
	State            State
	ConsecutiveWrong int
	ProblemTopics    []string
	// ReviewNeeded 对应 tracker.ShouldTriggerReview
	ReviewNeeded bool
	// AwaitingQuestion 测验中、没有待答题目且无需复习
	AwaitingQuestion bool
}

// SelectionStrategy 选择下一位发言的 agent
type SelectionStrategy interface {
	Next(ctx context.Context, agents []*Agent, history []Message, view TurnView) (*Agent, error)
}

// TerminationStrategy 判断 agent 发言后本轮是否结束
type TerminationStrategy interface {
	ShouldTerminate(ctx context.Context, agent *Agent, history []Message, view TurnView) (bool, error)
}

func findAgent(agents []*Agent, name string) *Agent {
	for _, a := range agents {
		if strings.EqualFold(a.Name(), name) {
			return a
		}
	}
	return nil
}

func lastMessage(history []Message) (Message, bool) {
	if len(history) == 0 {
		return Message{}, false
	}
	return history[len(history)-1], true
}

// spokeSinceUser 报告 name 是否在最近一条用户消息之后发过言
func spokeSinceUser(history []Message, name string) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return false
		}
		if history[i].Name == name {
			return true
		}
	}
	return false
}

// avoidLastAuthor 在存在其他 agent 时不让上一条消息的作者连续发言
func avoidLastAuthor(chosen *Agent, agents []*Agent, history []Message, initial string) *Agent {
	last, ok := lastMessage(history)
	if !ok || chosen == nil || len(agents) < 2 || !strings.EqualFold(chosen.Name(), last.Name) {
		return chosen
	}
	if a := findAgent(agents, initial); a != nil && !strings.EqualFold(a.Name(), last.Name) {
		return a
	}
	for _, a := range agents {
		if !strings.EqualFold(a.Name(), last.Name) {
			return a
		}
	}
	return chosen
}

// =============================================================================
// 📏 规则选择
// =============================================================================

// RuleSelection 确定性选择：用户发言后轮到 Tutor；复习状态下的系统消息交给
// Evaluator；Evaluator 之后回到 Tutor；测验中缺题时交给 QuizCreator；
// 需要复习且 Evaluator 本轮尚未发言时交给 Evaluator。
type RuleSelection struct {
	Initial string
}

// Next 实现 SelectionStrategy
func (s RuleSelection) Next(_ context.Context, agents []*Agent, history []Message, view TurnView) (*Agent, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agents available")
	}
	initial := s.Initial
	if initial == "" {
		initial = TutorName
	}
	pick := func(name string) *Agent {
		if a := findAgent(agents, name); a != nil {
			return a
		}
		if a := findAgent(agents, initial); a != nil {
			return a
		}
		return agents[0]
	}

	last, ok := lastMessage(history)
	var chosen *Agent
	switch {
	case !ok || last.Role == llm.RoleUser:
		chosen = pick(initial)
	case last.Role == llm.RoleSystem:
		if view.State == StateReview {
			chosen = pick(EvaluatorName)
		} else {
			chosen = pick(initial)
		}
	case last.Name == EvaluatorName, last.Name == QuizCreatorName:
		chosen = pick(TutorName)
	case view.AwaitingQuestion:
		chosen = pick(QuizCreatorName)
	case view.ReviewNeeded && !spokeSinceUser(history, EvaluatorName):
		chosen = pick(EvaluatorName)
	default:
		chosen = pick(initial)
	}
	return avoidLastAuthor(chosen, agents, history, initial), nil
}

// =============================================================================
// 🧠 模型选择
// =============================================================================

// PromptSelection 让模型根据会话信号选出下一位发言者。模型调用失败时使用
// Fallback，无 Fallback 时回落到 Initial。
type PromptSelection struct {
	Provider llm.Provider
	Model    string
	Initial  string
	Fallback SelectionStrategy
	Logger   *zap.Logger
}

// Next 实现 SelectionStrategy
func (s PromptSelection) Next(ctx context.Context, agents []*Agent, history []Message, view TurnView) (*Agent, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agents available")
	}
	initial := s.Initial
	if initial == "" {
		initial = TutorName
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	resp, err := s.Provider.Completion(ctx, &llm.ChatRequest{
		Model:       s.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: SelectionPrompt(agents, history, view)}},
		MaxTokens:   20,
		Temperature: 0,
		Metadata:    map[string]string{"purpose": "selection"},
	})
	if err != nil {
		logger.Warn("selection prompt failed, using fallback", zap.Error(err))
		if s.Fallback != nil {
			return s.Fallback.Next(ctx, agents, history, view)
		}
		return avoidLastAuthor(findAgentOr(agents, initial), agents, history, initial), nil
	}

	reply := ""
	if choice, err := llm.FirstChoice(resp); err == nil {
		reply = choice.Message.Content
	}
	chosen := ParseAgentName(reply, agents)
	if chosen == nil {
		logger.Debug("selection reply names no agent", zap.String("reply", reply))
		chosen = findAgentOr(agents, initial)
	}
	return avoidLastAuthor(chosen, agents, history, initial), nil
}

func findAgentOr(agents []*Agent, name string) *Agent {
	if a := findAgent(agents, name); a != nil {
		return a
	}
	return agents[0]
}

// ParseAgentName 从模型回复中识别 agent 名：先整体匹配，再按出现位置匹配
func ParseAgentName(reply string, agents []*Agent) *Agent {
	cleaned := strings.Trim(strings.TrimSpace(reply), "\"'`*.:#- \n")
	if a := findAgent(agents, cleaned); a != nil {
		return a
	}
	lower := strings.ToLower(reply)
	var best *Agent
	bestIdx := -1
	for _, a := range agents {
		idx := strings.Index(lower, strings.ToLower(a.Name()))
		if idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			best, bestIdx = a, idx
		}
	}
	return best
}

// SelectionPrompt 构造选择提示词
func SelectionPrompt(agents []*Agent, history []Message, view TurnView) string {
	var b strings.Builder
	b.WriteString("Examine the provided RESPONSE, CHAT HISTORY, and STUDENT PERFORMANCE to choose the next participant.\n")
	b.WriteString("State only the name of the chosen participant without explanation.\n")
	b.WriteString("Never choose the participant named in the RESPONSE.\n\n")
	b.WriteString("Choose only from these participants:\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s\n", a.Name())
	}
	b.WriteString("\nRules:\n")
	fmt.Fprintf(&b, "- If RESPONSE is from user input, it is %s's turn.\n", TutorName)
	fmt.Fprintf(&b, "- If RESPONSE is a system review request, choose %s to analyze.\n", EvaluatorName)
	fmt.Fprintf(&b, "- If STUDENT PERFORMANCE shows 3+ consecutive wrong answers, choose %s to analyze.\n", EvaluatorName)
	fmt.Fprintf(&b, "- If RESPONSE is by %s, it is %s's turn.\n", EvaluatorName, TutorName)
	fmt.Fprintf(&b, "- If AWAITING QUESTION is yes and RESPONSE is by %s, choose %s.\n", TutorName, QuizCreatorName)
	fmt.Fprintf(&b, "- If a pattern of topic-specific errors is detected, choose %s for analysis.\n", EvaluatorName)
	fmt.Fprintf(&b, "- Otherwise, choose %s.\n\n", TutorName)

	fmt.Fprintf(&b, "CURRENT STATE: %s\n", view.State)
	fmt.Fprintf(&b, "CONSECUTIVE WRONG ANSWERS: %d\n", view.ConsecutiveWrong)
	fmt.Fprintf(&b, "PROBLEM TOPICS: %s\n", strings.Join(view.ProblemTopics, ", "))
	fmt.Fprintf(&b, "AWAITING QUESTION: %s\n\n", yesNo(view.AwaitingQuestion))

	b.WriteString("CHAT HISTORY:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Author(), m.Content)
	}
	b.WriteString("\nRESPONSE:\n")
	if last, ok := lastMessage(history); ok {
		fmt.Fprintf(&b, "%s: %s\n", last.Author(), last.Content)
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// =============================================================================
// 🛑 终止策略
// =============================================================================

// DefaultTerminationKeyword 模型判定回复令人满意时给出的关键字
const DefaultTerminationKeyword = "complete"

// PromptTermination 让模型判断 Agents 中的 agent 的最新回复是否令人满意，
// 回复包含 Keyword 时结束本轮。模型调用失败时结束本轮。
type PromptTermination struct {
	Provider llm.Provider
	Model    string
	Keyword  string
	Agents   []string
}

// ShouldTerminate 实现 TerminationStrategy
func (t PromptTermination) ShouldTerminate(ctx context.Context, agent *Agent, history []Message, _ TurnView) (bool, error) {
	if !appliesTo(t.Agents, agent) {
		return false, nil
	}
	keyword := t.Keyword
	if keyword == "" {
		keyword = DefaultTerminationKeyword
	}
	last, _ := lastMessage(history)

	resp, err := t.Provider.Completion(ctx, &llm.ChatRequest{
		Model:       t.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: TerminationPrompt(keyword, last)}},
		MaxTokens:   10,
		Temperature: 0,
		Metadata:    map[string]string{"purpose": "termination"},
	})
	if err != nil {
		return true, err
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return true, err
	}
	return strings.Contains(strings.ToLower(choice.Message.Content), strings.ToLower(keyword)), nil
}

// TerminationPrompt 构造终止判定提示词
func TerminationPrompt(keyword string, last Message) string {
	var b strings.Builder
	b.WriteString("Examine the RESPONSE and determine whether the content has been deemed satisfactory.\n")
	fmt.Fprintf(&b, "If the content is satisfactory, respond with a single word without explanation: %s.\n", keyword)
	b.WriteString("If specific suggestions are being provided, it is not satisfactory.\n")
	b.WriteString("If no correction is suggested, it is satisfactory.\n")
	fmt.Fprintf(&b, "If the %s agent has just provided analysis and the %s hasn't responded yet, respond with: no.\n\n", EvaluatorName, TutorName)
	b.WriteString("RESPONSE:\n")
	fmt.Fprintf(&b, "%s: %s\n", last.Author(), last.Content)
	return b.String()
}

// RuleTermination Agents 中的 agent 发言后立即结束本轮
type RuleTermination struct {
	Agents []string
}

// ShouldTerminate 实现 TerminationStrategy
func (t RuleTermination) ShouldTerminate(_ context.Context, agent *Agent, _ []Message, _ TurnView) (bool, error) {
	return appliesTo(t.Agents, agent), nil
}

func appliesTo(names []string, agent *Agent) bool {
	if agent == nil {
		return false
	}
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if strings.EqualFold(n, agent.Name()) {
			return true
		}
	}
	return false
}

// quizAwareTermination 叠加测验流程的硬性规则：QuizCreator 出题后等待
// 作答；测验缺题或 Evaluator 刚分析完时不结束；其余交给 inner。
type quizAwareTermination struct {
	inner          TerminationStrategy
	hasQuizCreator bool
}

func (t quizAwareTermination) ShouldTerminate(ctx context.Context, agent *Agent, history []Message, view TurnView) (bool, error) {
	switch agent.Name() {
	case QuizCreatorName:
		return true, nil
	case EvaluatorName:
		return false, nil
	}
	if view.AwaitingQuestion && t.hasQuizCreator {
		return false, nil
	}
	return t.inner.ShouldTerminate(ctx, agent, history, view)
}
