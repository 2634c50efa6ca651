package api

import (
	"time"

	"github.com/BaSui01/tutorflow/tracker"
	"github.com/BaSui01/tutorflow/tutor"
)

// =============================================================================
// 聊天透传类型
// =============================================================================

// ChatMessage 对话消息
// @Description 对话消息结构
type ChatMessage struct {
	// 消息角色（system、user、assistant）
	Role string `json:"role" example:"user" binding:"required"`
	// 消息内容
	Content string `json:"content" example:"What is a terrier?"`
}

// ChatRequest 透传聊天请求
// @Description 直接发给主模型的对话
type ChatRequest struct {
	// 对话消息
	Messages []ChatMessage `json:"messages" binding:"required"`
	// 采样温度（0-2），缺省 0.7
	Temperature *float32 `json:"temperature,omitempty" example:"0.7"`
	// 生成的最大 token 数
	MaxTokens int `json:"max_tokens,omitempty" example:"1024"`
}

// ChatResponse 透传聊天响应
// @Description 主模型的完整回复
type ChatResponse struct {
	Response string    `json:"response"`
	Model    string    `json:"model,omitempty"`
	Usage    ChatUsage `json:"usage"`
}

// ChatUsage token 使用统计
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// =============================================================================
// 会话类型
// =============================================================================

// MessageRequest 发给会话的一条学生输入
// @Description 学生输入
type MessageRequest struct {
	Content string `json:"content" example:"quiz me on terriers" binding:"required"`
}

// SessionResponse 会话概览
// @Description 状态、主题、待答题目与学习表现
type SessionResponse struct {
	ID          string          `json:"id"`
	State       tutor.State     `json:"state"`
	Topic       string          `json:"topic,omitempty"`
	PendingQuiz string          `json:"pending_quiz,omitempty"`
	Performance tracker.Summary `json:"performance"`
	Messages    int             `json:"messages"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewSessionResponse 由会话摘要构造响应
func NewSessionResponse(sum tutor.SessionSummary) SessionResponse {
	return SessionResponse{
		ID:          sum.ID,
		State:       sum.State,
		Topic:       sum.Topic,
		PendingQuiz: sum.PendingQuiz,
		Performance: sum.Performance,
		Messages:    sum.Messages,
		CreatedAt:   sum.CreatedAt,
		UpdatedAt:   sum.UpdatedAt,
	}
}

// SessionListResponse 最近更新的会话
type SessionListResponse struct {
	Sessions []string `json:"sessions"`
	Total    int      `json:"total"`
}

// AttemptResponse 一次判分记录
type AttemptResponse struct {
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	CorrectAnswer string    `json:"correct_answer,omitempty"`
	Correct       bool      `json:"correct"`
	Topics        []string  `json:"topics,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttemptListResponse 会话的判分记录
type AttemptListResponse struct {
	SessionID string            `json:"session_id"`
	Attempts  []AttemptResponse `json:"attempts"`
}

// =============================================================================
// 流式帧
// =============================================================================

// StreamFrame 会话流中的一帧，SSE 与 WebSocket 共用。
// 每帧只携带一个非空字段，State 与 Exit 只出现在结束帧。
// @Description 会话事件帧
type StreamFrame struct {
	Agent   string      `json:"agent,omitempty"`
	Content string      `json:"content,omitempty"`
	System  string      `json:"system,omitempty"`
	Warning string      `json:"warning,omitempty"`
	Error   string      `json:"error,omitempty"`
	State   tutor.State `json:"state,omitempty"`
	Exit    bool        `json:"exit,omitempty"`
}

// FrameFromEvent 把会话事件转成流式帧，不需要下发的事件返回 false
func FrameFromEvent(ev tutor.Event) (StreamFrame, bool) {
	switch ev.Type {
	case tutor.EventAgentStart:
		return StreamFrame{Agent: ev.Agent}, true
	case tutor.EventContent:
		if ev.Content == "" {
			return StreamFrame{}, false
		}
		return StreamFrame{Content: ev.Content}, true
	case tutor.EventSystem:
		return StreamFrame{System: ev.Content}, true
	case tutor.EventWarning:
		return StreamFrame{Warning: ev.Content}, true
	case tutor.EventError:
		return StreamFrame{Error: ev.Content}, true
	case tutor.EventDone:
		return StreamFrame{State: ev.State, Exit: ev.Exit}, true
	default:
		return StreamFrame{}, false
	}
}

// ErrorDetail 流中或 WebSocket 中的错误
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
