package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/tutorflow/api"
	"github.com/BaSui01/tutorflow/llm"
	"github.com/BaSui01/tutorflow/types"
	"go.uber.org/zap"
)

// defaultChatTemperature 透传聊天未指定温度时使用
const defaultChatTemperature float32 = 0.7

// =============================================================================
// 💬 透传聊天 Handler
// =============================================================================

// ChatHandler 把对话原样交给主模型，不经过辅导会话
type ChatHandler struct {
	provider llm.Provider
	model    string
	logger   *zap.Logger
}

// NewChatHandler 创建透传聊天处理器，model 为空时由 provider 决定
func NewChatHandler(provider llm.Provider, model string, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		provider: provider,
		model:    model,
		logger:   logger.With(zap.String("component", "chat_handler")),
	}
}

// HandleCompletion 处理 POST /chat
// @Summary 透传聊天
// @Tags 聊天
// @Accept json
// @Produce json
// @Param request body api.ChatRequest true "聊天请求"
// @Success 200 {object} api.ChatResponse "模型回复"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "上游错误"
// @Security ApiKeyAuth
// @Router /chat [post]
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := h.provider.Completion(r.Context(), req)
	if err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}

	h.logger.Info("chat completion",
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, api.ChatResponse{
		Response: choice.Message.Content,
		Model:    resp.Model,
		Usage: api.ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	})
}

// HandleStream 处理 POST /chat/stream，逐块下发 `data: {"content": ...}`，
// 以 `data: [DONE]` 结束；上游出错时下发 `data: {"error": ...}`。
// @Summary 流式透传聊天
// @Tags 聊天
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "聊天请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Security ApiKeyAuth
// @Router /chat/stream [post]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sse, ok := newSSEWriter(w)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	stream, err := h.provider.Stream(r.Context(), req)
	if err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}

	sse.start()
	for chunk := range stream {
		if chunk.Err != nil {
			h.logger.Warn("chat stream failed", zap.Error(chunk.Err))
			_ = sse.send(api.StreamFrame{Error: chunk.Err.Message})
			break
		}
		if chunk.Delta.Content == "" {
			continue
		}
		if err := sse.send(api.StreamFrame{Content: chunk.Delta.Content}); err != nil {
			h.logger.Debug("client went away", zap.Error(err))
			return
		}
	}
	_ = sse.done()
}

// decode 解析并校验请求，失败时已写出错误响应
func (h *ChatHandler) decode(w http.ResponseWriter, r *http.Request) (*llm.ChatRequest, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return nil, false
	}
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, false
	}
	if err := validateChatRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return nil, false
	}

	temperature := defaultChatTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	messages := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = llm.Message{Role: llm.Role(strings.ToLower(m.Role)), Content: m.Content}
	}
	return &llm.ChatRequest{
		Model:       h.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
		Metadata:    map[string]string{"purpose": "passthrough"},
	}, true
}

func validateChatRequest(req *api.ChatRequest) *types.Error {
	if len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "messages cannot be empty")
	}
	for _, m := range req.Messages {
		switch llm.Role(strings.ToLower(m.Role)) {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return types.NewError(types.ErrInvalidRequest, "unsupported message role: "+m.Role)
		}
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}
	if req.MaxTokens < 0 {
		return types.NewError(types.ErrInvalidRequest, "max_tokens must not be negative")
	}
	return nil
}
