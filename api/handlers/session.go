package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/tutorflow/api"
	"github.com/BaSui01/tutorflow/tutor"
	"github.com/BaSui01/tutorflow/tutor/persistence"
	"github.com/BaSui01/tutorflow/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 🎓 辅导会话 Handler
// =============================================================================

// SessionService 会话生命周期，由 tutor.Manager 实现
type SessionService interface {
	Create(ctx context.Context) (*tutor.Session, error)
	Get(ctx context.Context, id string) (*tutor.Session, error)
	Handle(ctx context.Context, id, input string) (<-chan tutor.Event, error)
	Reset(ctx context.Context, id string) (*tutor.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]string, error)
	Attempts(ctx context.Context, id string) ([]persistence.Attempt, error)
}

var _ SessionService = (*tutor.Manager)(nil)

// 会话列表默认与最大条数
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// wsReadLimit 单条 WebSocket 消息上限
const wsReadLimit = 64 << 10

// SessionHandler 会话接口处理器
type SessionHandler struct {
	sessions       SessionService
	originPatterns []string
	logger         *zap.Logger
}

// NewSessionHandler 创建会话处理器。originPatterns 为 WebSocket 允许的跨域
// 来源，为空时只接受同源连接。
func NewSessionHandler(sessions SessionService, originPatterns []string, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessions:       sessions,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("component", "session_handler")),
	}
}

// Register 在 mux 上注册会话路由
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions", h.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", h.HandleMessage)
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", h.HandleReset)
	mux.HandleFunc("GET /api/v1/sessions/{id}/attempts", h.HandleAttempts)
	mux.HandleFunc("GET /api/v1/sessions/{id}/ws", h.HandleWebSocket)
}

// HandleCreate 处理 POST /api/v1/sessions
// @Summary 创建会话
// @Tags 会话
// @Produce json
// @Success 201 {object} api.SessionResponse "新会话"
// @Security ApiKeyAuth
// @Router /api/v1/sessions [post]
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create(r.Context())
	if err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, api.NewSessionResponse(s.Summary()))
}

// HandleList 处理 GET /api/v1/sessions?limit=N
// @Summary 最近更新的会话
// @Tags 会话
// @Produce json
// @Param limit query int false "最多返回条数"
// @Success 200 {object} api.SessionListResponse "会话 ID 列表"
// @Security ApiKeyAuth
// @Router /api/v1/sessions [get]
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		limit = min(n, maxListLimit)
	}

	ids, err := h.sessions.List(r.Context(), limit)
	if err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteSuccess(w, api.SessionListResponse{Sessions: ids, Total: len(ids)})
}

// HandleGet 处理 GET /api/v1/sessions/{id}
// @Summary 会话概览
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} api.SessionResponse "会话概览"
// @Failure 404 {object} Response "会话不存在"
// @Security ApiKeyAuth
// @Router /api/v1/sessions/{id} [get]
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, api.NewSessionResponse(s.Summary()))
}

// HandleDelete 处理 DELETE /api/v1/sessions/{id}
// @Summary 删除会话
// @Tags 会话
// @Param id path string true "会话 ID"
// @Success 204 "已删除"
// @Failure 404 {object} Response "会话不存在"
// @Security ApiKeyAuth
// @Router /api/v1/sessions/{id} [delete]
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleReset 处理 POST /api/v1/sessions/{id}/reset
// @Summary 重置会话
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} api.SessionResponse "重置后的会话"
// @Failure 409 {object} Response "会话正在处理消息"
// @Security ApiKeyAuth
// @Router /api/v1/sessions/{id}/reset [post]
func (h *SessionHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, api.NewSessionResponse(s.Summary()))
}

// HandleAttempts 处理 GET /api/v1/sessions/{id}/attempts
// @Summary 判分记录
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} api.AttemptListResponse "判分记录，存储不记录时为空"
// @Security ApiKeyAuth
// @Router /api/v1/sessions/{id}/attempts [get]
func (h *SessionHandler) HandleAttempts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.sessions.Get(r.Context(), id); err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}
	attempts, err := h.sessions.Attempts(r.Context(), id)
	if err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}
	out := api.AttemptListResponse{SessionID: id, Attempts: make([]api.AttemptResponse, 0, len(attempts))}
	for _, a := range attempts {
		out.Attempts = append(out.Attempts, api.AttemptResponse{
			Question:      a.Question,
			Answer:        a.Answer,
			CorrectAnswer: a.CorrectAnswer,
			Correct:       a.Correct,
			Topics:        a.Topics,
			CreatedAt:     a.CreatedAt,
		})
	}
	WriteSuccess(w, out)
}

// HandleMessage 处理 POST /api/v1/sessions/{id}/messages，以 SSE 返回本轮事件：
// 每位 agent 开口时 `data: {"agent": ...}`，回复增量 `data: {"content": ...}`，
// 最后是带会话状态的结束帧与 `data: [DONE]`。
// @Summary 发送学生输入
// @Tags 会话
// @Accept json
// @Produce text/event-stream
// @Param id path string true "会话 ID"
// @Param request body api.MessageRequest true "学生输入"
// @Success 200 {string} string "SSE 流"
// @Failure 404 {object} Response "会话不存在"
// @Failure 409 {object} Response "会话正在处理消息"
// @Security ApiKeyAuth
// @Router /api/v1/sessions/{id}/messages [post]
func (h *SessionHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	sse, ok := newSSEWriter(w)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.MessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "content is required", h.logger)
		return
	}

	// 本轮不随请求取消：客户端断开后仍跑完并写入快照
	id := r.PathValue("id")
	events, err := h.sessions.Handle(context.WithoutCancel(r.Context()), id, req.Content)
	if err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}

	sse.start()
	for ev := range events {
		frame, ok := api.FrameFromEvent(ev)
		if !ok {
			continue
		}
		if err := sse.send(frame); err != nil {
			// 继续消费剩余事件，直到本轮结束
			h.logger.Debug("client went away", zap.String("session_id", id), zap.Error(err))
			drain(events)
			return
		}
	}
	_ = sse.done()
}

// HandleWebSocket 处理 GET /api/v1/sessions/{id}/ws。客户端每发一条
// {"content": ...}，服务端回送本轮全部事件帧；退出意图会以正常关闭结束连接。
// @Summary 会话 WebSocket
// @Tags 会话
// @Param id path string true "会话 ID"
// @Success 101 "协议升级"
// @Failure 404 {object} Response "会话不存在"
// @Security ApiKeyAuth
// @Router /api/v1/sessions/{id}/ws [get]
func (h *SessionHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.sessions.Get(r.Context(), id); err != nil {
		WriteError(w, ToAPIError(err), h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	logger := h.logger.With(zap.String("session_id", id))
	ctx := r.Context()
	for {
		var req api.MessageRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		events, err := h.sessions.Handle(context.WithoutCancel(ctx), id, req.Content)
		if err != nil {
			apiErr := ToAPIError(err)
			if err := wsjson.Write(ctx, conn, api.StreamFrame{Error: apiErr.Message}); err != nil {
				return
			}
			continue
		}

		exit := false
		for ev := range events {
			frame, ok := api.FrameFromEvent(ev)
			if !ok {
				continue
			}
			exit = exit || frame.Exit
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				drain(events)
				return
			}
		}
		if exit {
			conn.Close(websocket.StatusNormalClosure, tutor.GoodbyeMessage)
			return
		}
	}
}

func drain(events <-chan tutor.Event) {
	for range events {
	}
}
