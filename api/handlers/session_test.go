package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/tutorflow/api"
	"github.com/BaSui01/tutorflow/testutil"
	"github.com/BaSui01/tutorflow/testutil/fixtures"
	"github.com/BaSui01/tutorflow/testutil/mocks"
	"github.com/BaSui01/tutorflow/tutor"
	"github.com/BaSui01/tutorflow/tutor/persistence"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionEnv struct {
	mux     *http.ServeMux
	manager *tutor.Manager
	store   *persistence.MemoryStore
	tutor   *mocks.MockProvider
}

func newSessionEnv(t *testing.T) *sessionEnv {
	t.Helper()
	tutorP := mocks.NewSuccessProvider(fixtures.TutorReply).WithName("tutor")
	evaluatorP := mocks.NewSuccessProvider(fixtures.EvaluatorReply("terriers")).WithName("evaluator")
	quizP := mocks.NewSuccessProvider(fixtures.QuizReply(1, "B")).WithName("quiz")

	factory := func() *tutor.GroupChat {
		agents := []*tutor.Agent{
			tutor.TutorAgent(tutorP, "gpt-4o", nil),
			tutor.EvaluatorAgent(evaluatorP, "o1", nil),
			tutor.QuizCreatorAgent(quizP, "gpt-4o", nil),
		}
		return tutor.NewGroupChat(agents, nil, nil, tutor.GroupChatConfig{}, nil, nil)
	}
	store := persistence.NewMemoryStore()
	manager := tutor.NewManager(store, factory, tutor.DefaultManagerConfig(), nil, nil)

	mux := http.NewServeMux()
	NewSessionHandler(manager, nil, nil).Register(mux)
	return &sessionEnv{mux: mux, manager: manager, store: store, tutor: tutorP}
}

func (e *sessionEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	return w
}

func (e *sessionEnv) create(t *testing.T) api.SessionResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeData[api.SessionResponse](t, w)
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.True(t, env.Success)
	return env.Data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func agentsIn(frames []api.StreamFrame) []string {
	var agents []string
	for _, f := range frames {
		if f.Agent != "" {
			agents = append(agents, f.Agent)
		}
	}
	return agents
}

func TestSessionHandler_CreateAndGet(t *testing.T) {
	env := newSessionEnv(t)

	created := env.create(t)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, tutor.StateChat, created.State)
	assert.Zero(t, created.Performance.TotalQuestions)

	w := env.do(t, http.MethodGet, "/api/v1/sessions/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeData[api.SessionResponse](t, w)
	assert.Equal(t, created.ID, got.ID)

	w = env.do(t, http.MethodGet, "/api/v1/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, w))
}

func TestSessionHandler_QuizFlowOverSSE(t *testing.T) {
	env := newSessionEnv(t)
	id := env.create(t).ID
	path := "/api/v1/sessions/" + id

	w := env.do(t, http.MethodPost, path+"/messages", `{"content":"quiz me on terriers"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := sseFrames(t, w.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, sseDone, frames[len(frames)-1])
	decoded := decodeFrames(t, frames)
	assert.Equal(t, []string{tutor.TutorName, tutor.QuizCreatorName}, agentsIn(decoded))
	assert.Equal(t, tutor.StateQuiz, decoded[len(decoded)-1].State)
	var shown strings.Builder
	for _, f := range decoded {
		shown.WriteString(f.Content)
	}
	assert.Contains(t, shown.String(), "Question 1: which of these is a terrier?\nA) Poodle")
	assert.NotContains(t, shown.String(), `"answer"`)

	summary := decodeData[api.SessionResponse](t, env.do(t, http.MethodGet, path, ""))
	assert.Equal(t, tutor.StateQuiz, summary.State)
	assert.Equal(t, "terriers", summary.Topic)
	assert.NotEmpty(t, summary.PendingQuiz)

	w = env.do(t, http.MethodPost, path+"/messages", `{"content":"B"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, path+"/attempts", "")
	require.Equal(t, http.StatusOK, w.Code)
	attempts := decodeData[api.AttemptListResponse](t, w)
	assert.Equal(t, id, attempts.SessionID)
	require.Len(t, attempts.Attempts, 1)
	assert.True(t, attempts.Attempts[0].Correct)
	assert.Equal(t, "B", attempts.Attempts[0].Answer)

	summary = decodeData[api.SessionResponse](t, env.do(t, http.MethodGet, path, ""))
	assert.Equal(t, 1, summary.Performance.TotalQuestions)
	assert.Equal(t, 1, summary.Performance.TotalCorrect)
}

func TestSessionHandler_MessageErrors(t *testing.T) {
	env := newSessionEnv(t)
	id := env.create(t).ID

	w := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/messages", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/sessions/missing/messages", `{"content":"hello"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/messages", strings.NewReader("hello"))
	r.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	assert.Zero(t, env.tutor.GetCallCount())
}

func TestSessionHandler_ResetAndDelete(t *testing.T) {
	env := newSessionEnv(t)
	id := env.create(t).ID
	path := "/api/v1/sessions/" + id

	env.do(t, http.MethodPost, path+"/messages", `{"content":"quiz me on terriers"}`)

	w := env.do(t, http.MethodPost, path+"/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	reset := decodeData[api.SessionResponse](t, w)
	assert.Equal(t, tutor.StateChat, reset.State)
	assert.Empty(t, reset.Topic)
	assert.Empty(t, reset.PendingQuiz)
	assert.Zero(t, reset.Messages)

	w = env.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPost, path+"/reset", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_List(t *testing.T) {
	env := newSessionEnv(t)
	first := env.create(t).ID
	second := env.create(t).ID

	w := env.do(t, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeData[api.SessionListResponse](t, w)
	assert.Equal(t, 2, list.Total)
	assert.ElementsMatch(t, []string{first, second}, list.Sessions)

	w = env.do(t, http.MethodGet, "/api/v1/sessions?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeData[api.SessionListResponse](t, w).Total)

	for _, bad := range []string{"0", "-3", "many"} {
		w = env.do(t, http.MethodGet, "/api/v1/sessions?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestSessionHandler_WebSocket(t *testing.T) {
	env := newSessionEnv(t)
	id := env.create(t).ID
	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	ctx := testutil.TestContext(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + id + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	readTurn := func() []api.StreamFrame {
		var frames []api.StreamFrame
		for {
			var f api.StreamFrame
			require.NoError(t, wsjson.Read(ctx, conn, &f))
			frames = append(frames, f)
			if f.State != "" {
				return frames
			}
		}
	}

	require.NoError(t, wsjson.Write(ctx, conn, api.MessageRequest{Content: "what is a terrier?"}))
	frames := readTurn()
	assert.Equal(t, []string{tutor.TutorName}, agentsIn(frames))
	var content strings.Builder
	for _, f := range frames {
		content.WriteString(f.Content)
	}
	assert.Equal(t, fixtures.TutorReply, content.String())
	assert.Equal(t, tutor.StateChat, frames[len(frames)-1].State)

	require.NoError(t, wsjson.Write(ctx, conn, api.MessageRequest{Content: ""}))
	var errFrame api.StreamFrame
	require.NoError(t, wsjson.Read(ctx, conn, &errFrame))
	assert.NotEmpty(t, errFrame.Error)

	require.NoError(t, wsjson.Write(ctx, conn, api.MessageRequest{Content: "exit"}))
	frames = readTurn()
	last := frames[len(frames)-1]
	assert.True(t, last.Exit)
	assert.Equal(t, tutor.GoodbyeMessage, frames[0].System)

	var extra api.StreamFrame
	err = wsjson.Read(ctx, conn, &extra)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestSessionHandler_WebSocketUnknownSession(t *testing.T) {
	env := newSessionEnv(t)
	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/missing/ws"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionHandler_TurnOutlivesRequest(t *testing.T) {
	env := newSessionEnv(t)
	env.tutor.WithDelay(150 * time.Millisecond)
	id := env.create(t).ID
	path := "/api/v1/sessions/" + id

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodPost, path+"/messages", strings.NewReader(`{"content":"terriers"}`)).WithContext(ctx)
	r.Header.Set("Content-Type", "application/json")
	w := &brokenStream{ResponseRecorder: httptest.NewRecorder(), cancel: cancel}

	env.mux.ServeHTTP(w, r)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	// 断开后 Tutor 的回复照常写入历史与快照
	assert.Equal(t, 1, env.tutor.GetCallCount())
	s, err := env.manager.Get(context.Background(), id)
	require.NoError(t, err)
	history := s.History()
	require.NotEmpty(t, history)
	assert.Equal(t, fixtures.TutorReply, history[len(history)-1].Content)

	snap, err := env.store.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "terriers", snap.Topic)
	assert.Equal(t, "chat", snap.State)
}

// brokenStream 在写出响应头后模拟客户端断开：取消请求并让后续写入失败
type brokenStream struct {
	*httptest.ResponseRecorder
	cancel context.CancelFunc
	writes int
}

func (b *brokenStream) Write(p []byte) (int, error) {
	b.writes++
	if b.writes > 1 {
		b.cancel()
		return 0, errors.New("client went away")
	}
	return b.ResponseRecorder.Write(p)
}
