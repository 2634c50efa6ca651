package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseDone 流结束标记
const sseDone = "[DONE]"

// sseWriter 以 `data: <json>\n\n` 帧写出 Server-Sent Events
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter 在底层 writer 不支持 Flush 时返回 false
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: f}, true
}

// start 写出 SSE 响应头
func (s *sseWriter) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// send 写出一帧 JSON 数据
func (s *sseWriter) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sse frame: %w", err)
	}
	return s.raw(payload)
}

// done 写出结束标记
func (s *sseWriter) done() error {
	return s.raw([]byte(sseDone))
}

func (s *sseWriter) raw(payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
