package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/tutorflow/llm"
	"github.com/BaSui01/tutorflow/tracker"
	"github.com/BaSui01/tutorflow/tutor"
	"github.com/BaSui01/tutorflow/tutor/persistence"
	"github.com/BaSui01/tutorflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")

	WriteSuccess(w, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Equal(t, map[string]any{"hello": "world"}, resp.Data)
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrSequenceMismatch, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrSessionNotFound, http.StatusNotFound},
		{types.ErrSessionBusy, http.StatusConflict},
		{types.ErrInvalidTransition, http.StatusConflict},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{types.ErrStoreFailure, http.StatusServiceUnavailable},
		{types.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{types.ErrInternalError, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, types.NewError(tt.code, "boom"), zap.NewNop())

			assert.Equal(t, tt.status, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, "boom", resp.Error.Message)
		})
	}
}

func TestWriteError_ExplicitStatusWins(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusTeapot, types.ErrInvalidRequest, "short and stout", nil)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      types.ErrorCode
		status    int
		retryable bool
	}{
		{"session not found", tutor.ErrSessionNotFound, types.ErrSessionNotFound, http.StatusNotFound, false},
		{"wrapped snapshot miss", fmt.Errorf("load: %w", persistence.ErrNotFound), types.ErrSessionNotFound, http.StatusNotFound, false},
		{"busy", tutor.ErrSessionBusy, types.ErrSessionBusy, http.StatusConflict, true},
		{"empty input", tutor.ErrEmptyInput, types.ErrInvalidRequest, http.StatusBadRequest, false},
		{"sequence mismatch", tracker.ErrSequenceMismatch, types.ErrSequenceMismatch, http.StatusBadRequest, false},
		{"store closed", persistence.ErrStoreClosed, types.ErrStoreFailure, http.StatusServiceUnavailable, false},
		{"llm timeout", &llm.Error{Code: llm.ErrUpstreamTimeout, Message: "slow", Retryable: true}, types.ErrUpstreamTimeout, http.StatusGatewayTimeout, true},
		{"llm unauthorized", &llm.Error{Code: llm.ErrUnauthorized, Message: "bad key", HTTPStatus: 401}, types.ErrUpstreamError, http.StatusBadGateway, false},
		{"llm rate limited", &llm.Error{Code: llm.ErrRateLimited, Message: "slow down", HTTPStatus: 429, Retryable: true}, types.ErrRateLimited, http.StatusTooManyRequests, true},
		{"unknown", errors.New("disk on fire"), types.ErrInternalError, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := ToAPIError(tt.err)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.retryable, apiErr.Retryable)

			w := httptest.NewRecorder()
			WriteError(w, apiErr, nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("types.Error passes through", func(t *testing.T) {
		orig := types.NewError(types.ErrForbidden, "nope")
		assert.Same(t, orig, ToAPIError(fmt.Errorf("wrap: %w", orig)))
	})
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Content string `json:"content"`
	}

	t.Run("valid", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"hi"}`))
		var p payload
		require.NoError(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, "hi", p.Content)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"hi","extra":1}`))
		var p payload
		require.Error(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		var p payload
		require.Error(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		w := httptest.NewRecorder()
		big := `{"content":"` + strings.Repeat("x", maxBodyBytes) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
		var p payload
		require.Error(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		ok          bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON", true},
		{"text/plain", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header.Set("Content-Type", tt.contentType)
			assert.Equal(t, tt.ok, ValidateContentType(w, r, nil))
			if !tt.ok {
				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	rw.Flush()

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.Equal(t, int64(5), rw.BytesWritten)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Same(t, rec, rw.Unwrap())
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	_, _ = rw.Write([]byte("x"))
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.True(t, rw.Written)
}
