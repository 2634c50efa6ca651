package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/tutorflow/llm"
	"github.com/BaSui01/tutorflow/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func userTurn(content string) *llm.ChatRequest {
	return &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: content}}}
}

func okResponse(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
		ID:    "resp-1",
		Model: "gpt-4o",
		Choices: []providers.OpenAICompatChoice{
			{Index: 0, FinishReason: "stop", Message: providers.OpenAICompatMessage{Role: "assistant", Content: content}},
		},
		Usage:   &providers.OpenAICompatUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		Created: 1700000000,
	})
}

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	p := New(Config{ProviderName: "primary"}, nil)
	require.NotNil(t, p)
	assert.Equal(t, "/v1/chat/completions", p.Cfg.EndpointPath)
	assert.Equal(t, "/v1/models", p.Cfg.ModelsEndpoint)
	assert.Equal(t, "primary", p.Name())
	assert.NotNil(t, p.Client)
	assert.NotNil(t, p.Logger)

	az := New(Config{ProviderName: "az", Azure: &AzureConfig{Deployment: "gpt4o"}}, nil)
	assert.Equal(t, "2024-08-01-preview", az.Cfg.Azure.APIVersion)
}

func TestProvider_URLs(t *testing.T) {
	p := New(Config{BaseURL: "https://api.example.com/"}, nil)
	assert.Equal(t, "https://api.example.com/v1/chat/completions", p.chatURL())
	assert.Equal(t, "https://api.example.com/v1/models", p.modelsURL())

	az := New(Config{
		BaseURL: "https://res.openai.azure.com",
		Azure:   &AzureConfig{Deployment: "gpt-4o", APIVersion: "2024-06-01"},
	}, nil)
	assert.Equal(t, "https://res.openai.azure.com/openai/deployments/gpt-4o/chat/completions?api-version=2024-06-01", az.chatURL())
	assert.Equal(t, "https://res.openai.azure.com/openai/models?api-version=2024-06-01", az.modelsURL())
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func TestProvider_Completion_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body providers.OpenAICompatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		assert.InDelta(t, 0.7, body.Temperature, 1e-6)
		assert.Equal(t, 1000, body.MaxTokens)
		if assert.Len(t, body.Messages, 2) {
			assert.Equal(t, "Quiz_Creator", body.Messages[1].Name)
		}

		okResponse(w, "Hello!")
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", APIKey: "test-key", BaseURL: server.URL, DefaultModel: "gpt-4o"}, zap.NewNop())
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Hi"},
			{Role: llm.RoleAssistant, Content: "Q1", Name: "Quiz Creator"},
		},
		MaxTokens:   1000,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, "test", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestProvider_Completion_Azure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/o1/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-12-01-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var raw map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.NotContains(t, raw, "model")
		assert.NotContains(t, raw, "temperature")
		assert.NotContains(t, raw, "max_tokens")
		assert.EqualValues(t, 3000, raw["max_completion_tokens"])

		okResponse(w, "analysis")
	}))
	t.Cleanup(server.Close)

	p := New(Config{
		ProviderName: "secondary",
		APIKey:       "azure-key",
		BaseURL:      server.URL,
		Azure:        &AzureConfig{Deployment: "o1", APIVersion: "2024-12-01-preview"},
		Reasoning:    true,
	}, zap.NewNop())

	req := userTurn("analyse")
	req.Temperature = 0.1
	req.MaxTokens = 3000
	resp, err := p.Completion(context.Background(), req)
	require.NoError(t, err)
	choice, err := llm.FirstChoice(resp)
	require.NoError(t, err)
	assert.Equal(t, "analysis", choice.Message.Content)
}

func TestProvider_Completion_HTTPError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantCode   llm.ErrorCode
		retryable  bool
	}{
		{"401 unauthorized", http.StatusUnauthorized, `{"error":{"message":"invalid key","type":"auth"}}`, llm.ErrUnauthorized, false},
		{"429 rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, llm.ErrRateLimited, true},
		{"400 content filter", http.StatusBadRequest, `{"error":{"message":"filtered","code":"content_filter"}}`, llm.ErrContentFiltered, false},
		{"500 server error", http.StatusInternalServerError, `{"error":{"message":"oops"}}`, llm.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			p := New(Config{ProviderName: "test", APIKey: "key", BaseURL: server.URL}, zap.NewNop())
			_, err := p.Completion(context.Background(), userTurn("Hi"))
			require.Error(t, err)
			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.retryable, llmErr.Retryable)
		})
	}
}

func TestProvider_Completion_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "not json")
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", APIKey: "key", BaseURL: server.URL}, zap.NewNop())
	_, err := p.Completion(context.Background(), userTurn("Hi"))
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrUpstreamError, llmErr.Code)
}

func TestProvider_Completion_NoMessages(t *testing.T) {
	p := New(Config{ProviderName: "test"}, zap.NewNop())
	_, err := p.Completion(context.Background(), &llm.ChatRequest{})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrInvalidRequest, llmErr.Code)
}

func TestProvider_Completion_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", BaseURL: server.URL, Timeout: 50 * time.Millisecond}, zap.NewNop())
	_, err := p.Completion(context.Background(), userTurn("Hi"))
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrUpstreamTimeout, llmErr.Code)
	assert.True(t, llmErr.Retryable)
}

func TestProvider_Completion_RequestHook(t *testing.T) {
	var receivedModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body providers.OpenAICompatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		receivedModel = body.Model
		okResponse(w, "ok")
	}))
	t.Cleanup(server.Close)

	p := New(Config{
		ProviderName: "test",
		BaseURL:      server.URL,
		DefaultModel: "default-model",
		RequestHook: func(req *llm.ChatRequest, body *providers.OpenAICompatRequest) {
			body.Model = "hooked-model"
		},
	}, zap.NewNop())

	_, err := p.Completion(context.Background(), userTurn("Hi"))
	require.NoError(t, err)
	assert.Equal(t, "hooked-model", receivedModel)
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func TestProvider_Stream_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		chunks := []providers.OpenAICompatResponse{
			{ID: "s1", Model: "m"}, // Azure prompt_filter_results frame
			{ID: "s1", Model: "m", Choices: []providers.OpenAICompatChoice{
				{Index: 0, Delta: &providers.OpenAICompatMessage{Role: "assistant", Content: "Hel"}},
			}},
			{ID: "s1", Model: "m", Choices: []providers.OpenAICompatChoice{
				{Index: 0, Delta: &providers.OpenAICompatMessage{Content: "lo"}},
			}},
			{ID: "s1", Model: "m", Choices: []providers.OpenAICompatChoice{
				{Index: 0, FinishReason: "stop", Delta: &providers.OpenAICompatMessage{}},
			}},
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		for _, c := range chunks {
			data, _ := json.Marshal(c)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", APIKey: "key", BaseURL: server.URL}, zap.NewNop())
	ch, err := p.Stream(context.Background(), userTurn("Hi"))
	require.NoError(t, err)

	var content, lastFinish string
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		content += chunk.Delta.Content
		if chunk.FinishReason != "" {
			lastFinish = chunk.FinishReason
		}
	}
	assert.Equal(t, "Hello", content)
	assert.Equal(t, "stop", lastFinish)
}

func TestProvider_Stream_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", APIKey: "key", BaseURL: server.URL}, zap.NewNop())
	_, err := p.Stream(context.Background(), userTurn("Hi"))
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrRateLimited, llmErr.Code)
}

func TestProvider_Stream_MalformedFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json}\n\n")
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", BaseURL: server.URL}, zap.NewNop())
	ch, err := p.Stream(context.Background(), userTurn("Hi"))
	require.NoError(t, err)

	_, err = llm.CollectStream(context.Background(), ch, nil)
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrUpstreamError, llmErr.Code)
}

// ---------------------------------------------------------------------------
// HealthCheck
// ---------------------------------------------------------------------------

func TestProvider_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			fmt.Fprint(w, `{"object":"list","data":[]}`)
		}))
		t.Cleanup(server.Close)

		p := New(Config{ProviderName: "test", BaseURL: server.URL}, zap.NewNop())
		status, err := p.HealthCheck(context.Background())
		require.NoError(t, err)
		assert.True(t, status.Healthy)
	})

	t.Run("unhealthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
		}))
		t.Cleanup(server.Close)

		p := New(Config{ProviderName: "test", BaseURL: server.URL}, zap.NewNop())
		status, err := p.HealthCheck(context.Background())
		require.Error(t, err)
		assert.False(t, status.Healthy)
	})
}
