package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstChoice(t *testing.T) {
	tests := []struct {
		name    string
		resp    *ChatResponse
		wantErr bool
		errMsg  string
		want    string
	}{
		{
			name:    "nil response",
			resp:    nil,
			wantErr: true,
			errMsg:  "nil ChatResponse",
		},
		{
			name:    "empty choices",
			resp:    &ChatResponse{Choices: []ChatChoice{}},
			wantErr: true,
			errMsg:  "empty choices",
		},
		{
			name: "multiple choices returns first",
			resp: &ChatResponse{
				Choices: []ChatChoice{
					{Index: 0, Message: Message{Content: "first"}},
					{Index: 1, Message: Message{Content: "second"}},
				},
			},
			want: "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			choice, err := FirstChoice(tt.resp)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, choice.Message.Content)
		})
	}
}

func TestCollectStream(t *testing.T) {
	t.Run("concatenates deltas", func(t *testing.T) {
		ch := make(chan StreamChunk, 4)
		ch <- StreamChunk{Delta: Message{Content: "Photo"}}
		ch <- StreamChunk{Delta: Message{Content: ""}}
		ch <- StreamChunk{Delta: Message{Content: "synthesis"}}
		close(ch)

		var seen []string
		text, err := CollectStream(context.Background(), ch, func(s string) { seen = append(seen, s) })
		require.NoError(t, err)
		assert.Equal(t, "Photosynthesis", text)
		assert.Equal(t, []string{"Photo", "synthesis"}, seen)
	})

	t.Run("stops on error chunk", func(t *testing.T) {
		ch := make(chan StreamChunk, 2)
		ch <- StreamChunk{Delta: Message{Content: "partial"}}
		ch <- StreamChunk{Err: &Error{Code: ErrUpstreamError, Message: "boom"}}
		close(ch)

		text, err := CollectStream(context.Background(), ch, nil)
		require.Error(t, err)
		assert.Equal(t, "partial", text)
		e, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, ErrUpstreamError, e.Code)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := CollectStream(ctx, make(chan StreamChunk), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
