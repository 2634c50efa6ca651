package tutor

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/tutorflow/llm"
	"github.com/BaSui01/tutorflow/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noChoiceProvider 返回没有任何选项的响应
type noChoiceProvider struct {
	*mocks.MockProvider
}

func (noChoiceProvider) Completion(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{ID: "empty"}, nil
}

func TestAgent_Reply(t *testing.T) {
	provider := mocks.NewSuccessProvider("Terriers were bred to hunt vermin.")
	agent := TutorAgent(provider, "gpt-4o", nil)

	history := []Message{
		newMessage(llm.RoleUser, "", "What is a terrier?"),
		newMessage(llm.RoleAssistant, EvaluatorName, "Gap: breed groups."),
		newMessage(llm.RoleAssistant, TutorName, "Earlier answer."),
	}
	msg, err := agent.Reply(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, TutorName, msg.Name)
	assert.Equal(t, llm.RoleAssistant, msg.Role)
	assert.Equal(t, "Terriers were bred to hunt vermin.", msg.Content)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	call := provider.GetLastCall()
	require.NotNil(t, call)
	assert.False(t, call.Stream)
	require.Len(t, call.Request.Messages, 4)
	assert.Equal(t, llm.RoleSystem, call.Request.Messages[0].Role)
	assert.Equal(t, EvaluatorName, call.Request.Messages[2].Name)
	assert.Empty(t, call.Request.Messages[3].Name, "own messages carry no author name")
	assert.Equal(t, 1000, call.Request.MaxTokens)
}

func TestAgent_ReplyErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider llm.Provider
		want     string
	}{
		{
			name:     "provider error",
			provider: mocks.NewErrorProvider(errors.New("quota exceeded")),
			want:     "Evaluator: quota exceeded",
		},
		{
			name:     "no choices",
			provider: noChoiceProvider{mocks.NewMockProvider()},
			want:     "Evaluator: empty choices",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := EvaluatorAgent(tt.provider, "o1", nil)
			msg, err := agent.Reply(context.Background(), []Message{newMessage(llm.RoleUser, "", "analyse")})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, Message{}, msg)
		})
	}
}

func TestAgent_StreamError(t *testing.T) {
	agent := QuizCreatorAgent(mocks.NewErrorProvider(errors.New("stream refused")), "gpt-4o", nil)
	ch, err := agent.Stream(context.Background(), nil)
	assert.Nil(t, ch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QuizCreator: stream refused")
	assert.True(t, agent.Config().HideAnswerKey)
}
