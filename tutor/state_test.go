package tutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateChat, StateQuiz, true},
		{StateChat, StateReview, false},
		{StateQuiz, StateReview, true},
		{StateQuiz, StateChat, true},
		{StateReview, StateChat, true},
		{StateReview, StateQuiz, true},
		{"bogus", StateChat, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMachine(t *testing.T) {
	var seen [][2]State
	m := NewMachine(func(from, to State) { seen = append(seen, [2]State{from, to}) })
	assert.Equal(t, StateChat, m.Current())

	err := m.Transition(StateReview)
	var invalid ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateChat, invalid.From)
	assert.Equal(t, StateReview, invalid.To)
	assert.Contains(t, err.Error(), "chat -> review")

	require.NoError(t, m.Transition(StateQuiz))
	require.NoError(t, m.Transition(StateQuiz), "self transition is a no-op")
	require.NoError(t, m.Transition(StateReview))
	m.Reset()
	m.Reset()

	assert.Equal(t, StateChat, m.Current())
	assert.Equal(t, [][2]State{
		{StateChat, StateQuiz},
		{StateQuiz, StateReview},
		{StateReview, StateChat},
	}, seen)
}

func TestParseState(t *testing.T) {
	s, err := ParseState("review")
	require.NoError(t, err)
	assert.Equal(t, StateReview, s)

	s, err = ParseState("")
	require.NoError(t, err)
	assert.Equal(t, StateChat, s)

	_, err = ParseState("paused")
	assert.Error(t, err)
}
