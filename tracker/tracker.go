// Package tracker accumulates a student's quiz answers and derives the
// signals the tutor uses to decide whether remedial review is needed.
package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTopics is returned by AddQuestion when the topic list is empty.
	ErrNoTopics = errors.New("tracker: question must have at least one topic")

	// ErrSequenceMismatch is matched (via errors.Is) by the error AddAnswer
	// returns when an answer has no question at the same position.
	ErrSequenceMismatch = errors.New("tracker: answer recorded without a matching question")
)

// SequenceMismatchError carries the counts observed when an answer outran
// the recorded questions. The answer itself was still recorded.
type SequenceMismatchError struct {
	Answers   int
	Questions int
}

func (e *SequenceMismatchError) Error() string {
	return fmt.Sprintf("tracker: answer %d has no matching question (%d recorded)", e.Answers, e.Questions)
}

// Is reports whether target is ErrSequenceMismatch.
func (e *SequenceMismatchError) Is(target error) bool {
	return target == ErrSequenceMismatch
}

// Thresholds controls when the tracker flags a student as struggling.
type Thresholds struct {
	MinAttempts      int     `json:"min_attempts" yaml:"min_attempts"`
	WrongFraction    float64 `json:"wrong_fraction" yaml:"wrong_fraction"`
	ConsecutiveWrong int     `json:"consecutive_wrong" yaml:"consecutive_wrong"`
}

// DefaultThresholds returns 3 attempts, 50% wrong, 3 wrong in a row.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAttempts:      3,
		WrongFraction:    0.5,
		ConsecutiveWrong: 3,
	}
}

// Question is a quiz question as seen by the tracker.
type Question struct {
	Text          string   `json:"text"`
	CorrectAnswer string   `json:"correct_answer"`
	Topics        []string `json:"topics"`
}

// Answer is a recorded student answer. It belongs to the question with
// the same index.
type Answer struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
	// Unmatched is set when no question existed at this position when the
	// answer was recorded.
	Unmatched bool `json:"unmatched,omitempty"`
}

// TopicStat counts correct and wrong answers for a single topic.
type TopicStat struct {
	Correct int `json:"correct"`
	Wrong   int `json:"wrong"`
}

// Total returns Correct + Wrong.
func (s TopicStat) Total() int { return s.Correct + s.Wrong }

// WrongFraction returns Wrong / Total, or 0 when there are no attempts.
func (s TopicStat) WrongFraction() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Wrong) / float64(total)
}

// Tracker is a single-session, in-memory accumulator. It is not safe for
// concurrent use; callers that share one across goroutines must lock.
type Tracker struct {
	thresholds Thresholds

	questions        []Question
	answers          []Answer
	topicStats       map[string]*TopicStat
	topicOrder       []string
	consecutiveWrong int
}

// New returns an empty tracker with default thresholds.
func New() *Tracker {
	return NewWithThresholds(DefaultThresholds())
}

// NewWithThresholds returns an empty tracker. Non-positive threshold
// fields fall back to their defaults.
func NewWithThresholds(th Thresholds) *Tracker {
	def := DefaultThresholds()
	if th.MinAttempts <= 0 {
		th.MinAttempts = def.MinAttempts
	}
	if th.WrongFraction <= 0 {
		th.WrongFraction = def.WrongFraction
	}
	if th.ConsecutiveWrong <= 0 {
		th.ConsecutiveWrong = def.ConsecutiveWrong
	}
	t := &Tracker{thresholds: th}
	t.Reset()
	return t
}

// Thresholds returns the thresholds in effect.
func (t *Tracker) Thresholds() Thresholds { return t.thresholds }

// Reset clears all recorded state. Thresholds are kept.
func (t *Tracker) Reset() {
	t.questions = nil
	t.answers = nil
	t.topicStats = make(map[string]*TopicStat)
	t.topicOrder = nil
	t.consecutiveWrong = 0
}

// AddQuestion appends a question. Duplicates are accepted.
func (t *Tracker) AddQuestion(text, correctAnswer string, topics []string) error {
	if len(topics) == 0 {
		return ErrNoTopics
	}
	t.questions = append(t.questions, Question{
		Text:          text,
		CorrectAnswer: correctAnswer,
		Topics:        append([]string(nil), topics...),
	})
	return nil
}

// AddAnswer records an answer and updates the streak and topic counters.
// If there is no question at the answer's position the topic counters are
// left untouched and a *SequenceMismatchError is returned; the answer and
// the streak are recorded regardless.
func (t *Tracker) AddAnswer(text string, correct bool) error {
	t.answers = append(t.answers, Answer{Text: text, Correct: correct})

	if correct {
		t.consecutiveWrong = 0
	} else {
		t.consecutiveWrong++
	}

	idx := len(t.answers) - 1
	if idx >= len(t.questions) {
		t.answers[idx].Unmatched = true
		return &SequenceMismatchError{Answers: len(t.answers), Questions: len(t.questions)}
	}

	t.countTopics(t.questions[idx].Topics, correct)
	return nil
}

func (t *Tracker) countTopics(topics []string, correct bool) {
	for _, topic := range topics {
		stat := t.topicStats[topic]
		if stat == nil {
			stat = &TopicStat{}
			t.topicStats[topic] = stat
			t.topicOrder = append(t.topicOrder, topic)
		}
		if correct {
			stat.Correct++
		} else {
			stat.Wrong++
		}
	}
}

// ConsecutiveWrong returns the length of the trailing run of wrong answers.
func (t *Tracker) ConsecutiveWrong() int { return t.consecutiveWrong }

// QuestionCount returns the number of recorded questions.
func (t *Tracker) QuestionCount() int { return len(t.questions) }

// AnswerCount returns the number of recorded answers.
func (t *Tracker) AnswerCount() int { return len(t.answers) }

// Questions returns a copy of the recorded questions.
func (t *Tracker) Questions() []Question {
	out := make([]Question, len(t.questions))
	for i, q := range t.questions {
		q.Topics = append([]string(nil), q.Topics...)
		out[i] = q
	}
	return out
}

// Answers returns a copy of the recorded answers.
func (t *Tracker) Answers() []Answer {
	return append([]Answer(nil), t.answers...)
}

// TopicStat returns the counters for topic and whether it has been seen.
func (t *Tracker) TopicStat(topic string) (TopicStat, bool) {
	s, ok := t.topicStats[topic]
	if !ok {
		return TopicStat{}, false
	}
	return *s, true
}

// ProblemTopics returns topics with enough attempts and a high enough wrong
// fraction, in the order each topic was first seen.
func (t *Tracker) ProblemTopics() []string {
	var out []string
	for _, topic := range t.topicOrder {
		s := t.topicStats[topic]
		if s.Total() >= t.thresholds.MinAttempts && s.WrongFraction() >= t.thresholds.WrongFraction {
			out = append(out, topic)
		}
	}
	return out
}

// ShouldTriggerReview reports whether the streak or any problem topic
// warrants remedial content.
func (t *Tracker) ShouldTriggerReview() bool {
	return t.consecutiveWrong >= t.thresholds.ConsecutiveWrong || len(t.ProblemTopics()) > 0
}
