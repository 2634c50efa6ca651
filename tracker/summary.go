package tracker

// TopicSummary is one entry of Summary.Topics.
type TopicSummary struct {
	Topic string `json:"topic"`
	TopicStat
}

// Summary is a point-in-time view of a tracker.
type Summary struct {
	TotalQuestions   int            `json:"total_questions"`
	TotalCorrect     int            `json:"total_correct"`
	Accuracy         float64        `json:"accuracy"`
	ConsecutiveWrong int            `json:"consecutive_wrong"`
	Topics           []TopicSummary `json:"topic_performance"`
	ProblemTopics    []string       `json:"problem_topics"`
}

// Summary reports totals over the recorded answers. Accuracy is 0 when
// nothing has been answered.
func (t *Tracker) Summary() Summary {
	total := len(t.answers)
	correct := 0
	for _, a := range t.answers {
		if a.Correct {
			correct++
		}
	}

	var accuracy float64
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}

	topics := make([]TopicSummary, 0, len(t.topicOrder))
	for _, topic := range t.topicOrder {
		topics = append(topics, TopicSummary{Topic: topic, TopicStat: *t.topicStats[topic]})
	}

	problems := t.ProblemTopics()
	if problems == nil {
		problems = []string{}
	}

	return Summary{
		TotalQuestions:   total,
		TotalCorrect:     correct,
		Accuracy:         accuracy,
		ConsecutiveWrong: t.consecutiveWrong,
		Topics:           topics,
		ProblemTopics:    problems,
	}
}

// State is the serialisable form of a tracker, used by session snapshots.
type State struct {
	Thresholds Thresholds `json:"thresholds"`
	Questions  []Question `json:"questions"`
	Answers    []Answer   `json:"answers"`
}

// Export returns the tracker's recorded history.
func (t *Tracker) Export() State {
	return State{
		Thresholds: t.thresholds,
		Questions:  t.Questions(),
		Answers:    t.Answers(),
	}
}

// Restore rebuilds a tracker from exported history. Derived counters are
// recomputed from the answers rather than trusted from storage.
func Restore(s State) *Tracker {
	t := NewWithThresholds(s.Thresholds)
	for _, q := range s.Questions {
		if len(q.Topics) == 0 {
			continue
		}
		_ = t.AddQuestion(q.Text, q.CorrectAnswer, q.Topics)
	}
	for i, a := range s.Answers {
		t.answers = append(t.answers, a)
		if a.Correct {
			t.consecutiveWrong = 0
		} else {
			t.consecutiveWrong++
		}
		if a.Unmatched || i >= len(t.questions) {
			t.answers[i].Unmatched = true
			continue
		}
		t.countTopics(t.questions[i].Topics, a.Correct)
	}
	return t
}
