package tutor

import "time"

// Metrics 接收会话层的业务指标，internal/metrics.Collector 实现了该接口
type Metrics interface {
	RecordStateTransition(from, to string)
	RecordQuizAnswer(result string)
	RecordReviewTriggered()
	RecordAgentReply(agent, status string, duration time.Duration)
	SetActiveSessions(n int)
}

// 答题结果标签
const (
	AnswerCorrect   = "correct"
	AnswerWrong     = "wrong"
	AnswerUnmatched = "unmatched"
)

type nopMetrics struct{}

func (nopMetrics) RecordStateTransition(string, string)           {}
func (nopMetrics) RecordQuizAnswer(string)                        {}
func (nopMetrics) RecordReviewTriggered()                         {}
func (nopMetrics) RecordAgentReply(string, string, time.Duration) {}
func (nopMetrics) SetActiveSessions(int)                          {}
