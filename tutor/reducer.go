package tutor

import (
	"github.com/BaSui01/tutorflow/llm/tokenizer"
)

// HistoryReducer 截断历史：先保留最近 TargetCount 条，再按 token 预算从最旧
// 的消息开始丢弃，至少保留一条。零值表示对应限制不生效。
type HistoryReducer struct {
	TargetCount int
	TokenBudget int
	Tokenizer   tokenizer.Tokenizer
}

// Reduce 返回截断后的副本
func (r HistoryReducer) Reduce(history []Message) []Message {
	out := history
	if r.TargetCount > 0 && len(out) > r.TargetCount {
		out = out[len(out)-r.TargetCount:]
	}
	out = append([]Message(nil), out...)

	if r.TokenBudget <= 0 || r.Tokenizer == nil {
		return out
	}
	for len(out) > 1 && r.count(out) > r.TokenBudget {
		out = out[1:]
	}
	return out
}

func (r HistoryReducer) count(msgs []Message) int {
	tm := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		tm[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	n, err := r.Tokenizer.CountMessages(tm)
	if err != nil {
		// 计数失败时按字符粗略估算
		total := 0
		for _, m := range msgs {
			total += len(m.Content) / 4
		}
		return total
	}
	return n
}
