// =============================================================================
// 📦 测试数据工厂 - Agent 回复样例
// =============================================================================
// 提供 QuizCreator、Evaluator 与 Tutor 的典型回复，以及对应的 LLM 响应与流式块
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/tutorflow/llm"
)

// =============================================================================
// 📝 测验题回复
// =============================================================================

// QuizOptions 默认四个选项
var QuizOptions = map[string]string{
	"A": "Poodle",
	"B": "Jack Russell",
	"C": "Beagle",
	"D": "Greyhound",
}

// QuizReply 返回 QuizCreator 风格的回复：题干说明加一个 ```json 代码块
func QuizReply(n int, answer string, topics ...string) string {
	if len(topics) == 0 {
		topics = []string{"terriers"}
	}
	item := map[string]any{
		"question": fmt.Sprintf("Question %d: which of these is a terrier?", n),
		"options":  QuizOptions,
		"answer":   answer,
		"topics":   topics,
	}
	data, _ := json.Marshal(item)
	return fmt.Sprintf("Here is question %d.\n\n```json\n%s\n```", n, data)
}

// EvaluatorReply 返回 Evaluator 风格的错误模式分析
func EvaluatorReply(topics ...string) string {
	return "Knowledge gaps detected in: " + strings.Join(topics, ", ") +
		". Recommend revisiting breed groups before the next question."
}

// TutorReply 返回 Tutor 的普通讲解
const TutorReply = "Terriers were bred to hunt vermin. Want a quick quiz?"

// =============================================================================
// 🎯 ChatResponse 与 StreamChunk 工厂
// =============================================================================

// SimpleResponse 返回单选项的文本响应
func SimpleResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: "mock",
		Model:    "gpt-4o",
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage:     llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		CreatedAt: time.Now(),
	}
}

// TextChunks 把内容按 size 个字符切成流式块，最后一块带 stop
func TextChunks(content string, size int) []llm.StreamChunk {
	if size <= 0 {
		size = len(content)
	}
	var chunks []llm.StreamChunk
	for start := 0; start < len(content); start += size {
		end := min(start+size, len(content))
		chunks = append(chunks, llm.StreamChunk{
			ID:       "chunk-001",
			Provider: "mock",
			Model:    "gpt-4o",
			Delta:    llm.Message{Role: llm.RoleAssistant, Content: content[start:end]},
		})
	}
	if n := len(chunks); n > 0 {
		chunks[n-1].FinishReason = "stop"
	}
	return chunks
}

// ErrorChunk 返回携带上游错误的流式块
func ErrorChunk(message string) llm.StreamChunk {
	return llm.StreamChunk{Err: &llm.Error{
		Code:      llm.ErrUpstreamError,
		Message:   message,
		Retryable: true,
		Provider:  "mock",
	}}
}
