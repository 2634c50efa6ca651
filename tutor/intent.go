package tutor

import (
	"regexp"
	"strings"
)

// IntentKind 用户输入的意图类别
type IntentKind string

const (
	IntentExit        IntentKind = "exit"
	IntentReset       IntentKind = "reset"
	IntentQuizRequest IntentKind = "quiz_request"
	IntentAnswer      IntentKind = "answer"
	IntentMessage     IntentKind = "message"
)

// Intent 分类结果
type Intent struct {
	Kind IntentKind
	// Topic 仅对 quiz_request 有效，未指定时为空
	Topic string
	// Option 仅对 answer 有效，取值 A-D
	Option string
	// Text 去除首尾空白后的原始输入
	Text string
}

var (
	quizRequestPattern = regexp.MustCompile(`(?i)\bquiz me\b(?:\s+on\s+(.+))?`)
	// a / (b) / c. / option d / answer: b / my answer is c
	bareAnswerPattern   = regexp.MustCompile(`(?i)^(?:(?:my\s+)?answer(?:\s+is)?\s*[:\-]?\s*|option\s+)?\(?([a-d])\)?[.!]?$`)
	inlineOptionPattern = regexp.MustCompile(`(?i)\boption\s+\(?([a-d])\)?(?:$|[^a-z0-9])`)
)

// Classify 将一条用户输入归类。匹配顺序：exit/reset、测验请求、答案、普通消息。
func Classify(input string) Intent {
	text := strings.TrimSpace(input)
	lower := strings.ToLower(text)

	switch lower {
	case "exit", "quit":
		return Intent{Kind: IntentExit, Text: text}
	case "reset":
		return Intent{Kind: IntentReset, Text: text}
	}

	if m := quizRequestPattern.FindStringSubmatch(text); m != nil {
		return Intent{Kind: IntentQuizRequest, Topic: cleanTopic(m[1]), Text: text}
	}

	if m := bareAnswerPattern.FindStringSubmatch(text); m != nil {
		return Intent{Kind: IntentAnswer, Option: strings.ToUpper(m[1]), Text: text}
	}
	if m := inlineOptionPattern.FindStringSubmatch(text); m != nil {
		return Intent{Kind: IntentAnswer, Option: strings.ToUpper(m[1]), Text: text}
	}

	return Intent{Kind: IntentMessage, Text: text}
}

func cleanTopic(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ".!?"))
}
