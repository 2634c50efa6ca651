package tutor

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrNoQuizItem 回复中没有 JSON 题目块
	ErrNoQuizItem = errors.New("tutor: reply contains no quiz item")
	// ErrInvalidQuizItem 题目块格式不合法
	ErrInvalidQuizItem = errors.New("tutor: invalid quiz item")
)

// quizOptions 题目必须且只能包含的选项
var quizOptions = []string{"A", "B", "C", "D"}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// QuizItem QuizCreator 生成的一道单选题
type QuizItem struct {
	Question    string            `json:"question"`
	Options     map[string]string `json:"options"`
	Answer      string            `json:"answer"`
	Topics      []string          `json:"topics"`
	Explanation string            `json:"explanation,omitempty"`
}

// ParseQuizItem 从 agent 回复中提取并校验题目。优先使用 ```json 代码块，
// 其次退回到回复中第一个 '{' 与最后一个 '}' 之间的内容。
func ParseQuizItem(reply string) (*QuizItem, error) {
	raw := ""
	if m := fencedJSONPattern.FindStringSubmatch(reply); m != nil {
		raw = m[1]
	} else if start, end := strings.Index(reply, "{"), strings.LastIndex(reply, "}"); start >= 0 && end > start {
		raw = reply[start : end+1]
	}
	if raw == "" {
		return nil, ErrNoQuizItem
	}

	var item QuizItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuizItem, err)
	}
	if err := item.normalize(); err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *QuizItem) normalize() error {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return fmt.Errorf("%w: empty question", ErrInvalidQuizItem)
	}

	opts := make(map[string]string, len(q.Options))
	for k, v := range q.Options {
		key := strings.ToUpper(strings.TrimSpace(k))
		opts[key] = strings.TrimSpace(v)
	}
	if len(opts) != len(quizOptions) {
		return fmt.Errorf("%w: want %d options, got %d", ErrInvalidQuizItem, len(quizOptions), len(opts))
	}
	for _, key := range quizOptions {
		if opts[key] == "" {
			return fmt.Errorf("%w: option %s missing", ErrInvalidQuizItem, key)
		}
	}
	q.Options = opts

	answer := NormalizeOption(q.Answer)
	if answer == "" {
		return fmt.Errorf("%w: answer %q is not one of A-D", ErrInvalidQuizItem, q.Answer)
	}
	q.Answer = answer

	seen := make(map[string]bool, len(q.Topics))
	topics := make([]string, 0, len(q.Topics))
	for _, t := range q.Topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		return fmt.Errorf("%w: no topics", ErrInvalidQuizItem)
	}
	q.Topics = topics
	return nil
}

// NormalizeOption 将 "b"、"B)"、"b. text" 之类的写法规整为单个大写字母，
// 无法识别时返回空串
func NormalizeOption(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "("))
	if s == "" {
		return ""
	}
	letter := strings.ToUpper(s[:1])
	if len(s) > 1 {
		next := s[1]
		if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') || (next >= '0' && next <= '9') {
			return ""
		}
	}
	for _, opt := range quizOptions {
		if opt == letter {
			return letter
		}
	}
	return ""
}

// Grade 判断选项是否正确
func (q *QuizItem) Grade(option string) bool {
	return NormalizeOption(option) == q.Answer
}

// OptionKeys 返回排序后的选项字母
func (q *QuizItem) OptionKeys() []string {
	keys := make([]string, 0, len(q.Options))
	for k := range q.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Render 生成面向学生的题面文本
func (q *QuizItem) Render() string {
	var b strings.Builder
	b.WriteString(q.Question)
	for _, k := range q.OptionKeys() {
		fmt.Fprintf(&b, "\n%s) %s", k, q.Options[k])
	}
	return b.String()
}

// =============================================================================
// 🙈 答案隐藏
// =============================================================================

// answerKeyFilter 过滤 QuizCreator 的流式输出：机器可读的题目块（```json 代码块
// 或裸露的 JSON 对象）及其后的内容不会发给学生，完整回复仍写入历史。
type answerKeyFilter struct {
	pending string
	shown   strings.Builder
	hidden  bool
}

// Write 返回可以立即展示的部分。末尾可能构成代码块开头的反引号会暂存到下一段。
func (f *answerKeyFilter) Write(delta string) string {
	if f.hidden {
		return ""
	}
	buf := f.pending + delta
	f.pending = ""

	cut := strings.Index(buf, "```")
	if brace := strings.Index(buf, "{"); brace >= 0 && (cut < 0 || brace < cut) {
		cut = brace
	}
	if cut >= 0 {
		f.hidden = true
		return f.show(buf[:cut])
	}

	keep := 0
	for keep < 2 && keep < len(buf) && buf[len(buf)-1-keep] == '`' {
		keep++
	}
	f.pending = buf[len(buf)-keep:]
	return f.show(buf[:len(buf)-keep])
}

// Flush 在回复结束时调用。没有题目块时返回暂存的文本；有题目块且可见文本
// 里没有题干时返回不含答案的题面。
func (f *answerKeyFilter) Flush(reply string) string {
	if !f.hidden {
		out := f.pending
		f.pending = ""
		return f.show(out)
	}
	item, err := ParseQuizItem(reply)
	if err != nil || strings.Contains(f.shown.String(), item.Question) {
		return ""
	}
	sep := ""
	if shown := f.shown.String(); shown != "" && !strings.HasSuffix(shown, "\n") {
		sep = "\n\n"
	}
	return f.show(sep + item.Render())
}

func (f *answerKeyFilter) show(s string) string {
	f.shown.WriteString(s)
	return s
}
