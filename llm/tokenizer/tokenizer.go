package tokenizer

import "sync"

// Tokenizer 是统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构, 由 tokenizer 包使用
// 以避免与 llm 包的循环依赖。
type Message struct {
	Role    string
	Content string
}

var (
	cache   = make(map[string]Tokenizer)
	cacheMu sync.Mutex
)

// ForModel 返回模型对应的分词器。tiktoken 编码表无法加载时（例如离线环境）
// 回落到字符估算器，结果按模型缓存。
func ForModel(model string) Tokenizer {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if t, ok := cache[model]; ok {
		return t
	}

	var t Tokenizer = NewEstimatorTokenizer(model)
	if tk := NewTiktokenTokenizer(model); tk.init() == nil {
		t = tk
	}
	cache[model] = t
	return t
}
