package tutor

// EventType 轮次事件类型
type EventType string

const (
	EventAgentStart EventType = "agent_start"
	EventContent    EventType = "content"
	EventAgentEnd   EventType = "agent_end"
	EventSystem     EventType = "system"
	EventWarning    EventType = "warning"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Event 流式输出给客户端的单个事件
type Event struct {
	Type    EventType `json:"type"`
	Agent   string    `json:"agent,omitempty"`
	Content string    `json:"content,omitempty"`
	// State 仅在 done 事件中携带轮次结束时的会话状态
	State State `json:"state,omitempty"`
	// Exit 表示用户要求结束对话
	Exit bool `json:"exit,omitempty"`
}

func systemEvent(content string) Event {
	return Event{Type: EventSystem, Content: content}
}

func warningEvent(content string) Event {
	return Event{Type: EventWarning, Content: content}
}

func errorEvent(agent string, err error) Event {
	return Event{Type: EventError, Agent: agent, Content: err.Error()}
}
