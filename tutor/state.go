package tutor

import "fmt"

// State 定义会话所处的教学阶段
type State string

const (
	StateChat   State = "chat"   // 自由对话
	StateQuiz   State = "quiz"   // 测验中
	StateReview State = "review" // 知识缺口复习
)

// validTransitions 定义合法的状态转换；任意状态回到 chat 由 Reset 处理
var validTransitions = map[State][]State{
	StateChat:   {StateQuiz},
	StateQuiz:   {StateReview, StateChat},
	StateReview: {StateChat, StateQuiz},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ParseState 解析状态名
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateChat, StateQuiz, StateReview:
		return State(s), nil
	case "":
		return StateChat, nil
	default:
		return "", fmt.Errorf("unknown tutor state %q", s)
	}
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// TransitionFunc 在每次成功转换后被调用
type TransitionFunc func(from, to State)

// Machine 会话状态机，不是并发安全的，由 Session 加锁
type Machine struct {
	current      State
	onTransition TransitionFunc
}

// NewMachine 创建处于 chat 状态的状态机
func NewMachine(onTransition TransitionFunc) *Machine {
	return &Machine{current: StateChat, onTransition: onTransition}
}

// Current 返回当前状态
func (m *Machine) Current() State { return m.current }

// Transition 切换到 to；同状态转换为空操作
func (m *Machine) Transition(to State) error {
	from := m.current
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return ErrInvalidTransition{From: from, To: to}
	}
	m.current = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return nil
}

// Reset 无条件回到 chat
func (m *Machine) Reset() {
	from := m.current
	m.current = StateChat
	if from != StateChat && m.onTransition != nil {
		m.onTransition(from, StateChat)
	}
}

// restore 从快照恢复状态，不触发回调
func (m *Machine) restore(s State) {
	m.current = s
}
