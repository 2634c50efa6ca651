package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/BaSui01/tutorflow/tutor"
)

// =============================================================================
// 💬 控制台辅导会话
// =============================================================================

const welcomeBanner = `
==================================================
Welcome to your AI Tutor Chat with Pattern Detection!
==================================================
I'm your AI tutor with enhanced reasoning capabilities to help identify misunderstandings.

What topic would you like to learn about today? I can create quizzes and provide information on many subjects.

Some example topics you might choose:
- Dog breeds (classification, characteristics, history)
- Geometry (shapes, theorems, calculations)
- World history (civilizations, events, figures)
- Programming (languages, concepts, algorithms)
- Chemistry (elements, reactions, concepts)
- Literature (authors, periods, analysis)

Simply tell me what interests you, or type 'quiz me on [topic]' to start a quiz right away.
Type 'exit' to end the conversation, 'reset' to start over.
`

const topicPrompt = "What topic would you like to learn about today?"

// ConsoleSessions 控制台需要的会话操作
type ConsoleSessions interface {
	Create(ctx context.Context) (*tutor.Session, error)
	Handle(ctx context.Context, id, input string) (<-chan tutor.Event, error)
}

// Console 在终端里运行单个辅导会话
type Console struct {
	sessions ConsoleSessions
	in       *bufio.Scanner
	out      io.Writer
}

// NewConsole 创建控制台会话
func NewConsole(sessions ConsoleSessions, in io.Reader, out io.Writer) *Console {
	return &Console{sessions: sessions, in: bufio.NewScanner(in), out: out}
}

// Run 读取学生输入直到 exit、输入结束或 ctx 取消
func (c *Console) Run(ctx context.Context) error {
	session, err := c.sessions.Create(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Fprint(c.out, welcomeBanner)

	for {
		fmt.Fprint(c.out, "\nYou: ")
		if !c.in.Scan() {
			fmt.Fprintln(c.out)
			return c.in.Err()
		}
		input := strings.TrimSpace(c.in.Text())
		if input == "" {
			continue
		}

		events, err := c.sessions.Handle(ctx, session.ID(), input)
		if err != nil {
			fmt.Fprintf(c.out, "\nError during chat: %v\n", err)
			continue
		}
		if exit := c.render(events); exit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// render 打印一轮事件，返回学生是否结束会话
func (c *Console) render(events <-chan tutor.Event) bool {
	exit := false
	speaking := false
	for ev := range events {
		switch ev.Type {
		case tutor.EventAgentStart:
			if speaking {
				fmt.Fprintln(c.out)
			}
			fmt.Fprintf(c.out, "\n# %s:\n", ev.Agent)
			speaking = true
		case tutor.EventContent:
			fmt.Fprint(c.out, ev.Content)
		case tutor.EventSystem:
			fmt.Fprintf(c.out, "\n%s\n", ev.Content)
			if ev.Content == tutor.ResetMessage {
				fmt.Fprintf(c.out, "\n%s\n", topicPrompt)
			}
		case tutor.EventWarning:
			fmt.Fprintf(c.out, "\n[Warning: %s]\n", ev.Content)
		case tutor.EventError:
			fmt.Fprintf(c.out, "\nError during chat: %s\n", ev.Content)
		case tutor.EventDone:
			exit = ev.Exit
		}
	}
	if speaking {
		fmt.Fprintln(c.out)
	}
	return exit
}
