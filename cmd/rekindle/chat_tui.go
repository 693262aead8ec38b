package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"rekindle/internal/consumer"
	"rekindle/internal/resume"
)

var (
	youStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	aiStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = lipgloss.NewStyle().Faint(true)
	savedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// streamMsg carries one session update into the bubbletea loop.
type streamMsg consumer.Update

// streamClosedMsg signals the updates channel finished.
type streamClosedMsg struct{}

// savedMsg reports an insight save attempt.
type savedMsg struct{ ok bool }

type chatModel struct {
	session *consumer.Session

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	updates <-chan consumer.Update
	partial string
	status  string
	ready   bool
}

func newChatModel(session *consumer.Session) chatModel {
	input := textarea.New()
	input.Placeholder = "Continue the conversation... (enter to send)"
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	return chatModel{
		session: session,
		input:   input,
		spinner: sp,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textarea.Blink
}

// listen waits for the next session update.
func listen(ch <-chan consumer.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return streamMsg(u)
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		inputHeight := m.input.Height() + 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight-2)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight - 2
		}
		m.input.SetWidth(msg.Width)
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-2),
		); err == nil {
			m.renderer = r
		}
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				break
			}
			updates, err := m.session.Submit(context.Background(), text)
			if err != nil {
				m.status = errStyle.Render(err.Error())
				break
			}
			m.updates = updates
			m.partial = ""
			m.status = ""
			m.input.Reset()
			m.refresh()
			cmds = append(cmds, listen(updates), m.spinner.Tick)

		case tea.KeyCtrlS:
			if idx, ok := m.lastReplyIndex(); ok {
				session := m.session
				cmds = append(cmds, func() tea.Msg {
					return savedMsg{ok: session.SaveInsight(context.Background(), idx)}
				})
			}

		case tea.KeyCtrlR:
			m.session.Reset()
			m.updates = nil
			m.partial = ""
			m.status = statusStyle.Render("session reset")
			m.refresh()
		}

	case streamMsg:
		switch consumer.Update(msg).Kind {
		case consumer.UpdateDelta:
			m.partial = consumer.Update(msg).Partial
		case consumer.UpdateSettled:
			m.partial = ""
		case consumer.UpdateFailed:
			m.partial = ""
			m.status = errStyle.Render(consumer.Update(msg).Err)
		}
		m.refresh()
		// A reset clears m.updates; never arm a listener on a nil channel.
		if m.updates != nil {
			cmds = append(cmds, listen(m.updates))
		}

	case streamClosedMsg:
		m.updates = nil
		m.refresh()

	case savedMsg:
		if msg.ok {
			m.status = savedStyle.Render("insight saved")
		}

	case spinner.TickMsg:
		if m.streaming() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
			m.refresh()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *chatModel) streaming() bool {
	state := m.session.State()
	return state == consumer.StateSending || state == consumer.StateStreaming
}

// lastReplyIndex finds the newest model turn past the greeting.
func (m *chatModel) lastReplyIndex() (int, bool) {
	history := m.session.History()
	for i := len(history) - 1; i >= 1; i-- {
		if history[i].Role == resume.RoleModel {
			return i, true
		}
	}
	return 0, false
}

// refresh rebuilds the transcript view from session state.
func (m *chatModel) refresh() {
	if !m.ready {
		return
	}

	var sb strings.Builder
	for _, turn := range m.session.History() {
		switch turn.Role {
		case resume.RoleUser:
			sb.WriteString(youStyle.Render("You") + "\n")
			sb.WriteString(turn.Content)
			sb.WriteString("\n\n")
		case resume.RoleModel, resume.RoleSystem:
			sb.WriteString(aiStyle.Render("AI") + "\n")
			sb.WriteString(m.markdown(turn.Content))
			sb.WriteString("\n")
		}
	}

	if m.streaming() {
		sb.WriteString(aiStyle.Render("AI") + " " + m.spinner.View() + "\n")
		if m.partial != "" {
			sb.WriteString(m.partial)
			sb.WriteString("\n")
		}
	}

	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m *chatModel) markdown(content string) string {
	if m.renderer == nil {
		return content + "\n"
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}

func (m chatModel) View() string {
	if !m.ready {
		return "loading..."
	}

	footer := m.status
	if footer == "" {
		footer = statusStyle.Render("enter: send · ctrl+s: save insight · ctrl+r: reset · ctrl+c: quit")
	}

	return m.viewport.View() + "\n" + m.input.View() + "\n" + footer
}
