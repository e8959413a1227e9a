package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"demo-chatter/internal/conversation"
	"demo-chatter/internal/store"
)

const (
	gap        = "\n"
	helpText   = "enter send • ctrl+n new • tab/shift+tab switch • ctrl+d delete • ctrl+c quit"
	typingText = "Assistant is typing..."
)

type stateMsg store.State

// Model is a bubbletea front-end over a conversation store.
type Model struct {
	store       *store.Store
	updates     chan store.State
	unsubscribe store.Unsubscriber

	state    store.State
	viewport viewport.Model
	textarea textarea.Model
	width    int
	height   int
	status   string
}

// New builds a model over st. It panics on a nil store.
func New(st *store.Store) *Model {
	if st == nil {
		panic("tui: nil store")
	}

	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 2000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	m := &Model{
		store:    st,
		updates:  make(chan store.State, 1),
		state:    st.State(),
		viewport: viewport.New(80, 10),
		textarea: ta,
	}
	m.unsubscribe = st.Watch(m.publish)
	m.refresh()
	return m
}

// publish keeps only the newest snapshot queued; the UI always renders latest state.
func (m *Model) publish(st store.State) {
	for {
		select {
		case m.updates <- st:
			return
		default:
			select {
			case <-m.updates:
			default:
			}
		}
	}
}

func (m *Model) waitForState() tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-m.updates)
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForState())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = store.State(msg)
		m.refresh()
		return m, m.waitForState()
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.unsubscribe()
			return m, tea.Quit
		case tea.KeyEnter:
			m.send()
			return m, nil
		case tea.KeyCtrlN:
			_, err := m.store.StartNewConversation()
			m.afterCommand(err)
			return m, nil
		case tea.KeyCtrlD:
			m.afterCommand(m.store.DeleteConversation(m.state.ActiveConversationID))
			return m, nil
		case tea.KeyTab:
			m.cycle(1)
			return m, nil
		case tea.KeyShiftTab:
			m.cycle(-1)
			return m, nil
		}
	}

	var tiCmd, vpCmd tea.Cmd
	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *Model) send() {
	content := m.textarea.Value()
	if conversation.IsBlank(content) {
		return
	}
	_, err := m.store.SendMessage(content)
	if errors.Is(err, store.ErrReplyPending) {
		m.status = "Wait for the assistant to finish replying."
		return
	}
	m.textarea.Reset()
	m.afterCommand(err)
}

func (m *Model) cycle(step int) {
	convs := m.state.Conversations
	if len(convs) < 2 {
		return
	}
	idx := 0
	for i, c := range convs {
		if c.ID == m.state.ActiveConversationID {
			idx = i
			break
		}
	}
	next := (idx + step + len(convs)) % len(convs)
	m.afterCommand(m.store.SetActiveConversation(convs[next].ID))
}

// afterCommand pulls state synchronously so the view does not wait for the subscription.
func (m *Model) afterCommand(err error) {
	if err != nil {
		m.status = err.Error()
	} else {
		m.status = ""
	}
	m.state = m.store.State()
	m.refresh()
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	chatWidth := width - sidebarWidth - 2
	if chatWidth < 20 {
		chatWidth = 20
	}
	m.textarea.SetWidth(chatWidth)
	m.viewport.Width = chatWidth
	// typing line, status line, help line and the gap
	vpHeight := height - m.textarea.Height() - lipgloss.Height(gap) - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Height = vpHeight
	m.refresh()
}

func (m *Model) refresh() {
	active, ok := m.state.Active()
	if !ok || len(active.Messages) == 0 {
		m.viewport.SetContent("Welcome! Type a message and press Enter to send.")
		return
	}
	lines := make([]string, 0, len(active.Messages))
	for _, msg := range active.Messages {
		lines = append(lines, renderMessage(msg))
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(lines, "\n\n")))
	m.viewport.GotoBottom()
}

func renderMessage(msg conversation.Message) string {
	var b strings.Builder
	if msg.Role == conversation.RoleUser {
		b.WriteString(userStyle.Render("You: "))
	} else {
		b.WriteString(assistantStyle.Render("Assistant: "))
	}
	for _, seg := range splitCodeBlocks(msg.Content) {
		if !seg.code {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString("\n")
		if seg.lang != "" {
			b.WriteString(langStyle.Render(seg.lang) + "\n")
		}
		b.WriteString(codeStyle.Render(seg.text))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) sidebar() string {
	var b strings.Builder
	for i, c := range m.state.Conversations {
		title := c.Title
		if len([]rune(title)) > sidebarWidth-4 {
			title = string([]rune(title)[:sidebarWidth-5]) + "…"
		}
		line := fmt.Sprintf("%d. %s", i+1, title)
		if c.ID == m.state.ActiveConversationID {
			b.WriteString(activeItemStyle.Render("> " + line))
		} else {
			b.WriteString(itemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}
	return sidebarStyle.Height(m.height).Render(b.String())
}

func (m *Model) View() string {
	typing := ""
	if m.state.IsTyping {
		typing = typingStyle.Render(typingText)
	}
	chat := lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewport.View(),
		typing,
		gap,
		m.textarea.View(),
		statusStyle.Render(m.status),
		helpStyle.Render(helpText),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar(), chat)
}

// Run starts the terminal program and blocks until the user quits.
func Run(st *store.Store) error {
	_, err := tea.NewProgram(New(st), tea.WithAltScreen()).Run()
	return err
}
