package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"forumchat/internal/chat"
	"forumchat/internal/models"
	"forumchat/internal/websocket"
)

// Actions are the user actions of the chat client. They are invoked on the
// event loop through the model's post function.
type Actions interface {
	OpenConversation(peerID string)
	CloseConversation()
	ScrolledToTop()
	InputChanged(text string)
	InputBlurred()
	SendMessage(text string) error
	DismissNotification(id string)
	ActivateNotification(id string)
	Logout()
}

type pane int

const (
	paneSidebar pane = iota
	paneChat
)

type Model struct {
	self    string
	actions Actions
	post    func(func())
	bridge  *Bridge

	width        int
	height       int
	sidebarWidth int
	focusedPane  pane

	online   []models.User
	offline  []models.User
	selected int

	peerID     string
	peerName   string
	history    []models.Message
	loading    bool
	empty      bool
	historyErr error
	typingName string
	toasts     []chat.Notification
	alert      error
	connection websocket.State
	loggedOut  bool
	lastInput  string
	input      textinput.Model
	chatView   viewport.Model
}

func NewModel(self string, actions Actions, post func(func()), bridge *Bridge) Model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 1000
	input.Width = 50

	return Model{
		self:         self,
		actions:      actions,
		post:         post,
		bridge:       bridge,
		sidebarWidth: 28,
		input:        input,
		chatView:     viewport.New(80, 20),
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		if msg.Type == tea.MouseWheelUp && m.peerID != "" {
			m.chatView.LineUp(3)
			m.checkTop()
		}
		if msg.Type == tea.MouseWheelDown {
			m.chatView.LineDown(3)
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case rosterMsg:
		m.online, m.offline = msg.online, msg.offline
		if m.selected >= len(m.online)+len(m.offline) {
			m.selected = max(0, len(m.online)+len(m.offline)-1)
		}
		if u, ok := m.lookup(m.peerID); ok {
			m.peerName = u.DisplayName
		}

	case historyClearedMsg:
		m.history = nil
		m.loading, m.empty, m.historyErr = false, false, nil
		m.refreshHistory(false)
	case historyLoadingMsg:
		m.loading = true
		m.refreshHistory(false)
	case historyEmptyMsg:
		m.loading, m.empty = false, true
		m.refreshHistory(false)
	case historyErrorMsg:
		m.loading, m.historyErr = false, msg.err
		m.refreshHistory(false)
	case historyAppendMsg:
		m.loading, m.empty, m.historyErr = false, false, nil
		m.history = append(m.history, msg.msgs...)
		m.refreshHistory(false)
	case historyPrependMsg:
		m.historyErr = nil
		m.history = append(append([]models.Message{}, msg.msgs...), m.history...)
		before := m.chatView.TotalLineCount()
		m.refreshHistory(false)
		m.chatView.SetYOffset(m.chatView.YOffset + m.chatView.TotalLineCount() - before)
	case scrollToBottomMsg:
		m.chatView.GotoBottom()

	case typingMsg:
		if msg.peerID == m.peerID {
			m.typingName = msg.nickname
		}
	case typingHiddenMsg:
		m.typingName = ""

	case notificationMsg:
		m.toasts = append(m.toasts, msg.n)
	case notificationGone:
		for i, n := range m.toasts {
			if n.ID == msg.id {
				m.toasts = append(m.toasts[:i], m.toasts[i+1:]...)
				break
			}
		}

	case alertMsg:
		m.alert = msg.err
	case connectionStateMsg:
		m.connection = msg.state
	case messageSentMsg:
		m.input.SetValue("")
		m.lastInput = ""
		m.alert = nil
	case loggedOutMsg:
		m.loggedOut = true
		m.input.Blur()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	}
	if m.loggedOut {
		if msg.String() == "q" || msg.String() == "enter" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+l":
		m.do(func(a Actions) { a.Logout() })
		return m, nil
	case "ctrl+o":
		// Clicking a pop-up anywhere but its close control opens the sender.
		if n, ok := m.newestToast(); ok {
			m.peerID, m.peerName, m.typingName = n.SenderID, n.SenderName, ""
			m.do(func(a Actions) { a.ActivateNotification(n.ID) })
			m.focusChat()
		}
		return m, nil
	case "ctrl+x":
		if n, ok := m.newestToast(); ok {
			m.do(func(a Actions) { a.DismissNotification(n.ID) })
		}
		return m, nil
	}

	switch m.focusedPane {
	case paneSidebar:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.online)+len(m.offline)-1 {
				m.selected++
			}
		case "enter", "l", "right":
			if u, ok := m.selectedUser(); ok {
				m.peerID, m.peerName = u.ID, u.DisplayName
				m.typingName = ""
				m.do(func(a Actions) { a.OpenConversation(u.ID) })
				m.focusChat()
			}
		case "tab":
			if m.peerID != "" {
				m.focusChat()
			}
		}
		return m, nil

	case paneChat:
		switch msg.String() {
		case "esc", "tab":
			m.focusedPane = paneSidebar
			m.input.Blur()
			m.do(func(a Actions) { a.InputBlurred() })
			return m, nil
		case "ctrl+w":
			m.focusedPane = paneSidebar
			m.input.Blur()
			m.input.SetValue("")
			m.lastInput = ""
			m.peerID, m.peerName, m.typingName = "", "", ""
			m.do(func(a Actions) { a.CloseConversation() })
			return m, nil
		case "pgup", "up":
			m.chatView.LineUp(max(1, m.chatView.Height/2))
			m.checkTop()
			return m, nil
		case "pgdown", "down":
			m.chatView.LineDown(max(1, m.chatView.Height/2))
			return m, nil
		case "enter":
			text := m.input.Value()
			bridge := m.bridge
			m.do(func(a Actions) {
				if err := a.SendMessage(text); err == nil && bridge != nil {
					bridge.MessageSent()
				}
			})
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if v := m.input.Value(); v != m.lastInput {
			m.lastInput = v
			m.do(func(a Actions) { a.InputChanged(v) })
		}
		return m, cmd
	}
	return m, nil
}

func (m *Model) do(fn func(Actions)) {
	actions := m.actions
	m.post(func() { fn(actions) })
}

func (m *Model) focusChat() {
	m.focusedPane = paneChat
	m.input.Focus()
}

func (m *Model) checkTop() {
	if m.peerID != "" && m.chatView.AtTop() {
		m.do(func(a Actions) { a.ScrolledToTop() })
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.sidebarWidth = max(28, width/4)

	chatWidth := max(20, width-m.sidebarWidth-4)
	chatHeight := max(8, height-2)
	m.chatView.Width = chatWidth - 4
	m.chatView.Height = max(3, chatHeight-8)
	m.input.Width = max(10, chatWidth-6)
	m.refreshHistory(true)
}

func (m *Model) refreshHistory(keepOffset bool) {
	offset := m.chatView.YOffset
	m.chatView.SetContent(m.renderHistory())
	if keepOffset {
		m.chatView.SetYOffset(offset)
	}
}

func (m Model) renderHistory() string {
	var b strings.Builder
	// A failed page is reported where it would have gone; what is already
	// loaded stays on screen.
	if m.historyErr != nil {
		b.WriteString(errorStyle.Render("Could not load messages: "+m.historyErr.Error()) + "\n")
	}

	switch {
	case len(m.history) > 0:
	case m.loading:
		return b.String() + mutedStyle.Render("Loading messages...")
	case m.empty:
		return b.String() + mutedStyle.Render("No messages yet. Say hello!")
	}

	for _, msg := range m.history {
		style := otherMessageStyle
		name := msg.FromNickname
		if msg.From == m.self {
			style = ownMessageStyle
			name = "you"
		}
		if name == "" {
			name = m.peerName
		}
		fmt.Fprintf(&b, "%s %s: %s\n",
			mutedStyle.Render(formatTime(msg.SentAt)),
			style.Render(name),
			msg.Content,
		)
	}
	return b.String()
}

func (m Model) View() string {
	if m.loggedOut {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			titleStyle.Render("You have been logged out.")+"\n"+mutedStyle.Render("Press q to quit."))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), m.chatWindowView())
}

func (m Model) sidebarView() string {
	var s strings.Builder

	border := mutedColor
	if m.focusedPane == paneSidebar {
		border = activeBorder
	}

	s.WriteString(titleStyle.Render("Online") + "\n")
	index := 0
	for _, u := range m.online {
		s.WriteString(m.userLine(u, index) + "\n")
		index++
	}
	s.WriteString("\n" + titleStyle.Render("Offline") + "\n")
	for _, u := range m.offline {
		s.WriteString(m.userLine(u, index) + "\n")
		index++
	}
	if index == 0 {
		s.WriteString(mutedStyle.Render("Nobody here yet."))
	}

	return sidebarStyle.Copy().
		Width(m.sidebarWidth - 2).
		BorderForeground(border).
		Render(s.String())
}

func (m Model) userLine(u models.User, index int) string {
	name := u.DisplayName
	if u.Online {
		name = onlineStyle.Render("● ") + name
	} else {
		name = mutedStyle.Render("○ ") + name
	}
	if u.Unread {
		name += errorStyle.Render(" •")
	}
	line := name
	if u.HasPreview() {
		line += "\n  " + mutedStyle.Render(truncate(*u.LastMessage, m.sidebarWidth-8))
	}
	if index == m.selected {
		return selectedItemStyle.Render(line)
	}
	return unselectedItemStyle.Render(line)
}

func (m Model) chatWindowView() string {
	var parts []string

	for _, n := range m.toasts {
		parts = append(parts, toastStyle.Render(
			titleStyle.Render(n.SenderName)+" "+truncate(n.Body, 60)+mutedStyle.Render("  ctrl+o open · ctrl+x close"),
		))
	}

	if m.peerID == "" {
		parts = append(parts, mutedStyle.Render("Select someone to start chatting"))
	} else {
		header := "💬 " + m.peerName
		parts = append(parts, headerStyle.Render(header), m.chatView.View())

		footer := m.input.View()
		if m.typingName != "" {
			footer = mutedStyle.Render(m.typingName+" is typing...") + "\n" + footer
		}
		parts = append(parts, footerStyle.Render(footer))
	}

	if m.connection != websocket.StateOpen {
		parts = append(parts, errorStyle.Render("⟳ "+connectionLabel(m.connection)))
	}
	if m.alert != nil {
		parts = append(parts, errorStyle.Render(m.alert.Error()))
	}

	border := mutedColor
	if m.focusedPane == paneChat {
		border = activeBorder
	}
	return chatWindowStyle.Copy().
		Width(max(20, m.width-m.sidebarWidth-4)).
		BorderForeground(border).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) selectedUser() (models.User, bool) {
	switch {
	case m.selected < len(m.online):
		return m.online[m.selected], true
	case m.selected-len(m.online) < len(m.offline):
		return m.offline[m.selected-len(m.online)], true
	}
	return models.User{}, false
}

func (m Model) lookup(id string) (models.User, bool) {
	for _, u := range m.online {
		if u.ID == id {
			return u, true
		}
	}
	for _, u := range m.offline {
		if u.ID == id {
			return u, true
		}
	}
	return models.User{}, false
}

func (m Model) newestToast() (chat.Notification, bool) {
	if len(m.toasts) == 0 {
		return chat.Notification{}, false
	}
	return m.toasts[len(m.toasts)-1], true
}

func connectionLabel(s websocket.State) string {
	switch s {
	case websocket.StateConnecting:
		return "Connecting..."
	case websocket.StateDisconnected:
		return "Disconnected, reconnecting shortly"
	}
	return s.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.Local().Format("15:04")
}

func truncate(s string, n int) string {
	if n <= 1 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
