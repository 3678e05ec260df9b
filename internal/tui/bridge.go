package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"forumchat/internal/chat"
	"forumchat/internal/models"
	"forumchat/internal/websocket"
)

// Messages delivered from the event loop to the bubbletea program.
type (
	rosterMsg struct {
		online, offline []models.User
	}
	historyClearedMsg  struct{}
	historyLoadingMsg  struct{}
	historyEmptyMsg    struct{}
	historyErrorMsg    struct{ err error }
	historyAppendMsg   struct{ msgs []models.Message }
	historyPrependMsg  struct{ msgs []models.Message }
	scrollToBottomMsg  struct{}
	typingMsg          struct{ peerID, nickname string }
	typingHiddenMsg    struct{}
	notificationMsg    struct{ n chat.Notification }
	notificationGone   struct{ id string }
	alertMsg           struct{ err error }
	loggedOutMsg       struct{}
	connectionStateMsg struct{ state websocket.State }
	messageSentMsg     struct{}
)

// Bridge is the chat.Renderer backed by a bubbletea program. Render calls
// made on the event loop become program messages. They are queued and
// delivered by a separate goroutine, so neither the loop nor Attach waits
// for the program to read them.
type Bridge struct {
	mu      sync.Mutex
	program interface{ Send(tea.Msg) }
	queue   []tea.Msg
	wake    chan struct{}
}

var _ chat.Renderer = (*Bridge)(nil)

func NewBridge() *Bridge {
	return &Bridge{wake: make(chan struct{}, 1)}
}

// Attach connects the program and starts delivery. Messages emitted before
// are delivered first, in order.
func (b *Bridge) Attach(p interface{ Send(tea.Msg) }) {
	b.mu.Lock()
	if b.program != nil {
		b.mu.Unlock()
		return
	}
	b.program = p
	b.mu.Unlock()

	go b.deliver(p)
	b.notify()
}

func (b *Bridge) emit(msg tea.Msg) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	attached := b.program != nil
	b.mu.Unlock()

	if attached {
		b.notify()
	}
}

func (b *Bridge) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// deliver forwards queued messages. Send blocks until the program's event
// loop is running; after the program exits it returns immediately.
func (b *Bridge) deliver(p interface{ Send(tea.Msg) }) {
	for range b.wake {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		b.mu.Unlock()

		for _, msg := range batch {
			p.Send(msg)
		}
	}
}

func (b *Bridge) RenderRoster(online, offline []models.User) {
	b.emit(rosterMsg{online: online, offline: offline})
}

func (b *Bridge) ClearHistory() { b.emit(historyClearedMsg{}) }
func (b *Bridge) ShowLoading() { b.emit(historyLoadingMsg{}) }
func (b *Bridge) ShowEmpty() { b.emit(historyEmptyMsg{}) }
func (b *Bridge) ShowHistoryError(err error) { b.emit(historyErrorMsg{err: err}) }
func (b *Bridge) ScrollToBottom() { b.emit(scrollToBottomMsg{}) }

func (b *Bridge) AppendMessages(msgs []models.Message) {
	b.emit(historyAppendMsg{msgs: msgs})
}

func (b *Bridge) PrependMessages(msgs []models.Message) {
	b.emit(historyPrependMsg{msgs: msgs})
}

func (b *Bridge) ShowTyping(peerID, nickname string) {
	b.emit(typingMsg{peerID: peerID, nickname: nickname})
}

func (b *Bridge) HideTyping() { b.emit(typingHiddenMsg{}) }

func (b *Bridge) ShowNotification(n chat.Notification) { b.emit(notificationMsg{n: n}) }
func (b *Bridge) HideNotification(id string) { b.emit(notificationGone{id: id}) }

func (b *Bridge) ShowError(err error) { b.emit(alertMsg{err: err}) }
func (b *Bridge) ShowLoggedOut() { b.emit(loggedOutMsg{}) }

func (b *Bridge) ShowConnectionState(state websocket.State) {
	b.emit(connectionStateMsg{state: state})
}

// MessageSent tells the model its input was accepted.
func (b *Bridge) MessageSent() { b.emit(messageSentMsg{}) }
