package chat

import (
	"time"

	"forumchat/internal/models"
	"forumchat/internal/websocket"
)

// The views below are render sinks. Every call is made on the event loop.

type RosterView interface {
	RenderRoster(online, offline []models.User)
}

type HistoryView interface {
	ClearHistory()
	ShowLoading()
	// ShowEmpty renders the "no messages yet" placeholder.
	ShowEmpty()
	ShowHistoryError(err error)
	// AppendMessages adds msgs, oldest first, below the current history.
	AppendMessages(msgs []models.Message)
	// PrependMessages adds msgs, oldest first, above the current history.
	PrependMessages(msgs []models.Message)
	ScrollToBottom()
}

type TypingView interface {
	ShowTyping(peerID, nickname string)
	HideTyping()
}

type Notification struct {
	ID         string
	SenderID   string
	SenderName string
	Body       string
	SentAt     time.Time
}

type NotificationView interface {
	ShowNotification(n Notification)
	HideNotification(id string)
}

type AlertView interface {
	ShowError(err error)
	ShowLoggedOut()
	ShowConnectionState(state websocket.State)
}

// Renderer is everything the chat client draws to.
type Renderer interface {
	RosterView
	HistoryView
	TypingView
	NotificationView
	AlertView
}

// RosterCache persists the roster between runs.
type RosterCache interface {
	SaveRoster(owner string, users []models.User) error
}

// Sender is the outbound half of the connection manager.
type Sender interface {
	Send(v any) error
}

// Connection is the part of *websocket.Manager the client drives.
type Connection interface {
	Sender
	Shutdown()
}
