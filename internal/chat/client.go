package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"forumchat/internal/logger"
	"forumchat/internal/loop"
	"forumchat/internal/models"
	"forumchat/internal/websocket"
)

type Options struct {
	PageSize        int
	ScrollDebounce  time.Duration
	TypingIdle      time.Duration
	RemoteTypingTTL time.Duration
	NotificationTTL time.Duration
	CacheSaveDelay  time.Duration

	Cache RosterCache
	NewID func() string
	Now   func() time.Time
}

func (o *Options) withDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = 10
	}
	if o.ScrollDebounce <= 0 {
		o.ScrollDebounce = 300 * time.Millisecond
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 300 * time.Millisecond
	}
	if o.RemoteTypingTTL <= 0 {
		o.RemoteTypingTTL = 15 * time.Second
	}
	if o.NotificationTTL <= 0 {
		o.NotificationTTL = 5 * time.Second
	}
	if o.CacheSaveDelay <= 0 {
		o.CacheSaveDelay = time.Second
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Client wires the roster, session, typing coordinator and notification
// router together. It is the websocket.Handler for inbound frames and the
// target of user actions. All methods run on the event loop.
type Client struct {
	self   string
	conn   Connection
	view   Renderer
	ctx    context.Context
	closed bool

	roster  *Roster
	session *Session
	typing  *Typing
	router  *Router
}

var _ websocket.Handler = (*Client)(nil)

func NewClient(sched loop.Scheduler, self string, history HistorySource, view Renderer, opts Options) *Client {
	opts.withDefaults()

	c := &Client{
		self: self,
		view: view,
		ctx:  logger.WithLogFields(context.Background(), logger.LogFields{Component: "chat.client"}),
	}
	c.roster = NewRoster(sched, self, view, opts.Cache, opts.CacheSaveDelay)
	c.session = NewSession(sched, history, view, opts.PageSize, opts.ScrollDebounce)
	c.typing = NewTyping(sched, nil, view, c.session.PeerID, opts.TypingIdle, opts.RemoteTypingTTL)
	c.router = NewRouter(sched, c.roster, c.session, c.typing, view, c.Self, RouterOptions{
		TTL:   opts.NotificationTTL,
		NewID: opts.NewID,
		Now:   opts.Now,
		Open:  c.OpenConversation,
	})
	return c
}

// Attach sets the connection used for outbound frames. The connection is
// built with the client as its handler, so it is attached afterwards.
func (c *Client) Attach(conn Connection) {
	c.conn = conn
	c.typing.SetSender(conn)
}

func (c *Client) Self() string { return c.self }
func (c *Client) Roster() *Roster { return c.roster }
func (c *Client) Session() *Session { return c.session }
func (c *Client) Typing() *Typing { return c.typing }
func (c *Client) Router() *Router { return c.router }
func (c *Client) LoggedOut() bool { return c.closed }
func (c *Client) ActivePeer() string { return c.session.PeerID() }

func (c *Client) HandleUserList(users []models.Presence) {
	if c.closed {
		return
	}
	c.roster.ApplyPresenceBatch(users)
}

func (c *Client) HandleUserRegistered(user models.User) {
	if c.closed {
		return
	}
	c.roster.AddUser(user)
}

func (c *Client) HandleForceLogout() {
	if c.closed {
		return
	}
	slog.InfoContext(c.ctx, "server ended the session")
	c.teardown()
}

func (c *Client) HandleTyping(ev models.TypingEvent) {
	if c.closed || ev.From != c.session.PeerID() {
		return
	}
	switch ev.Type {
	case models.FrameTypingStart:
		c.typing.RemoteStart(ev.From, ev.Nickname)
	case models.FrameTypingStop:
		c.typing.RemoteStop(ev.From)
	}
}

func (c *Client) HandleMessage(msg models.Message) {
	if c.closed {
		return
	}
	c.router.Route(msg)
}

// ConnectionStateChanged is wired to the manager's OnStateChange.
func (c *Client) ConnectionStateChanged(state websocket.State) {
	if c.closed {
		return
	}
	c.view.ShowConnectionState(state)
}

// Seed merges an initial roster.
func (c *Client) Seed(users []models.User) {
	if c.closed {
		return
	}
	c.roster.Seed(users)
}

// OpenConversation switches the chat view to peerID.
func (c *Client) OpenConversation(peerID string) {
	if c.closed || peerID == "" || peerID == c.self {
		return
	}
	if peerID == c.session.PeerID() {
		return
	}
	c.typing.Stop()
	c.typing.ClearRemote()
	c.session.Open(peerID)
	c.roster.ClearUnread(peerID)
}

func (c *Client) CloseConversation() {
	c.typing.Stop()
	c.typing.ClearRemote()
	c.session.Close()
}

func (c *Client) ScrolledToTop() {
	c.session.ScrolledToTop()
}

func (c *Client) InputChanged(text string) {
	if c.closed {
		return
	}
	c.typing.InputChanged(text)
}

func (c *Client) InputBlurred() {
	c.typing.Blur()
}

// SendMessage sends text to the active peer. Validation failures are shown
// to the user and returned.
func (c *Client) SendMessage(text string) error {
	err := c.sendMessage(text)
	if err != nil {
		c.view.ShowError(err)
		return err
	}
	c.typing.Sent()
	return nil
}

func (c *Client) sendMessage(text string) error {
	if c.closed {
		return ErrLoggedOut
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	peer := c.session.PeerID()
	if peer == "" {
		return ErrNoConversation
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.Send(models.OutgoingMessage{To: peer, Content: text}); err != nil {
		if errors.Is(err, websocket.ErrNotOpen) {
			return ErrNotConnected
		}
		return fmt.Errorf("chat: send message: %w", err)
	}
	return nil
}

func (c *Client) DismissNotification(id string) {
	c.router.Dismiss(id)
}

func (c *Client) ActivateNotification(id string) {
	c.router.Activate(id)
}

// Logout ends the session locally. The server is told separately.
func (c *Client) Logout() {
	if c.closed {
		return
	}
	c.teardown()
}

func (c *Client) teardown() {
	c.closed = true
	if c.conn != nil {
		c.typing.Stop()
		c.conn.Shutdown()
	}
	c.typing.Reset()
	c.session.Close()
	c.router.DismissAll()
	c.roster.Reset()
	c.self = ""
	c.view.ShowLoggedOut()
}
