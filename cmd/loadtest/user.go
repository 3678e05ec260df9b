package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"forumchat/internal/api"
	"forumchat/internal/chat"
	"forumchat/internal/config"
	"forumchat/internal/loop"
	"forumchat/internal/models"
	"forumchat/internal/websocket"
)

const password = "testpass123"

// simUser is one headless chat client. Everything except the pacing loop
// runs on its own event loop.
type simUser struct {
	id       string
	nickname string
	http     *api.Client
	events   *loop.Loop
	client   *chat.Client
	manager  *websocket.Manager
	probe    *probe
	open     chan struct{}
}

func registerUser(ctx context.Context, cfg *config.Config, n int) (*simUser, error) {
	nickname := fmt.Sprintf("lt_%d_%s", n, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	c, err := api.New(cfg.ServerURL, cfg.HTTPTimeout)
	if err != nil {
		return nil, err
	}
	err = c.Register(ctx, models.RegisterRequest{
		Nickname:  nickname,
		Email:     nickname + "@loadtest.local",
		Password:  password,
		Age:       30,
		Gender:    "other",
		FirstName: "Load",
		LastName:  "Test",
	})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", nickname, err)
	}
	if err := c.Login(ctx, nickname, password); err != nil {
		return nil, fmt.Errorf("login %s: %w", nickname, err)
	}
	id, err := c.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("me %s: %w", nickname, err)
	}

	return &simUser{id: id, nickname: nickname, http: c, open: make(chan struct{})}, nil
}

// start wires the chat client and dials the socket.
func (u *simUser) start(ctx context.Context, cfg *config.Config, stats *Stats) {
	u.events = loop.New()
	u.probe = &probe{self: u.id, stats: stats, pending: map[string]time.Time{}}
	u.client = chat.NewClient(u.events, u.id, chat.NewAPIHistory(u.http, u.events, cfg.HTTPTimeout), u.probe, chat.Options{
		PageSize:        cfg.PageSize,
		TypingIdle:      cfg.TypingIdle,
		NotificationTTL: cfg.NotificationTTL,
	})

	var opened bool
	u.manager = websocket.NewManager(u.events, u.client, websocket.Options{
		URL:            cfg.WebSocketURL,
		Header:         u.http.SessionHeader,
		ReconnectDelay: cfg.ReconnectDelay,
		OnStateChange:  func(s websocket.State) {
			u.client.ConnectionStateChanged(s)
			if s == websocket.StateOpen && !opened {
				opened = true
				close(u.open)
			}
		},
	})
	u.client.Attach(u.manager)

	go u.events.Run(ctx)
	u.events.Post(u.manager.Connect)
}

// simulate paces operations against peer until the deadline. Half the
// operations send a message, the rest re-open the conversation.
func (u *simUser) simulate(ctx context.Context, peer string, limiter *rate.Limiter, rng func() float32) {
	u.events.Post(func() { u.probe.beginRead(peer, u.client) })

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		if rng() < 0.5 {
			u.events.Post(func() {
				token := uuid.NewString()
				u.probe.pending[token] = time.Now()
				body := fmt.Sprintf("load test message from %s [%s]", u.nickname, token)
				// Typing signals ride along the way a person would produce them.
				u.client.InputChanged(body)
				if err := u.client.SendMessage(body); err != nil {
					delete(u.probe.pending, token)
					u.probe.stats.Failure(WriteOperation)
				}
			})
		} else {
			u.events.Post(func() {
				if u.probe.reading {
					return
				}
				u.client.CloseConversation()
				u.probe.beginRead(peer, u.client)
			})
		}
	}
}

func (u *simUser) stop(ctx context.Context) {
	done := make(chan struct{})
	u.events.Post(func() {
		u.client.Logout()
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
	if err := u.http.Logout(ctx); err != nil {
		slog.Debug("logout failed", "user", u.nickname, "error", err)
	}
}

// probe is the render sink of a simulated user. It turns view updates into
// latency samples. All methods run on the user's event loop.
type probe struct {
	self      string
	stats     *Stats
	pending   map[string]time.Time
	reading   bool
	readStart time.Time
}

func (p *probe) beginRead(peer string, c *chat.Client) {
	p.reading = true
	p.readStart = time.Now()
	c.OpenConversation(peer)
}

func (p *probe) endRead(ok bool) {
	if !p.reading {
		return
	}
	p.reading = false
	if ok {
		p.stats.Success(ReadOperation, time.Since(p.readStart))
	} else {
		p.stats.Failure(ReadOperation)
	}
}

func (p *probe) RenderRoster(online, offline []models.User) {}
func (p *probe) ClearHistory() {}
func (p *probe) ShowLoading() {}
func (p *probe) ShowEmpty() { p.endRead(true) }
func (p *probe) ShowHistoryError(err error) { p.endRead(false) }
func (p *probe) PrependMessages(msgs []models.Message) {}
func (p *probe) ScrollToBottom() {}
func (p *probe) ShowTyping(peerID, nickname string) {}
func (p *probe) HideTyping() {}
func (p *probe) HideNotification(id string) {}
func (p *probe) ShowError(err error) {}
func (p *probe) ShowLoggedOut() {}
func (p *probe) ShowConnectionState(state websocket.State) {}

// AppendMessages receives both the first page of a conversation and live
// messages, including the echo of our own sends.
func (p *probe) AppendMessages(msgs []models.Message) {
	if p.reading {
		p.endRead(true)
		return
	}
	for _, m := range msgs {
		p.observe(m)
	}
}

func (p *probe) ShowNotification(n chat.Notification) {
	p.stats.Delivered()
}

func (p *probe) observe(m models.Message) {
	if m.From != p.self {
		p.stats.Delivered()
		return
	}
	start := strings.LastIndex(m.Content, "[")
	if start < 0 || !strings.HasSuffix(m.Content, "]") {
		return
	}
	token := m.Content[start+1 : len(m.Content)-1]
	if sent, ok := p.pending[token]; ok {
		delete(p.pending, token)
		p.stats.Success(WriteOperation, time.Since(sent))
	}
}

// outstanding returns sends that never saw their echo.
func (p *probe) outstanding() int {
	return len(p.pending)
}
