package chat

import (
	"time"

	"forumchat/internal/loop"
	"forumchat/internal/models"
)

// Router decides what an incoming message does: append to the open
// conversation, or mark the sender unread and raise a pop-up.
type Router struct {
	sched   loop.Scheduler
	roster  *Roster
	session *Session
	typing  *Typing
	view    NotificationView
	self    func() string
	open    func(peerID string)
	ttl     time.Duration
	newID   func() string
	now     func() time.Time

	popups map[string]*popup
}

type popup struct {
	n      Notification
	expiry loop.Timer
}

type RouterOptions struct {
	TTL   time.Duration
	NewID func() string
	Now   func() time.Time
	// Open is called when a pop-up is activated.
	Open func(peerID string)
}

func NewRouter(sched loop.Scheduler, roster *Roster, session *Session, typing *Typing, view NotificationView, self func() string, opts RouterOptions) *Router {
	return &Router{
		sched:   sched,
		roster:  roster,
		session: session,
		typing:  typing,
		view:    view,
		self:    self,
		open:    opts.Open,
		ttl:     opts.TTL,
		newID:   opts.NewID,
		now:     opts.Now,
		popups:  make(map[string]*popup),
	}
}

// Relevant reports whether msg belongs to the open conversation.
func (r *Router) Relevant(msg models.Message) bool {
	peer, self := r.session.PeerID(), r.self()
	if peer == "" || self == "" {
		return false
	}
	return (msg.From == peer && msg.To == self) || (msg.From == self && msg.To == peer)
}

func (r *Router) Route(msg models.Message) {
	self := r.self()
	at := msg.SentAt
	if at.IsZero() {
		at = r.now()
	}

	counterpart, nickname := msg.From, msg.FromNickname
	if msg.From == self {
		counterpart, nickname = msg.To, ""
	}
	r.roster.RecordLastMessage(counterpart, nickname, msg.Content, at)

	if msg.From != self {
		r.typing.MessageFrom(msg.From)
	}

	if r.Relevant(msg) {
		r.session.AppendLive(msg)
		return
	}
	if msg.From == self {
		return
	}

	r.roster.MarkUnread(msg.From)
	r.raise(msg, at)
}

func (r *Router) raise(msg models.Message, at time.Time) {
	name := msg.FromNickname
	if name == "" {
		name = r.roster.DisplayName(msg.From)
	}
	n := Notification{
		ID:         r.newID(),
		SenderID:   msg.From,
		SenderName: name,
		Body:       msg.Content,
		SentAt:     at,
	}
	p := &popup{n: n}
	p.expiry = r.sched.AfterFunc(r.ttl, func() {
		r.Dismiss(n.ID)
	})
	r.popups[n.ID] = p
	r.view.ShowNotification(n)
}

// Dismiss removes the pop-up id. It reports whether it was still showing.
func (r *Router) Dismiss(id string) bool {
	p, ok := r.popups[id]
	if !ok {
		return false
	}
	p.expiry.Stop()
	delete(r.popups, id)
	r.view.HideNotification(id)
	return true
}

// Activate dismisses pop-up id and opens the conversation with its sender.
func (r *Router) Activate(id string) {
	p, ok := r.popups[id]
	if !ok {
		return
	}
	r.Dismiss(id)
	if r.open != nil {
		r.open(p.n.SenderID)
	}
}

// Showing returns the pop-ups still on screen.
func (r *Router) Showing() []Notification {
	out := make([]Notification, 0, len(r.popups))
	for _, p := range r.popups {
		out = append(out, p.n)
	}
	return out
}

func (r *Router) DismissAll() {
	for id := range r.popups {
		r.Dismiss(id)
	}
}
