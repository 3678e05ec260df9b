package chat

import (
	"context"
	"log/slog"
	"time"

	"forumchat/internal/logger"
	"forumchat/internal/loop"
	"forumchat/internal/models"
)

// Typing turns raw input activity into typing_start/typing_stop frames and
// tracks the remote peer's indicator.
//
// Local state is Idle or Composing. A start is only sent from Idle and a stop
// only from Composing, so starts never lead stops by more than one.
type Typing struct {
	sched      loop.Scheduler
	sender     Sender
	view       TypingView
	activePeer func() string
	idle       time.Duration
	remoteTTL  time.Duration
	ctx        context.Context

	composing   bool
	streakPeer  string
	idleTimer   loop.Timer
	pendingStop string

	remote map[string]*remoteTyping
}

type remoteTyping struct {
	nickname string
	expiry   loop.Timer
}

func NewTyping(sched loop.Scheduler, sender Sender, view TypingView, activePeer func() string, idle, remoteTTL time.Duration) *Typing {
	return &Typing{
		sched:      sched,
		sender:     sender,
		view:       view,
		activePeer: activePeer,
		idle:       idle,
		remoteTTL:  remoteTTL,
		ctx:        logger.WithLogFields(context.Background(), logger.LogFields{Component: "chat.typing"}),
		remote:     make(map[string]*remoteTyping),
	}
}

func (t *Typing) SetSender(sender Sender) {
	t.sender = sender
}

func (t *Typing) Composing() bool {
	return t.composing
}

// InputChanged is called with the full input text after every edit.
func (t *Typing) InputChanged(text string) {
	if text == "" {
		t.Stop()
		return
	}
	peer := t.activePeer()
	if peer == "" {
		return
	}

	if !t.composing {
		if !t.flushPendingStop() {
			return
		}
		if err := t.send(models.FrameTypingStart, peer); err != nil {
			return
		}
		t.composing = true
		t.streakPeer = peer
	}

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = t.sched.AfterFunc(t.idle, func() {
		t.idleTimer = nil
		t.Stop()
	})
}

func (t *Typing) Blur() { t.Stop() }
func (t *Typing) Sent() { t.Stop() }

// Stop ends the composing streak, if any, with one typing_stop to the peer
// the streak started with.
func (t *Typing) Stop() {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	if !t.composing {
		return
	}
	t.composing = false
	peer := t.streakPeer
	t.streakPeer = ""
	if err := t.send(models.FrameTypingStop, peer); err != nil {
		// Owed until it is delivered or the session ends.
		t.pendingStop = peer
	}
}

func (t *Typing) flushPendingStop() bool {
	if t.pendingStop == "" {
		return true
	}
	if err := t.send(models.FrameTypingStop, t.pendingStop); err != nil {
		return false
	}
	t.pendingStop = ""
	return true
}

func (t *Typing) send(kind, peer string) error {
	if t.sender == nil {
		return ErrNotConnected
	}
	err := t.sender.Send(models.TypingSignal{Type: kind, To: peer})
	if err != nil {
		slog.DebugContext(t.ctx, "typing signal not sent", "type", kind, "peer_id", peer, "error", err)
	}
	return err
}

// RemoteStart records that from is typing. Entries expire after the remote
// TTL unless refreshed.
func (t *Typing) RemoteStart(from, nickname string) {
	entry, ok := t.remote[from]
	if !ok {
		entry = &remoteTyping{}
		t.remote[from] = entry
	}
	entry.nickname = nickname
	if entry.expiry != nil {
		entry.expiry.Stop()
	}
	entry.expiry = t.sched.AfterFunc(t.remoteTTL, func() {
		t.RemoteStop(from)
	})

	if from == t.activePeer() {
		t.view.ShowTyping(from, nickname)
	}
}

func (t *Typing) RemoteStop(from string) {
	entry, ok := t.remote[from]
	if !ok {
		return
	}
	if entry.expiry != nil {
		entry.expiry.Stop()
	}
	delete(t.remote, from)
	if from == t.activePeer() {
		t.view.HideTyping()
	}
}

// MessageFrom clears the indicator of a peer whose message just arrived.
func (t *Typing) MessageFrom(from string) {
	t.RemoteStop(from)
}

// RemoteTyping reports whether from is currently shown as typing.
func (t *Typing) RemoteTyping(from string) bool {
	_, ok := t.remote[from]
	return ok
}

// ClearRemote drops every remote indicator.
func (t *Typing) ClearRemote() {
	for from, entry := range t.remote {
		if entry.expiry != nil {
			entry.expiry.Stop()
		}
		delete(t.remote, from)
	}
	t.view.HideTyping()
}

// Reset tears everything down at the end of a session. Nothing is sent.
func (t *Typing) Reset() {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.composing = false
	t.streakPeer = ""
	t.pendingStop = ""
	t.ClearRemote()
}
