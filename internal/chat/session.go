package chat

import (
	"context"
	"log/slog"
	"time"

	"forumchat/internal/logger"
	"forumchat/internal/loop"
	"forumchat/internal/models"
)

// HistorySource fetches one page of history, newest message first. done
// must run on the event loop, exactly once.
type HistorySource interface {
	LoadMessages(peerID string, offset int, done func(page []models.Message, err error))
}

// Session is the single active conversation: its peer, the pagination
// cursor into the peer's history and the in-flight flag serializing fetches.
type Session struct {
	sched    loop.Scheduler
	source   HistorySource
	view     HistoryView
	pageSize int
	debounce time.Duration
	ctx      context.Context

	peerID     string
	cursor     int
	inFlight   bool
	exhausted  bool
	generation uint64
	scrollWait loop.Timer
}

func NewSession(sched loop.Scheduler, source HistorySource, view HistoryView, pageSize int, debounce time.Duration) *Session {
	return &Session{
		sched:    sched,
		source:   source,
		view:     view,
		pageSize: pageSize,
		debounce: debounce,
		ctx:      logger.WithLogFields(context.Background(), logger.LogFields{Component: "chat.session"}),
	}
}

func (s *Session) PeerID() string { return s.peerID }
func (s *Session) Cursor() int { return s.cursor }
func (s *Session) InFlight() bool { return s.inFlight }

// Exhausted reports whether the start of the conversation was reached.
func (s *Session) Exhausted() bool { return s.exhausted }

// Open makes peerID the active conversation and loads its newest page. It
// reports false when peerID is already open.
func (s *Session) Open(peerID string) bool {
	if peerID == "" {
		s.Close()
		return false
	}
	if peerID == s.peerID {
		return false
	}

	s.cancelScroll()
	s.peerID = peerID
	s.cursor = 0
	s.exhausted = false
	// A fetch still running for the previous peer is ignored when it lands.
	s.inFlight = false
	s.generation++

	s.view.ClearHistory()
	s.view.ShowLoading()
	s.LoadNextPage()
	return true
}

// LoadNextPage fetches the next older page unless no peer is open, a fetch
// is outstanding or the start of the conversation was reached.
func (s *Session) LoadNextPage() {
	if s.peerID == "" || s.inFlight || s.exhausted {
		return
	}
	s.inFlight = true

	gen, peer, offset := s.generation, s.peerID, s.cursor
	slog.DebugContext(s.logContext(), "loading history page", "offset", offset)
	s.source.LoadMessages(peer, offset, func(page []models.Message, err error) {
		s.pageLoaded(gen, offset, page, err)
	})
}

func (s *Session) pageLoaded(gen uint64, offset int, page []models.Message, err error) {
	if gen != s.generation {
		slog.DebugContext(s.ctx, "discarding stale history page", "offset", offset, "items", len(page))
		return
	}
	s.inFlight = false

	if err != nil {
		slog.WarnContext(s.logContext(), "history fetch failed", "offset", offset, "error", err)
		s.view.ShowHistoryError(err)
		return
	}

	s.cursor += len(page)
	if len(page) < s.pageSize {
		s.exhausted = true
	}

	first := offset == 0
	switch {
	case first && len(page) == 0:
		s.view.ShowEmpty()
	case first:
		s.view.AppendMessages(chronological(page))
		s.view.ScrollToBottom()
	case len(page) > 0:
		s.view.PrependMessages(chronological(page))
	}
}

// ScrolledToTop asks for an older page once scrolling has been quiet for
// the debounce interval.
func (s *Session) ScrolledToTop() {
	if s.peerID == "" || s.inFlight {
		return
	}
	s.cancelScroll()
	s.scrollWait = s.sched.AfterFunc(s.debounce, func() {
		s.scrollWait = nil
		s.LoadNextPage()
	})
}

// AppendLive shows a message that arrived over the socket.
func (s *Session) AppendLive(msg models.Message) {
	if s.peerID == "" {
		return
	}
	s.view.AppendMessages([]models.Message{msg})
	s.view.ScrollToBottom()
}

func (s *Session) Close() {
	s.cancelScroll()
	if s.peerID == "" {
		return
	}
	s.peerID = ""
	s.cursor = 0
	s.inFlight = false
	s.exhausted = false
	s.generation++
	s.view.ClearHistory()
}

func (s *Session) cancelScroll() {
	if s.scrollWait != nil {
		s.scrollWait.Stop()
		s.scrollWait = nil
	}
}

func (s *Session) logContext() context.Context {
	return logger.WithLogFields(s.ctx, logger.LogFields{PeerID: logger.Ptr(s.peerID)})
}

// chronological returns a newest-first page oldest first.
func chronological(page []models.Message) []models.Message {
	out := make([]models.Message, len(page))
	for i, m := range page {
		out[len(page)-1-i] = m
	}
	return out
}
