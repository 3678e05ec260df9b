package chat

import (
	"context"
	"time"

	"forumchat/internal/logger"
	"forumchat/internal/loop"
	"forumchat/internal/models"
)

// MessageFetcher is satisfied by *api.Client.
type MessageFetcher interface {
	Messages(ctx context.Context, with string, offset int) ([]models.Message, error)
}

// APIHistory runs history fetches off the loop and posts the result back.
type APIHistory struct {
	fetcher MessageFetcher
	sched   loop.Scheduler
	timeout time.Duration
}

func NewAPIHistory(fetcher MessageFetcher, sched loop.Scheduler, timeout time.Duration) *APIHistory {
	return &APIHistory{fetcher: fetcher, sched: sched, timeout: timeout}
}

func (h *APIHistory) LoadMessages(peerID string, offset int, done func([]models.Message, error)) {
	go func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			Component: "chat.history",
			PeerID:    logger.Ptr(peerID),
		})
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		span := logger.StartSpan(ctx, "chat.history.load")
		page, err := h.fetcher.Messages(span.Context(), peerID, offset)
		span.RecordError(err)
		span.End()

		h.sched.Post(func() {
			done(page, err)
		})
	}()
}
