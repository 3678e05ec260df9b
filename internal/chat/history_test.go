package chat_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"forumchat/internal/chat"
	"forumchat/internal/loop"
	"forumchat/internal/models"
)

type fetcherFunc func(ctx context.Context, with string, offset int) ([]models.Message, error)

func (f fetcherFunc) Messages(ctx context.Context, with string, offset int) ([]models.Message, error) {
	return f(ctx, with, offset)
}

var _ = Describe("APIHistory", func() {
	var sched *loop.Manual

	BeforeEach(func() {
		sched = loop.NewManual()
	})

	It("delivers the page on the loop", func() {
		var hasDeadline bool
		fetcher := fetcherFunc(func(ctx context.Context, with string, offset int) ([]models.Message, error) {
			_, hasDeadline = ctx.Deadline()
			return page(with, "u-alice", offset+2, 2), nil
		})
		history := chat.NewAPIHistory(fetcher, sched, time.Second)

		var got []models.Message
		called := 0
		history.LoadMessages("u-bob", 10, func(p []models.Message, err error) {
			Expect(err).NotTo(HaveOccurred())
			got = p
			called++
		})

		Eventually(func() int {
			sched.Drain()
			return called
		}).Should(Equal(1))
		Expect(hasDeadline).To(BeTrue())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Content).To(Equal("m12"))
	})

	It("passes fetch errors through", func() {
		boom := errors.New("boom")
		history := chat.NewAPIHistory(fetcherFunc(func(context.Context, string, int) ([]models.Message, error) {
			return nil, boom
		}), sched, time.Second)

		var got error
		history.LoadMessages("u-bob", 0, func(_ []models.Message, err error) {
			got = err
		})
		Eventually(func() error {
			sched.Drain()
			return got
		}).Should(MatchError(boom))
	})
})
