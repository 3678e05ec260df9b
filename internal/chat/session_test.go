package chat_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"forumchat/internal/chat"
	"forumchat/internal/loop"
	"forumchat/internal/models"
)

var _ = Describe("Session", func() {
	const pageSize = 10
	const debounce = 300 * time.Millisecond

	var (
		sched   *loop.Manual
		history *fakeHistory
		view    *fakeView
		session *chat.Session
	)

	BeforeEach(func() {
		sched = loop.NewManual()
		history = &fakeHistory{}
		view = &fakeView{}
		session = chat.NewSession(sched, history, view, pageSize, debounce)
	})

	Describe("Open", func() {
		It("resets the view and requests the newest page", func() {
			Expect(session.Open("u-bob")).To(BeTrue())

			Expect(view.loading).To(BeTrue())
			Expect(history.requests).To(HaveLen(1))
			Expect(history.last().peerID).To(Equal("u-bob"))
			Expect(history.last().offset).To(BeZero())
			Expect(session.InFlight()).To(BeTrue())
		})

		It("is idempotent for the open peer", func() {
			session.Open("u-bob")
			Expect(session.Open("u-bob")).To(BeFalse())
			Expect(history.requests).To(HaveLen(1))
			Expect(view.cleared).To(Equal(1))
		})

		It("shows the empty placeholder when the first page is empty", func() {
			session.Open("u-bob")
			history.last().done([]models.Message{}, nil)

			Expect(view.empty).To(BeTrue())
			Expect(view.history).To(BeEmpty())
			Expect(session.Cursor()).To(BeZero())
			Expect(session.InFlight()).To(BeFalse())
		})

		It("renders a newest-first first page in chronological order at the bottom", func() {
			const n = 20
			session = chat.NewSession(sched, history, view, n, debounce)
			session.Open("u-bob")
			history.last().done(page("u-bob", "u-alice", n, n), nil)

			Expect(view.history).To(HaveLen(n))
			Expect(view.history[0].Content).To(Equal("m01"))
			Expect(view.history[n-1].Content).To(Equal("m20"))
			Expect(view.scrolls).To(Equal(1))
			Expect(session.Cursor()).To(Equal(n))
		})
	})

	Describe("LoadNextPage", func() {
		It("is a no-op without a peer", func() {
			session.LoadNextPage()
			Expect(history.requests).To(BeEmpty())
		})

		It("never issues a second fetch while one is in flight", func() {
			session.Open("u-bob")
			session.LoadNextPage()
			session.LoadNextPage()
			Expect(history.requests).To(HaveLen(1))
		})

		It("prepends older pages reversed and advances the cursor by each page", func() {
			session.Open("u-bob")
			history.last().done(page("u-bob", "u-alice", 30, 10), nil)

			session.LoadNextPage()
			Expect(history.last().offset).To(Equal(10))
			history.last().done(page("u-bob", "u-alice", 20, 10), nil)

			session.LoadNextPage()
			Expect(history.last().offset).To(Equal(20))
			history.last().done(page("u-bob", "u-alice", 10, 4), nil)

			Expect(session.Cursor()).To(Equal(24))
			contents := view.contents()
			Expect(contents).To(HaveLen(24))
			Expect(contents[0]).To(Equal("m07"))
			Expect(contents[23]).To(Equal("m30"))
			for i := 1; i < len(contents); i++ {
				Expect(contents[i] > contents[i-1]).To(BeTrue(), "history out of order at %d", i)
			}
		})

		It("stops paging once a short page reaches the conversation start", func() {
			session.Open("u-bob")
			history.last().done(page("u-bob", "u-alice", 3, 3), nil)

			Expect(session.Exhausted()).To(BeTrue())
			session.LoadNextPage()
			Expect(history.requests).To(HaveLen(1))
		})

		It("treats an empty later page as a silent no-op", func() {
			session.Open("u-bob")
			history.last().done(page("u-bob", "u-alice", 10, 10), nil)
			session.LoadNextPage()
			history.last().done([]models.Message{}, nil)

			Expect(view.empty).To(BeFalse())
			Expect(view.history).To(HaveLen(10))
			Expect(session.Cursor()).To(Equal(10))
		})

		It("shows an inline error and releases the in-flight flag on failure", func() {
			session.Open("u-bob")
			history.last().done(nil, errors.New("boom"))

			Expect(view.historyErrors).To(HaveLen(1))
			Expect(session.InFlight()).To(BeFalse())
			Expect(session.Cursor()).To(BeZero())

			session.LoadNextPage()
			Expect(history.requests).To(HaveLen(2))
		})
	})

	Describe("switching peers mid-load", func() {
		It("discards the stale page", func() {
			session.Open("u-bob")
			stale := history.last()

			session.Open("u-carol")
			Expect(history.requests).To(HaveLen(2))
			fresh := history.last()

			stale.done(page("u-bob", "u-alice", 10, 10), nil)
			Expect(view.history).To(BeEmpty())
			Expect(session.Cursor()).To(BeZero())
			Expect(session.InFlight()).To(BeTrue())

			fresh.done(page("u-carol", "u-alice", 2, 2), nil)
			Expect(view.contents()).To(Equal([]string{"m01", "m02"}))
			Expect(session.Cursor()).To(Equal(2))
		})

		It("discards a page that lands after Close", func() {
			session.Open("u-bob")
			pending := history.last()
			session.Close()

			pending.done(page("u-bob", "u-alice", 10, 10), nil)
			Expect(view.history).To(BeEmpty())
			Expect(session.PeerID()).To(BeEmpty())
		})
	})

	Describe("ScrolledToTop", func() {
		BeforeEach(func() {
			session.Open("u-bob")
			history.last().done(page("u-bob", "u-alice", 20, 10), nil)
		})

		It("loads once scrolling has been quiet for the debounce interval", func() {
			session.ScrolledToTop()
			sched.Advance(debounce / 2)
			session.ScrolledToTop()
			sched.Advance(debounce - time.Millisecond)
			Expect(history.requests).To(HaveLen(1))

			sched.Advance(time.Millisecond)
			Expect(history.requests).To(HaveLen(2))
			Expect(history.last().offset).To(Equal(10))
		})

		It("is suppressed while a load is in flight", func() {
			session.LoadNextPage()
			session.ScrolledToTop()
			Expect(sched.Pending()).To(BeZero())
		})

		It("is cancelled by Close", func() {
			session.ScrolledToTop()
			session.Close()
			Expect(sched.Pending()).To(BeZero())
			sched.Advance(time.Second)
			Expect(history.requests).To(HaveLen(1))
		})
	})

	Describe("AppendLive", func() {
		It("appends without moving the cursor", func() {
			session.Open("u-bob")
			history.last().done([]models.Message{}, nil)

			session.AppendLive(models.Message{From: "u-bob", To: "u-alice", Content: "live"})
			Expect(view.contents()).To(Equal([]string{"live"}))
			Expect(view.empty).To(BeFalse())
			Expect(session.Cursor()).To(BeZero())
		})
	})
})
