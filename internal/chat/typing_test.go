package chat_test

import (
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"forumchat/internal/chat"
	"forumchat/internal/loop"
	"forumchat/internal/models"
)

var _ = Describe("Typing", func() {
	const idle = 300 * time.Millisecond
	const remoteTTL = 15 * time.Second

	var (
		sched  *loop.Manual
		conn   *fakeConn
		view   *fakeView
		peer   string
		typing *chat.Typing
	)

	BeforeEach(func() {
		sched = loop.NewManual()
		conn = &fakeConn{}
		view = &fakeView{}
		peer = "u-bob"
		typing = chat.NewTyping(sched, conn, view, func() string { return peer }, idle, remoteTTL)
	})

	Describe("local signalling", func() {
		It("sends one start and one stop when the user idles 400ms", func() {
			typing.InputChanged("h")
			sched.Advance(100 * time.Millisecond)
			typing.InputChanged("he")
			sched.Advance(400 * time.Millisecond)

			Expect(conn.typingFrames()).To(Equal([]models.TypingSignal{
				{Type: models.FrameTypingStart, To: "u-bob"},
				{Type: models.FrameTypingStop, To: "u-bob"},
			}))
			Expect(typing.Composing()).To(BeFalse())
		})

		It("does not resend start while composing", func() {
			for i := 0; i < 10; i++ {
				typing.InputChanged("abc")
				sched.Advance(100 * time.Millisecond)
			}
			Expect(conn.typingKinds()).To(Equal([]string{models.FrameTypingStart}))
		})

		DescribeTable("forces an immediate stop",
			func(end func()) {
				typing.InputChanged("hello")
				end()
				Expect(conn.typingKinds()).To(Equal([]string{models.FrameTypingStart, models.FrameTypingStop}))
				Expect(sched.Pending()).To(BeZero())
			},
			Entry("on send", func() { typing.Sent() }),
			Entry("on blur", func() { typing.Blur() }),
			Entry("when the input is cleared", func() { typing.InputChanged("") }),
			Entry("when the conversation closes", func() { typing.Stop() }),
		)

		It("addresses the stop to the peer the streak started with", func() {
			typing.InputChanged("hello")
			peer = "u-carol"
			typing.Stop()

			Expect(conn.typingFrames()[1]).To(Equal(models.TypingSignal{Type: models.FrameTypingStop, To: "u-bob"}))
		})

		It("sends nothing without an open conversation", func() {
			peer = ""
			typing.InputChanged("hello")
			Expect(conn.sent).To(BeEmpty())
		})

		It("stays idle when the start cannot be sent", func() {
			conn.down = true
			typing.InputChanged("hello")
			Expect(typing.Composing()).To(BeFalse())

			conn.down = false
			typing.InputChanged("hello!")
			Expect(conn.typingKinds()).To(Equal([]string{models.FrameTypingStart}))
		})

		It("delivers an owed stop before the next start", func() {
			typing.InputChanged("hello")
			conn.down = true
			typing.Blur()

			typing.InputChanged("again")
			Expect(typing.Composing()).To(BeFalse())

			conn.down = false
			typing.InputChanged("again!")
			Expect(conn.typingKinds()).To(Equal([]string{
				models.FrameTypingStart, models.FrameTypingStop, models.FrameTypingStart,
			}))
		})

		It("never lets starts lead stops by more than one", func() {
			rng := rand.New(rand.NewSource(7))
			texts := []string{"", "a", "ab", "abc"}

			for step := 0; step < 2000; step++ {
				switch rng.Intn(7) {
				case 0, 1, 2:
					typing.InputChanged(texts[rng.Intn(len(texts))])
				case 3:
					typing.Blur()
				case 4:
					typing.Sent()
				case 5:
					conn.down = !conn.down
				case 6:
					sched.Advance(time.Duration(rng.Intn(500)) * time.Millisecond)
				}

				starts, stops := 0, 0
				last := ""
				for _, kind := range conn.typingKinds() {
					if kind == models.FrameTypingStart {
						Expect(last).NotTo(Equal(models.FrameTypingStart), "consecutive typing_start at step %d", step)
						starts++
					} else {
						stops++
					}
					last = kind
				}
				Expect(starts - stops).To(BeNumerically("<=", 1))
			}
		})
	})

	Describe("remote indicator", func() {
		It("renders only the active peer", func() {
			typing.RemoteStart("u-carol", "carol")
			Expect(view.typingShown).To(BeFalse())

			typing.RemoteStart("u-bob", "bob")
			Expect(view.typingShown).To(BeTrue())
			Expect(view.typingName).To(Equal("bob"))
		})

		It("clears on typing_stop or a message from the peer", func() {
			typing.RemoteStart("u-bob", "bob")
			typing.RemoteStop("u-bob")
			Expect(view.typingShown).To(BeFalse())

			typing.RemoteStart("u-bob", "bob")
			typing.MessageFrom("u-bob")
			Expect(view.typingShown).To(BeFalse())
			Expect(typing.RemoteTyping("u-bob")).To(BeFalse())
		})

		It("expires an entry that is not refreshed", func() {
			typing.RemoteStart("u-bob", "bob")
			sched.Advance(remoteTTL - time.Second)
			typing.RemoteStart("u-bob", "bob")
			sched.Advance(remoteTTL - time.Second)
			Expect(view.typingShown).To(BeTrue())

			sched.Advance(time.Second)
			Expect(view.typingShown).To(BeFalse())
			Expect(sched.Pending()).To(BeZero())
		})

		It("ClearRemote drops everything and cancels expiry timers", func() {
			typing.RemoteStart("u-bob", "bob")
			typing.RemoteStart("u-carol", "carol")
			typing.ClearRemote()

			Expect(view.typingShown).To(BeFalse())
			Expect(typing.RemoteTyping("u-carol")).To(BeFalse())
			Expect(sched.Pending()).To(BeZero())
		})
	})
})
