package websocket_test

import (
	"log/slog"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"forumchat/internal/logger"
	"forumchat/internal/loop"
	"forumchat/internal/models"
	"forumchat/internal/websocket"
)

var _ = Describe("Manager", func() {
	var (
		server  *chatServer
		sched   *loop.Manual
		handler *recordingHandler
		states  []websocket.State
		mgr     *websocket.Manager
	)

	const reconnectDelay = 2 * time.Second

	// settle runs the loop until cond holds.
	settle := func(cond func() bool) {
		GinkgoHelper()
		Eventually(func() bool {
			sched.Drain()
			return cond()
		}).WithTimeout(3 * time.Second).WithPolling(5 * time.Millisecond).Should(BeTrue())
	}

	newManager := func(url string) *websocket.Manager {
		return websocket.NewManager(sched, handler, websocket.Options{
			URL:            url,
			ReconnectDelay: reconnectDelay,
			Header: func() http.Header {
				h := http.Header{}
				h.Set("Cookie", "session_token=abc")
				return h
			},
			OnStateChange: func(s websocket.State) {
				states = append(states, s)
			},
		})
	}

	BeforeEach(func() {
		server = newChatServer()
		sched = loop.NewManual()
		handler = &recordingHandler{}
		states = nil
		mgr = newManager(server.URL())
	})

	AfterEach(func() {
		mgr.Shutdown()
		server.Close()
	})

	isOpen := func() bool { return mgr.State() == websocket.StateOpen }
	isDisconnected := func() bool { return mgr.State() == websocket.StateDisconnected }

	Describe("Connect", func() {
		It("opens the channel with the session cookie", func() {
			mgr.Connect()
			Expect(mgr.State()).To(Equal(websocket.StateConnecting))

			settle(isOpen)
			Expect(states).To(Equal([]websocket.State{websocket.StateConnecting, websocket.StateOpen}))
			Expect(server.Cookies()).To(Equal([]string{"session_token=abc"}))
			Expect(sched.Pending()).To(BeZero())
		})

		It("does not dial twice while connecting or open", func() {
			mgr.Connect()
			mgr.Connect()
			settle(isOpen)
			mgr.Connect()
			sched.Drain()

			Expect(mgr.Generation()).To(Equal(uint64(1)))
			Consistently(server.Connections).WithTimeout(100 * time.Millisecond).Should(Equal(1))
		})
	})

	Describe("inbound frames", func() {
		BeforeEach(func() {
			mgr.Connect()
			settle(isOpen)
		})

		It("dispatches frames by type in delivery order", func() {
			Expect(server.Push(`{"type":"user_list","users":[{"user_uuid":"u-bob","nickname":"bob","is_online":true}]}`)).To(Succeed())
			Expect(server.Push(`{"type":"typing_start","from":"u-bob","nickname":"bob"}`)).To(Succeed())
			Expect(server.Push(`{"from":"u-bob","to":"u-alice","content":"hi","sent_at":"2024-05-01T10:00:00Z"}`)).To(Succeed())
			Expect(server.Push(`{"type":"user_registered","user":{"user_uuid":"u-dave","nickname":"dave"}}`)).To(Succeed())
			Expect(server.Push(`{"type":"force_logout"}`)).To(Succeed())

			settle(func() bool { return handler.forceLogout == 1 })
			Expect(handler.userLists).To(HaveLen(1))
			Expect(handler.typing).To(Equal([]models.TypingEvent{{Type: "typing_start", From: "u-bob", Nickname: "bob"}}))
			Expect(handler.messages).To(HaveLen(1))
			Expect(handler.messages[0].Content).To(Equal("hi"))
			Expect(handler.registered).To(Equal([]models.User{{ID: "u-dave", DisplayName: "dave"}}))
		})

		It("drops malformed frames and keeps dispatching", func() {
			Expect(server.Push(`{"type":"user_list","users":`)).To(Succeed())
			Expect(server.Push(`not json at all`)).To(Succeed())
			Expect(server.Push(`{"from":"u-bob","to":"u-alice","content":"after"}`)).To(Succeed())

			settle(func() bool { return len(handler.messages) == 1 })
			Expect(handler.userLists).To(BeEmpty())
			Expect(handler.messages[0].Content).To(Equal("after"))
			Expect(mgr.State()).To(Equal(websocket.StateOpen))
		})

		It("logs dropped frames with their type and connection generation", func() {
			buf := gbytes.NewBuffer()
			previous := slog.Default()
			slog.SetDefault(slog.New(logger.NewTraceHandler(slog.NewTextHandler(buf, nil))))
			DeferCleanup(func() { slog.SetDefault(previous) })

			Expect(server.Push(`{"type":"user_registered","user":{}}`)).To(Succeed())
			Expect(server.Push(`{"from":"u-bob","to":"u-alice","content":"after"}`)).To(Succeed())
			settle(func() bool { return len(handler.messages) == 1 })

			Eventually(buf).Should(gbytes.Say(`dropping malformed frame.*conn_generation=1 frame_type=user_registered`))
		})
	})

	Describe("Send", func() {
		It("fails with ErrNotOpen before the channel opens", func() {
			err := mgr.Send(models.OutgoingMessage{To: "u-bob", Content: "hi"})
			Expect(err).To(MatchError(websocket.ErrNotOpen))

			mgr.Connect()
			Expect(mgr.Send(models.OutgoingMessage{To: "u-bob", Content: "hi"})).To(MatchError(websocket.ErrNotOpen))
		})

		It("writes JSON frames once open", func() {
			mgr.Connect()
			settle(isOpen)

			Expect(mgr.Send(models.TypingSignal{Type: models.FrameTypingStart, To: "u-bob"})).To(Succeed())
			Expect(mgr.Send(models.OutgoingMessage{To: "u-bob", Content: "hi"})).To(Succeed())

			Eventually(server.Received).Should(Equal([]string{
				`{"type":"typing_start","to":"u-bob"}`,
				`{"to":"u-bob","content":"hi"}`,
			}))
		})
	})

	Describe("reconnect policy", func() {
		It("schedules exactly one reconnect after the server drops the channel", func() {
			mgr.Connect()
			settle(isOpen)

			server.DropAll()
			settle(isDisconnected)
			Expect(sched.Pending()).To(Equal(1))

			sched.Advance(reconnectDelay - time.Millisecond)
			Expect(mgr.State()).To(Equal(websocket.StateDisconnected))

			sched.Advance(time.Millisecond)
			settle(isOpen)
			Expect(server.Connections()).To(Equal(2))
			Expect(mgr.Generation()).To(Equal(uint64(2)))
			Expect(sched.Pending()).To(BeZero())
		})

		It("schedules one retry when the dial fails", func() {
			mgr.Shutdown()
			mgr = newManager("ws://127.0.0.1:1/ws")
			mgr.Connect()

			settle(isDisconnected)
			Expect(sched.Pending()).To(Equal(1))

			sched.Advance(reconnectDelay)
			Expect(mgr.Generation()).To(Equal(uint64(2)))
		})

		It("never reconnects after Shutdown", func() {
			mgr.Connect()
			settle(isOpen)

			mgr.Shutdown()
			Expect(mgr.State()).To(Equal(websocket.StateDisconnected))
			Expect(mgr.Send(models.OutgoingMessage{To: "u-bob", Content: "late"})).To(MatchError(websocket.ErrNotOpen))

			// The read pump of the old connection reports its close later.
			Consistently(func() int {
				sched.Drain()
				return sched.Pending()
			}).WithTimeout(200 * time.Millisecond).Should(BeZero())

			sched.Advance(10 * reconnectDelay)
			Expect(server.Connections()).To(Equal(1))
			Expect(mgr.State()).To(Equal(websocket.StateDisconnected))
		})

		It("cancels a pending reconnect on Shutdown", func() {
			mgr.Connect()
			settle(isOpen)
			server.DropAll()
			settle(isDisconnected)
			Expect(sched.Pending()).To(Equal(1))

			mgr.Shutdown()
			Expect(sched.Pending()).To(BeZero())
			sched.Advance(reconnectDelay)
			Expect(server.Connections()).To(Equal(1))
		})

		It("ignores frames from a superseded connection", func() {
			mgr.Connect()
			settle(isOpen)
			mgr.Shutdown()

			_ = server.Push(`{"from":"u-bob","to":"u-alice","content":"stale"}`)
			Consistently(func() int {
				sched.Drain()
				return len(handler.messages)
			}).WithTimeout(100 * time.Millisecond).Should(BeZero())
		})
	})
})
