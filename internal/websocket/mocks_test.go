package websocket_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	gws "github.com/gorilla/websocket"

	"forumchat/internal/models"
)

// chatServer is a minimal socket endpoint. Frames it receives are recorded;
// frames can be pushed to the most recent connection.
type chatServer struct {
	srv      *httptest.Server
	upgrader gws.Upgrader

	mu       sync.Mutex
	conns    []*gws.Conn
	cookies  []string
	received []string
}

func newChatServer() *chatServer {
	s := &chatServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serveWS))
	return s
}

func (s *chatServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *chatServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.cookies = append(s.cookies, r.Header.Get("Cookie"))
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, string(data))
		s.mu.Unlock()
	}
}

func (s *chatServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *chatServer) Cookies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cookies...)
}

func (s *chatServer) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *chatServer) Push(raw string) error {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	return conn.WriteMessage(gws.TextMessage, []byte(raw))
}

// DropAll closes every connection without a close handshake.
func (s *chatServer) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *chatServer) Close() {
	s.DropAll()
	s.srv.Close()
}

// recordingHandler collects dispatched frames. It is only touched from the
// goroutine draining the manual scheduler.
type recordingHandler struct {
	userLists   [][]models.Presence
	registered  []models.User
	forceLogout int
	typing      []models.TypingEvent
	messages    []models.Message
}

func (h *recordingHandler) HandleUserList(users []models.Presence) {
	h.userLists = append(h.userLists, users)
}

func (h *recordingHandler) HandleUserRegistered(user models.User) {
	h.registered = append(h.registered, user)
}

func (h *recordingHandler) HandleForceLogout() {
	h.forceLogout++
}

func (h *recordingHandler) HandleTyping(ev models.TypingEvent) {
	h.typing = append(h.typing, ev)
}

func (h *recordingHandler) HandleMessage(msg models.Message) {
	h.messages = append(h.messages, msg)
}
