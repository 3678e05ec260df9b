package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"forumchat/internal/logger"
	"forumchat/internal/loop"
)

var (
	ErrNotOpen       = errors.New("websocket: connection is not open")
	ErrSendQueueFull = errors.New("websocket: send queue full")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Options struct {
	URL string
	// Header is evaluated on every dial so a refreshed session cookie is used.
	Header           func() http.Header
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	SendBuffer       int
	Dialer           Dialer
	OnStateChange    func(State)
}

func (o *Options) withDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
		}
	}
	if o.Header == nil {
		o.Header = func() http.Header { return http.Header{} }
	}
}

// Manager owns the single logical connection to the chat server. Every
// method must be called on the event loop behind sched.
type Manager struct {
	sched   loop.Scheduler
	handler Handler
	opts    Options
	ctx     context.Context

	state      State
	generation uint64
	conn       *conn
	reconnect  loop.Timer
	cancelDial context.CancelFunc
	shutdown   bool
}

func NewManager(sched loop.Scheduler, h Handler, opts Options) *Manager {
	opts.withDefaults()
	return &Manager{
		sched:   sched,
		handler: h,
		opts:    opts,
		ctx:     logger.WithLogFields(context.Background(), logger.LogFields{Component: "websocket.manager"}),
	}
}

func (m *Manager) State() State {
	return m.state
}

// Generation is the number of the most recent dial.
func (m *Manager) Generation() uint64 {
	return m.generation
}

// Connect starts a dial unless one is in progress or the channel is open.
// It re-arms the manager after Shutdown.
func (m *Manager) Connect() {
	m.shutdown = false
	m.connect()
}

func (m *Manager) connect() {
	if m.shutdown || m.state != StateDisconnected {
		return
	}
	m.stopReconnect()

	m.generation++
	gen := m.generation
	m.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.HandshakeTimeout)
	m.cancelDial = cancel
	url := m.opts.URL
	header := m.opts.Header()

	go func() {
		defer cancel()
		span := logger.StartSpan(logger.WithLogFields(ctx, logger.LogFields{ConnGeneration: logger.Ptr(gen)}), "websocket.connect")
		defer span.End()

		ws, _, err := m.opts.Dialer.DialContext(span.Context(), url, header)
		if err != nil {
			span.RecordError(err)
		}
		m.sched.Post(func() {
			m.dialed(gen, ws, err)
		})
	}()
}

func (m *Manager) dialed(gen uint64, ws *websocket.Conn, err error) {
	ctx := m.genContext(gen)
	if gen != m.generation || m.shutdown {
		if ws != nil {
			ws.Close()
		}
		slog.DebugContext(ctx, "discarding stale dial result")
		return
	}
	m.cancelDial = nil

	if err != nil {
		slog.WarnContext(ctx, "socket dial failed", "url", m.opts.URL, "error", err)
		m.setState(StateDisconnected)
		m.scheduleReconnect()
		return
	}

	m.stopReconnect()
	c := newConn(ws, gen, m.opts.SendBuffer)
	m.conn = c
	m.setState(StateOpen)
	slog.InfoContext(ctx, "socket connected", "url", m.opts.URL)

	pongWait := m.opts.PingPeriod * 10 / 9
	go c.writePump(m.opts.PingPeriod)
	go c.readPump(pongWait,
		func(raw []byte) {
			m.sched.Post(func() { m.receive(gen, raw) })
		},
		func(err error) {
			m.sched.Post(func() { m.closed(gen, err) })
		},
	)
}

func (m *Manager) receive(gen uint64, raw []byte) {
	if m.conn == nil || m.conn.gen != gen {
		return
	}
	ctx := m.genContext(gen)
	if t := FrameType(raw); t != "" {
		ctx = logger.WithLogFields(ctx, logger.LogFields{FrameType: logger.Ptr(t)})
	}

	frame, err := Decode(raw)
	if err != nil {
		slog.WarnContext(ctx, "dropping malformed frame",
			"error", err, "frame", logger.Truncate(string(raw), 200))
		return
	}
	slog.DebugContext(ctx, "dispatching frame")
	Dispatch(m.handler, frame)
}

func (m *Manager) closed(gen uint64, err error) {
	if m.conn == nil || m.conn.gen != gen {
		return
	}
	m.conn.close()
	m.conn = nil
	m.setState(StateDisconnected)
	slog.InfoContext(m.genContext(gen), "socket closed", "error", err)

	if !m.shutdown {
		m.scheduleReconnect()
	}
}

func (m *Manager) scheduleReconnect() {
	m.stopReconnect()
	m.reconnect = m.sched.AfterFunc(m.opts.ReconnectDelay, func() {
		m.reconnect = nil
		m.connect()
	})
	slog.InfoContext(m.ctx, "reconnect scheduled", "delay", m.opts.ReconnectDelay)
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// Shutdown closes the channel for good: no reconnect is scheduled and late
// results of the current connection are discarded.
func (m *Manager) Shutdown() {
	m.shutdown = true
	m.stopReconnect()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	// Detach whatever is in flight.
	m.generation++
	if m.conn != nil {
		m.conn.close()
		m.conn = nil
	}
	m.setState(StateDisconnected)
}

// Send marshals v and queues it for the write pump. Delivery is not
// guaranteed even on success.
func (m *Manager) Send(v any) error {
	if m.state != StateOpen || m.conn == nil {
		return ErrNotOpen
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("websocket: encode frame: %w", err)
	}
	select {
	case m.conn.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(s)
	}
}

func (m *Manager) genContext(gen uint64) context.Context {
	return logger.WithLogFields(m.ctx, logger.LogFields{ConnGeneration: logger.Ptr(gen)})
}
