package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/compliance-console/internal/logging"
	"github.com/large-farva/compliance-console/internal/metrics"
)

// DefaultReconnectDelay is the pause between an unexpected close and the next
// dial.
const DefaultReconnectDelay = 1000 * time.Millisecond

// Options configures a Manager.
type Options struct {
	// BaseURL is the stream endpoint; the session identifier is appended as
	// the last path segment. http and https are mapped to ws and wss.
	BaseURL string
	// ReconnectDelay defaults to DefaultReconnectDelay when zero.
	ReconnectDelay time.Duration
	// MaxRetries caps consecutive reconnects without a successful open.
	// Zero retries forever.
	MaxRetries       int
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
	Metrics          *metrics.Stream
	Dialer           *websocket.Dialer
}

// Manager owns the live job-stream connection.
type Manager struct {
	base   *url.URL
	delay  time.Duration
	opts   Options
	dialer *websocket.Dialer
	log    *slog.Logger
	m      *metrics.Stream

	mu         sync.Mutex
	current    *Connection
	generation uint64
}

// NewManager validates the base URL and returns an idle Manager.
func NewManager(opts Options) (*Manager, error) {
	base, err := streamBase(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	delay := opts.ReconnectDelay
	if delay == 0 {
		delay = DefaultReconnectDelay
	}
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		if opts.HandshakeTimeout > 0 {
			d.HandshakeTimeout = opts.HandshakeTimeout
		}
		dialer = &d
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewStream(nil)
	}
	return &Manager{
		base:   base,
		delay:  delay,
		opts:   opts,
		dialer: dialer,
		log:    logging.OrDiscard(opts.Logger),
		m:      m,
	}, nil
}

// streamBase parses raw and maps http(s) onto ws(s), the way a browser
// derives its socket address from the page origin.
func streamBase(raw string) (*url.URL, error) {
	raw = strings.TrimRight(raw, "/")
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("stream URL has no host")
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	return u, nil
}

// TargetURL returns the websocket address for a session identifier.
func (m *Manager) TargetURL(id string) string {
	u := *m.base
	dir := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/" + id
	u.RawPath = dir + "/" + url.PathEscape(id)
	return u.String()
}

// Open starts a new connection for id and returns it immediately. onEvent is
// called for every inbound message, in order, from the connection's reader
// goroutine. Any current connection is closed intentionally first.
func (m *Manager) Open(id string, onEvent func([]byte)) *Connection {
	m.mu.Lock()
	prev := m.current
	c := m.newConnLocked(id, onEvent, 0)
	m.current = c
	m.mu.Unlock()

	if prev != nil {
		m.Close(prev)
	}
	m.log.Info("stream opening", "generation", c.generation, "target", c.target)
	go m.run(c)
	return c
}

// Current returns the live connection, or nil.
func (m *Manager) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close marks c, and every connection that automatically replaced it, as
// intentionally closed, cancels their pending reconnect timers, and shuts
// their sockets down. The flag is set before the transport is touched so
// the close handler never schedules a reconnect.
func (m *Manager) Close(c *Connection) {
	if c == nil {
		return
	}
	var lineage []*Connection
	m.mu.Lock()
	for x := c; x != nil; x = x.successor {
		x.intentional.Store(true)
		lineage = append(lineage, x)
	}
	m.mu.Unlock()

	for _, x := range lineage {
		x.shutdown()
		m.log.Debug("stream closed", "generation", x.generation)
	}
}

// CloseCurrent intentionally closes the live connection, if any.
func (m *Manager) CloseCurrent() {
	m.Close(m.Current())
}

func (m *Manager) newConnLocked(id string, onEvent func([]byte), attempt int) *Connection {
	m.generation++
	return newConnection(id, m.TargetURL(id), m.generation, attempt, onEvent)
}

// run dials, performs the handshake, and pumps messages until the socket
// fails or is closed.
func (m *Manager) run(c *Connection) {
	ws, _, err := m.dialer.DialContext(c.ctx, c.target, nil)
	if err != nil {
		m.closed(c, fmt.Errorf("dial: %w", err))
		return
	}
	if !c.setSocket(ws) {
		_ = ws.Close()
		m.closed(c, nil)
		return
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(c.id)); err != nil {
		_ = ws.Close()
		m.closed(c, fmt.Errorf("handshake: %w", err))
		return
	}
	c.opened.Store(true)
	c.state.Store(int32(StateOpen))
	m.m.Opens.Inc()
	m.log.Info("stream open", "generation", c.generation)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			_ = ws.Close()
			m.closed(c, err)
			return
		}
		// A message read after Close belongs to a superseded stream.
		if c.intentional.Load() {
			continue
		}
		m.m.Messages.Inc()
		if c.onEvent != nil {
			c.onEvent(msg)
		}
	}
}

// closed handles the transition to StateClosed and decides on a reconnect.
func (m *Manager) closed(c *Connection, cause error) {
	c.markClosed()
	if c.intentional.Load() {
		return
	}

	m.m.UnexpectedCloses.Inc()

	m.mu.Lock()
	superseded := m.current != c
	m.mu.Unlock()
	if superseded {
		return
	}

	attempt := c.attempt + 1
	if c.opened.Load() {
		attempt = 1
	}
	if m.opts.MaxRetries > 0 && attempt > m.opts.MaxRetries {
		m.log.Error("stream closed, retry limit reached", "generation", c.generation, "retries", m.opts.MaxRetries, "error", cause)
		return
	}

	m.log.Warn("stream closed unexpectedly, reconnecting",
		"generation", c.generation, "delay", m.delay, "attempt", attempt, "error", cause)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intentional.Load() {
		return
	}
	c.timer = time.AfterFunc(m.delay, func() { m.reconnect(c, attempt) })
}

// reconnect replaces prev with a fresh connection for the same session, unless
// prev was closed on purpose or is no longer current.
func (m *Manager) reconnect(prev *Connection, attempt int) {
	m.mu.Lock()
	if m.current != prev || prev.intentional.Load() {
		m.mu.Unlock()
		return
	}
	next := m.newConnLocked(prev.id, prev.onEvent, attempt)
	prev.successor = next
	m.current = next
	m.mu.Unlock()

	m.m.Reconnects.Inc()
	m.log.Info("stream reconnecting", "generation", next.generation, "replaces", prev.generation)
	go m.run(next)
}
