// Package ws routes job events to the websocket clients of one session.
// Every client names its session in the URL and repeats it as its first
// message. Events published before a client attaches, or while it is
// reconnecting, wait in a per-session backlog and are flushed in order when
// it arrives. The hub pings clients so stale connections get cleaned up.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/compliance-console/internal/logging"
	"github.com/large-farva/compliance-console/internal/metrics"
)

// ErrClosed is returned by Publish after the hub stopped.
var ErrClosed = errors.New("hub closed")

const (
	defaultBacklog = 256
	backlogTTL     = 10 * time.Minute
	handshakeWait  = 10 * time.Second
	readWait       = 60 * time.Second
	pingEvery      = 20 * time.Second
)

type client struct {
	conn    *websocket.Conn
	session string
}

type message struct {
	session string
	data    []byte
}

type backlog struct {
	msgs    [][]byte
	touched time.Time
}

// Options configures a Hub.
type Options struct {
	// BacklogSize caps the events held per detached session; the oldest are
	// dropped first.
	BacklogSize int
	Logger      *slog.Logger
	Metrics     *metrics.Backend
}

// Hub owns every session's clients and backlog. All state lives in the Run
// goroutine; register, unregister, and publish go through channels.
type Hub struct {
	sessions   map[string]map[*client]struct{}
	backlogs   map[string]*backlog
	register   chan *client
	unregister chan *client
	publish    chan message
	stopped    chan struct{}
	upgrader   websocket.Upgrader

	backlogSize int
	log         *slog.Logger
	m           *metrics.Backend
}

// NewHub allocates a hub. Call Run in a goroutine to start the event loop.
func NewHub(opts Options) *Hub {
	size := opts.BacklogSize
	if size <= 0 {
		size = defaultBacklog
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewBackend(nil)
	}
	return &Hub{
		sessions:   make(map[string]map[*client]struct{}),
		backlogs:   make(map[string]*backlog),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		publish:    make(chan message, 256),
		stopped:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		backlogSize: size,
		log:         logging.OrDiscard(opts.Logger),
		m:           m,
	}
}

// Run processes registrations, publishes, and keepalive pings in a single
// select loop. It closes all clients when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.sessions {
				for c := range clients {
					_ = c.conn.Close()
				}
			}
			return

		case c := <-h.register:
			h.attach(c)

		case c := <-h.unregister:
			h.detach(c)

		case msg := <-h.publish:
			h.deliver(msg)

		case now := <-ping.C:
			for _, clients := range h.sessions {
				for c := range clients {
					_ = c.conn.SetWriteDeadline(now.Add(2 * time.Second))
					if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						h.detach(c)
					}
				}
			}
			for id, b := range h.backlogs {
				if now.Sub(b.touched) > backlogTTL {
					delete(h.backlogs, id)
				}
			}
		}
	}
}

func (h *Hub) attach(c *client) {
	clients := h.sessions[c.session]
	if clients == nil {
		clients = make(map[*client]struct{})
		h.sessions[c.session] = clients
	}
	clients[c] = struct{}{}
	h.m.StreamsActive.Inc()

	if b := h.backlogs[c.session]; b != nil {
		delete(h.backlogs, c.session)
		h.log.Debug("flushing backlog", "session", c.session, "events", len(b.msgs))
		for i, msg := range b.msgs {
			if !h.write(c, msg) {
				if len(h.sessions[c.session]) == 0 {
					h.backlogs[c.session] = &backlog{msgs: b.msgs[i:], touched: time.Now()}
				}
				return
			}
		}
	}
	h.log.Info("stream attached", "session", c.session)
}

func (h *Hub) detach(c *client) {
	clients := h.sessions[c.session]
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.sessions, c.session)
	}
	h.m.StreamsActive.Dec()
	_ = c.conn.Close()
	h.log.Info("stream detached", "session", c.session)
}

func (h *Hub) deliver(msg message) {
	clients := h.sessions[msg.session]
	if len(clients) == 0 {
		h.hold(msg)
		return
	}
	for c := range clients {
		h.write(c, msg.data)
	}
	// Every client failed; keep the event for the next one.
	if len(h.sessions[msg.session]) == 0 {
		h.hold(msg)
	}
}

func (h *Hub) hold(msg message) {
	b := h.backlogs[msg.session]
	if b == nil {
		b = &backlog{}
		h.backlogs[msg.session] = b
	}
	if len(b.msgs) >= h.backlogSize {
		b.msgs = b.msgs[1:]
		h.m.BacklogDropped.Inc()
	}
	b.msgs = append(b.msgs, msg.data)
	b.touched = time.Now()
}

// write sends one message and detaches the client on failure.
func (h *Hub) write(c *client, msg []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		h.log.Warn("stream write failed", "session", c.session, "error", err)
		h.detach(c)
		return false
	}
	return true
}

// Serve upgrades the request and attaches it to session once the client has
// sent its identifying first message. An empty session takes the identifier
// from that message.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, session string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, first, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}
	if session == "" {
		session = string(first)
	} else if string(first) != session {
		h.log.Warn("handshake does not match stream path", "path", session, "handshake", string(first))
	}
	if session == "" {
		_ = conn.Close()
		return
	}

	c := &client{conn: conn, session: session}
	select {
	case h.register <- c:
	case <-h.stopped:
		_ = conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.stopped:
			}
		}()
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			return nil
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish queues raw for delivery to session. It blocks while the queue is
// full and returns ErrClosed once the hub stopped.
func (h *Hub) Publish(session string, raw []byte) error {
	select {
	case h.publish <- message{session: session, data: raw}:
		return nil
	case <-h.stopped:
		return ErrClosed
	}
}

// PublishJSON marshals v and publishes it to session.
func (h *Hub) PublishJSON(session string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.Publish(session, b)
}
