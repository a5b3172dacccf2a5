// Package stream owns the websocket connection to the backend's job event
// stream. A Manager keeps a single live Connection per session identifier,
// sends the identifier as the first message so the backend can attach the
// stream to the job, and reconnects after unexpected closures.
//
// Connections are never reused: every reconnect creates a new Connection with
// a higher generation, and the reconnect timer is bound to the Connection
// that closed, so a stale timer can never revive a stream that was closed on
// purpose or already replaced.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is a Connection's lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection wraps one websocket dial. It is created by Manager.Open or by an
// automatic reconnect and is never reopened.
type Connection struct {
	id         string
	target     string
	generation uint64
	attempt    int // consecutive reconnects without a successful open
	onEvent    func([]byte)

	state       atomic.Int32
	intentional atomic.Bool // guarded for writes by Manager.mu
	opened      atomic.Bool

	// successor is the connection that replaced this one after an
	// unexpected close. Guarded by Manager.mu.
	successor *Connection

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	ws    *websocket.Conn
	timer *time.Timer

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(id, target string, generation uint64, attempt int, onEvent func([]byte)) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:         id,
		target:     target,
		generation: generation,
		attempt:    attempt,
		onEvent:    onEvent,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// SessionID returns the session identifier the connection was opened for.
func (c *Connection) SessionID() string { return c.id }

// Target returns the websocket URL dialed.
func (c *Connection) Target() string { return c.target }

// Generation returns the manager-wide sequence number of this connection.
func (c *Connection) Generation() uint64 { return c.generation }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Intentional reports whether Close was called on this connection.
func (c *Connection) Intentional() bool { return c.intentional.Load() }

// Done is closed once the connection reaches StateClosed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// setSocket installs the dialed socket unless the connection was closed
// while dialing, in which case it reports false and the caller must discard
// the socket.
func (c *Connection) setSocket(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intentional.Load() {
		return false
	}
	c.ws = ws
	return true
}

// markClosed transitions to StateClosed exactly once.
func (c *Connection) markClosed() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.cancel()
		close(c.done)
	})
}

// shutdown stops any pending reconnect timer and tears the socket down. The
// intentional flag must already be set.
func (c *Connection) shutdown() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(1*time.Second),
		)
		_ = ws.Close()
	}
}
