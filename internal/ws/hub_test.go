package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/compliance-console/internal/metrics"
)

func startHub(t *testing.T, size int) (*Hub, *metrics.Backend, *httptest.Server) {
	t.Helper()
	m := metrics.NewBackend(nil)
	h := NewHub(Options{BacklogSize: size, Metrics: m})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, m, srv
}

func dial(t *testing.T, srv *httptest.Server, path, hello string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(hello)))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(b)
}

func TestBacklogFlushedInOrderOnAttach(t *testing.T) {
	h, m, srv := startHub(t, 2)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, h.Publish("s1", []byte(s)))
	}
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.BacklogDropped) == 1 }, time.Second, 5*time.Millisecond)

	conn := dial(t, srv, "/ws/s1", "s1")
	assert.Equal(t, "b", read(t, conn))
	assert.Equal(t, "c", read(t, conn))

	require.NoError(t, h.Publish("s1", []byte("d")))
	assert.Equal(t, "d", read(t, conn))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsActive))
}

func TestSessionFromFirstMessage(t *testing.T) {
	h, m, srv := startHub(t, 0)

	conn := dial(t, srv, "/ws/", "s2")
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.StreamsActive) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.PublishJSON("s2", map[string]string{"messageType": "LOG"}))
	assert.JSONEq(t, `{"messageType":"LOG"}`, read(t, conn))
}

func TestSessionsAreIsolated(t *testing.T) {
	h, m, srv := startHub(t, 0)

	one := dial(t, srv, "/ws/one", "one")
	two := dial(t, srv, "/ws/two", "two")
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.StreamsActive) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish("two", []byte("for-two")))
	require.NoError(t, h.Publish("one", []byte("for-one")))
	assert.Equal(t, "for-one", read(t, one))
	assert.Equal(t, "for-two", read(t, two))
}

func TestDetachDecrementsActive(t *testing.T) {
	_, m, srv := startHub(t, 0)

	conn := dial(t, srv, "/ws/s3", "s3")
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.StreamsActive) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.StreamsActive) == 0 }, time.Second, 5*time.Millisecond)
}

func TestPublishAfterStop(t *testing.T) {
	h := NewHub(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	// Fill the queue so the closed path is the only one left.
	for i := 0; i < cap(h.publish); i++ {
		h.publish <- message{}
	}
	assert.ErrorIs(t, h.Publish("s", []byte("x")), ErrClosed)
}
