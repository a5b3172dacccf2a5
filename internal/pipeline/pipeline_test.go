package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/compliance-console/internal/events"
	"github.com/large-farva/compliance-console/internal/report"
	"github.com/large-farva/compliance-console/internal/session"
	"github.com/large-farva/compliance-console/internal/stream"
	"github.com/large-farva/compliance-console/internal/submit"
)

// fakeBackend accepts every job and hands each stream to script.
type fakeBackend struct {
	*httptest.Server
	status     int
	submitted  chan string
	handshakes chan string
	script     func(ws *websocket.Conn)
}

func newFakeBackend(t *testing.T, status int, script func(ws *websocket.Conn)) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		status:     status,
		submitted:  make(chan string, 8),
		handshakes: make(chan string, 8),
		script:     script,
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		b.submitted <- r.Header.Get(submit.SessionHeader)
		w.WriteHeader(b.status)
		if b.status == http.StatusAccepted {
			_, _ = w.Write([]byte(`{"job_id":"job-1","message":"queued"}`))
			return
		}
		_, _ = w.Write([]byte(`{"detail":"model endpoint unreachable"}`))
	})
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, id, err := ws.ReadMessage()
		if err != nil {
			return
		}
		b.handshakes <- string(id)
		b.script(ws)
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func send(t *testing.T, ws *websocket.Conn, ev events.Event) {
	raw, err := events.Encode(ev)
	if err != nil {
		t.Errorf("encode: %v", err)
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, raw)
}

func drain(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func testBatch(v float64) events.BatchResult {
	return events.BatchResult{Metrics: map[string]events.MetricOutcome{
		"accuracy": {Value: v, IdealValue: 1, LowerBound: 0, UpperBound: 1},
	}}
}

func testReport() events.Report {
	return events.Report{Payload: events.ReportDocument{
		Info: events.ReportInfo{ModelName: "mock-model", EvaluationDate: "2024-05-01", Dataset: "mock-dataset"},
		Properties: []events.PropertySection{{
			Property:        "Accuracy",
			ComputedMetrics: []events.ComputedMetric{{Metric: "accuracy", Value: "0.9"}},
		}},
	}}
}

func testRequest() submit.JobRequest {
	return submit.JobRequest{
		DatasetURL:           "mock-dataset",
		ModelURL:             "mock-model",
		Metrics:              []string{"accuracy"},
		NumberOfBatches:      5,
		BatchSize:            200,
		MaxConcurrentBatches: 1,
	}
}

func newTestPipeline(t *testing.T, baseURL string, onArtifact func(report.Artifact)) *Pipeline {
	t.Helper()
	mgr, err := stream.NewManager(stream.Options{BaseURL: baseURL + "/ws", ReconnectDelay: 20 * time.Millisecond})
	require.NoError(t, err)
	p, err := New(Options{
		Session:    session.New(),
		Stream:     mgr,
		Submitter:  submit.NewSubmitter(baseURL),
		OnArtifact: onArtifact,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func wait(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
		return ""
	}
}

func TestEndToEndSingleArtifact(t *testing.T) {
	release := make(chan struct{})
	backend := newFakeBackend(t, http.StatusAccepted, func(ws *websocket.Conn) {
		send(t, ws, events.Log{Message: "starting"})
		for i := 1; i <= 5; i++ {
			send(t, ws, testBatch(float64(i)/10))
		}
		<-release
		send(t, ws, testReport())
		send(t, ws, testReport())
		send(t, ws, events.JobComplete{Message: "done"})
		send(t, ws, testBatch(1))
		drain(ws)
	})

	var mu sync.Mutex
	var artifacts []report.Artifact
	p := newTestPipeline(t, backend.URL, func(a report.Artifact) {
		mu.Lock()
		artifacts = append(artifacts, a)
		mu.Unlock()
	})

	job, err := p.Start(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.Accepted.JobID)

	id := wait(t, backend.submitted)
	assert.Equal(t, id, wait(t, backend.handshakes))
	assert.Equal(t, p.Session().CurrentID(), id)

	require.Eventually(t, func() bool { return job.State().Received() == 5 }, 3*time.Second, 5*time.Millisecond)
	st := job.State()
	assert.False(t, st.Terminal)
	assert.Equal(t, "starting", st.LatestLog)
	assert.Equal(t, 1.0, st.Fraction())
	_, err = job.Artifact()
	assert.ErrorIs(t, err, ErrNoArtifact)

	close(release)
	select {
	case <-job.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("report never assembled")
	}
	<-job.Terminal()

	// The trailing batch is ignored; once it is counted every message was seen.
	require.Eventually(t, func() bool { return job.State().Ignored == 1 }, 3*time.Second, 5*time.Millisecond)
	st = job.State()
	assert.True(t, st.Terminal)
	assert.Equal(t, 5, st.Received())

	art, err := job.Artifact()
	require.NoError(t, err)
	assert.Equal(t, "compliance-report-mock-model-2024-05-01.pdf", art.Filename)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, artifacts, 1)
}

func TestRejectedSubmitOpensNoStream(t *testing.T) {
	backend := newFakeBackend(t, http.StatusBadRequest, func(ws *websocket.Conn) { drain(ws) })
	p := newTestPipeline(t, backend.URL, nil)

	job, err := p.Start(context.Background(), testRequest())
	assert.Nil(t, job)
	var serr *submit.SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "model endpoint unreachable", serr.Detail)

	wait(t, backend.submitted)
	select {
	case id := <-backend.handshakes:
		t.Fatalf("stream opened for %q", id)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Nil(t, p.Current())
}

func TestInvalidRequestNeverSubmitted(t *testing.T) {
	backend := newFakeBackend(t, http.StatusAccepted, func(ws *websocket.Conn) { drain(ws) })
	p := newTestPipeline(t, backend.URL, nil)

	req := testRequest()
	req.BatchSize = 1
	_, err := p.Start(context.Background(), req)
	var verr *submit.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, backend.submitted)
}

func TestRegenerateSessionReconnects(t *testing.T) {
	backend := newFakeBackend(t, http.StatusAccepted, func(ws *websocket.Conn) { drain(ws) })
	p := newTestPipeline(t, backend.URL, nil)

	job, err := p.Start(context.Background(), testRequest())
	require.NoError(t, err)
	first := wait(t, backend.handshakes)
	oldConn := job.Conn()

	next := p.RegenerateSession()
	assert.NotEqual(t, first, next)
	assert.Equal(t, next, wait(t, backend.handshakes))

	assert.True(t, oldConn.Intentional())
	assert.NotSame(t, oldConn, job.Conn())
	assert.True(t, strings.HasSuffix(job.Conn().Target(), "/ws/"+next))
}

func TestRegenerateWithoutJobOnlySwapsID(t *testing.T) {
	var requests atomic.Int32
	backend := newFakeBackend(t, http.StatusAccepted, func(ws *websocket.Conn) {
		requests.Add(1)
		drain(ws)
	})
	p := newTestPipeline(t, backend.URL, nil)

	before := p.Session().CurrentID()
	after := p.RegenerateSession()
	assert.NotEqual(t, before, after)
	assert.Equal(t, after, p.Session().CurrentID())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, requests.Load())
}
