package progress

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/compliance-console/internal/events"
)

func batch(value float64) events.BatchResult {
	return events.BatchResult{Metrics: map[string]events.MetricOutcome{
		"accuracy": {Value: value, IdealValue: 1, LowerBound: 0, UpperBound: 1},
	}}
}

func sampleReport(model string) events.Report {
	return events.Report{Payload: events.ReportDocument{
		Info: events.ReportInfo{ModelName: model, EvaluationDate: "2026-10-18", Dataset: "reviews"},
	}}
}

func TestBatchesAccumulateInOrder(t *testing.T) {
	s := NewState(10)
	for i := 0; i < 7; i++ {
		var tr Transition
		s, tr = Reduce(s, batch(float64(i)))
		assert.False(t, tr.BecameTerminal)
		assert.Equal(t, i+1, s.Received())
	}
	for i, b := range s.Batches {
		assert.Equal(t, float64(i), b["accuracy"].Value)
	}
	assert.False(t, s.Terminal)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s0 := NewState(3)
	s1, _ := Reduce(s0, batch(1))
	s2a, _ := Reduce(s1, batch(2))
	s2b, _ := Reduce(s1, batch(3))

	assert.Equal(t, 0, s0.Received())
	assert.Equal(t, 1, s1.Received())
	assert.Equal(t, 2.0, s2a.Batches[1]["accuracy"].Value)
	assert.Equal(t, 3.0, s2b.Batches[1]["accuracy"].Value)
}

func TestLogSetsLatestLog(t *testing.T) {
	s, tr := Reduce(NewState(1), events.Log{Message: "loading dataset"})
	assert.Equal(t, "loading dataset", s.LatestLog)
	assert.Equal(t, Transition{}, tr)
}

func TestReachingExpectedIsNotTerminal(t *testing.T) {
	s := NewState(2)
	s, _ = Reduce(s, batch(1))
	s, _ = Reduce(s, batch(1))
	assert.Equal(t, 2, s.Received())
	assert.Equal(t, 1.0, s.Fraction())
	assert.False(t, s.Terminal)
}

func TestJobCompleteIsTerminalOnce(t *testing.T) {
	s := NewState(1)
	s, tr := Reduce(s, events.JobComplete{Message: "all done"})
	assert.True(t, s.Terminal)
	assert.True(t, tr.BecameTerminal)
	assert.Equal(t, "all done", s.LatestLog)

	s, tr = Reduce(s, events.JobComplete{Message: "again"})
	assert.True(t, s.Terminal)
	assert.False(t, tr.BecameTerminal)
}

func TestReportAfterCompleteStillAssembledOnce(t *testing.T) {
	s := NewState(1)
	s, _ = Reduce(s, events.JobComplete{Message: "done"})

	s, tr := Reduce(s, sampleReport("first"))
	assert.False(t, tr.BecameTerminal)
	require.NotNil(t, tr.Report)
	assert.Equal(t, "first", tr.Report.Info.ModelName)

	s, tr = Reduce(s, sampleReport("second"))
	assert.Nil(t, tr.Report)
	assert.Equal(t, "first", s.Report.Info.ModelName)
}

func TestBatchAfterTerminalIgnored(t *testing.T) {
	s := NewState(5)
	s, _ = Reduce(s, batch(1))
	s, _ = Reduce(s, sampleReport("m"))
	s, tr := Reduce(s, batch(2))

	assert.True(t, tr.Ignored)
	assert.False(t, tr.BecameTerminal)
	assert.Nil(t, tr.Report)
	assert.Equal(t, 1, s.Received())
	assert.Equal(t, 1, s.Ignored)
}

func TestErrorsAreRecordedNotTerminal(t *testing.T) {
	s, _ := Reduce(NewState(1), events.Error{Message: "dataset unreachable"})
	require.NotNil(t, s.LastError)
	assert.Equal(t, StreamError{Kind: ErrorServer, Header: "Error", Text: "dataset unreachable"}, *s.LastError)
	assert.False(t, s.Terminal)

	s, _ = Reduce(s, events.Decode([]byte("garbage")))
	require.NotNil(t, s.LastError)
	assert.Equal(t, ErrorDecode, s.LastError.Kind)
	assert.Equal(t, "Unrecognized server message", s.LastError.Header)
	assert.Equal(t, "garbage", s.LastError.Text)
	assert.False(t, s.Terminal)
}

func TestFraction(t *testing.T) {
	assert.Zero(t, NewState(0).Fraction())
	s := NewState(4)
	s, _ = Reduce(s, batch(1))
	assert.Equal(t, 0.25, s.Fraction())
}

func TestSummary(t *testing.T) {
	s := NewState(3)
	s, _ = Reduce(s, events.BatchResult{Metrics: map[string]events.MetricOutcome{
		"accuracy": {Value: 0.8, IdealValue: 1, LowerBound: 0, UpperBound: 1},
		"parity":   events.Unbounded(0.1, 0),
		"toxicity": {Failure: "timeout"},
	}})
	s, _ = Reduce(s, events.BatchResult{Metrics: map[string]events.MetricOutcome{
		"accuracy": {Value: 0.6, IdealValue: 1, LowerBound: 0, UpperBound: 1},
		"parity":   {Failure: "division by zero"},
		"toxicity": {Failure: "rate limited"},
	}})

	sum := s.Summary()
	require.Len(t, sum, 3)

	assert.Equal(t, "accuracy", sum[0].Name)
	assert.InDelta(t, 0.7, sum[0].Value, 1e-9)
	assert.Equal(t, 2, sum[0].Samples)

	assert.Equal(t, "parity", sum[1].Name)
	assert.InDelta(t, 0.1, sum[1].Value, 1e-9)
	assert.True(t, math.IsInf(sum[1].LowerBound, -1))
	assert.Equal(t, 1, sum[1].Failures)
	assert.False(t, sum[1].Failed())
	assert.Empty(t, sum[1].Failure)

	assert.Equal(t, "toxicity", sum[2].Name)
	assert.True(t, sum[2].Failed())
	assert.Equal(t, "rate limited", sum[2].Failure)
}

func TestTrackerSideEffectsFireOnce(t *testing.T) {
	var terminal, reports, changes int
	tr := NewTracker(TrackerOptions{
		ExpectedBatches: 5,
		OnChange:        func(State, events.Event) { changes++ },
		OnTerminal:      func(State) { terminal++ },
		OnReport:        func(events.ReportDocument) { reports++ },
	})

	for i := 0; i < 5; i++ {
		tr.Dispatch(batch(0.9))
	}
	st := tr.State()
	assert.Equal(t, 5, st.Received())
	assert.False(t, st.Terminal)
	assert.Zero(t, terminal)

	tr.Dispatch(events.JobComplete{Message: "done"})
	tr.Dispatch(sampleReport("m"))
	tr.Dispatch(sampleReport("m"))
	tr.Dispatch(batch(0.1))

	assert.Equal(t, 1, terminal)
	assert.Equal(t, 1, reports)
	assert.Equal(t, 9, changes)
	assert.Equal(t, 5, tr.State().Received())
	assert.Equal(t, 1, tr.State().Ignored)
}

func TestTrackerApplyDecodesRaw(t *testing.T) {
	var got events.ReportDocument
	tr := NewTracker(TrackerOptions{
		ExpectedBatches: 1,
		OnReport:        func(doc events.ReportDocument) { got = doc },
	})
	tr.Apply([]byte(`{"messageType":"LOG","data":{"message":"hi"}}`))
	tr.Apply([]byte(`{"messageType":"REPORT","data":{"info":{"model_name":"m"},"properties":[]}}`))

	assert.Equal(t, "hi", tr.State().LatestLog)
	assert.True(t, tr.State().Terminal)
	assert.Equal(t, "m", got.Info.ModelName)
}

func TestTrackerConcurrentReportsAssembleOnce(t *testing.T) {
	var mu sync.Mutex
	reports := 0
	tr := NewTracker(TrackerOptions{
		OnReport: func(events.ReportDocument) {
			mu.Lock()
			reports++
			mu.Unlock()
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Dispatch(sampleReport(fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, reports)
}
