package events

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLog(t *testing.T) {
	ev := Decode([]byte(`{"messageType":"LOG","data":{"message":"Processing batch 2/5"}}`))
	require.IsType(t, Log{}, ev)
	assert.Equal(t, "Processing batch 2/5", ev.(Log).Message)
	assert.Equal(t, KindLog, ev.Kind())
}

func TestDecodeLogBareString(t *testing.T) {
	ev := Decode([]byte(`{"messageType":"LOG","data":"warming up"}`))
	require.IsType(t, Log{}, ev)
	assert.Equal(t, "warming up", ev.(Log).Message)
}

func TestDecodeBatchResult(t *testing.T) {
	raw := `{"messageType":"METRICS_INTERMEDIATE","data":{
		"accuracy":{"value":0.91,"ideal_value":1,"lower_bound":0,"upper_bound":1},
		"demographic_parity":{"value":-0.05,"ideal_value":0,"lower_bound":null,"upper_bound":"inf"},
		"toxicity":{"error":"model endpoint timed out"}
	}}`
	ev := Decode([]byte(raw))
	require.IsType(t, BatchResult{}, ev)
	m := ev.(BatchResult).Metrics
	require.Len(t, m, 3)

	assert.InDelta(t, 0.91, m["accuracy"].Value, 1e-9)
	assert.Equal(t, 1.0, m["accuracy"].UpperBound)
	assert.False(t, m["accuracy"].Failed())

	assert.True(t, math.IsInf(m["demographic_parity"].LowerBound, -1))
	assert.True(t, math.IsInf(m["demographic_parity"].UpperBound, 1))

	assert.True(t, m["toxicity"].Failed())
	assert.Equal(t, "model endpoint timed out", m["toxicity"].Failure)
}

func TestDecodeBareInfinityTokens(t *testing.T) {
	raw := `{"messageType":"METRICS_INTERMEDIATE","data":{"odds":{"value":1.2,"ideal_value":1,"lower_bound":-Infinity,"upper_bound":Infinity}}}`
	ev := Decode([]byte(raw))
	require.IsType(t, BatchResult{}, ev)
	odds := ev.(BatchResult).Metrics["odds"]
	assert.True(t, math.IsInf(odds.LowerBound, -1))
	assert.True(t, math.IsInf(odds.UpperBound, 1))
}

func TestQuoteNonFiniteLeavesStringsAlone(t *testing.T) {
	in := `{"a":"Infinity and NaN","b":-Infinity,"c":NaN,"d":"x\"Infinity"}`
	assert.Equal(t,
		`{"a":"Infinity and NaN","b":"-Infinity","c":"NaN","d":"x\"Infinity"}`,
		string(quoteNonFinite([]byte(in))))
}

func TestDecodeJobCompleteAndError(t *testing.T) {
	ev := Decode([]byte(`{"messageType":"METRICS_COMPLETE","data":{"message":"All batches processed"}}`))
	require.IsType(t, JobComplete{}, ev)
	assert.Equal(t, "All batches processed", ev.(JobComplete).Message)

	ev = Decode([]byte(`{"messageType":"ERROR","data":{"message":"dataset unreachable"}}`))
	require.IsType(t, Error{}, ev)
	assert.Equal(t, "dataset unreachable", ev.(Error).Message)
}

func TestDecodeReport(t *testing.T) {
	raw := `{"messageType":"REPORT","data":{
		"info":{"model_name":"sentiment-v2","evaluation_date":"2026-10-18","dataset":"reviews"},
		"properties":[{
			"property":"Fairness",
			"computed_metrics":[{"metric":"demographic_parity","value":0.04},{"metric":"grade","value":"B"}],
			"legislation_extracts":[{"article_number":10,"article_title":"Data governance","description":"Training data shall be relevant."}],
			"llm_insights":["Bias is within tolerance."]
		}]
	}}`
	ev := Decode([]byte(raw))
	require.IsType(t, Report{}, ev)
	doc := ev.(Report).Payload
	assert.Equal(t, "sentiment-v2", doc.Info.ModelName)
	require.Len(t, doc.Properties, 1)
	p := doc.Properties[0]
	assert.Equal(t, Scalar("0.04"), p.ComputedMetrics[0].Value)
	assert.Equal(t, Scalar("B"), p.ComputedMetrics[1].Value)
	assert.Equal(t, Scalar("10"), p.LegislationExtracts[0].ArticleNumber)
	assert.Equal(t, []string{"Bias is within tolerance."}, p.LLMInsights)
}

func TestDecodeNeverFails(t *testing.T) {
	cases := map[string]string{
		"empty":                 ``,
		"whitespace":            "   \n",
		"malformed":             `{"messageType":`,
		"not an object":         `[1,2,3]`,
		"plain text":            `hello`,
		"unknown type":          `{"messageType":"HEARTBEAT","data":{}}`,
		"missing type":          `{"data":{"message":"x"}}`,
		"missing data":          `{"messageType":"LOG"}`,
		"null data":             `{"messageType":"LOG","data":null}`,
		"log without message":   `{"messageType":"LOG","data":{"msg":"x"}}`,
		"metric without value":  `{"messageType":"METRICS_INTERMEDIATE","data":{"acc":{"ideal_value":1}}}`,
		"metrics not an object": `{"messageType":"METRICS_INTERMEDIATE","data":[1]}`,
		"empty metrics":         `{"messageType":"METRICS_INTERMEDIATE","data":{}}`,
		"null metrics":          `{"messageType":"METRICS_INTERMEDIATE","data":null}`,
		"report without info":   `{"messageType":"REPORT","data":{"properties":[]}}`,
		"report without props":  `{"messageType":"REPORT","data":{"info":{}}}`,
		"bad bound":             `{"messageType":"METRICS_INTERMEDIATE","data":{"a":{"value":1,"lower_bound":"low"}}}`,
		"error with number":     `{"messageType":"ERROR","data":42}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var ev Event
			require.NotPanics(t, func() { ev = Decode([]byte(raw)) })
			require.IsType(t, Unrecognized{}, ev)
			u := ev.(Unrecognized)
			assert.Equal(t, raw, u.Raw)
			assert.NotEmpty(t, u.Reason)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	in := []Event{
		Log{Message: "hello"},
		JobComplete{Message: "done"},
		Error{Message: "boom"},
		BatchResult{Metrics: map[string]MetricOutcome{
			"parity": Unbounded(0.2, 0),
			"acc":    {Value: 0.8, IdealValue: 1, LowerBound: 0, UpperBound: 1},
			"tox":    {Failure: "timeout", LowerBound: math.Inf(-1), UpperBound: math.Inf(1)},
		}},
		Report{Payload: ReportDocument{
			Info: ReportInfo{ModelName: "m", EvaluationDate: "2026-10-18", Dataset: "d"},
			Properties: []PropertySection{{
				Property:        "Robustness",
				ComputedMetrics: []ComputedMetric{{Metric: "flip_rate", Value: "0.12"}},
			}},
		}},
	}
	for _, ev := range in {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			b, err := Encode(ev)
			require.NoError(t, err)
			assert.Equal(t, ev, Decode(b))
		})
	}
}

func TestEncodeUnrecognized(t *testing.T) {
	_, err := Encode(Unrecognized{Raw: "x"})
	assert.ErrorIs(t, err, ErrNotEncodable)

	_, ok := TypeOf(Unrecognized{})
	assert.False(t, ok)
	mt, ok := TypeOf(JobComplete{})
	assert.True(t, ok)
	assert.Equal(t, TypeMetricsComplete, mt)
}

func TestMetricNamesSorted(t *testing.T) {
	names := MetricNames(map[string]MetricOutcome{"b": {}, "a": {}, "c": {}})
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
