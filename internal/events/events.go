// Package events defines the progress events that flow over the job stream
// between the evaluation backend and its clients, and the decoder that turns
// raw websocket messages into them.
//
// Every server message is a JSON envelope with a messageType discriminator and
// a data payload. Decoding never fails: anything the client cannot make sense
// of becomes an Unrecognized event that the progress reducer records.
package events

import (
	"encoding/json"
	"math"
)

// MessageType is the wire discriminator carried in every envelope.
type MessageType string

const (
	TypeLog                 MessageType = "LOG"
	TypeMetricsIntermediate MessageType = "METRICS_INTERMEDIATE"
	TypeMetricsComplete     MessageType = "METRICS_COMPLETE"
	TypeReport              MessageType = "REPORT"
	TypeError               MessageType = "ERROR"
)

// Envelope is the outer shape of every server message.
type Envelope struct {
	MessageType MessageType     `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

// Kind identifies a decoded event variant.
type Kind string

const (
	KindLog          Kind = "log"
	KindBatchResult  Kind = "batch_result"
	KindJobComplete  Kind = "job_complete"
	KindReport       Kind = "report"
	KindError        Kind = "error"
	KindUnrecognized Kind = "unrecognized"
)

// Event is one decoded stream message. The set of implementations is closed;
// switch on the concrete type or on Kind.
type Event interface {
	Kind() Kind
	isEvent()
}

// Log carries a human-readable progress line.
type Log struct {
	Message string
}

// BatchResult carries the metric outcomes computed for one batch.
type BatchResult struct {
	Metrics map[string]MetricOutcome
}

// JobComplete announces that every batch has been evaluated.
type JobComplete struct {
	Message string
}

// Report carries the final structured report.
type Report struct {
	Payload ReportDocument
}

// Error is a server-side failure message. It does not end the job.
type Error struct {
	Message string
}

// Unrecognized is produced for anything the decoder could not map onto a
// known variant. Raw is the message exactly as received.
type Unrecognized struct {
	Raw    string
	Reason string
}

func (Log) Kind() Kind          { return KindLog }
func (BatchResult) Kind() Kind  { return KindBatchResult }
func (JobComplete) Kind() Kind  { return KindJobComplete }
func (Report) Kind() Kind       { return KindReport }
func (Error) Kind() Kind        { return KindError }
func (Unrecognized) Kind() Kind { return KindUnrecognized }

func (Log) isEvent()          {}
func (BatchResult) isEvent()  {}
func (JobComplete) isEvent()  {}
func (Report) isEvent()       {}
func (Error) isEvent()        {}
func (Unrecognized) isEvent() {}

// MetricOutcome is one metric's result for a single batch. Bounds may be
// infinite. When Failure is set the numeric fields are meaningless and only
// the failure is shown.
type MetricOutcome struct {
	Value      float64
	IdealValue float64
	LowerBound float64
	UpperBound float64
	Failure    string
}

// Failed reports whether the metric could not be computed for the batch.
func (m MetricOutcome) Failed() bool {
	return m.Failure != ""
}

// Unbounded returns an outcome with both bounds open.
func Unbounded(value, ideal float64) MetricOutcome {
	return MetricOutcome{
		Value:      value,
		IdealValue: ideal,
		LowerBound: math.Inf(-1),
		UpperBound: math.Inf(1),
	}
}

// ReportDocument is the final report payload. It is treated as immutable once
// decoded.
type ReportDocument struct {
	Info       ReportInfo        `json:"info"`
	Properties []PropertySection `json:"properties"`
}

// ReportInfo identifies what was evaluated.
type ReportInfo struct {
	ModelName      string `json:"model_name"`
	EvaluationDate string `json:"evaluation_date"`
	Dataset        string `json:"dataset"`
}

// PropertySection groups the results for one assessed property (fairness,
// robustness, ...).
type PropertySection struct {
	Property            string               `json:"property"`
	ComputedMetrics     []ComputedMetric     `json:"computed_metrics"`
	LegislationExtracts []LegislationExtract `json:"legislation_extracts"`
	LLMInsights         []string             `json:"llm_insights"`
}

// ComputedMetric is one aggregated metric value in a report section.
type ComputedMetric struct {
	Metric string `json:"metric"`
	Value  Scalar `json:"value"`
}

// LegislationExtract quotes the article a property is assessed against.
type LegislationExtract struct {
	ArticleNumber Scalar `json:"article_number"`
	ArticleTitle  string `json:"article_title"`
	Description   string `json:"description"`
}
