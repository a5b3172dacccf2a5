package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// wireOutcome is the JSON shape of one metric inside METRICS_INTERMEDIATE.
// Pointers distinguish absent fields from zero values.
type wireOutcome struct {
	Value      *Number `json:"value"`
	IdealValue *Number `json:"ideal_value"`
	LowerBound *Number `json:"lower_bound"`
	UpperBound *Number `json:"upper_bound"`
	Error      *string `json:"error"`
}

type wireMessage struct {
	Message *string `json:"message"`
}

type wireReport struct {
	Info       *ReportInfo        `json:"info"`
	Properties *[]PropertySection `json:"properties"`
}

// Decode maps one raw stream message onto an Event. It never panics and never
// returns an error: malformed input, unknown discriminators, and payloads
// missing required fields all come back as Unrecognized.
func Decode(raw []byte) Event {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		return unrecognized(raw, "empty message")
	}
	if !json.Valid(body) {
		body = quoteNonFinite(body)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return unrecognized(raw, "malformed JSON: "+err.Error())
	}
	if env.MessageType == "" {
		return unrecognized(raw, "missing messageType")
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return unrecognized(raw, fmt.Sprintf("%s without data", env.MessageType))
	}

	var (
		ev  Event
		err error
	)
	switch env.MessageType {
	case TypeLog:
		var msg string
		msg, err = decodeMessage(env.Data)
		ev = Log{Message: msg}
	case TypeMetricsIntermediate:
		var metrics map[string]MetricOutcome
		metrics, err = decodeMetrics(env.Data)
		ev = BatchResult{Metrics: metrics}
	case TypeMetricsComplete:
		var msg string
		msg, err = decodeMessage(env.Data)
		ev = JobComplete{Message: msg}
	case TypeReport:
		var doc ReportDocument
		doc, err = decodeReport(env.Data)
		ev = Report{Payload: doc}
	case TypeError:
		var msg string
		msg, err = decodeMessage(env.Data)
		ev = Error{Message: msg}
	default:
		return unrecognized(raw, fmt.Sprintf("unknown messageType %q", env.MessageType))
	}
	if err != nil {
		return unrecognized(raw, fmt.Sprintf("%s: %v", env.MessageType, err))
	}
	return ev
}

func unrecognized(raw []byte, reason string) Unrecognized {
	return Unrecognized{Raw: string(raw), Reason: reason}
}

// decodeMessage accepts either {"message": "..."} or a bare JSON string.
func decodeMessage(data json.RawMessage) (string, error) {
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	if m.Message == nil {
		return "", errors.New("missing message")
	}
	return *m.Message, nil
}

func decodeMetrics(data json.RawMessage) (map[string]MetricOutcome, error) {
	var wire map[string]wireOutcome
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	if len(wire) == 0 {
		return nil, errors.New("no metrics")
	}
	out := make(map[string]MetricOutcome, len(wire))
	for name, w := range wire {
		if name == "" {
			return nil, errors.New("metric with empty name")
		}
		o := MetricOutcome{
			LowerBound: math.Inf(-1),
			UpperBound: math.Inf(1),
		}
		if w.Error != nil && *w.Error != "" {
			o.Failure = *w.Error
		} else if w.Value == nil {
			return nil, fmt.Errorf("metric %q missing value", name)
		}
		if w.Value != nil {
			o.Value = float64(*w.Value)
		}
		if w.IdealValue != nil {
			o.IdealValue = float64(*w.IdealValue)
		}
		if w.LowerBound != nil {
			o.LowerBound = float64(*w.LowerBound)
		}
		if w.UpperBound != nil {
			o.UpperBound = float64(*w.UpperBound)
		}
		out[name] = o
	}
	return out, nil
}

func decodeReport(data json.RawMessage) (ReportDocument, error) {
	var w wireReport
	if err := json.Unmarshal(data, &w); err != nil {
		return ReportDocument{}, err
	}
	if w.Info == nil {
		return ReportDocument{}, errors.New("missing info")
	}
	if w.Properties == nil {
		return ReportDocument{}, errors.New("missing properties")
	}
	return ReportDocument{Info: *w.Info, Properties: *w.Properties}, nil
}
