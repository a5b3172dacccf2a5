package events

import (
	"encoding/json"
	"errors"
	"sort"
)

// ErrNotEncodable is returned by Encode for events that have no wire form.
var ErrNotEncodable = errors.New("event has no wire representation")

// TypeOf returns the wire discriminator for ev. Unrecognized events have none.
func TypeOf(ev Event) (MessageType, bool) {
	switch ev.(type) {
	case Log:
		return TypeLog, true
	case BatchResult:
		return TypeMetricsIntermediate, true
	case JobComplete:
		return TypeMetricsComplete, true
	case Report:
		return TypeReport, true
	case Error:
		return TypeError, true
	}
	return "", false
}

// Encode produces the wire form of ev. It is the inverse of Decode for every
// variant except Unrecognized.
func Encode(ev Event) ([]byte, error) {
	mt, ok := TypeOf(ev)
	if !ok {
		return nil, ErrNotEncodable
	}

	var data any
	switch e := ev.(type) {
	case Log:
		data = wireMessage{Message: &e.Message}
	case BatchResult:
		data = encodeMetrics(e.Metrics)
	case JobComplete:
		data = wireMessage{Message: &e.Message}
	case Report:
		data = e.Payload
	case Error:
		data = wireMessage{Message: &e.Message}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{MessageType: mt, Data: payload})
}

func encodeMetrics(metrics map[string]MetricOutcome) map[string]wireOutcome {
	out := make(map[string]wireOutcome, len(metrics))
	for name, m := range metrics {
		if m.Failed() {
			failure := m.Failure
			out[name] = wireOutcome{Error: &failure}
			continue
		}
		v, ideal := Number(m.Value), Number(m.IdealValue)
		lo, hi := Number(m.LowerBound), Number(m.UpperBound)
		out[name] = wireOutcome{Value: &v, IdealValue: &ideal, LowerBound: &lo, UpperBound: &hi}
	}
	return out
}

// MetricNames returns the metric names of a batch in sorted order.
func MetricNames(metrics map[string]MetricOutcome) []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
