package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStream(reg)
	s.Reconnects.Inc()
	s.Reconnects.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(s.Reconnects))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestBackendRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := NewBackend(reg)
	b.EventsSent.WithLabelValues("LOG").Inc()
	b.JobsRejected.WithLabelValues("validation").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(b.EventsSent.WithLabelValues("LOG")))
	assert.Equal(t, 1, testutil.CollectAndCount(b.JobsRejected))
}

func TestNilRegistererSkipsRegistration(t *testing.T) {
	assert.NotPanics(t, func() {
		NewStream(nil)
		NewStream(nil)
		NewBackend(nil)
	})
}
