package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("procurement:match").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("procurement:match").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("procurement:match", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("procurement:match", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("procurement:match")))
}

func TestMatchOutcomesAndSkips(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddMatchOutcome("MATCHED")
	m.AddMatchOutcome("MATCHED")
	m.AddMatchOutcome("")
	m.AddSkipped("procurement:match:sweep")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("MATCHED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("procurement:match:sweep")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddMatchOutcome("MATCHED")
	m.AddSkipped("x")
	assert.NoError(t, m.Track("x").End(nil))
}
