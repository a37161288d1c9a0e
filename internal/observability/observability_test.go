package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.PollsTotal.WithLabelValues(OutcomeOK).Inc()
	m.PollsTotal.WithLabelValues(OutcomeOK).Inc()
	m.CommitConflicts.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				values[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["test_poller_polls_total"])
	assert.Equal(t, 1.0, values["test_store_commit_conflicts_total"])
}

func TestRecordHelpers(t *testing.T) {
	RecordChange("NEW_DEAL")
	RecordAPIRequest("/health", 200)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["dealwatch_poller_changes_detected_total"])
	assert.True(t, names["dealwatch_api_requests_total"])
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)

	logger.Debug("cycle finished", slog.String("cycle_id", "abc"))
	assert.True(t, strings.Contains(buf.String(), `"cycle_id":"abc"`))

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
