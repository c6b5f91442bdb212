package prometheus

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, m *DFSMetrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestRecordRequest(t *testing.T) {
	m := New()

	m.RecordRequest("StoreFile", "OK", 5*time.Millisecond)
	m.RecordRequest("StoreFile", "ALREADY_EXISTS", time.Millisecond)

	mf := findMetric(t, m, "mirrorfs_requests_total")
	require.NotNil(t, mf)
	assert.Len(t, mf.GetMetric(), 2)
}

func TestInFlightGauge(t *testing.T) {
	m := New()

	m.RecordRequestStart("FetchFile")
	m.RecordRequestStart("FetchFile")
	m.RecordRequestEnd("FetchFile")

	mf := findMetric(t, m, "mirrorfs_requests_in_flight")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, float64(1), mf.GetMetric()[0].GetGauge().GetValue())
}

func TestLockGauge(t *testing.T) {
	m := New()
	m.SetLocksHeld(3)

	mf := findMetric(t, m, "mirrorfs_write_locks_held")
	require.NotNil(t, mf)
	assert.Equal(t, float64(3), mf.GetMetric()[0].GetGauge().GetValue())
}
