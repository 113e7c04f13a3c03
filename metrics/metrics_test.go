package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricValue(t *testing.T, r *Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := r.Prometheus().Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}
	got := make(map[string]string, len(pairs))
	for _, p := range pairs {
		got[p.GetName()] = p.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewRegistersAllCollectors(t *testing.T) {
	r := New(nil)
	require.NotNil(t, r.Prometheus())

	_, err := r.Prometheus().Gather()
	require.NoError(t, err)
}

func TestAddRowsIncrementsCounters(t *testing.T) {
	r := New(nil)
	r.AddRows("task-1", 10, 8, 2)

	assert.Equal(t, float64(10), metricValue(t, r, "transferengine_rows_read_total", map[string]string{"task_id": "task-1"}))
	assert.Equal(t, float64(8), metricValue(t, r, "transferengine_rows_written_total", map[string]string{"task_id": "task-1"}))
	assert.Equal(t, float64(2), metricValue(t, r, "transferengine_rows_skipped_total", map[string]string{"task_id": "task-1"}))
}

func TestSetTasksRunning(t *testing.T) {
	r := New(nil)
	r.SetTasksRunning(3)
	assert.Equal(t, float64(3), metricValue(t, r, "transferengine_tasks_running", nil))
}

func TestRecordSchedulerFire(t *testing.T) {
	r := New(nil)
	r.RecordSchedulerFire(true)
	r.RecordSchedulerFire(false)
	r.RecordSchedulerFire(false)

	assert.Equal(t, float64(1), metricValue(t, r, "transferengine_scheduler_fires_total", map[string]string{"outcome": "executed"}))
	assert.Equal(t, float64(2), metricValue(t, r, "transferengine_scheduler_fires_total", map[string]string{"outcome": "skipped_busy"}))
}

func TestRecordRetryAttempt(t *testing.T) {
	r := New(nil)
	r.RecordRetryAttempt("connection_lost")
	r.RecordRetryAttempt("connection_lost")

	assert.Equal(t, float64(2), metricValue(t, r, "transferengine_retry_attempts_total", map[string]string{"code": "connection_lost"}))
}

func TestObservePhaseRecordsSample(t *testing.T) {
	r := New(nil)
	r.ObservePhase("write", 50*time.Millisecond)
	assert.Equal(t, float64(1), metricValue(t, r, "transferengine_phase_duration_seconds", map[string]string{"phase": "write"}))
}
