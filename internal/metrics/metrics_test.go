// ABOUTME: Tests for the Prometheus recorder and gate status collector
// ABOUTME: Uses prometheus/testutil against a private registry

package metrics

import (
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mesh-manager/internal/gate"
	"github.com/2389/mesh-manager/internal/mesh"
	"github.com/2389/mesh-manager/internal/task"
)

func TestRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.RecordPoll("Echo", mesh.PollIdle)
	r.RecordPoll("Echo", mesh.PollIdle)
	r.RecordPoll("Echo", mesh.PollSaturated)
	r.RecordTask("Echo", task.StatusFinished, 1500*time.Millisecond)
	r.RecordTask("Echo", task.StatusFailed, 10*time.Millisecond)
	r.RecordSubmitFailure("Echo")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.polls.WithLabelValues("Echo", "idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.polls.WithLabelValues("Echo", "saturated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasks.WithLabelValues("Echo", "finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasks.WithLabelValues("Echo", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.submitFailures.WithLabelValues("Echo")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration, "mesh_task_duration_seconds"))
}

func TestRecorder_ReusesRegisteredCollectors(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewRecorder(reg)
	require.NoError(t, err)
	second, err := NewRecorder(reg)
	require.NoError(t, err)

	first.RecordSubmitFailure("Echo")
	second.RecordSubmitFailure("Echo")
	assert.Equal(t, 2.0, testutil.ToFloat64(first.submitFailures.WithLabelValues("Echo")))
}

func TestStatusCollector(t *testing.T) {
	g, err := gate.New(map[string]int{"A": 2, "B": 1})
	require.NoError(t, err)
	require.True(t, g.TryAcquire("B"))

	c := NewStatusCollector(g.Snapshot)
	expected := `
# HELP mesh_agent_capacity Maximum concurrent tasks for the agent type.
# TYPE mesh_agent_capacity gauge
mesh_agent_capacity{agent_type="A"} 2
mesh_agent_capacity{agent_type="B"} 1
# HELP mesh_agent_in_flight Tasks currently running for the agent type.
# TYPE mesh_agent_in_flight gauge
mesh_agent_in_flight{agent_type="A"} 0
mesh_agent_in_flight{agent_type="B"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))

	g.Release("B")
	require.True(t, g.TryAcquire("A"))
	expected = strings.Replace(expected, `in_flight{agent_type="A"} 0`, `in_flight{agent_type="A"} 1`, 1)
	expected = strings.Replace(expected, `in_flight{agent_type="B"} 1`, `in_flight{agent_type="B"} 0`, 1)
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)), "values are read at scrape time")
}
