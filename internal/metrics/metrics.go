// ABOUTME: Prometheus collectors for the mesh manager's polls, tasks, and gate status
// ABOUTME: Gate gauges are read from a snapshot at scrape time rather than stored

package metrics

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/2389/mesh-manager/internal/gate"
	"github.com/2389/mesh-manager/internal/mesh"
	"github.com/2389/mesh-manager/internal/task"
)

const namespace = "mesh"

// Recorder implements mesh.Metrics on Prometheus counters and histograms.
type Recorder struct {
	polls          *prom.CounterVec
	tasks          *prom.CounterVec
	submitFailures *prom.CounterVec
	duration       *prom.HistogramVec
}

var _ mesh.Metrics = (*Recorder)(nil)

// NewRecorder creates and registers the scheduling collectors on reg, reusing
// collectors that are already registered.
func NewRecorder(reg prom.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	polls := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Poll cycles by agent type and result (task, idle, saturated, error).",
	}, []string{"agent_type", "result"})
	tasks := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Completed tasks by agent type and final status.",
	}, []string{"agent_type", "status"})
	submitFailures := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "submit_failures_total",
		Help:      "Task outcomes dropped after submission retries were exhausted.",
	}, []string{"agent_type"})
	duration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Handler execution time in seconds.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"agent_type"})

	var err error
	if polls, err = register(reg, polls); err != nil {
		return nil, err
	}
	if tasks, err = register(reg, tasks); err != nil {
		return nil, err
	}
	if submitFailures, err = register(reg, submitFailures); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}

	return &Recorder{
		polls:          polls,
		tasks:          tasks,
		submitFailures: submitFailures,
		duration:       duration,
	}, nil
}

func (r *Recorder) RecordPoll(agentType string, result mesh.PollResult) {
	r.polls.WithLabelValues(agentType, string(result)).Inc()
}

func (r *Recorder) RecordTask(agentType string, status task.Status, latency time.Duration) {
	r.tasks.WithLabelValues(agentType, string(status)).Inc()
	r.duration.WithLabelValues(agentType).Observe(latency.Seconds())
}

func (r *Recorder) RecordSubmitFailure(agentType string) {
	r.submitFailures.WithLabelValues(agentType).Inc()
}

// StatusCollector exports gate capacity and in-flight counts, computed from
// a fresh snapshot on every scrape.
type StatusCollector struct {
	snapshot func() gate.Snapshot
	capacity *prom.Desc
	inFlight *prom.Desc
}

// NewStatusCollector returns a collector reading from snapshot.
func NewStatusCollector(snapshot func() gate.Snapshot) *StatusCollector {
	return &StatusCollector{
		snapshot: snapshot,
		capacity: prom.NewDesc(
			prom.BuildFQName(namespace, "agent", "capacity"),
			"Maximum concurrent tasks for the agent type.",
			[]string{"agent_type"}, nil,
		),
		inFlight: prom.NewDesc(
			prom.BuildFQName(namespace, "agent", "in_flight"),
			"Tasks currently running for the agent type.",
			[]string{"agent_type"}, nil,
		),
	}
}

func (c *StatusCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.capacity
	ch <- c.inFlight
}

func (c *StatusCollector) Collect(ch chan<- prom.Metric) {
	for _, ts := range c.snapshot().Types {
		ch <- prom.MustNewConstMetric(c.capacity, prom.GaugeValue, float64(ts.Capacity), ts.AgentType)
		ch <- prom.MustNewConstMetric(c.inFlight, prom.GaugeValue, float64(ts.InFlight), ts.AgentType)
	}
}

func register[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
