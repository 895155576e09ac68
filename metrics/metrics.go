// Package metrics exports scheduler activity as Prometheus metrics.
//
// A Collector is fed in two ways: task lifecycle events arrive through
// [Collector.Observe], registered with [taskflow.WithObserver], and
// dispatcher gauges are read from [taskflow.Scheduler.Stats] at scrape time.
//
//	c := metrics.New("taskflow")
//	sched := taskflow.NewScheduler(taskflow.WithObserver(c.Observe))
//	c.Watch(sched)
//	prometheus.MustRegister(c)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/baxromumarov/taskflow"
)

// Collector is a prometheus.Collector for one scheduler.
type Collector struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec

	liveTasks *prometheus.Desc
	unhandled *prometheus.Desc
	running   *prometheus.Desc
	waiting   *prometheus.Desc
	permits   *prometheus.Desc
	submitted *prometheus.Desc

	mu    sync.RWMutex
	sched *taskflow.Scheduler
}

// New creates a Collector whose metric names start with namespace.
func New(namespace string) *Collector {
	return &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by kind and dispatcher.",
		}, []string{"event", "dispatcher"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from task creation to its terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"outcome"}),

		liveTasks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "live_tasks"),
			"Tasks currently held by the scheduler.", nil, nil),
		unhandled: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "unhandled_failures_total"),
			"Failures delivered to the unhandled-failure path.", nil, nil),
		running: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "dispatcher", "running"),
			"Bodies currently holding a dispatcher permit.", []string{"dispatcher", "kind"}, nil),
		waiting: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "dispatcher", "waiting"),
			"Bodies waiting for a dispatcher permit.", []string{"dispatcher", "kind"}, nil),
		permits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "dispatcher", "permits"),
			"Parallelism limit of the dispatcher.", []string{"dispatcher", "kind"}, nil),
		submitted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "dispatcher", "submitted_total"),
			"Bodies handed to the dispatcher.", []string{"dispatcher", "kind"}, nil),
	}
}

// Watch makes the collector report s's gauges. Without a watched scheduler
// only event counters are exported.
func (c *Collector) Watch(s *taskflow.Scheduler) {
	c.mu.Lock()
	c.sched = s
	c.mu.Unlock()
}

// Observe records one task event. Pass it to [taskflow.WithObserver] or
// [taskflow.WithOnEvent].
func (c *Collector) Observe(ev taskflow.TaskEvent) {
	c.events.WithLabelValues(ev.Kind.String(), ev.Dispatcher).Inc()
	switch ev.Kind {
	case taskflow.EventCompleted, taskflow.EventCancelled, taskflow.EventFailed:
		c.duration.WithLabelValues(ev.Kind.String()).Observe(ev.Elapsed.Seconds())
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.duration.Describe(ch)
	ch <- c.liveTasks
	ch <- c.unhandled
	ch <- c.running
	ch <- c.waiting
	ch <- c.permits
	ch <- c.submitted
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.duration.Collect(ch)

	c.mu.RLock()
	s := c.sched
	c.mu.RUnlock()
	if s == nil {
		return
	}

	st := s.Stats()
	ch <- prometheus.MustNewConstMetric(c.liveTasks, prometheus.GaugeValue, float64(st.LiveTasks))
	ch <- prometheus.MustNewConstMetric(c.unhandled, prometheus.CounterValue, float64(st.Unhandled))
	for _, d := range st.Dispatchers {
		kind := d.Kind.String()
		ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(d.Running), d.Name, kind)
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(d.Waiting), d.Name, kind)
		ch <- prometheus.MustNewConstMetric(c.permits, prometheus.GaugeValue, float64(d.Permits), d.Name, kind)
		ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(d.Submitted), d.Name, kind)
	}
}
