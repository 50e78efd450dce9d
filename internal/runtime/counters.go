package runtime

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters is the pipeline's explicitly owned counter set. An instance is
// injected into the publisher and consumer; the reporting layer reads it
// through Snapshot. There is no process-global metrics state.
//
// All methods are safe for concurrent use and tolerate a nil receiver, so
// components can treat the counter set as optional.
type Counters struct {
	received         atomic.Uint64
	processedSuccess atomic.Uint64
	processedFailure atomic.Uint64
	publishSuccess   atomic.Uint64
	publishFailure   atomic.Uint64
	deadLettered     atomic.Uint64
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{}
}

// IncReceived records one message entering the pipeline (a publish request on
// the producer side, a delivery on the consumer side).
func (c *Counters) IncReceived() {
	if c == nil {
		return
	}
	c.received.Add(1)
}

// IncProcessedSuccess records one message processed to completion.
func (c *Counters) IncProcessedSuccess() {
	if c == nil {
		return
	}
	c.processedSuccess.Add(1)
}

// IncProcessedFailure records one message whose processing failed.
func (c *Counters) IncProcessedFailure() {
	if c == nil {
		return
	}
	c.processedFailure.Add(1)
}

// IncPublishSuccess records one successful broker publish.
func (c *Counters) IncPublishSuccess() {
	if c == nil {
		return
	}
	c.publishSuccess.Add(1)
}

// IncPublishFailure records one publish that exhausted its retries.
func (c *Counters) IncPublishFailure() {
	if c == nil {
		return
	}
	c.publishFailure.Add(1)
}

// IncDeadLettered records one message routed to the poison topic.
func (c *Counters) IncDeadLettered() {
	if c == nil {
		return
	}
	c.deadLettered.Add(1)
}

// CountersSnapshot is a point-in-time view of the counter set, reported
// verbatim by the stats and health surfaces.
type CountersSnapshot struct {
	Received         uint64    `json:"received"`
	ProcessedSuccess uint64    `json:"processed_success"`
	ProcessedFailure uint64    `json:"processed_failure"`
	PublishSuccess   uint64    `json:"publish_success"`
	PublishFailure   uint64    `json:"publish_failure"`
	DeadLettered     uint64    `json:"dead_lettered"`
	CollectedAt      time.Time `json:"collected_at"`
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() CountersSnapshot {
	if c == nil {
		return CountersSnapshot{CollectedAt: time.Now().UTC()}
	}
	return CountersSnapshot{
		Received:         c.received.Load(),
		ProcessedSuccess: c.processedSuccess.Load(),
		ProcessedFailure: c.processedFailure.Load(),
		PublishSuccess:   c.publishSuccess.Load(),
		PublishFailure:   c.publishFailure.Load(),
		DeadLettered:     c.deadLettered.Load(),
		CollectedAt:      time.Now().UTC(),
	}
}

// countersCollector exposes a Counters set to a Prometheus registry. The
// collector reads the atomics at scrape time, so registering it adds no
// overhead to the hot path.
type countersCollector struct {
	counters *Counters

	received     *prometheus.Desc
	processed    *prometheus.Desc
	publishes    *prometheus.Desc
	deadLettered *prometheus.Desc
}

// NewCountersCollector wraps the counter set in a prometheus.Collector.
// Register it with any registry, typically next to promhttp.
func NewCountersCollector(c *Counters) prometheus.Collector {
	return &countersCollector{
		counters: c,
		received: prometheus.NewDesc(
			prometheus.BuildFQName("oprelay", "", "messages_received_total"),
			"Total number of messages entering the pipeline.",
			nil, nil,
		),
		processed: prometheus.NewDesc(
			prometheus.BuildFQName("oprelay", "", "messages_processed_total"),
			"Total number of processed messages by result.",
			[]string{"result"}, nil,
		),
		publishes: prometheus.NewDesc(
			prometheus.BuildFQName("oprelay", "", "publishes_total"),
			"Total number of broker publishes by result.",
			[]string{"result"}, nil,
		),
		deadLettered: prometheus.NewDesc(
			prometheus.BuildFQName("oprelay", "", "messages_dead_lettered_total"),
			"Total number of messages routed to the poison topic.",
			nil, nil,
		),
	}
}

func (cc *countersCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cc.received
	ch <- cc.processed
	ch <- cc.publishes
	ch <- cc.deadLettered
}

func (cc *countersCollector) Collect(ch chan<- prometheus.Metric) {
	snap := cc.counters.Snapshot()
	ch <- prometheus.MustNewConstMetric(cc.received, prometheus.CounterValue, float64(snap.Received))
	ch <- prometheus.MustNewConstMetric(cc.processed, prometheus.CounterValue, float64(snap.ProcessedSuccess), "success")
	ch <- prometheus.MustNewConstMetric(cc.processed, prometheus.CounterValue, float64(snap.ProcessedFailure), "failure")
	ch <- prometheus.MustNewConstMetric(cc.publishes, prometheus.CounterValue, float64(snap.PublishSuccess), "success")
	ch <- prometheus.MustNewConstMetric(cc.publishes, prometheus.CounterValue, float64(snap.PublishFailure), "failure")
	ch <- prometheus.MustNewConstMetric(cc.deadLettered, prometheus.CounterValue, float64(snap.DeadLettered))
}
