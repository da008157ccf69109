// Package metrics exposes relay counters in the Prometheus text format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// family groups the samples of one metric name so HELP/TYPE are written once.
type family struct {
	help  string
	kind  string
	lines []string
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus
// text format, families sorted by name.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.render())
	}
}

func (c *MetricsCollector) render() string {
	families := make(map[string]*family)
	add := func(name, help, kind string, lines ...string) {
		f, ok := families[name]
		if !ok {
			f = &family{help: help, kind: kind}
			families[name] = f
		}
		f.lines = append(f.lines, lines...)
	}

	add("relaybot_uptime_seconds", "Time since start in seconds", "gauge",
		fmt.Sprintf("relaybot_uptime_seconds %d", int64(c.Uptime().Seconds())))

	c.counters.Range(func(_, value any) bool {
		ctr := value.(*Counter)
		add(ctr.name, ctr.help, "counter", sample(ctr.name, ctr.labels, fmt.Sprint(ctr.Value())))
		return true
	})
	c.gauges.Range(func(_, value any) bool {
		g := value.(*Gauge)
		add(g.name, g.help, "gauge", sample(g.name, g.labels, fmt.Sprint(g.Value())))
		return true
	})
	c.histograms.Range(func(_, value any) bool {
		h := value.(*Histogram)
		h.mu.Lock()
		defer h.mu.Unlock()

		labelPrefix := ""
		if h.labels != "" {
			labelPrefix = h.labels + ","
		}
		var lines []string
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s_bucket{%sle=\"%s\"} %d", h.name, labelPrefix, le, b.count))
		}
		lines = append(lines,
			fmt.Sprintf("%s_bucket{%sle=\"+Inf\"} %d", h.name, labelPrefix, h.count),
			sample(h.name+"_count", h.labels, fmt.Sprint(h.count)),
			sample(h.name+"_sum", h.labels, fmt.Sprintf("%f", h.sum)),
		)
		add(h.name, h.help, "histogram", lines...)
		return true
	})

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		f := families[name]
		if f.kind != "histogram" {
			sort.Strings(f.lines)
		}
		fmt.Fprintf(&sb, "# HELP %s %s\n", name, f.help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", name, f.kind)
		for _, line := range f.lines {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func sample(name, labels, value string) string {
	if labels == "" {
		return name + " " + value
	}
	return name + "{" + labels + "} " + value
}

// --- Relay metrics ---

// latencyBuckets are in seconds; backend answers are streamed model output.
var latencyBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	EventsText  = Collector.Counter("relaybot_events_total", "Inbound chat events", `kind="text"`)
	EventsPhoto = Collector.Counter("relaybot_events_total", "Inbound chat events", `kind="photo"`)

	BackendConversations = Collector.Counter("relaybot_backend_requests_total", "Backend requests", `op="conversation"`)
	BackendDeletes       = Collector.Counter("relaybot_backend_requests_total", "Backend requests", `op="delete"`)
	BackendFailures      = Collector.Counter("relaybot_backend_failures_total", "Backend requests that produced an error reply", "")
	ResponseChunks       = Collector.Counter("relaybot_response_chunks_total", "Non-empty response chunks received from the backend", "")

	RepliesSent    = Collector.Counter("relaybot_replies_sent_total", "Replies handed to a channel", "")
	RepliesSkipped = Collector.Counter("relaybot_replies_skipped_total", "Events whose rendered reply was empty", "")
	SendFailures   = Collector.Counter("relaybot_send_failures_total", "Channel send errors", "")

	InFlight = Collector.Gauge("relaybot_inflight_events", "Events currently being relayed", "")

	BackendLatency = Collector.Histogram("relaybot_backend_latency_seconds", "Backend round trip in seconds", "", latencyBuckets)
)

// EventCounter returns the inbound counter for a content kind.
func EventCounter(kind string) *Counter {
	if kind == "photo" {
		return EventsPhoto
	}
	return EventsText
}
