package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all editor metrics
type Metrics struct {
	// Input counters
	PointerEvents atomic.Uint64
	Rejections    atomic.Uint64

	// Propagation counters
	ThrottledForwards atomic.Uint64
	Flushes           atomic.Uint64

	// Backend sync
	Saves               atomic.Uint64
	SaveErrors          atomic.Uint64
	RefreshesApplied    atomic.Uint64
	RefreshesSuppressed atomic.Uint64
	FetchErrors         atomic.Uint64

	// Background frames
	FrameLoads      atomic.Uint64
	FrameLoadErrors atomic.Uint64

	// Rendering
	Renders         atomic.Uint64
	RenderLatencyUs atomic.Uint64 // Last render duration in microseconds

	// Sessions and viewers
	ActiveSessions atomic.Int64
	StreamClients  atomic.Int64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("zone_editor_pointer_events_total", "Pointer events handled by editor sessions", &m.PointerEvents)
	m.counter("zone_editor_rejections_total", "Edits rejected by validation", &m.Rejections)

	m.counter("zone_editor_throttled_forwards_total", "Zone lists forwarded by the throttle timer", &m.ThrottledForwards)
	m.counter("zone_editor_flushes_total", "Zone lists forwarded by an end-of-drag flush", &m.Flushes)

	m.counter("zone_editor_saves_total", "Successful zone saves", &m.Saves)
	m.counter("zone_editor_save_errors_total", "Failed zone saves", &m.SaveErrors)
	m.counter("zone_editor_refreshes_applied_total", "Backend refreshes applied to the editor", &m.RefreshesApplied)
	m.counter("zone_editor_refreshes_suppressed_total", "Backend refreshes withheld because of unsaved edits or a drag", &m.RefreshesSuppressed)
	m.counter("zone_editor_fetch_errors_total", "Failed zone fetches", &m.FetchErrors)

	m.counter("zone_editor_frame_loads_total", "Background frames loaded", &m.FrameLoads)
	m.counter("zone_editor_frame_load_errors_total", "Background frame loads that failed", &m.FrameLoadErrors)

	m.counter("zone_editor_renders_total", "Canvas renders", &m.Renders)
	m.gauge("zone_editor_render_latency_us", "Duration of the last canvas render in microseconds",
		func() float64 { return float64(m.RenderLatencyUs.Load()) })

	m.gauge("zone_editor_active_sessions", "Mounted editor sessions",
		func() float64 { return float64(m.ActiveSessions.Load()) })
	m.gauge("zone_editor_stream_clients", "Connected canvas and state stream clients",
		func() float64 { return float64(m.StreamClients.Load()) })
}

// UpdateRenderLatency records the duration of the last render
func (m *Metrics) UpdateRenderLatency(d time.Duration) {
	m.Renders.Add(1)
	m.RenderLatencyUs.Store(uint64(d.Microseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
