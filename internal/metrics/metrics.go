// Package metrics exposes Prometheus instrumentation for the event stream,
// the remote-procedure facade and file transfers, served over HTTP together
// with a health probe.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jamibus"

// listenerStates are the values SetListenerState may report. Each gets its
// own series so dashboards can alert on a missing "listening".
var listenerStates = []string{"idle", "starting", "listening", "stopping", "stopped"}

// Manager manages all Prometheus metrics for jamibus.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Signal metrics
	signals            *prometheus.CounterVec
	contractViolations *prometheus.CounterVec

	// Event channel metrics
	delivered *prometheus.CounterVec
	deferred  *prometheus.CounterVec
	dropped   *prometheus.CounterVec

	// Facade metrics
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec

	// Transfer metrics
	transfers *prometheus.CounterVec

	listenerState *prometheus.GaugeVec

	// mu protects state.
	mu    sync.RWMutex
	state string
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	// CallDurationBuckets overrides the facade latency histogram buckets.
	CallDurationBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		CallDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false, state: "idle"}
	}
	if len(cfg.CallDurationBuckets) == 0 {
		cfg.CallDurationBuckets = DefaultConfig().CallDurationBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
		state:    "idle",
	}
	m.initEventMetrics()
	m.initCallMetrics(cfg)
	m.initTransferMetrics()
	return m
}

func (m *Manager) initEventMetrics() {
	m.signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Daemon signals received, by member name",
		},
		[]string{"signal"},
	)
	m.contractViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_violations_total",
			Help:      "Signals whose payload did not match the expected shape",
		},
		[]string{"signal"},
	)
	m.delivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events handed to the consumer channel, by source",
		},
		[]string{"source"},
	)
	m.deferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_deferred_total",
			Help:      "Events queued behind a full channel, by source",
		},
		[]string{"source"},
	)
	m.dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded, by source and reason",
		},
		[]string{"source", "reason"},
	)
	m.listenerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listener_state",
			Help:      "1 for the listener's current lifecycle state, 0 otherwise",
		},
		[]string{"state"},
	)
	for _, s := range listenerStates {
		m.listenerState.WithLabelValues(s).Set(0)
	}
	m.listenerState.WithLabelValues("idle").Set(1)

	m.registry.MustRegister(m.signals)
	m.registry.MustRegister(m.contractViolations)
	m.registry.MustRegister(m.delivered)
	m.registry.MustRegister(m.deferred)
	m.registry.MustRegister(m.dropped)
	m.registry.MustRegister(m.listenerState)
}

func (m *Manager) initCallMetrics(cfg Config) {
	m.calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Remote procedure calls, by method and status",
		},
		[]string{"method", "status"},
	)
	m.callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Remote procedure call latency in seconds",
			Buckets:   cfg.CallDurationBuckets,
		},
		[]string{"method"},
	)
	m.registry.MustRegister(m.calls)
	m.registry.MustRegister(m.callDuration)
}

func (m *Manager) initTransferMetrics() {
	m.transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "File transfer outcomes",
		},
		[]string{"outcome"},
	)
	m.registry.MustRegister(m.transfers)
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registry returns the underlying registry, nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// ///////////////////////////////////////////////
// Recorders
// ///////////////////////////////////////////////

// RecordSignal counts a received daemon signal.
func (m *Manager) RecordSignal(signal string) {
	if !m.enabled {
		return
	}
	m.signals.WithLabelValues(signal).Inc()
}

// RecordContractViolation counts a payload that failed to decode.
func (m *Manager) RecordContractViolation(signal string) {
	if !m.enabled {
		return
	}
	m.contractViolations.WithLabelValues(signal).Inc()
}

// RecordDelivered counts an event handed to the consumer.
func (m *Manager) RecordDelivered(source string) {
	if !m.enabled {
		return
	}
	m.delivered.WithLabelValues(source).Inc()
}

// RecordDeferred counts an event queued behind a full channel.
func (m *Manager) RecordDeferred(source string) {
	if !m.enabled {
		return
	}
	m.deferred.WithLabelValues(source).Inc()
}

// RecordDropped counts a discarded event.
func (m *Manager) RecordDropped(source, reason string) {
	if !m.enabled {
		return
	}
	m.dropped.WithLabelValues(source, reason).Inc()
}

// RecordCall records a facade call's outcome and latency.
func (m *Manager) RecordCall(method, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.calls.WithLabelValues(method, status).Inc()
	m.callDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTransfer counts a file transfer outcome such as "auto_accepted" or
// "finished".
func (m *Manager) RecordTransfer(outcome string) {
	if !m.enabled {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
}

// SetListenerState records the listener's lifecycle state. It is tracked
// even when metrics are disabled so the health probe keeps working.
func (m *Manager) SetListenerState(state string) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.listenerState.WithLabelValues(prev).Set(0)
	m.listenerState.WithLabelValues(state).Set(1)
}

// ListenerState returns the last state passed to SetListenerState.
func (m *Manager) ListenerState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ///////////////////////////////////////////////
// HTTP
// ///////////////////////////////////////////////

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Router mounts /metrics and /healthz.
func (m *Manager) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", m.healthz)
	return r
}

// healthz answers 200 only while the listener is receiving signals.
func (m *Manager) healthz(w http.ResponseWriter, _ *http.Request) {
	state := m.ListenerState()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if state != "listening" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	fmt.Fprintln(w, state)
}

// Serve listens on addr and serves Router until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return m.serve(ctx, ln)
}

func (m *Manager) serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics: %w", err)
	}
	return nil
}
