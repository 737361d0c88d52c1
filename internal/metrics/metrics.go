// Package metrics exposes kvbusd's Prometheus counters/gauges and the
// /metrics and /healthz HTTP endpoints that serve them, the same shape
// the teacher's market-data services expose alongside their domain
// server.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector kvbusd registers.
type Metrics struct {
	ConnectionsOpen   prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	AcceptBackoffs    prometheus.Counter
	CommandsTotal     *prometheus.CounterVec // labels: command
	CommandErrors     *prometheus.CounterVec // labels: command
	ReaperEvictions   prometheus.Counter
	ReaperSweepDur    prometheus.Histogram
	SubscribersGauge  prometheus.Gauge
	PublishTotal      prometheus.Counter
	FanoutDropsTotal  prometheus.Counter
	SubscriberLagged  prometheus.Counter
	MirrorWriteErrors prometheus.Counter
	SnapshotWriteDur  prometheus.Histogram
}

// NewMetrics builds and registers every kvbusd collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvbus_connections_open",
			Help: "Currently live client connections",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvbus_connections_total",
			Help: "Total connections accepted",
		}),
		AcceptBackoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvbus_accept_backoffs_total",
			Help: "Times the acceptor escalated its backoff after an Accept error",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvbus_commands_total",
			Help: "Commands applied against the store, by command name",
		}, []string{"command"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvbus_command_errors_total",
			Help: "Commands that returned a RESP error frame, by command name",
		}, []string{"command"}),
		ReaperEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvbus_reaper_evictions_total",
			Help: "Keys evicted by the expiration reaper",
		}),
		ReaperSweepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvbus_reaper_sweep_duration_seconds",
			Help:    "Time spent holding the store lock during one reaper sweep",
			Buckets: prometheus.DefBuckets,
		}),
		SubscribersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvbus_subscribers_open",
			Help: "Currently live channel subscriptions across all connections",
		}),
		PublishTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvbus_publish_total",
			Help: "PUBLISH commands applied",
		}),
		FanoutDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvbus_fanout_drops_total",
			Help: "Messages dropped because a subscriber's buffer was full",
		}),
		SubscriberLagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvbus_subscriber_lagged_total",
			Help: "Lag notifications delivered to subscribers after a buffer overflow",
		}),
		MirrorWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvbus_mirror_write_errors_total",
			Help: "Errors republishing to the optional Redis mirror bridge",
		}),
		SnapshotWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvbus_snapshot_write_duration_seconds",
			Help:    "Duration of one optional SQLite snapshot export pass",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.ConnectionsOpen,
		m.ConnectionsTotal,
		m.AcceptBackoffs,
		m.CommandsTotal,
		m.CommandErrors,
		m.ReaperEvictions,
		m.ReaperSweepDur,
		m.SubscribersGauge,
		m.PublishTotal,
		m.FanoutDropsTotal,
		m.SubscriberLagged,
		m.MirrorWriteErrors,
		m.SnapshotWriteDur,
	)

	return m
}

// HealthStatus tracks whether kvbusd and its optional bridges are up.
type HealthStatus struct {
	mu sync.RWMutex

	AcceptorUp    bool      `json:"acceptor_up"`
	MirrorUp      bool      `json:"mirror_up,omitempty"`
	SnapshotOK    bool      `json:"snapshot_ok,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// NewHealthStatus returns a default health status, acceptor assumed up
// until told otherwise.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), AcceptorUp: true}
}

func (h *HealthStatus) SetAcceptorUp(v bool) {
	h.mu.Lock()
	h.AcceptorUp = v
	h.LastCheckedAt = time.Now()
	h.mu.Unlock()
}

func (h *HealthStatus) SetMirrorUp(v bool) {
	h.mu.Lock()
	h.MirrorUp = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSnapshotOK(v bool) {
	h.mu.Lock()
	h.SnapshotOK = v
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.AcceptorUp {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	body := struct {
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		Acceptor  bool   `json:"acceptor_up"`
		Mirror    bool   `json:"mirror_up,omitempty"`
		Snapshot  bool   `json:"snapshot_ok,omitempty"`
		CheckedAt string `json:"last_checked_at"`
	}{
		Status:    status,
		Uptime:    time.Since(h.StartedAt).Round(time.Second).String(),
		Acceptor:  h.AcceptorUp,
		Mirror:    h.MirrorUp,
		Snapshot:  h.SnapshotOK,
		CheckedAt: h.LastCheckedAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(body)
}

// Server runs an HTTP server exposing /metrics and /healthz, independent
// of the RESP listener.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server bound to addr.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
