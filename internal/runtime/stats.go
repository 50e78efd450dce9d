package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/oprelay/oprelay/internal/runtime/config"
	errspkg "github.com/oprelay/oprelay/internal/runtime/errors"
	jsoncodec "github.com/oprelay/oprelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/oprelay/oprelay/internal/runtime/logging"
)

// PipelineStatus is the document served by the stats endpoint. Counter values
// are reported verbatim from the injected counter set.
type PipelineStatus struct {
	Broker         string           `json:"broker"`
	Topic          string           `json:"topic"`
	PoisonTopic    string           `json:"poison_topic,omitempty"`
	PublisherReady bool             `json:"publisher_ready"`
	ConsumerReady  bool             `json:"consumer_ready"`
	Counters       CountersSnapshot `json:"counters"`
	Resources      ResourceUsage    `json:"resources"`
	StartedAt      time.Time        `json:"started_at"`
	UptimeSeconds  float64          `json:"uptime_seconds"`
}

// StatsDependencies carries the optional collaborators of the stats server.
type StatsDependencies struct {
	Counters *Counters

	// PublisherReady and ConsumerReady feed both the status document and the
	// readiness endpoint. A nil func reports false in the document and is
	// skipped by readiness.
	PublisherReady func() bool
	ConsumerReady  func() bool

	// Registerer receives the counters collector. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// StatsServer exposes the operational surface of the pipeline over HTTP: the
// stats document, liveness and readiness probes, and the Prometheus scrape
// endpoint. Stats and metrics may share a port or use separate ones; handlers
// registered for the same port share one mux.
type StatsServer struct {
	conf      *configpkg.Config
	logger    loggingpkg.ServiceLogger
	counters  *Counters
	tracker   *resourceTracker
	startedAt time.Time

	publisherReady func() bool
	consumerReady  func() bool
	registerer     prometheus.Registerer

	mu      sync.Mutex
	muxes   map[int]*http.ServeMux
	servers []*http.Server
	running bool
}

// NewStatsServer builds the stats server and registers the counters collector
// with the Prometheus registerer. Nothing listens until Start is called.
func NewStatsServer(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps StatsDependencies) (*StatsServer, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		log = loggingpkg.NewNopLogger()
	}

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	s := &StatsServer{
		conf:           conf,
		logger:         log,
		counters:       deps.Counters,
		tracker:        newResourceTracker(),
		startedAt:      time.Now().UTC(),
		publisherReady: deps.PublisherReady,
		consumerReady:  deps.ConsumerReady,
		registerer:     registerer,
	}

	if conf.MetricsEnabled {
		if err := registerCollector(registerer, NewCountersCollector(deps.Counters)); err != nil {
			return nil, fmt.Errorf("register counters collector: %w", err)
		}
	}
	return s, nil
}

// registerCollector tolerates duplicate registration so two components
// sharing a counter set can both construct a stats server.
func registerCollector(registerer prometheus.Registerer, collector prometheus.Collector) error {
	err := registerer.Register(collector)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// RegisterHTTPHandler mounts a handler on the mux for the given port,
// creating the mux on first use. Call before Start.
func (s *StatsServer) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.muxes == nil {
		s.muxes = make(map[int]*http.ServeMux)
	}

	mux, ok := s.muxes[port]
	if !ok {
		mux = http.NewServeMux()
		s.muxes[port] = mux
	}

	mux.Handle(pattern, handler)
}

// Start mounts the configured endpoints and begins serving. Ports with no
// handlers are not bound; a disabled stats and metrics config with no custom
// handlers makes Start a no-op.
func (s *StatsServer) Start() error {
	if s.conf.StatsEnabled {
		port := s.conf.StatsPort
		if port == 0 {
			port = configpkg.DefaultStatsPort
		}
		s.RegisterHTTPHandler(port, "/api/stats", http.HandlerFunc(s.handleStats))
		s.RegisterHTTPHandler(port, "/healthz", http.HandlerFunc(s.handleHealthz))
		s.RegisterHTTPHandler(port, "/readyz", http.HandlerFunc(s.handleReadyz))
	}
	if s.conf.MetricsEnabled && s.conf.MetricsPort > 0 {
		s.RegisterHTTPHandler(s.conf.MetricsPort, "/metrics", s.metricsHandler())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	for port, mux := range s.muxes {
		addr := fmt.Sprintf(":%d", port)
		srv := &http.Server{Addr: addr, Handler: mux}
		s.servers = append(s.servers, srv)
		s.logger.Info("Starting stats HTTP server", loggingpkg.LogFields{"address": addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Stats HTTP server failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
	return nil
}

// Close shuts every listener down, waiting for in-flight requests up to the
// context deadline.
func (s *StatsServer) Close(ctx context.Context) error {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.running = false
	s.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status assembles the current pipeline status document.
func (s *StatsServer) Status() PipelineStatus {
	return PipelineStatus{
		Broker:         s.conf.Broker,
		Topic:          s.conf.Topic,
		PoisonTopic:    s.conf.PoisonTopic,
		PublisherReady: s.publisherReady != nil && s.publisherReady(),
		ConsumerReady:  s.consumerReady != nil && s.consumerReady(),
		Counters:       s.counters.Snapshot(),
		Resources:      s.tracker.Snapshot(),
		StartedAt:      s.startedAt,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
	}
}

func (s *StatsServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if len(s.conf.StatsCORSAllowedOrigins) > 0 {
		if origin := s.allowedCORSOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, s.Status()); err != nil {
		s.logger.Error("Failed to encode pipeline status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *StatsServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready only when every wired component reports ready.
// Components that were not wired in are not waited for.
func (s *StatsServer) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	ready := true
	if s.publisherReady != nil {
		ready = ready && s.publisherReady()
	}
	if s.consumerReady != nil {
		ready = ready && s.consumerReady()
	}

	if !ready {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *StatsServer) metricsHandler() http.Handler {
	if gatherer, ok := s.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// allowedCORSOrigin checks the request origin against the configured
// allow-list and returns the Access-Control-Allow-Origin value to send.
func (s *StatsServer) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.conf.StatsCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
