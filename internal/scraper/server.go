// Package scraper exposes a MetricRegistry for pull-based scraping and
// push-based dashboard consumption, and runs a standalone bus consumer
// that applies published samples directly to the registry.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/internal/config"
	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// SamplesTopic is the bus topic the standalone consumer applies directly
// to the registry.
const SamplesTopic = "telemetry.metrics"

// HealthChecker reports whether a dependency the scraper relies on is
// currently reachable.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// Server wraps *http.Server with the registry exposition, SSE dashboard
// stream, healthz, CORS, and per-remote-address rate limiting.
type Server struct {
	httpServer      *http.Server
	registry        *metrics.Registry
	bus             bus.Bus
	logger          *observability.Logger
	cfg             config.ScraperConfig
	checkers        []HealthChecker
	metricsProvider *observability.MetricsProvider

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	sub *bus.Subscription
	wg  sync.WaitGroup
}

// New builds a Server. checkers are consulted by GET /healthz.
func New(registry *metrics.Registry, b bus.Bus, cfg config.ScraperConfig, logger *observability.Logger, checkers ...HealthChecker) *Server {
	metricsProvider, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName: "telemetry-scraper",
		Namespace:   "njord_scraper",
		Enabled:     true,
	})
	if err != nil {
		logger.Warn(context.Background(), "scraper: http request metrics disabled", map[string]interface{}{"error": err.Error()})
		metricsProvider = nil
	}

	s := &Server{
		registry:        registry,
		bus:             b,
		cfg:             cfg,
		logger:          logger,
		checkers:        checkers,
		metricsProvider: metricsProvider,
		limiters:        make(map[string]*rate.Limiter),
	}

	router := mux.NewRouter()
	router.HandleFunc("/metrics", s.rateLimited(s.authenticated(cfg.MetricsToken, s.handleMetrics))).Methods(http.MethodGet)
	router.HandleFunc("/stream", s.rateLimited(s.authenticated(cfg.DashboardToken, s.handleStream))).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if metricsProvider != nil && metricsProvider.Registry() != nil {
		router.Handle("/metrics/http", promhttp.HandlerFor(metricsProvider.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	})

	obs := observability.NewObservabilityMiddleware(metricsProvider, logger, observability.MiddlewareConfig{
		ServiceName: "telemetry-scraper",
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort),
		Handler: corsMiddleware.Handler(obs.HTTPMiddleware(router)),
	}
	return s
}

// Start launches the HTTP listener and, if b is non-nil, the standalone
// bus consumer. It returns once the listener is accepting connections;
// Serve runs on the bound listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("scraper listen: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error(ctx, "scraper: server error", err, nil)
			}
		}
	}()

	if s.bus != nil {
		sub, err := s.bus.Subscribe(ctx, SamplesTopic)
		if err != nil {
			return fmt.Errorf("scraper subscribe: %w", err)
		}
		s.sub = sub
		s.wg.Add(1)
		go s.consumeLoop(ctx, sub)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server and bus consumer.
func (s *Server) Stop(ctx context.Context) error {
	if s.sub != nil {
		_ = s.sub.Close()
	}
	if s.metricsProvider != nil {
		_ = s.metricsProvider.Shutdown(ctx)
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consumeLoop applies samples directly to the registry: counter inc,
// gauge set, histogram/summary observe. Samples for unregistered
// families are logged and discarded — the scraper never auto-registers.
func (s *Server) consumeLoop(ctx context.Context, sub *bus.Subscription) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			var sample metrics.Sample
			if err := json.Unmarshal(msg.Payload, &sample); err != nil {
				s.warn(ctx, "malformed sample payload", err)
				continue
			}
			if err := sample.Validate(); err != nil {
				s.warn(ctx, "invalid sample", err)
				continue
			}
			s.applySample(ctx, sample)
		}
	}
}

func (s *Server) applySample(ctx context.Context, sample metrics.Sample) {
	switch sample.Kind {
	case metrics.KindCounter:
		h, ok := s.registry.LookupCounter(sample.Name)
		if !ok {
			s.warnUnregistered(ctx, sample.Name)
			return
		}
		if err := h.Inc(sample.Value, sample.Labels); err != nil {
			s.warn(ctx, "counter apply rejected", err)
		}
	case metrics.KindGauge:
		h, ok := s.registry.LookupGauge(sample.Name)
		if !ok {
			s.warnUnregistered(ctx, sample.Name)
			return
		}
		if err := h.Set(sample.Value, sample.Labels); err != nil {
			s.warn(ctx, "gauge apply rejected", err)
		}
	case metrics.KindHistogram:
		h, ok := s.registry.LookupHistogram(sample.Name)
		if !ok {
			s.warnUnregistered(ctx, sample.Name)
			return
		}
		if err := h.Observe(sample.Value, sample.Labels); err != nil {
			s.warn(ctx, "histogram apply rejected", err)
		}
	case metrics.KindSummary:
		h, ok := s.registry.LookupSummary(sample.Name)
		if !ok {
			s.warnUnregistered(ctx, sample.Name)
			return
		}
		if err := h.Observe(sample.Value, sample.Labels); err != nil {
			s.warn(ctx, "summary apply rejected", err)
		}
	}
}

func (s *Server) warnUnregistered(ctx context.Context, name string) {
	if s.logger != nil {
		s.logger.Warn(ctx, "scraper: sample for unregistered family discarded", map[string]interface{}{"name": name})
	}
}

func (s *Server) warn(ctx context.Context, msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(ctx, "scraper: "+msg, map[string]interface{}{"error": err.Error()})
	}
}

// rateLimited wraps next with a token-bucket limiter keyed by remote
// address, configured via ScraperConfig.RequestsPerMinute/Burst.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		s.mu.Lock()
		lim, ok := s.limiters[host]
		if !ok {
			perMinute := s.cfg.RequestsPerMinute
			if perMinute <= 0 {
				perMinute = 600
			}
			burst := s.cfg.Burst
			if burst <= 0 {
				burst = 30
			}
			lim = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
			s.limiters[host] = lim
		}
		s.mu.Unlock()

		if !lim.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// authenticated enforces an optional Bearer token. An empty token
// disables auth entirely.
func (s *Server) authenticated(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	expected := "Bearer " + token
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != expected {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.CollectAll()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(renderExposition(snap)))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snap := s.registry.CollectAll()
			dash := buildSnapshot(snap, time.Now().UnixMilli())
			payload, err := json.Marshal(dash)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	failed := make([]string, 0)
	for _, c := range s.checkers {
		if err := c.Check(ctx); err != nil {
			failed = append(failed, c.Name())
		}
	}
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "unhealthy", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
}
