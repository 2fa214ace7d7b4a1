package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
	"github.com/cvejlbo/avs-device-sdk/internal/config"
	"github.com/cvejlbo/avs-device-sdk/internal/kwd"
	"github.com/cvejlbo/avs-device-sdk/internal/metrics"
	"github.com/cvejlbo/avs-device-sdk/internal/notify"
)

// DetectorStatter is the part of the detector the API reports on
type DetectorStatter interface {
	Stats() kwd.Stats
}

// Components are the running parts of the service exposed over HTTP.
// UDP and Webhook are nil when those features are disabled.
type Components struct {
	Config   *config.Config
	Detector DetectorStatter
	Stream   *audio.Stream
	Hub      *notify.Hub
	UDP      *UDPServer
	Webhook  *notify.Webhook
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
}

// HTTPServer provides HTTP API endpoints for monitoring and the event feed
type HTTPServer struct {
	server *http.Server
	logger *slog.Logger
	c      Components

	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.HTTPConfig, logger *slog.Logger, c Components) *HTTPServer {
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &HTTPServer{
		logger:    logger,
		c:         c,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// WriteTimeout stays unset: it would cut off WebSocket connections
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/detector", h.withMetrics("/detector", h.handleDetector))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/events", h.withMetrics("/events", h.handleEvents))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.c.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.c.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.c.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and closes WebSocket feeds
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.cancel()
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint. It answers 503 once the
// detection loop has stopped.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	det := h.c.Detector.Stats()

	status, code := "healthy", http.StatusOK
	if !det.Running {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	components := map[string]any{
		"detector": map[string]any{
			"state":      det.State,
			"running":    det.Running,
			"detections": det.Detections,
		},
	}
	if h.c.UDP != nil {
		udpStats := h.c.UDP.GetStatistics()
		components["udp_server"] = map[string]any{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
		}
	}
	if h.c.Webhook != nil {
		whStats := h.c.Webhook.GetStats()
		components["webhook"] = map[string]any{
			"status":          "running",
			"total_requests":  whStats.TotalRequests,
			"success_rate":    whStats.SuccessRate,
			"active_requests": whStats.ActiveRequests,
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "kwd",
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleDetector implements the /detector endpoint
func (h *HTTPServer) handleDetector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"detector":      h.c.Detector.Stats(),
		"recent_events": h.c.Hub.Recent(limit),
		"timestamp":     time.Now().UTC(),
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"detector":  h.c.Detector.Stats(),
		"events":    h.c.Hub.Stats(),
	}
	if h.c.Stream != nil {
		stats["stream"] = h.c.Stream.GetStats()
	}
	if h.c.UDP != nil {
		stats["udp"] = h.c.UDP.GetStatistics()
	}
	if h.c.Webhook != nil {
		stats["webhook"] = h.c.Webhook.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint. The webhook secret is
// excluded by its json tag.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.c.Config)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Keyword Detector Service",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":         "API documentation",
			"GET /health":   "Service health check",
			"GET /detector": "Detector state and recent events (?limit=N)",
			"GET /stats":    "Ingest, stream, event and webhook statistics",
			"GET /config":   "Service configuration without secrets",
			"GET /events":   "WebSocket feed of detection and state events",
			"GET /metrics":  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
