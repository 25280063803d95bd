package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/reblock-audio-service/internal/config"
	"github.com/skypro1111/reblock-audio-service/internal/host"
	"github.com/skypro1111/reblock-audio-service/internal/metrics"
	"github.com/skypro1111/reblock-audio-service/internal/processor"
	"github.com/skypro1111/reblock-audio-service/internal/stream"
)

// Service identity reported by the API
const (
	ServiceName    = "reblock-audio-service"
	ServiceVersion = "1.0.0"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server     *http.Server
	handler    http.Handler
	logger     *slog.Logger
	config     *config.Config
	engine     *host.Engine
	sessionMgr *stream.Manager
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. gatherer is the registry
// served on /metrics; nil serves the default registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	engine *host.Engine, sessionMgr *stream.Manager, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		engine:     engine,
		sessionMgr: sessionMgr,
		metrics:    m,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, gatherer)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/nodes", h.withMetrics("/nodes", h.handleNodes))
	mux.HandleFunc("/nodes/", h.withMetrics("/nodes/{name}", h.handleNodeDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// No metrics for the metrics endpoint itself
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the request router
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
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

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	engineStats := h.engine.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    ServiceName,
			"version": ServiceVersion,
		},
		"components": map[string]interface{}{
			"engine": map[string]interface{}{
				"status":          "running",
				"sample_rate":     engineStats.SampleRate,
				"current_time":    engineStats.CurrentTime,
				"quanta_rendered": engineStats.QuantaRendered,
				"active_nodes":    engineStats.ActiveNodes,
			},
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.sessionMgr.GetActiveSessionCount(),
			},
		},
	}

	writeJSON(w, health)
}

// handleNodes implements the /nodes endpoint
func (h *HTTPServer) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessionMgr.GetAllSessions()
	infos := make([]stream.SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.GetSessionInfo())
	}

	writeJSON(w, map[string]interface{}{
		"total_nodes": len(infos),
		"timestamp":   time.Now().UTC(),
		"nodes":       infos,
	})
}

// handleNodeDetail implements GET and DELETE on /nodes/{name}
func (h *HTTPServer) handleNodeDetail(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[len("/nodes/"):]
	if gateName, ok := strings.CutSuffix(name, "/gate"); ok {
		h.handleNodeGate(w, r, gateName)
		return
	}
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "Node name required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, exists := h.sessionMgr.GetSession(name)
		if !exists {
			http.Error(w, "Node not found", http.StatusNotFound)
			return
		}
		writeJSON(w, session.GetSessionInfo())

	case http.MethodDelete:
		if !h.sessionMgr.RemoveSession(name) {
			http.Error(w, "Node not found", http.StatusNotFound)
			return
		}
		h.logger.Info("Node removed via API", slog.String("node", name))
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// gateUpdate is the body of PUT /nodes/{name}/gate
type gateUpdate struct {
	Threshold *float64 `json:"threshold"`
}

// handleNodeGate implements GET and PUT on /nodes/{name}/gate
func (h *HTTPServer) handleNodeGate(w http.ResponseWriter, r *http.Request, name string) {
	session, exists := h.sessionMgr.GetSession(name)
	if !exists {
		http.Error(w, "Node not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var update gateUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil || update.Threshold == nil {
			http.Error(w, "Body must be {\"threshold\": <0..1>}", http.StatusBadRequest)
			return
		}
		if err := session.SetGateThreshold(*update.Threshold); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, stream.ErrNoGate) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		h.logger.Info("Gate threshold updated via API",
			slog.String("node", name),
			slog.Float64("threshold", *update.Threshold),
		)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := session.GetSessionInfo()
	if info.Gate == nil {
		http.Error(w, "Node has no gate", http.StatusNotFound)
		return
	}
	writeJSON(w, info.Gate)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nodes := make([]map[string]interface{}, 0, len(h.config.Nodes))
	for _, n := range h.config.Nodes {
		nodes = append(nodes, map[string]interface{}{
			"name":            n.Name,
			"buffer_size":     n.BufferSize,
			"input_channels":  n.InputChannels,
			"output_channels": n.OutputChannels,
			"processor":       n.Processor,
			"source":          n.Source.Type,
			"sink":            n.Sink.Type,
		})
	}

	writeJSON(w, map[string]interface{}{
		"engine": map[string]interface{}{
			"sample_rate":         h.config.Engine.SampleRate,
			"quantum_size":        h.config.Engine.QuantumSize,
			"render_interval_ms":  h.config.Engine.RenderInterval,
			"monitor_interval_ms": h.config.Engine.MonitorInterval,
		},
		"http": map[string]interface{}{
			"address": h.config.HTTP.Address,
			"port":    h.config.HTTP.Port,
		},
		"discovery": map[string]interface{}{
			"enabled":  h.config.Discovery.Enabled,
			"instance": h.config.Discovery.Instance,
			"service":  h.config.Discovery.Service,
		},
		"nodes": nodes,
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var totals struct {
		BlocksEmitted   uint64 `json:"blocks_emitted"`
		BlocksProcessed uint64 `json:"blocks_processed"`
		BlocksDropped   uint64 `json:"blocks_dropped"`
		Underruns       uint64 `json:"underruns"`
		Faults          uint64 `json:"faults"`
	}
	for _, session := range h.sessionMgr.GetAllSessions() {
		info := session.GetSessionInfo()
		totals.BlocksEmitted += info.Render.BlocksEmitted
		totals.BlocksProcessed += info.Bridge.BlocksProcessed
		totals.BlocksDropped += info.Bridge.BlocksDropped
		totals.Underruns += info.Render.Underruns
		totals.Faults += info.Faults + info.Render.Faults
	}

	writeJSON(w, map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"engine":    h.engine.GetStats(),
		"sessions": map[string]interface{}{
			"active_count": h.sessionMgr.GetActiveSessionCount(),
			"totals":       totals,
		},
		"processors": processor.Names(),
	})
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

	writeJSON(w, map[string]interface{}{
		"service": "Re-blocking Audio Service",
		"version": ServiceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                  "API documentation",
			"GET /health":            "Service health check",
			"GET /nodes":             "List all script processor nodes",
			"GET /nodes/{name}":      "Get detailed node information",
			"DELETE /nodes/{name}":   "Stop and remove a node",
			"GET /nodes/{name}/gate": "Get gate statistics",
			"PUT /nodes/{name}/gate": "Set the gate threshold",
			"GET /config":            "Get service configuration",
			"GET /stats":             "Get engine and session statistics",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
