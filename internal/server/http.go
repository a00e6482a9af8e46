package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonesHong/web-asr-core/internal/config"
	"github.com/JonesHong/web-asr-core/internal/metrics"
	"github.com/JonesHong/web-asr-core/internal/stream"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	sessionMgr *stream.Manager
	udpServer  *UDPServer
	metrics    *metrics.Metrics
	eventHub   *EventHub

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sessionMgr *stream.Manager, udpServer *UDPServer,
	m *metrics.Metrics, hub *EventHub) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		sessionMgr: sessionMgr,
		udpServer:  udpServer,
		metrics:    m,
		eventHub:   hub,
		startTime:  time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

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
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Notification delivery statistics
	mux.HandleFunc("/stats/notify", h.withMetrics("/stats/notify", h.handleNotifyStats))

	// Live detection event stream (WebSocket has its own lifecycle, no wrapper)
	if h.eventHub != nil {
		mux.Handle("/events", h.eventHub)
	}

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
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

	if h.eventHub != nil {
		h.eventHub.Close()
	}

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	udpStats := h.udpServer.GetStatistics()
	notifyStats := h.sessionMgr.GetNotifyStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "web-asr-core",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"udp_server": map[string]interface{}{
				"status":            "running",
				"packets_received":  udpStats.PacketsReceived,
				"packets_processed": udpStats.PacketsProcessed,
				"parse_errors":      udpStats.ParseErrors,
				"queue_size":        udpStats.QueueSize,
			},
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": udpStats.ActiveSessions,
			},
			"notify": map[string]interface{}{
				"status":            "running",
				"total_events":      notifyStats.TotalEvents,
				"success_rate":      notifyStats.SuccessRate,
				"active_deliveries": notifyStats.ActiveDeliveries,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessionMgr.GetAllSessions()
	sessionInfos := make([]stream.SessionInfo, 0, len(sessions))

	for _, session := range sessions {
		sessionInfos = append(sessionInfos, session.GetSessionInfo())
	}

	response := map[string]interface{}{
		"total_sessions": len(sessionInfos),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessionInfos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionDetail implements the /sessions/{stream_id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract stream ID from URL path
	streamIDStr := r.URL.Path[len("/sessions/"):]
	if streamIDStr == "" {
		http.Error(w, "Stream ID required", http.StatusBadRequest)
		return
	}

	streamID, err := strconv.ParseUint(streamIDStr, 10, 32)
	if err != nil {
		http.Error(w, "Invalid stream ID", http.StatusBadRequest)
		return
	}

	session, exists := h.sessionMgr.GetSession(uint32(streamID))
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	sessionInfo := session.GetSessionInfo()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessionInfo)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":     h.config.Server.UDPPort,
			"bind_address": h.config.Server.BindAddress,
			"buffer_size":  h.config.Server.BufferSize,
			"workers":      h.config.Server.Workers,
		},
		"audio": map[string]interface{}{
			"sample_rate":       h.config.Audio.SampleRate,
			"ring_duration":     h.config.Audio.RingDuration,
			"snapshot_duration": h.config.Audio.SnapshotDuration,
			"session_timeout":   h.config.Audio.SessionTimeout,
		},
		"vad": map[string]interface{}{
			"model_path":      h.config.VAD.ModelPath,
			"threshold":       h.config.VAD.Threshold,
			"window_size":     h.config.VAD.WindowSize,
			"hangover_frames": h.config.VAD.HangoverFrames,
		},
		"wakeword": map[string]interface{}{
			"enabled":          h.config.Wakeword.Enabled,
			"melspec_model":    h.config.Wakeword.MelspecModelPath,
			"embedding_model":  h.config.Wakeword.EmbeddingModelPath,
			"classifier_model": h.config.Wakeword.ClassifierModelPath,
			"threshold":        h.config.Wakeword.Threshold,
		},
		"notify": map[string]interface{}{
			"endpoint":       h.config.Notify.Endpoint,
			"timeout":        h.config.Notify.Timeout,
			"max_retries":    h.config.Notify.MaxRetries,
			"max_concurrent": h.config.Notify.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	udpStats := h.udpServer.GetStatistics()
	notifyStats := h.sessionMgr.GetNotifyStats()
	uptime := time.Since(h.startTime)

	subscribers := 0
	if h.eventHub != nil {
		subscribers = h.eventHub.ClientCount()
	}

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"udp": map[string]interface{}{
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"active_sessions":   udpStats.ActiveSessions,
			"queue_size":        udpStats.QueueSize,
			"queue_capacity":    udpStats.QueueCapacity,
		},
		"notify": notifyStats,
		"sessions": map[string]interface{}{
			"active_count": h.sessionMgr.GetActiveSessionCount(),
		},
		"events": map[string]interface{}{
			"websocket_subscribers": subscribers,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleNotifyStats implements the /stats/notify endpoint
func (h *HTTPServer) handleNotifyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.sessionMgr.GetNotifyStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
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

	apiDoc := map[string]interface{}{
		"service": "Web ASR Core",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                     "API documentation",
			"GET /health":               "Service health check",
			"GET /sessions":             "List all active detection sessions",
			"GET /sessions/{stream_id}": "Get detailed session information",
			"GET /config":               "Get service configuration",
			"GET /stats":                "Get service statistics",
			"GET /stats/notify":         "Get event delivery statistics",
			"GET /events":               "WebSocket stream of detection events",
			"GET /metrics":              "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
