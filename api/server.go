package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"signal-scout/auth"
	"signal-scout/config"
	"signal-scout/database"
	"signal-scout/notifications"
	"signal-scout/realtime"
)

// PipelineRunner triggers one pipeline run; satisfied by the
// orchestrator.
type PipelineRunner interface {
	Run(ctx context.Context) (*database.PipelineRun, error)
}

// MaintenanceRunner triggers one maintenance pass on demand.
type MaintenanceRunner interface {
	RunOnce()
}

// Server handles HTTP API requests
type Server struct {
	repo        *database.PipelineRepository
	guard       *auth.Guard
	pipeline    PipelineRunner
	maintenance MaintenanceRunner
	webhookMq   *notifications.WebhookManager
	broker      *realtime.Broker
	cfg         *config.Config
}

// NewServer creates a new API server instance
func NewServer(repo *database.PipelineRepository, guard *auth.Guard, webhookMq *notifications.WebhookManager, broker *realtime.Broker, cfg *config.Config) *Server {
	return &Server{
		repo:      repo,
		guard:     guard,
		webhookMq: webhookMq,
		broker:    broker,
		cfg:       cfg,
	}
}

// SetPipelineRunner injects the orchestrator before the server starts.
func (s *Server) SetPipelineRunner(runner PipelineRunner) {
	s.pipeline = runner
}

// SetMaintenanceRunner injects the maintenance job before the server starts.
func (s *Server) SetMaintenanceRunner(runner MaintenanceRunner) {
	s.maintenance = runner
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	// Ingest
	mux.HandleFunc("POST /api/ingest", s.handleIngest)

	// Pipeline control
	mux.HandleFunc("POST /api/pipeline/run", s.handleRunPipeline)
	mux.HandleFunc("POST /api/maintenance/run", s.handleRunMaintenance)
	mux.HandleFunc("GET /api/runs", s.handleGetRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)

	// Read surface
	mux.HandleFunc("GET /api/briefs", s.handleGetBriefs)
	mux.HandleFunc("GET /api/briefs/{id}", s.handleGetBrief)
	mux.HandleFunc("GET /api/signals", s.handleGetSignals)
	mux.HandleFunc("GET /api/signals/{id}", s.handleGetSignal)
	mux.HandleFunc("GET /api/baselines", s.handleGetBaselines)

	// Webhook Management Routes
	mux.HandleFunc("GET /api/config/webhooks", s.handleGetWebhooks)
	mux.HandleFunc("POST /api/config/webhooks", s.handleCreateWebhook)
	mux.HandleFunc("PUT /api/config/webhooks/{id}", s.handleUpdateWebhook)
	mux.HandleFunc("DELETE /api/config/webhooks/{id}", s.handleDeleteWebhook)

	// Event streams
	mux.HandleFunc("GET /api/events/ws", s.broker.ServeWS)
	mux.Handle("GET /api/events", s.broker) // SSE endpoint

	mux.HandleFunc("GET /health", s.handleHealth)

	// Add middleware
	handler := s.corsMiddleware(s.loggingMiddleware(mux))

	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("🚀 API Server starting on %s", serverAddr)
	return http.ListenAndServe(serverAddr, handler)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Scout-Signature, X-Scout-Timestamp, X-Scout-Nonce")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
