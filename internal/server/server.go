// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/chain-event-indexer/internal/config"
	"github.com/smartdevs17/chain-event-indexer/internal/indexer"
	"github.com/smartdevs17/chain-event-indexer/internal/metrics"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/internal/storage"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// HTTPServer exposes the operator API: indexer lifecycle, event queries,
// business-state lookups, health and metrics
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	supervisor     *indexer.Supervisor
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates the operator API server
func NewHTTPServer(
	cfg *config.ServerConfig,
	store storage.Storage,
	supervisor *indexer.Supervisor,
	metricsManager *metrics.Manager,
) *HTTPServer {
	s := &HTTPServer{
		config:         cfg,
		storage:        store,
		supervisor:     supervisor,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	// Indexer lifecycle
	api.HandleFunc("/indexer/status", s.statusHandler).Methods("GET")
	api.HandleFunc("/indexer/start", s.startHandler).Methods("POST")
	api.HandleFunc("/indexer/stop", s.stopHandler).Methods("POST")
	api.HandleFunc("/indexer/retry", s.retryHandler).Methods("POST")

	// Indexed events
	api.HandleFunc("/events", s.listEventsHandler).Methods("GET")
	api.HandleFunc("/events/{id}", s.getEventHandler).Methods("GET")

	// Business state
	api.HandleFunc("/payments/{event_id}", s.getPaymentHandler).Methods("GET")
	api.HandleFunc("/purchases/{event_id}", s.getPurchaseHandler).Methods("GET")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Catch immediate binding errors before reporting success
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// systemMetricsUpdater refreshes process-level gauges periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()

		if err := s.storage.Ping(); err != nil {
			s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("storage", false)
		} else {
			s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("storage", true)
		}
		s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("indexer", s.supervisor.IsRunning())
	}
}

// Handlers

func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	health, err := s.supervisor.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *HTTPServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.supervisor.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) startHandler(w http.ResponseWriter, r *http.Request) {
	accepted, err := s.supervisor.Start(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":  true,
		"accepted": accepted,
	})
}

func (s *HTTPServer) stopHandler(w http.ResponseWriter, r *http.Request) {
	s.supervisor.Stop()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"running": false})
}

func (s *HTTPServer) retryHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest,
				utils.NewAppError(utils.ErrCodeValidation, "Invalid limit parameter", raw))
			return
		}
		limit = parsed
	}

	result, err := s.supervisor.RetryFailedEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.storage.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	total, err := s.storage.CountEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *HTTPServer) getEventHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	event, err := s.storage.GetEvent(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if event == nil {
		s.writeError(w, http.StatusNotFound,
			utils.NewAppError(utils.ErrCodeNotFound, "Event not found", id))
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

func (s *HTTPServer) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["event_id"]

	payment, err := s.storage.GetPayment(r.Context(), eventID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if payment == nil {
		s.writeError(w, http.StatusNotFound,
			utils.NewAppError(utils.ErrCodeNotFound, "Payment not found", eventID))
		return
	}

	s.writeJSON(w, http.StatusOK, payment)
}

func (s *HTTPServer) getPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["event_id"]

	purchase, err := s.storage.GetTokenPurchase(r.Context(), eventID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if purchase == nil {
		s.writeError(w, http.StatusNotFound,
			utils.NewAppError(utils.ErrCodeNotFound, "Token purchase not found", eventID))
		return
	}

	s.writeJSON(w, http.StatusOK, purchase)
}

// parseEventFilter builds an EventFilter from query parameters
func parseEventFilter(r *http.Request) (models.EventFilter, error) {
	filter := models.EventFilter{Limit: 100}
	q := r.URL.Query()

	if raw := q.Get("network_id"); raw != "" {
		networkID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid network_id parameter", raw)
		}
		filter.NetworkID = &networkID
	}
	if raw := q.Get("address"); raw != "" {
		filter.Address = &raw
	}
	if raw := q.Get("event_name"); raw != "" {
		filter.EventName = &raw
	}
	if raw := q.Get("from_block"); raw != "" {
		fromBlock, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid from_block parameter", raw)
		}
		filter.FromBlock = &fromBlock
	}
	if raw := q.Get("to_block"); raw != "" {
		toBlock, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid to_block parameter", raw)
		}
		filter.ToBlock = &toBlock
	}
	if raw := q.Get("processed"); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid processed parameter", raw)
		}
		filter.Processed = &processed
	}
	if raw := q.Get("status"); raw != "" {
		switch raw {
		case models.EventStatusPending, models.EventStatusFailed,
			models.EventStatusExhausted, models.EventStatusProcessed:
			filter.Status = &raw
		default:
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid status parameter", raw)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid limit parameter", raw)
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid offset parameter", raw)
		}
		filter.Offset = offset
	}

	return filter, nil
}

// Response helpers

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}
