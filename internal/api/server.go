// Package api provides the HTTP API for host-platform consumers of go-mediola.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/resident-x/go-mediola/internal/config"
	"github.com/resident-x/go-mediola/internal/domain"
	"github.com/resident-x/go-mediola/internal/gateway"
	"github.com/resident-x/go-mediola/internal/poller"
	"github.com/resident-x/go-mediola/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP API server exposing shutter state and commands.
type Server struct {
	config      *config.Config
	server      *http.Server
	router      *mux.Router
	registry    *domain.ShutterRegistry
	coordinator *poller.Coordinator
	logger      zerolog.Logger
	startTime   time.Time
}

// commandRequest is the body of a command dispatch request.
type commandRequest struct {
	Action   string `json:"action"`
	Position *int   `json:"position,omitempty"`
}

// intervalRequest is the body of a poll-interval change request.
type intervalRequest struct {
	Seconds int `json:"seconds"`
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, registry *domain.ShutterRegistry, coordinator *poller.Coordinator) *Server {
	router := mux.NewRouter()

	// Create logger with API component context
	logger := log.With().Str("component", "api").Logger()

	apiServer := &Server{
		config:      cfg,
		router:      router,
		registry:    registry,
		coordinator: coordinator,
		logger:      logger,
		startTime:   time.Now(),
	}

	apiServer.setupRoutes()

	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	// API versioning
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Server status endpoint
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Shutter endpoints
	api.HandleFunc("/devices", s.handleListDevices).Methods("GET")
	api.HandleFunc("/devices/command", s.handleGroupCommand).Methods("POST")
	api.HandleFunc("/devices/{id}", s.handleGetDevice).Methods("GET")
	api.HandleFunc("/devices/{id}/command", s.handleCommand).Methods("POST")

	// Coordinator control
	api.HandleFunc("/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/poll-interval", s.handleSetInterval).Methods("PUT")
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// handleStatus returns server status and coordinator metrics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).String(),
		"deviceCount": s.registry.Count(),
		"poller":      s.coordinator.Metrics(),
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleListDevices returns snapshots of all known shutters.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.All()

	s.writeJSON(w, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	}, http.StatusOK)
}

// handleGetDevice returns the snapshot of a specific shutter.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	device, found := s.registry.Get(id)
	if !found {
		s.writeError(w, "Device not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, device, http.StatusOK)
}

// handleCommand dispatches one command to one shutter.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	action := domain.Action(req.Action)
	position := 0
	if action == domain.ActionSetPosition {
		if req.Position == nil {
			s.writeError(w, "set_position requires a position", http.StatusBadRequest)
			return
		}
		position = *req.Position
	}

	if err := s.coordinator.Dispatch(r.Context(), id, action, position); err != nil {
		s.writeDispatchError(w, err)
		return
	}

	device, _ := s.registry.Get(id)
	s.writeJSON(w, map[string]interface{}{
		"result": "dispatched",
		"device": device,
	}, http.StatusAccepted)
}

// handleGroupCommand dispatches one action to every shutter.
func (s *Server) handleGroupCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.DispatchAll(r.Context(), domain.Action(req.Action)); err != nil {
		s.writeDispatchError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"result": "dispatched",
		"count":  s.registry.Count(),
	}, http.StatusAccepted)
}

// handleRefresh triggers an immediate poll cycle.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.coordinator.ForceRefresh()
	s.writeJSON(w, map[string]interface{}{"result": "refresh scheduled"}, http.StatusAccepted)
}

// handleSetInterval changes the poll interval at runtime.
func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	interval := time.Duration(req.Seconds) * time.Second
	if err := s.coordinator.SetInterval(interval); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"result":   "interval updated",
		"interval": interval.String(),
	}, http.StatusOK)
}

// writeDispatchError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		s.writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, protocol.ErrInvalidCommand):
		s.writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, gateway.ErrTimeout):
		s.writeError(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, gateway.ErrAuthRejected), errors.Is(err, gateway.ErrUnreachable), errors.Is(err, gateway.ErrCommandRejected):
		s.writeError(w, err.Error(), http.StatusBadGateway)
	default:
		s.writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, map[string]string{"error": message}, statusCode)
}
