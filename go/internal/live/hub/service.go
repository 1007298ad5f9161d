package hub

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/live/protocol"
)

// Service bundles the connection manager and HTTP handler for one hub
// instance. The NATS relay attaches from the outside via Manager.OnInbound.
type Service struct {
	manager *Manager
	handler *Handler
}

// Config holds configuration for the hub service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default hub configuration.
func DefaultConfig() Config {
	return Config{ConnectionConfig: DefaultConnectionConfig()}
}

// NewService creates a hub service.
func NewService(config Config) *Service {
	manager := NewManager(config.ConnectionConfig)
	return &Service{
		manager: manager,
		handler: NewHandler(manager),
	}
}

// Manager exposes the connection manager for relay wiring.
func (s *Service) Manager() *Manager {
	return s.manager
}

// Start runs the broadcast loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.manager.Start(ctx)
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
	log.Info().Msg("live hub routes registered")
}

// Broadcast delivers an envelope to every local client of an event. Useful
// for server-originated notices and tests.
func (s *Service) Broadcast(eventID uuid.UUID, env protocol.Envelope) {
	s.manager.BroadcastLocal(eventID, env)
}

// Stats returns statistics about the hub.
func (s *Service) Stats() map[string]interface{} {
	stats := s.manager.Stats()
	stats["service"] = "live_hub"
	return stats
}
