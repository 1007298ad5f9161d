package hub

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/live/protocol"
)

// Handler serves WebSocket upgrade requests for live event connections.
type Handler struct {
	manager *Manager
}

// NewHandler creates a WebSocket handler backed by a connection manager.
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// HandleLiveConnection joins a client to its event room.
// GET /ws/live?event_id=<uuid>&user_id=<id>&role=manager|follower
func (h *Handler) HandleLiveConnection(w http.ResponseWriter, r *http.Request) {
	eventIDStr := r.URL.Query().Get("event_id")
	if eventIDStr == "" {
		http.Error(w, "event_id is required", http.StatusBadRequest)
		return
	}

	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		http.Error(w, "invalid event_id format", http.StatusBadRequest)
		return
	}

	// In production the identity and role come from the session context;
	// the hub treats them as an opaque precondition.
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	role := protocol.RoleFollower
	if r.URL.Query().Get("role") == string(protocol.RoleManager) {
		role = protocol.RoleManager
	}

	if err := h.manager.UpgradeConnection(w, r, userID, eventID, role); err != nil {
		log.Error().
			Err(err).
			Str("event_id", eventID.String()).
			Str("user_id", userID).
			Msg("failed to upgrade live connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleStats returns statistics about active connections.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.manager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/live", h.HandleLiveConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
