package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/live/state"
)

// SongProvider serves an event's running order with lyric counts. Late
// joiners and reconnecting clients fetch this as their full-state snapshot
// seed; satisfied by catalog.Repository.
type SongProvider interface {
	EventSongs(ctx context.Context, eventID uuid.UUID) ([]state.EventSongEntry, error)
}

// SongsHandler handles HTTP requests for event running orders.
type SongsHandler struct {
	provider SongProvider
}

// NewSongsHandler creates a songs handler.
func NewSongsHandler(provider SongProvider) *SongsHandler {
	return &SongsHandler{provider: provider}
}

// HandleEventSongs handles GET /api/events/{id}/songs.
func (h *SongsHandler) HandleEventSongs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eventIDStr := extractEventIDFromPath(r.URL.Path)
	if eventIDStr == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}

	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		http.Error(w, "Invalid event ID format", http.StatusBadRequest)
		return
	}

	songs, err := h.provider.EventSongs(r.Context(), eventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to get event songs")
		http.Error(w, "Failed to get event songs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(songs); err != nil {
		log.Error().Err(err).Msg("failed to encode event songs response")
	}
}

// RegisterSongRoutes registers the running-order routes.
func (h *SongsHandler) RegisterSongRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/events/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/songs") {
			h.HandleEventSongs(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// extractEventIDFromPath extracts the ID from /api/events/{id}/songs.
func extractEventIDFromPath(path string) string {
	const prefix = "/api/events/"
	const suffix = "/songs"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
