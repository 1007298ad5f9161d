// Package catalog is the read boundary to the song/lyric catalog. The live
// engine only needs each song's lyric line count to bound the cursor, plus
// the event's running order; everything else about songs is served by the
// CRUD surface elsewhere.
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/liveset/go/internal/live/state"
)

// Querier defines what the repository needs from the database layer.
type Querier interface {
	GetEventSongs(ctx context.Context, eventID uuid.UUID) ([]EventSongRow, error)
	GetLyricCount(ctx context.Context, songID uuid.UUID) (int, error)
}

// EventSongRow is one row of an event's running order.
type EventSongRow struct {
	SongID     uuid.UUID
	Title      string
	Transpose  int
	Position   int
	LyricCount int
}

// Repository implements catalog read access for the live engine.
type Repository struct {
	queries Querier
}

// NewRepository creates a catalog repository.
func NewRepository(querier Querier) *Repository {
	return &Repository{queries: querier}
}

// EventSongs returns the running order for an event, in play order, with
// lyric counts resolved.
func (r *Repository) EventSongs(ctx context.Context, eventID uuid.UUID) ([]state.EventSongEntry, error) {
	rows, err := r.queries.GetEventSongs(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event songs: %w", err)
	}

	entries := make([]state.EventSongEntry, len(rows))
	for i, row := range rows {
		entries[i] = state.EventSongEntry{
			SongID:     row.SongID.String(),
			Title:      row.Title,
			Transpose:  row.Transpose,
			Position:   row.Position,
			LyricCount: row.LyricCount,
		}
	}
	return entries, nil
}

// LyricCount returns the lyric line count for one song.
func (r *Repository) LyricCount(ctx context.Context, songID uuid.UUID) (int, error) {
	n, err := r.queries.GetLyricCount(ctx, songID)
	if err != nil {
		return 0, fmt.Errorf("failed to get lyric count: %w", err)
	}
	return n, nil
}
