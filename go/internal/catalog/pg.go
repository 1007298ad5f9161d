package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const getEventSongsQuery = `
SELECT es.song_id, s.title, es.transpose, es.position,
       (SELECT COUNT(*) FROM song_lyrics sl WHERE sl.song_id = es.song_id) AS lyric_count
FROM event_songs es
JOIN songs s ON s.id = es.song_id
WHERE es.event_id = $1
ORDER BY es.position`

const getLyricCountQuery = `
SELECT COUNT(*) FROM song_lyrics WHERE song_id = $1`

// PGQuerier implements Querier against Postgres.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier creates a Postgres-backed querier.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// GetEventSongs returns the running order rows for an event.
func (q *PGQuerier) GetEventSongs(ctx context.Context, eventID uuid.UUID) ([]EventSongRow, error) {
	rows, err := q.pool.Query(ctx, getEventSongsQuery, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventSongRow
	for rows.Next() {
		var row EventSongRow
		if err := rows.Scan(&row.SongID, &row.Title, &row.Transpose, &row.Position, &row.LyricCount); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// GetLyricCount returns the lyric line count for one song.
func (q *PGQuerier) GetLyricCount(ctx context.Context, songID uuid.UUID) (int, error) {
	var count int
	if err := q.pool.QueryRow(ctx, getLyricCountQuery, songID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
