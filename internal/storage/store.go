package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scythe504/whosetrack-backend/internal"
)

var ErrNotConfigured = errors.New("storage: no database configured")

// Store persists the cross-session track rotation and finished matches in
// Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url, verifies the connection and creates the schema.
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, ErrNotConfigured
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	log.Println("[storage.Open] connected, schema ready")
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) MarkTrackUsed(ctx context.Context, sessionID, trackID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO used_track (track_id, session_id, used_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (track_id) DO UPDATE
		SET session_id = EXCLUDED.session_id, used_at = EXCLUDED.used_at`,
		trackID, sessionID, at)
	if err != nil {
		return fmt.Errorf("mark track %s used: %w", trackID, err)
	}
	return nil
}

// LoadUsedTracks returns every track used at or after since.
func (s *Store) LoadUsedTracks(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT track_id, used_at FROM used_track WHERE used_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("load used tracks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan used track: %w", err)
		}
		out[id] = at
	}
	return out, rows.Err()
}

func (s *Store) PruneUsedTracks(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM used_track WHERE used_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune used tracks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SaveMatch writes the match and its standings in one transaction.
func (s *Store) SaveMatch(ctx context.Context, f internal.FinalStandings) error {
	var winner *string
	if f.WinnerID != "" {
		winner = &f.WinnerID
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var matchID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO match (session_id, winner_id, rounds_played, ended_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			f.SessionID, winner, f.RoundsPlayed, f.EndedAt).Scan(&matchID)
		if err != nil {
			return fmt.Errorf("insert match: %w", err)
		}

		batch := &pgx.Batch{}
		for _, st := range f.Standings {
			batch.Queue(`
				INSERT INTO match_standing (match_id, position, player_id, display_name, score)
				VALUES ($1, $2, $3, $4, $5)`,
				matchID, st.Position, st.PlayerID, st.DisplayName, st.Score)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert standings: %w", err)
		}
		return nil
	})
}

// RecentMatches returns up to limit matches, newest first.
func (s *Store) RecentMatches(ctx context.Context, limit int) ([]internal.FinalStandings, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, winner_id, rounds_played, ended_at
		FROM match
		ORDER BY ended_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}

	var (
		ids     []int64
		matches []internal.FinalStandings
	)
	for rows.Next() {
		var (
			id     int64
			winner *string
			m      internal.FinalStandings
		)
		if err := rows.Scan(&id, &m.SessionID, &winner, &m.RoundsPlayed, &m.EndedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if winner != nil {
			m.WinnerID = *winner
		}
		m.Standings = []internal.Standing{}
		ids = append(ids, id)
		matches = append(matches, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return matches, nil
	}

	index := make(map[int64]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	rows, err = s.pool.Query(ctx, `
		SELECT match_id, position, player_id, display_name, score
		FROM match_standing
		WHERE match_id = ANY($1)
		ORDER BY match_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			matchID int64
			st      internal.Standing
		)
		if err := rows.Scan(&matchID, &st.Position, &st.PlayerID, &st.DisplayName, &st.Score); err != nil {
			return nil, fmt.Errorf("scan standing: %w", err)
		}
		m := &matches[index[matchID]]
		m.Standings = append(m.Standings, st)
	}
	return matches, rows.Err()
}
