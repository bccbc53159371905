package storage

import (
	"context"
	"fmt"

	"backend-formcoach/internal/db"
	"backend-formcoach/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS exercise_sessions (
	id               TEXT PRIMARY KEY,
	athlete_id       TEXT,
	mode             TEXT NOT NULL,
	source           TEXT NOT NULL,
	correct_reps     INTEGER NOT NULL,
	incorrect_reps   INTEGER NOT NULL,
	frames_received  INTEGER NOT NULL,
	frames_processed INTEGER NOT NULL,
	frames_failed    INTEGER NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS exercise_sessions_athlete_idx ON exercise_sessions (athlete_id, started_at DESC);
`

const defaultHistoryLimit = 50

// Service archives finished session summaries.
type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Service) SaveSummary(ctx context.Context, sum session.Summary) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO exercise_sessions (id, athlete_id, mode, source, correct_reps, incorrect_reps,
			frames_received, frames_processed, frames_failed, started_at, ended_at)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, sum.ID, sum.AthleteID, sum.Mode, sum.Source, sum.Counters.Correct, sum.Counters.Incorrect,
		sum.FramesReceived, sum.FramesProcessed, sum.FramesFailed, sum.StartedAt, sum.EndedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sum.ID, err)
	}
	return nil
}

// History returns an athlete's archived sessions, newest first.
func (s *Service) History(ctx context.Context, athleteID string, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, COALESCE(athlete_id,''), mode, source, correct_reps, incorrect_reps,
			frames_received, frames_processed, frames_failed, started_at, ended_at
		FROM exercise_sessions
		WHERE athlete_id=$1
		ORDER BY started_at DESC
		LIMIT $2
	`, athleteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		var sum session.Summary
		if err := rows.Scan(&sum.ID, &sum.AthleteID, &sum.Mode, &sum.Source, &sum.Counters.Correct,
			&sum.Counters.Incorrect, &sum.FramesReceived, &sum.FramesProcessed, &sum.FramesFailed,
			&sum.StartedAt, &sum.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
