package postgres

import (
	"context"

	"vigil/internal/domain"
)

// SessionRepository

func (db *DB) Save(ctx context.Context, s domain.Session) error {
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO sessions (id, channel, state, cumulative_score, current_band, max_band, opened_at, last_seen_at, closed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            state = EXCLUDED.state,
            cumulative_score = EXCLUDED.cumulative_score,
            current_band = EXCLUDED.current_band,
            max_band = EXCLUDED.max_band,
            last_seen_at = EXCLUDED.last_seen_at,
            closed_at = EXCLUDED.closed_at
    `, s.ID, s.Channel, s.State, s.CumulativeScore, s.CurrentBand, s.MaxBand, s.OpenedAt, s.LastSeenAt, s.ClosedAt)
	return err
}

func (db *DB) Get(ctx context.Context, id string) (domain.Session, bool, error) {
	var s domain.Session
	err := db.Pool.QueryRow(ctx, `
        SELECT id, channel, state, cumulative_score, current_band, max_band, opened_at, last_seen_at, closed_at
        FROM sessions WHERE id = $1
    `, id).Scan(&s.ID, &s.Channel, &s.State, &s.CumulativeScore, &s.CurrentBand, &s.MaxBand, &s.OpenedAt, &s.LastSeenAt, &s.ClosedAt)
	if err != nil {
		if isNoRows(err) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return s, true, nil
}
