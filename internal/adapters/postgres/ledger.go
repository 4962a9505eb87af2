package postgres

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"vigil/internal/domain"
)

// LedgerRepository. Appends are idempotent on (session_id, sequence) via the
// partial unique index; one-shot events always insert.

func (db *DB) Append(ctx context.Context, ev *domain.DetectionEvent) (bool, error) {
	matches, err := json.Marshal(ev.Matches)
	if err != nil {
		return false, err
	}
	tag, err := db.Pool.Exec(ctx, `
        INSERT INTO detection_events
            (id, channel, session_id, sequence, score, cumulative_score, matches, band, action, recommendation, degraded, synthetic, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (session_id, sequence) WHERE session_id <> '' DO NOTHING
    `, ev.ID, ev.Channel, ev.SessionID, ev.Sequence, ev.Score, ev.CumulativeScore, matches,
		ev.Band, ev.Action, ev.Recommendation, ev.Degraded, ev.Synthetic, ev.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (db *DB) GetBySequence(ctx context.Context, sessionID string, sequence int64) (*domain.DetectionEvent, error) {
	row := db.Pool.QueryRow(ctx, `
        SELECT id, channel, session_id, sequence, score, cumulative_score, matches, band, action, recommendation, degraded, synthetic, created_at
        FROM detection_events
        WHERE session_id = $1 AND sequence = $2
    `, sessionID, sequence)
	ev, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}

func (db *DB) History(ctx context.Context, sessionID string) ([]domain.DetectionEvent, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT id, channel, session_id, sequence, score, cumulative_score, matches, band, action, recommendation, degraded, synthetic, created_at
        FROM detection_events
        WHERE session_id = $1
        ORDER BY sequence
    `, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DetectionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (db *DB) BandDistribution(ctx context.Context, from, to time.Time) (map[domain.Band]int64, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT band, count(*)
        FROM detection_events
        WHERE ($1::timestamptz IS NULL OR created_at >= $1)
          AND ($2::timestamptz IS NULL OR created_at < $2)
        GROUP BY band
    `, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[domain.Band]int64{}
	for rows.Next() {
		var band domain.Band
		var n int64
		if err := rows.Scan(&band, &n); err != nil {
			return nil, err
		}
		out[band] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.DetectionEvent, error) {
	var ev domain.DetectionEvent
	var matches []byte
	if err := row.Scan(&ev.ID, &ev.Channel, &ev.SessionID, &ev.Sequence, &ev.Score, &ev.CumulativeScore,
		&matches, &ev.Band, &ev.Action, &ev.Recommendation, &ev.Degraded, &ev.Synthetic, &ev.CreatedAt); err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		if err := json.Unmarshal(matches, &ev.Matches); err != nil {
			return nil, err
		}
	}
	return &ev, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
