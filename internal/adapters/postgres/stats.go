package postgres

import (
	"context"
	"time"

	"vigil/internal/domain"
)

// StatisticsRepository

func (db *DB) BumpSignatures(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO signature_stats (signature_id, occurrence_count, last_seen_at)
        SELECT unnest($1::text[]), 1, $2
        ON CONFLICT (signature_id) DO UPDATE SET
            occurrence_count = signature_stats.occurrence_count + 1,
            last_seen_at = EXCLUDED.last_seen_at
    `, ids, at)
	return err
}

func (db *DB) BumpChannel(ctx context.Context, ch domain.Channel, threat, block bool, at time.Time) error {
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO channel_stats (channel, scored, threats, blocks, last_scored_at, last_threat_at)
        VALUES ($1, 1, $2::int, $3::int, $4, CASE WHEN $2 THEN $4 ELSE NULL END)
        ON CONFLICT (channel) DO UPDATE SET
            scored = channel_stats.scored + 1,
            threats = channel_stats.threats + $2::int,
            blocks = channel_stats.blocks + $3::int,
            last_scored_at = $4,
            last_threat_at = CASE WHEN $2 THEN $4 ELSE channel_stats.last_threat_at END
    `, ch, threat, block, at)
	return err
}

func (db *DB) SignatureStats(ctx context.Context) ([]domain.SignatureStatistic, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT signature_id, occurrence_count, last_seen_at
        FROM signature_stats ORDER BY signature_id
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SignatureStatistic
	for rows.Next() {
		var st domain.SignatureStatistic
		if err := rows.Scan(&st.SignatureID, &st.OccurrenceCount, &st.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (db *DB) ChannelStats(ctx context.Context) ([]domain.ChannelStatistic, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT channel, scored, threats, blocks, last_scored_at, last_threat_at
        FROM channel_stats ORDER BY channel
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChannelStatistic
	for rows.Next() {
		var st domain.ChannelStatistic
		if err := rows.Scan(&st.Channel, &st.Scored, &st.Threats, &st.Blocks, &st.LastScoredAt, &st.LastThreatAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
