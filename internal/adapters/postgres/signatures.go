package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"vigil/internal/domain"
	"vigil/internal/ports"
)

var ErrNotFound = errString("not found")

type errString string

func (e errString) Error() string { return string(e) }

// SignatureRepository

func (db *DB) Upsert(ctx context.Context, sig domain.Signature) (domain.Signature, error) {
	err := db.Pool.QueryRow(ctx, `
        INSERT INTO signatures (id, category, match_kind, pattern, language, region, weight, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            category = EXCLUDED.category,
            match_kind = EXCLUDED.match_kind,
            pattern = EXCLUDED.pattern,
            language = EXCLUDED.language,
            region = EXCLUDED.region,
            weight = EXCLUDED.weight,
            active = EXCLUDED.active,
            updated_at = EXCLUDED.updated_at
        RETURNING created_at
    `, sig.ID, sig.Category, sig.Kind, sig.Pattern, strings.ToLower(sig.Language), strings.ToLower(sig.Region),
		sig.Weight, sig.Active, sig.CreatedAt, sig.UpdatedAt).Scan(&sig.CreatedAt)
	return sig, err
}

func (db *DB) Deactivate(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE signatures SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) List(ctx context.Context, f ports.SignatureFilter) ([]domain.Signature, error) {
	q := `SELECT id, category, match_kind, pattern, language, region, weight, active, created_at, updated_at
          FROM signatures WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}
	if f.Category != "" {
		add("category", f.Category)
	}
	if f.Language != "" {
		add("language", strings.ToLower(f.Language))
	}
	if f.Region != "" {
		add("region", strings.ToLower(f.Region))
	}
	if f.Active != nil {
		add("active", *f.Active)
	}
	q += " ORDER BY id"

	rows, err := db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Signature
	for rows.Next() {
		var sig domain.Signature
		if err := rows.Scan(&sig.ID, &sig.Category, &sig.Kind, &sig.Pattern, &sig.Language, &sig.Region,
			&sig.Weight, &sig.Active, &sig.CreatedAt, &sig.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (db *DB) All(ctx context.Context) ([]domain.Signature, error) {
	return db.List(ctx, ports.SignatureFilter{})
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
