package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/devitalik/devitalik/internal/port/database"
)

func (s *Store) InsertChange(ctx context.Context, rec *database.ChangeRecord) error {
	payload := rec.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO changes (type, source, repository, branch, sender, delivery_id, payload, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		string(rec.Type), string(rec.Source), rec.Repository, rec.Branch, rec.Sender, rec.DeliveryID, payload, rec.DetectedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

func (s *Store) ListChanges(ctx context.Context, repository string, limit int) ([]database.ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, type, source, repository, branch, sender, delivery_id, payload, detected_at
	          FROM changes`
	args := []any{limit}
	if repository != "" {
		query += ` WHERE repository = $2`
		args = append(args, repository)
	}
	query += ` ORDER BY detected_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var records []database.ChangeRecord
	for rows.Next() {
		var rec database.ChangeRecord
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Source, &rec.Repository, &rec.Branch, &rec.Sender, &rec.DeliveryID, &rec.Payload, &rec.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) CountChangesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM changes WHERE detected_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count changes: %w", err)
	}
	return n, nil
}
