package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Go-555/github-actions-note/internal/storage"
)

func (s *SQLiteLedger) RecordAttempt(ctx context.Context, a storage.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var raw any
	if len(a.Raw) > 0 {
		raw = string(a.Raw)
	}

	query := `
		INSERT INTO attempts (id, article, name, content_hash, started_at, finished_at, success, phase, detail, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		a.ID, a.Article, a.Name, a.ContentHash,
		a.StartedAt.UTC(), a.FinishedAt.UTC(), a.Success, a.Phase, a.Detail, raw)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	return nil
}

func (s *SQLiteLedger) MarkPublished(ctx context.Context, pub storage.Publication) error {
	query := `
		INSERT INTO published (article, name, reference, posted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(article) DO NOTHING
	`

	_, err := s.conn.ExecContext(ctx, query, pub.Article, pub.Name, pub.Reference, pub.PostedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark as published: %w", err)
	}

	return nil
}

func (s *SQLiteLedger) Published(ctx context.Context, article string) (*storage.Publication, error) {
	pub := storage.Publication{Article: article}
	err := s.conn.QueryRowContext(ctx,
		`SELECT name, reference, posted_at FROM published WHERE article = ?`, article,
	).Scan(&pub.Name, &pub.Reference, &pub.PostedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up publication: %w", err)
	}
	return &pub, nil
}

func (s *SQLiteLedger) IsPublished(ctx context.Context, article string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM published WHERE article = ?`, article).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check published status: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteLedger) FailedAttempts(ctx context.Context, article string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE article = ? AND success = 0`, article,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

func (s *SQLiteLedger) Recent(ctx context.Context, limit int) ([]storage.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, article, name, content_hash, started_at, finished_at, success, phase, detail, raw
		FROM attempts
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []storage.Attempt
	for rows.Next() {
		var a storage.Attempt
		var raw sql.NullString
		var startedAt, finishedAt time.Time
		if err := rows.Scan(&a.ID, &a.Article, &a.Name, &a.ContentHash,
			&startedAt, &finishedAt, &a.Success, &a.Phase, &a.Detail, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.StartedAt = startedAt
		a.FinishedAt = finishedAt
		if raw.Valid {
			a.Raw = json.RawMessage(raw.String)
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}
