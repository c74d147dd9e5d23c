package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Attempt is one dispatch of an article to the publishing tool.
type Attempt struct {
	ID          string
	Article     string
	Name        string
	ContentHash string
	StartedAt   time.Time
	FinishedAt  time.Time
	Success     bool
	Phase       string
	Detail      string
	Raw         json.RawMessage
}

type Publication struct {
	Article   string
	Name      string
	Reference string
	PostedAt  time.Time
}

// Ledger remembers what was dispatched and what went live. It is a second
// line of defence next to the posted stage: an article the ledger knows as
// published is never dispatched again.
type Ledger interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
	MarkPublished(ctx context.Context, pub Publication) error
	Published(ctx context.Context, article string) (*Publication, error)
	IsPublished(ctx context.Context, article string) (bool, error)
	FailedAttempts(ctx context.Context, article string) (int, error)
	Recent(ctx context.Context, limit int) ([]Attempt, error)
	Close(ctx context.Context) error
}
