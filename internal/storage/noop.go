package storage

import "context"

// Noop is the ledger used when bookkeeping is disabled. It records nothing
// and knows of no publications.
type Noop struct{}

func (Noop) RecordAttempt(context.Context, Attempt) error { return nil }

func (Noop) MarkPublished(context.Context, Publication) error { return nil }

func (Noop) Published(context.Context, string) (*Publication, error) { return nil, nil }

func (Noop) IsPublished(context.Context, string) (bool, error) { return false, nil }

func (Noop) FailedAttempts(context.Context, string) (int, error) { return 0, nil }

func (Noop) Recent(context.Context, int) ([]Attempt, error) { return nil, nil }

func (Noop) Close(context.Context) error { return nil }
