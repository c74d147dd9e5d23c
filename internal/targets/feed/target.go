package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	feedserver "github.com/Go-555/github-actions-note/internal/server/feed"
	"github.com/Go-555/github-actions-note/internal/types"
)

// Invalidator is implemented by feed servers holding cached renderings.
type Invalidator interface {
	Invalidate()
}

type Config struct {
	Feed   feedserver.Config
	Format string
	// Output is rewritten with the whole feed on every post.
	Output string
}

// Target regenerates the posted-article feed after each post.
type Target struct {
	name    string
	config  Config
	source  feedserver.Source
	servers []Invalidator
	logger  *slog.Logger
}

func New(name string, config Config, source feedserver.Source, servers []Invalidator, logger *slog.Logger) *Target {
	if config.Format == "" {
		config.Format = feedserver.TypeRSS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Target{
		name:    name,
		config:  config,
		source:  source,
		servers: servers,
		logger:  logger,
	}
}

func (t *Target) Name() string {
	return t.name
}

func (t *Target) Initialize(ctx context.Context) error {
	if t.config.Output == "" && len(t.servers) == 0 {
		return fmt.Errorf("feed target %s: neither output file nor server configured", t.name)
	}
	return nil
}

func (t *Target) Publish(ctx context.Context, post *types.Post) (*types.PublishResult, error) {
	for _, srv := range t.servers {
		srv.Invalidate()
	}

	if t.config.Output != "" {
		if err := feedserver.WriteFile(ctx, t.source, t.config.Feed, t.config.Format, t.config.Output); err != nil {
			t.logger.Error("Feed target failed to write feed", "target", t.name, "post_id", post.ID, "error", err)
			return nil, err
		}
	}

	t.logger.Debug("Feed target refreshed feed", "target", t.name, "post_id", post.ID, "output", t.config.Output)

	return &types.PublishResult{
		Success:   true,
		Target:    t.name,
		ItemID:    post.ID,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"feed_type": t.config.Format,
		},
	}, nil
}

func (t *Target) Shutdown(ctx context.Context) error {
	return nil
}
