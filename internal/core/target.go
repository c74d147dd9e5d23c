package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Go-555/github-actions-note/internal/types"
)

const maxRetries = 3

// Targets fan a post out to every announcement target concurrently.
type Targets struct {
	targets []types.Target
	logger  *slog.Logger
	// backoff is the wait before retry attempt n (0-based).
	backoff func(attempt int) time.Duration
}

func NewTargets(targets []types.Target, logger *slog.Logger) *Targets {
	if logger == nil {
		logger = slog.Default()
	}
	return &Targets{
		targets: targets,
		logger:  logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(math.Pow(2, float64(attempt))) * time.Second
		},
	}
}

func (t *Targets) Len() int {
	return len(t.targets)
}

// Initialize prepares every target. A target that fails to initialize is
// dropped with a warning.
func (t *Targets) Initialize(ctx context.Context) {
	ready := t.targets[:0]
	for _, tgt := range t.targets {
		if err := tgt.Initialize(ctx); err != nil {
			t.logger.Warn("Target disabled, initialization failed", "target", tgt.Name(), "error", err)
			continue
		}
		ready = append(ready, tgt)
	}
	t.targets = ready
}

func (t *Targets) Shutdown(ctx context.Context) error {
	var errs []error
	for _, tgt := range t.targets {
		if err := tgt.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", tgt.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Announce publishes post to all targets and returns the joined
// TargetErrors of those that gave up.
func (t *Targets) Announce(ctx context.Context, post *types.Post) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(t.targets))

	for i, target := range t.targets {
		t.logger.Debug("Queuing post for target", "post_id", post.ID, "target", target.Name())
		wg.Add(1)
		go func(tgt types.Target, idx int) {
			defer wg.Done()

			if idx > 0 {
				if sleeper, ok := tgt.(interface{ Sleep(context.Context) error }); ok {
					if err := sleeper.Sleep(ctx); err != nil {
						return
					}
				}
			}

			if err := t.publishWithRetry(ctx, tgt, post); err != nil {
				t.logger.Error("Failed to announce post after retries", "post_id", post.ID, "target", tgt.Name(), "error", err)
				errChan <- err
				return
			}

			t.logger.Info("Announced post", "post_id", post.ID, "target", tgt.Name())
		}(target, i)
	}

	go func() {
		wg.Wait()
		close(errChan)
	}()

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (t *Targets) publishWithRetry(ctx context.Context, target types.Target, post *types.Post) error {
	var lastErr error

	t.logger.Debug("Publishing post to target", "post_id", post.ID, "target", target.Name())

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := target.Publish(ctx, post)

		if err == nil && result != nil && result.Success {
			if attempt > 0 {
				t.logger.Info("Post announced on retry", "target", target.Name(), "post_id", post.ID, "attempt", attempt+1)
			}
			return nil
		}

		switch {
		case err != nil:
			lastErr = fmt.Errorf("target %s error: %w", target.Name(), err)
		case result == nil:
			lastErr = fmt.Errorf("target %s returned no result", target.Name())
		default:
			lastErr = fmt.Errorf("target %s publish failed: %v", target.Name(), result.Error)
		}

		if attempt < maxRetries {
			waitDuration := t.backoff(attempt)

			if result != nil && result.Metadata != nil {
				if retryAfter, ok := result.Metadata["retry_after"].(float64); ok && retryAfter > 0 {
					waitDuration = time.Duration(retryAfter*1000) * time.Millisecond
				}
			}

			t.logger.Warn("Announce attempt failed, retrying", "target", target.Name(), "attempt", attempt+1, "max_attempts", maxRetries+1, "wait_duration", waitDuration, "error", lastErr)

			select {
			case <-ctx.Done():
				return types.NewTargetError(target.Name(), post.ID, attempt+1, ctx.Err())
			case <-time.After(waitDuration):
				continue
			}
		}
	}

	return types.NewTargetError(target.Name(), post.ID, maxRetries+1, lastErr)
}
