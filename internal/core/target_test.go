package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Go-555/github-actions-note/internal/types"
)

type flakyTarget struct {
	name     string
	failures int
	initErr  error

	mu    sync.Mutex
	calls int
	shut  bool
}

func (f *flakyTarget) Name() string { return f.name }

func (f *flakyTarget) Initialize(context.Context) error { return f.initErr }

func (f *flakyTarget) Publish(_ context.Context, post *types.Post) (*types.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return &types.PublishResult{Success: false, Target: f.name, ItemID: post.ID, Error: errors.New("busy")}, nil
	}
	return &types.PublishResult{Success: true, Target: f.name, ItemID: post.ID}, nil
}

func (f *flakyTarget) Shutdown(context.Context) error {
	f.shut = true
	return nil
}

func instantTargets(targets ...types.Target) *Targets {
	t := NewTargets(targets, nil)
	t.backoff = func(int) time.Duration { return time.Millisecond }
	return t
}

func TestAnnounceRetriesUntilSuccess(t *testing.T) {
	tgt := &flakyTarget{name: "discord", failures: 2}
	targets := instantTargets(tgt)

	err := targets.Announce(context.Background(), &types.Post{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 3, tgt.calls)
}

func TestAnnounceGivesUp(t *testing.T) {
	good := &flakyTarget{name: "feed"}
	bad := &flakyTarget{name: "discord", failures: 100}
	targets := instantTargets(good, bad)

	err := targets.Announce(context.Background(), &types.Post{ID: "p1"})
	require.Error(t, err)

	var te *types.TargetError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "discord", te.Target)
	assert.Equal(t, maxRetries+1, te.Attempts)
	assert.Equal(t, 1, good.calls)
	assert.Equal(t, maxRetries+1, bad.calls)
}

type silentTarget struct{ calls int }

func (s *silentTarget) Name() string                     { return "silent" }
func (s *silentTarget) Initialize(context.Context) error { return nil }
func (s *silentTarget) Shutdown(context.Context) error   { return nil }

func (s *silentTarget) Publish(context.Context, *types.Post) (*types.PublishResult, error) {
	s.calls++
	return nil, nil
}

func TestAnnounceNilResultIsFailure(t *testing.T) {
	tgt := &silentTarget{}
	targets := instantTargets(tgt)

	err := targets.Announce(context.Background(), &types.Post{ID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no result")
	assert.Equal(t, maxRetries+1, tgt.calls)
}

func TestInitializeDropsBrokenTargets(t *testing.T) {
	ok := &flakyTarget{name: "feed"}
	broken := &flakyTarget{name: "discord", initErr: errors.New("no token")}
	targets := instantTargets(ok, broken)

	targets.Initialize(context.Background())
	assert.Equal(t, 1, targets.Len())

	require.NoError(t, targets.Shutdown(context.Background()))
	assert.True(t, ok.shut)
	assert.False(t, broken.shut)
}
