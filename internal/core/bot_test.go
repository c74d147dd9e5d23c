package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Go-555/github-actions-note/internal/queue"
	"github.com/Go-555/github-actions-note/internal/store"
)

type scriptedTicker struct {
	mu      sync.Mutex
	ticks   int
	intakes int
	results []error
	ticked  chan struct{}
}

func newScriptedTicker(results ...error) *scriptedTicker {
	return &scriptedTicker{results: results, ticked: make(chan struct{}, 16)}
}

func (s *scriptedTicker) Tick(context.Context) (*queue.TickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.ticks < len(s.results) {
		err = s.results[s.ticks]
	}
	s.ticks++
	select {
	case s.ticked <- struct{}{}:
	default:
	}
	return &queue.TickResult{State: queue.StateIdle}, err
}

func (s *scriptedTicker) Intake(context.Context) ([]*store.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intakes++
	return nil, nil
}

func (s *scriptedTicker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

func waitTick(t *testing.T, s *scriptedTicker) {
	t.Helper()
	select {
	case <-s.ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not happen")
	}
}

func TestBotRunOnce(t *testing.T) {
	ticker := newScriptedTicker()
	bot := NewBot(BotConfig{Name: "test", Machine: ticker, RunOnce: true, Intake: true})

	require.NoError(t, bot.Start(context.Background()))
	assert.Equal(t, 1, ticker.count())
	assert.Equal(t, 1, ticker.intakes)
	assert.False(t, bot.IsRunning())
	assert.Equal(t, queue.StateIdle, bot.LastResult().State)
}

func TestBotRunOnceReturnsTickError(t *testing.T) {
	ticker := newScriptedTicker(queue.ErrReconcile)
	bot := NewBot(BotConfig{Name: "test", Machine: ticker, RunOnce: true})

	err := bot.Start(context.Background())
	assert.ErrorIs(t, err, queue.ErrReconcile)
}

func TestBotStopsOnReconcileError(t *testing.T) {
	boom := errors.New("store unavailable")
	ticker := newScriptedTicker(boom, fmt.Errorf("wrapped: %w", queue.ErrReconcile))
	bot := NewBot(BotConfig{Name: "test", Machine: ticker, Interval: 10 * time.Millisecond})

	err := bot.Start(context.Background())
	require.ErrorIs(t, err, queue.ErrReconcile)
	assert.Equal(t, 2, ticker.count())

	select {
	case reported := <-bot.Errors():
		assert.ErrorIs(t, reported, boom)
	default:
		t.Fatal("non-fatal tick error was not reported")
	}
}

func TestBotStopAndCancel(t *testing.T) {
	ticker := newScriptedTicker()
	bot := NewBot(BotConfig{Name: "test", Machine: ticker, Interval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- bot.Start(context.Background()) }()
	waitTick(t, ticker)

	require.NoError(t, bot.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bot did not stop")
	}
	require.NoError(t, bot.Stop(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	bot = NewBot(BotConfig{Name: "test", Machine: ticker, Interval: time.Hour})
	go func() { done <- bot.Start(ctx) }()
	waitTick(t, ticker)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBotWatchTriggersTick(t *testing.T) {
	dir := t.TempDir()
	ticker := newScriptedTicker()
	bot := NewBot(BotConfig{
		Name:     "test",
		Machine:  ticker,
		Interval: time.Hour,
		WatchDir: dir,
		Debounce: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bot.Start(ctx) }()
	waitTick(t, ticker)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.md"), []byte("---\ntitle: x\n---\n"), 0o644))
	waitTick(t, ticker)
	assert.GreaterOrEqual(t, ticker.count(), 2)
}

func TestBotRejectsDoubleStart(t *testing.T) {
	ticker := newScriptedTicker()
	bot := NewBot(BotConfig{Name: "test", Machine: ticker, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bot.Start(ctx) }()
	waitTick(t, ticker)

	assert.Error(t, bot.Start(ctx))
}
