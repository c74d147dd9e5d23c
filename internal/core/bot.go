package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Go-555/github-actions-note/internal/queue"
	"github.com/Go-555/github-actions-note/internal/store"
)

// Ticker is the part of the queue machine the bot drives.
type Ticker interface {
	Tick(ctx context.Context) (*queue.TickResult, error)
	Intake(ctx context.Context) ([]*store.Article, error)
}

type Bot struct {
	name       string
	machine    Ticker
	interval   time.Duration
	runOnce    bool
	intake     bool
	watchDir   string
	debounce   time.Duration
	logger     *slog.Logger
	mu         sync.RWMutex
	running    bool
	last       *queue.TickResult
	stopOnce   sync.Once
	stopCh     chan struct{}
	errorCh    chan error
	shutdownFn func() error
}

type BotConfig struct {
	Name     string
	Machine  Ticker
	Interval time.Duration
	RunOnce  bool
	// Intake enqueues the incoming stage before every tick.
	Intake bool
	// WatchDir, when set, triggers a tick shortly after an article lands there.
	WatchDir   string
	Debounce   time.Duration
	ShutdownFn func() error
	Logger     *slog.Logger
}

func NewBot(config BotConfig) *Bot {
	if config.Interval == 0 {
		config.Interval = 30 * time.Minute
	}
	if config.Debounce == 0 {
		config.Debounce = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Bot{
		name:       config.Name,
		machine:    config.Machine,
		interval:   config.Interval,
		runOnce:    config.RunOnce,
		intake:     config.Intake,
		watchDir:   config.WatchDir,
		debounce:   config.Debounce,
		logger:     config.Logger,
		running:    false,
		stopCh:     make(chan struct{}),
		errorCh:    make(chan error, 10),
		shutdownFn: config.ShutdownFn,
	}
}

// Start runs ticks until ctx ends, Stop is called or a tick fails in a way
// that must not be retried.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot already running")
	}
	b.running = true
	b.mu.Unlock()

	if b.machine == nil {
		b.markStopped()
		return fmt.Errorf("bot %s has no queue machine", b.name)
	}

	if b.runOnce {
		return b.runOnceMode(ctx)
	}

	return b.runContinuousMode(ctx)
}

func (b *Bot) runOnceMode(ctx context.Context) error {
	defer b.markStopped()

	if err := b.executeRun(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (b *Bot) runContinuousMode(ctx context.Context) error {
	defer b.markStopped()

	events, closeWatch, err := b.watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", b.watchDir, err)
	}
	defer closeWatch()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	var debounceC <-chan time.Time
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	run := func() error {
		err := b.executeRun(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if errors.Is(err, queue.ErrReconcile) {
			return err
		}
		select {
		case b.errorCh <- err:
		default:
		}
		return nil
	}

	if err := run(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stopCh:
			return nil
		case <-ticker.C:
			if err := run(); err != nil {
				return err
			}
		case name := <-events:
			if last := b.LastResult(); last != nil && last.Article == name {
				// our own rewrite of the article just handled
				continue
			}
			b.logger.Debug("Article arrived, scheduling tick", "name", name)
			if debounce == nil {
				debounce = time.NewTimer(b.debounce)
			} else {
				debounce.Reset(b.debounce)
			}
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			if err := run(); err != nil {
				return err
			}
		}
	}
}

func (b *Bot) executeRun(ctx context.Context) error {
	if b.intake {
		if _, err := b.machine.Intake(ctx); err != nil {
			b.logger.Warn("Intake incomplete", "error", err)
		}
	}

	res, err := b.machine.Tick(ctx)
	if res != nil {
		b.mu.Lock()
		b.last = res
		b.mu.Unlock()
		b.logger.Debug("Tick finished", "state", res.State, "article", res.Article)
	}
	if err != nil {
		if errors.Is(err, queue.ErrReconcile) {
			b.logger.Error("Posted article could not be reconciled, stopping", "error", err)
			return err
		}
		return fmt.Errorf("tick failed: %w", err)
	}

	return nil
}

// watch forwards names of articles created in the watch directory. With no
// directory configured the returned channel never delivers.
func (b *Bot) watch(ctx context.Context) (<-chan string, func(), error) {
	if b.watchDir == "" {
		return nil, func() {}, nil
	}
	if err := os.MkdirAll(b.watchDir, 0o755); err != nil {
		return nil, nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := w.Add(b.watchDir); err != nil {
		w.Close()
		return nil, nil, err
	}

	names := make(chan string, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				name := filepath.Base(event.Name)
				if filepath.Ext(name) != ".md" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
					continue
				}
				select {
				case names <- name:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				b.logger.Warn("Watcher error", "dir", b.watchDir, "error", err)
			}
		}
	}()

	b.logger.Info("Watching for new articles", "dir", b.watchDir, "debounce", b.debounce)
	return names, func() { w.Close() }, nil
}

func (b *Bot) Stop(ctx context.Context) error {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()

	if running {
		b.stopOnce.Do(func() { close(b.stopCh) })
	}

	if b.shutdownFn != nil {
		if err := b.shutdownFn(); err != nil {
			return fmt.Errorf("custom shutdown failed: %w", err)
		}
	}

	return nil
}

func (b *Bot) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *Bot) Name() string {
	return b.name
}

// LastResult is the outcome of the most recent tick, nil before the first.
func (b *Bot) LastResult() *queue.TickResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

func (b *Bot) Errors() <-chan error {
	return b.errorCh
}

func (b *Bot) markStopped() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}
