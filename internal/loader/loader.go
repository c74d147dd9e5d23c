package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Go-555/github-actions-note/internal/components"
	"github.com/Go-555/github-actions-note/internal/config"
	"github.com/Go-555/github-actions-note/internal/core"
	"github.com/Go-555/github-actions-note/internal/metrics"
	"github.com/Go-555/github-actions-note/internal/policy"
	"github.com/Go-555/github-actions-note/internal/quality"
	"github.com/Go-555/github-actions-note/internal/queue"
	"github.com/Go-555/github-actions-note/internal/rpc"
	feedserver "github.com/Go-555/github-actions-note/internal/server/feed"
	"github.com/Go-555/github-actions-note/internal/state"
	"github.com/Go-555/github-actions-note/internal/store"
	"github.com/Go-555/github-actions-note/internal/targets"
	feedtarget "github.com/Go-555/github-actions-note/internal/targets/feed"
)

type Loader struct {
	config  *config.Config
	logger  *slog.Logger
	version string
}

func NewLoader(cfg *config.Config, logger *slog.Logger, version string) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		config:  cfg,
		logger:  logger,
		version: version,
	}
}

// NewStore builds the article store from the queue section alone; commands
// that only inspect the stages need nothing else.
func NewStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	return store.New(store.Config{
		Dirs: map[store.Stage]string{
			store.StageIncoming: cfg.Queue.Incoming,
			store.StageQueued:   cfg.Queue.Queued,
			store.StagePosted:   cfg.Queue.Posted,
			store.StageRejected: cfg.Queue.Rejected,
		},
		ReservedPrefixes: cfg.Queue.ReservedPrefixes,
		ReservedNames:    cfg.Queue.ReservedNames,
	}, logger)
}

// NewGate returns the configured quality gate, or nil when it is disabled.
func NewGate(cfg *config.Config) *quality.Gate {
	q := cfg.Policy.Quality
	if !q.Enabled {
		return nil
	}
	return quality.NewGate(quality.Config{
		RequiredKeys:     q.RequiredKeys,
		MinChars:         q.MinChars,
		MaxChars:         q.MaxChars,
		RequiredSections: q.RequiredSections,
		NGWords:          q.NGWords,
		MaxLinkErrors:    q.MaxLinkErrors,
		AssetsRoot:       q.AssetsRoot,
	})
}

// PublisherOptions maps the publisher section onto client options.
func PublisherOptions(cfg *config.Config, version string) rpc.Options {
	p := cfg.Publisher
	env := make([]string, 0, len(p.Env))
	for k, v := range p.Env {
		env = append(env, k+"="+v)
	}
	return rpc.Options{
		Command:          p.Command,
		Args:             p.Args,
		Env:              env,
		Dir:              p.Dir,
		ToolName:         p.Tool,
		StatePath:        p.StatePath,
		ScreenshotDir:    p.ScreenshotDir,
		ResultPath:       p.ResultPath,
		OperationTimeout: config.Duration(p.OperationTimeout, rpc.DefaultOperationTimeout),
		HardTimeout:      config.Duration(p.HardTimeout, rpc.DefaultHardTimeout),
		KillGrace:        config.Duration(p.KillGrace, rpc.DefaultKillGrace),
		ExitGrace:        config.Duration(p.ExitGrace, rpc.DefaultExitGrace),
		ClientName:       "notepost",
		ClientVersion:    version,
	}
}

func (l *Loader) Initialize(ctx context.Context) (*state.State, error) {
	registry := components.NewRegistry()
	l.logger.Info("Initializing all components")

	st, err := NewStore(l.config, l.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create article store: %w", err)
	}
	if err := st.EnsureDirs(); err != nil {
		return nil, err
	}
	source := feedserver.StoreSource{Store: st}

	storageComp := components.NewStorageComponent(l.config.Storage.Type, l.config.Storage.Path)
	if err := registry.Register(storageComp); err != nil {
		return nil, fmt.Errorf("failed to register storage component: %w", err)
	}

	platformComp := components.NewPlatformComponent(l.config.Platforms)
	if err := registry.Register(platformComp); err != nil {
		return nil, fmt.Errorf("failed to register platform component: %w", err)
	}

	serverComp := components.NewServerComponent(source, l.logger)
	if l.config.Feed.Port > 0 {
		serverComp.Register(components.ServerConfig{
			Name: l.config.Bot.Name,
			Feed: targets.FeedServerConfig(l.config.Feed),
		})
	}
	if err := registry.Register(serverComp); err != nil {
		return nil, fmt.Errorf("failed to register server component: %w", err)
	}

	if err := registry.InitializeAll(ctx); err != nil {
		return nil, fmt.Errorf("component initialization failed: %w", err)
	}

	l.logger.Info("All components initialized successfully", "order", registry.Order())

	appState := state.NewState(l.config, registry)
	appState.Store = st
	appState.Ledger = storageComp.Ledger()
	appState.Metrics = metrics.New(l.config.Metrics.Textfile)

	appState.Targets, err = l.buildTargets(ctx, platformComp, serverComp, source)
	if err != nil {
		registry.CloseAll(ctx)
		return nil, fmt.Errorf("failed to build targets: %w", err)
	}

	appState.Machine, err = l.buildMachine(appState)
	if err != nil {
		registry.CloseAll(ctx)
		return nil, fmt.Errorf("failed to build queue: %w", err)
	}

	interval := config.Duration(l.config.Bot.Interval, 30*time.Minute)
	watchDir := ""
	if l.config.Bot.Watch {
		watchDir = l.config.Queue.Queued
	}

	appState.Bot = core.NewBot(core.BotConfig{
		Name:     l.config.Bot.Name,
		Machine:  appState.Machine,
		Interval: interval,
		RunOnce:  l.config.Bot.RunOnce,
		Intake:   l.config.Bot.Intake,
		WatchDir: watchDir,
		Debounce: config.Duration(l.config.Bot.Debounce, 2*time.Second),
		Logger:   l.logger,
		ShutdownFn: func() error {
			return l.Shutdown(appState)
		},
	})

	return appState, nil
}

func (l *Loader) buildTargets(ctx context.Context, platformComp *components.PlatformComponent, serverComp *components.ServerComponent, source feedserver.Source) (*core.Targets, error) {
	servers := make([]feedtarget.Invalidator, 0, len(serverComp.Servers()))
	for _, srv := range serverComp.Servers() {
		servers = append(servers, srv)
	}

	built, err := targets.Build(l.config.Targets, targets.Deps{
		Discord:     platformComp.Discord(),
		FeedSource:  source,
		FeedServers: servers,
		Feed:        l.config.Feed,
		Logger:      l.logger,
	})
	if err != nil {
		return nil, err
	}

	t := core.NewTargets(built, l.logger)
	t.Initialize(ctx)
	return t, nil
}

func (l *Loader) buildMachine(appState *state.State) (*queue.Machine, error) {
	var publisher queue.Publisher = unconfiguredPublisher{}
	if l.config.Publisher.Command != "" {
		client, err := rpc.NewClient(PublisherOptions(l.config, l.version), l.logger)
		if err != nil {
			return nil, err
		}
		publisher = client
	}

	var gate policy.Checker
	if g := NewGate(l.config); g != nil {
		gate = g
	}
	rejection := policy.New(policy.Config{MaxAttempts: l.config.Policy.MaxAttempts}, gate, appState.Ledger, l.logger)

	deps := queue.Deps{
		Store:     appState.Store,
		Publisher: publisher,
		Policy:    rejection,
		Ledger:    appState.Ledger,
		Metrics:   appState.Metrics,
		Logger:    l.logger,
	}
	if appState.Targets.Len() > 0 {
		deps.Announcer = appState.Targets
	}

	return queue.New(queue.Config{
		NoteURL: l.config.Queue.NoteURL,
		Source:  l.config.Queue.Source,
	}, deps)
}

func (l *Loader) Shutdown(appState *state.State) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if appState.Targets != nil {
		if err := appState.Targets.Shutdown(ctx); err != nil {
			l.logger.Warn("Target shutdown failed", "error", err)
		}
	}
	return appState.Registry.CloseAll(ctx)
}

// unconfiguredPublisher stands in when no tool command is set, so the
// commands that never dispatch still get a working queue.
type unconfiguredPublisher struct{}

func (unconfiguredPublisher) Publish(context.Context, string) *rpc.Outcome {
	return &rpc.Outcome{Phase: rpc.PhaseSpawn, ErrorDetail: "no publisher command configured"}
}
