package targets

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/Go-555/github-actions-note/internal/config"
	"github.com/Go-555/github-actions-note/internal/platforms"
	feedserver "github.com/Go-555/github-actions-note/internal/server/feed"
	discordpkg "github.com/Go-555/github-actions-note/internal/targets/discord"
	feedpkg "github.com/Go-555/github-actions-note/internal/targets/feed"
	"github.com/Go-555/github-actions-note/internal/types"
)

// Deps carries what targets borrow from the rest of the process.
type Deps struct {
	Discord     *platforms.DiscordPlatform
	FeedSource  feedserver.Source
	FeedServers []feedpkg.Invalidator
	Feed        config.FeedConfig
	Logger      *slog.Logger
}

func NewFeedTarget(name string, cfg config.TargetConfig, deps Deps) types.Target {
	format := config.GetString(cfg.Settings, "format", deps.Feed.Format)
	output := config.GetString(cfg.Settings, "output", deps.Feed.Output)
	return feedpkg.New(name, feedpkg.Config{
		Feed:   FeedServerConfig(deps.Feed),
		Format: format,
		Output: output,
	}, deps.FeedSource, deps.FeedServers, deps.Logger)
}

func NewDiscordTarget(name string, cfg config.TargetConfig, deps Deps) types.Target {
	var sender platforms.Sender
	sleep := config.GetDuration(cfg.Settings, "sleep", 0)
	if deps.Discord != nil {
		sender = deps.Discord.Sender()
		if sleep == 0 {
			sleep = deps.Discord.SleepDuration()
		}
	}
	channelID := config.GetString(cfg.Settings, "channel_id", "")
	channelType := config.GetString(cfg.Settings, "channel_type", discordpkg.ChannelText)
	return discordpkg.New(name, channelID, channelType, sender, sleep)
}

// Build creates every enabled target in name order.
func Build(cfgs map[string]config.TargetConfig, deps Deps) ([]types.Target, error) {
	names := make([]string, 0, len(cfgs))
	for name, cfg := range cfgs {
		if cfg.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]types.Target, 0, len(names))
	for _, name := range names {
		cfg := cfgs[name]
		switch cfg.Type {
		case "feed":
			out = append(out, NewFeedTarget(name, cfg, deps))
		case "discord":
			out = append(out, NewDiscordTarget(name, cfg, deps))
		default:
			return nil, fmt.Errorf("target %s: unknown type %q", name, cfg.Type)
		}
	}
	return out, nil
}

func FeedServerConfig(cfg config.FeedConfig) feedserver.Config {
	port := ""
	if cfg.Port > 0 {
		port = fmt.Sprintf("%d", cfg.Port)
	}
	return feedserver.Config{
		Title:       cfg.Title,
		Link:        cfg.Link,
		Description: cfg.Description,
		Author:      cfg.Author,
		MaxItems:    cfg.MaxItems,
		Port:        port,
	}
}
