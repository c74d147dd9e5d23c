package components

import (
	"context"
	"fmt"

	"github.com/Go-555/github-actions-note/internal/config"
	"github.com/Go-555/github-actions-note/internal/platforms"
)

type PlatformComponent struct {
	config          map[string]config.PlatformConfig
	discordPlatform *platforms.DiscordPlatform
}

func NewPlatformComponent(config map[string]config.PlatformConfig) *PlatformComponent {
	return &PlatformComponent{
		config: config,
	}
}

func (c *PlatformComponent) Name() string {
	return PlatformComponentName
}

func (c *PlatformComponent) Dependencies() []string {
	return []string{}
}

func (c *PlatformComponent) Validate() error {
	for name, cfg := range c.config {
		switch cfg.Type {
		case "discord", "":
		default:
			return fmt.Errorf("platform %s: unknown type %q", name, cfg.Type)
		}
	}
	return nil
}

func (c *PlatformComponent) Initialize(ctx context.Context) error {
	for name, cfg := range c.config {
		if cfg.Type != "discord" && name != "discord" {
			continue
		}
		discord, err := platforms.NewDiscordPlatform(cfg.Settings, cfg.Sleep)
		if err != nil {
			return fmt.Errorf("failed to create discord platform: %w", err)
		}
		if err := discord.Initialize(ctx); err != nil {
			return fmt.Errorf("discord platform initialization failed: %w", err)
		}
		c.discordPlatform = discord
	}
	return nil
}

func (c *PlatformComponent) Close(ctx context.Context) error {
	if c.discordPlatform != nil {
		return c.discordPlatform.Close(ctx)
	}
	return nil
}

func (c *PlatformComponent) Discord() *platforms.DiscordPlatform {
	return c.discordPlatform
}
