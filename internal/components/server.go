package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Go-555/github-actions-note/internal/server/feed"
)

type ServerConfig struct {
	Name string
	Feed feed.Config
}

// ServerComponent runs the HTTP feed servers.
type ServerComponent struct {
	source  feed.Source
	configs []ServerConfig
	servers map[string]*feed.Server
	logger  *slog.Logger
}

func NewServerComponent(source feed.Source, logger *slog.Logger) *ServerComponent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerComponent{
		source:  source,
		configs: make([]ServerConfig, 0),
		servers: make(map[string]*feed.Server),
		logger:  logger,
	}
}

func (c *ServerComponent) Name() string {
	return ServerComponentName
}

func (c *ServerComponent) Dependencies() []string {
	return []string{}
}

func (c *ServerComponent) Register(cfg ServerConfig) {
	c.configs = append(c.configs, cfg)
}

func (c *ServerComponent) Validate() error {
	if len(c.configs) > 0 && c.source == nil {
		return fmt.Errorf("servers: no post source")
	}
	return nil
}

func (c *ServerComponent) Initialize(ctx context.Context) error {
	for _, cfg := range c.configs {
		if _, exists := c.servers[cfg.Name]; exists {
			continue
		}

		server := feed.New(cfg.Name, cfg.Feed, c.source, c.logger)
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("servers: failed to start feed server %s: %w", cfg.Name, err)
		}

		c.servers[cfg.Name] = server
	}
	return nil
}

func (c *ServerComponent) Close(ctx context.Context) error {
	for name, server := range c.servers {
		if err := server.Shutdown(ctx); err != nil {
			c.logger.Error("Error shutting down feed server", "name", name, "error", err)
		}
	}
	return nil
}

func (c *ServerComponent) Servers() map[string]*feed.Server {
	return c.servers
}
