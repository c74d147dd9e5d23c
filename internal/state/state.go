package state

import (
	"github.com/Go-555/github-actions-note/internal/components"
	"github.com/Go-555/github-actions-note/internal/config"
	"github.com/Go-555/github-actions-note/internal/core"
	"github.com/Go-555/github-actions-note/internal/metrics"
	"github.com/Go-555/github-actions-note/internal/queue"
	"github.com/Go-555/github-actions-note/internal/storage"
	"github.com/Go-555/github-actions-note/internal/store"
)

// State is everything a command needs once the process is wired.
type State struct {
	Config   *config.Config
	Registry *components.Registry
	Store    *store.Store
	Ledger   storage.Ledger
	Machine  *queue.Machine
	Targets  *core.Targets
	Metrics  *metrics.Metrics
	Bot      *core.Bot
}

func NewState(cfg *config.Config, registry *components.Registry) *State {
	return &State{
		Config:   cfg,
		Registry: registry,
	}
}
