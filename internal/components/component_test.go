package components

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Go-555/github-actions-note/internal/config"
	"github.com/Go-555/github-actions-note/internal/server/feed"
	"github.com/Go-555/github-actions-note/internal/storage"
	"github.com/Go-555/github-actions-note/internal/types"
)

type recorder struct {
	name    string
	deps    []string
	events  *[]string
	valErr  error
	initErr error
}

func (r *recorder) Name() string           { return r.name }
func (r *recorder) Dependencies() []string { return r.deps }
func (r *recorder) Validate() error        { return r.valErr }

func (r *recorder) Initialize(context.Context) error {
	if r.initErr != nil {
		return r.initErr
	}
	*r.events = append(*r.events, "init:"+r.name)
	return nil
}

func (r *recorder) Close(context.Context) error {
	*r.events = append(*r.events, "close:"+r.name)
	return nil
}

func TestRegistryOrder(t *testing.T) {
	var events []string
	reg := NewRegistry()
	require.NoError(t, reg.Register(&recorder{name: "targets", deps: []string{"storage", "platforms"}, events: &events}))
	require.NoError(t, reg.Register(&recorder{name: "storage", events: &events}))
	require.NoError(t, reg.Register(&recorder{name: "platforms", events: &events}))
	assert.Error(t, reg.Register(&recorder{name: "storage", events: &events}))

	require.NoError(t, reg.InitializeAll(context.Background()))
	assert.Equal(t, []string{"platforms", "storage", "targets"}, reg.Order())

	require.NoError(t, reg.CloseAll(context.Background()))
	assert.Equal(t, []string{
		"init:platforms", "init:storage", "init:targets",
		"close:targets", "close:storage", "close:platforms",
	}, events)

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistryValidationStopsInit(t *testing.T) {
	var events []string
	reg := NewRegistry()
	require.NoError(t, reg.Register(&recorder{name: "a", events: &events}))
	require.NoError(t, reg.Register(&recorder{name: "b", events: &events, valErr: errors.New("bad")}))

	assert.Error(t, reg.InitializeAll(context.Background()))
	assert.Empty(t, events)
}

func TestRegistryInitFailureClosesStarted(t *testing.T) {
	var events []string
	reg := NewRegistry()
	require.NoError(t, reg.Register(&recorder{name: "storage", events: &events}))
	require.NoError(t, reg.Register(&recorder{name: "servers", deps: []string{"storage"}, events: &events, initErr: errors.New("port in use")}))

	assert.Error(t, reg.InitializeAll(context.Background()))
	assert.Equal(t, []string{"init:storage", "close:storage"}, events)
	assert.Empty(t, reg.Order())
}

func TestRegistryMissingDependency(t *testing.T) {
	var events []string
	reg := NewRegistry()
	require.NoError(t, reg.Register(&recorder{name: "a", deps: []string{"ghost"}, events: &events}))
	assert.Error(t, reg.InitializeAll(context.Background()))
}

func TestStorageComponent(t *testing.T) {
	comp := NewStorageComponent("none", "")
	require.NoError(t, comp.Validate())
	require.NoError(t, comp.Initialize(context.Background()))
	assert.IsType(t, storage.Noop{}, comp.Ledger())

	comp = NewStorageComponent("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, comp.Validate())
	require.NoError(t, comp.Initialize(context.Background()))
	ok, err := comp.Ledger().IsPublished(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, comp.Close(context.Background()))

	assert.Error(t, NewStorageComponent("sqlite", "").Validate())
	assert.Error(t, NewStorageComponent("postgres", "x").Initialize(context.Background()))
}

func TestPlatformComponent(t *testing.T) {
	comp := NewPlatformComponent(map[string]config.PlatformConfig{
		"discord": {Type: "discord", Settings: map[string]interface{}{"bot_token": "t"}},
	})
	require.NoError(t, comp.Validate())
	require.NoError(t, comp.Initialize(context.Background()))
	assert.NotNil(t, comp.Discord())
	assert.NoError(t, comp.Close(context.Background()))

	assert.Error(t, NewPlatformComponent(map[string]config.PlatformConfig{"x": {Type: "bluesky"}}).Validate())
	assert.Error(t, NewPlatformComponent(map[string]config.PlatformConfig{"discord": {Type: "discord"}}).Initialize(context.Background()))
}

type noPosts struct{}

func (noPosts) Posts(context.Context) ([]*types.Post, error) { return nil, nil }

func TestServerComponent(t *testing.T) {
	comp := NewServerComponent(noPosts{}, nil)
	comp.Register(ServerConfig{Name: "notes", Feed: feed.Config{Port: "0"}})

	require.NoError(t, comp.Validate())
	require.NoError(t, comp.Initialize(context.Background()))
	assert.Contains(t, comp.Servers(), "notes")
	assert.NoError(t, comp.Close(context.Background()))

	empty := NewServerComponent(nil, nil)
	empty.Register(ServerConfig{Name: "x"})
	assert.Error(t, empty.Validate())
}
