package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feedserver "github.com/Go-555/github-actions-note/internal/server/feed"
	"github.com/Go-555/github-actions-note/internal/types"
)

type posts []*types.Post

func (p posts) Posts(context.Context) ([]*types.Post, error) { return p, nil }

type countingServer struct{ n int }

func (c *countingServer) Invalidate() { c.n++ }

func TestPublishWritesFeedAndInvalidates(t *testing.T) {
	out := filepath.Join(t.TempDir(), "feed.json")
	srv := &countingServer{}
	source := posts{{ID: "p1", Title: "Hello", URL: "https://note.com/u/n/p1", PostedAt: time.Now()}}
	target := New("feed", Config{
		Feed:   feedserver.Config{Title: "notes", Link: "https://note.com/u"},
		Format: feedserver.TypeJSON,
		Output: out,
	}, source, []Invalidator{srv}, nil)

	require.NoError(t, target.Initialize(context.Background()))
	res, err := target.Publish(context.Background(), source[0])
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "p1", res.ItemID)
	assert.Equal(t, 1, srv.n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "https://note.com/u/n/p1")
}

func TestInitializeNeedsSomewhereToPublish(t *testing.T) {
	target := New("feed", Config{}, posts{}, nil, nil)
	assert.Error(t, target.Initialize(context.Background()))
}
