package targets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Go-555/github-actions-note/internal/config"
)

func TestBuild(t *testing.T) {
	cfgs := map[string]config.TargetConfig{
		"zz-feed":  {Type: "feed", Enabled: true, Settings: map[string]interface{}{"output": "public/feed.xml"}},
		"announce": {Type: "discord", Enabled: true, Settings: map[string]interface{}{"channel_id": "42"}},
		"off":      {Type: "discord", Enabled: false},
	}

	built, err := Build(cfgs, Deps{Feed: config.Default().Feed})
	require.NoError(t, err)
	require.Len(t, built, 2)
	assert.Equal(t, "announce", built[0].Name())
	assert.Equal(t, "zz-feed", built[1].Name())
}

func TestBuildUnknownType(t *testing.T) {
	_, err := Build(map[string]config.TargetConfig{"x": {Type: "carrier-pigeon", Enabled: true}}, Deps{})
	assert.Error(t, err)
}

func TestFeedServerConfig(t *testing.T) {
	cfg := config.Default().Feed
	cfg.Port = 9090
	assert.Equal(t, "9090", FeedServerConfig(cfg).Port)
	assert.Equal(t, "", FeedServerConfig(config.FeedConfig{}).Port)
}
