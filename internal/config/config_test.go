package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notepost.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "notepost", cfg.Bot.Name)
	assert.Equal(t, filepath.Join("articles", "queue"), cfg.Queue.Queued)
	assert.Equal(t, filepath.Join("articles", "posted"), cfg.Queue.Posted)
	assert.Equal(t, "post_to_note", cfg.Publisher.Tool)
	assert.Equal(t, "240s", cfg.Publisher.OperationTimeout)
	assert.Equal(t, "300s", cfg.Publisher.HardTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "rss", cfg.Feed.Format)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[bot]
interval = "10m"
watch = true

[queue]
root = "content"
posted = "published"

[publisher]
command = "node"
args = ["dist/server.js"]
hard_timeout = "90s"

[publisher.env]
HEADLESS = "1"

[policy]
max_attempts = 3

[policy.quality]
enabled = true
min_chars = 100
required_sections = ["まとめ"]

[platforms.discord]
type = "discord"

[platforms.discord.settings]
token = "abc"

[targets.announce]
type = "discord"
enabled = true
platform = "discord"

[targets.announce.settings]
channel_id = "42"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Bot.Watch)
	assert.Equal(t, 10*time.Minute, Duration(cfg.Bot.Interval, 0))
	assert.Equal(t, filepath.Join("content", "queue"), cfg.Queue.Queued)
	assert.Equal(t, "published", cfg.Queue.Posted)
	assert.Equal(t, []string{"dist/server.js"}, cfg.Publisher.Args)
	assert.Equal(t, map[string]string{"HEADLESS": "1"}, cfg.Publisher.Env)
	assert.Equal(t, 90*time.Second, Duration(cfg.Publisher.HardTimeout, 0))
	assert.Equal(t, 3, cfg.Policy.MaxAttempts)
	assert.Equal(t, []string{"まとめ"}, cfg.Policy.Quality.RequiredSections)
	assert.Equal(t, "42", GetString(cfg.Targets["announce"].Settings, "channel_id", ""))
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad interval":     "[bot]\ninterval = \"soon\"\n",
		"bad timeout":      "[publisher]\nhard_timeout = \"5 minutes\"\n",
		"negative max":     "[policy]\nmax_attempts = -1\n",
		"inverted bounds":  "[policy.quality]\nmin_chars = 10\nmax_chars = 5\n",
		"unknown format":   "[feed]\nformat = \"csv\"\n",
		"unknown platform": "[targets.x]\ntype = \"discord\"\nenabled = true\nplatform = \"nope\"\n",
		"not toml":         "this is = = not toml",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvStatePath:     "/secrets/state.json",
		EnvScreenshotDir: "/tmp/shots",
		EnvResultPath:    "/tmp/result.json",
		EnvQueueDir:      "/data/queue",
		EnvPostedDir:     "/data/posted",
		EnvNoteURL:       "https://note.com/u/n/x",
		EnvLogLevel:      "   ",
	}
	ApplyEnv(cfg, func(key string) string { return env[key] })

	assert.Equal(t, "/secrets/state.json", cfg.Publisher.StatePath)
	assert.Equal(t, "/tmp/shots", cfg.Publisher.ScreenshotDir)
	assert.Equal(t, "/tmp/result.json", cfg.Publisher.ResultPath)
	assert.Equal(t, "/data/queue", cfg.Queue.Queued)
	assert.Equal(t, "/data/posted", cfg.Queue.Posted)
	assert.Equal(t, "https://note.com/u/n/x", cfg.Queue.NoteURL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, filepath.Join("articles", "rejected"), cfg.Queue.Rejected)
}

func TestApplyEnvDiscordToken(t *testing.T) {
	cfg := Default()
	cfg.Platforms = map[string]PlatformConfig{
		"discord": {Type: "discord"},
		"other":   {Type: "webhook", Settings: map[string]interface{}{"bot_token": "keep"}},
	}
	ApplyEnv(cfg, func(key string) string {
		if key == EnvDiscordToken {
			return "tok"
		}
		return ""
	})

	assert.Equal(t, "tok", cfg.Platforms["discord"].Settings["bot_token"])
	assert.Equal(t, "keep", cfg.Platforms["other"].Settings["bot_token"])
}

func TestSettingsHelpers(t *testing.T) {
	settings := map[string]interface{}{
		"name":    "feed",
		"size":    int64(20),
		"on":      true,
		"tags":    []interface{}{"a", 1, "b"},
		"headers": map[string]interface{}{"x": "y", "n": 2},
		"every":   "90s",
	}

	assert.Equal(t, "feed", GetString(settings, "name", ""))
	assert.Equal(t, "dflt", GetString(settings, "size", "dflt"))
	assert.Equal(t, 20, GetInt(settings, "size", 0))
	assert.True(t, GetBool(settings, "on", false))
	assert.Equal(t, []string{"a", "b"}, GetStringSlice(settings, "tags"))
	assert.Equal(t, map[string]string{"x": "y"}, GetStringMap(settings, "headers"))
	assert.Equal(t, 90*time.Second, GetDuration(settings, "every", time.Second))
	assert.Equal(t, time.Second, GetDuration(settings, "missing", time.Second))
}
