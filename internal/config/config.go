package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Bot       BotConfig                 `toml:"bot"`
	Queue     QueueConfig               `toml:"queue"`
	Publisher PublisherConfig           `toml:"publisher"`
	Storage   StorageConfig             `toml:"storage"`
	Policy    PolicyConfig              `toml:"policy"`
	Platforms map[string]PlatformConfig `toml:"platforms"`
	Targets   map[string]TargetConfig   `toml:"targets"`
	Feed      FeedConfig                `toml:"feed"`
	Metrics   MetricsConfig             `toml:"metrics"`
	Logging   LoggingConfig             `toml:"logging"`
}

type BotConfig struct {
	Name     string `toml:"name"`
	Interval string `toml:"interval"`
	RunOnce  bool   `toml:"run_once"`
	// Watch ticks as soon as something lands in the queued directory.
	Watch    bool   `toml:"watch"`
	Debounce string `toml:"debounce"`
	// Intake moves incoming articles to queued before every tick.
	Intake   bool   `toml:"intake"`
}

type QueueConfig struct {
	Root             string   `toml:"root"`
	Incoming         string   `toml:"incoming"`
	Queued           string   `toml:"queued"`
	Posted           string   `toml:"posted"`
	Rejected         string   `toml:"rejected"`
	ReservedPrefixes []string `toml:"reserved_prefixes"`
	ReservedNames    []string `toml:"reserved_names"`
	NoteURL          string   `toml:"note_url"`
	Source           string   `toml:"source"`
}

type PublisherConfig struct {
	Command          string            `toml:"command"`
	Args             []string          `toml:"args"`
	Env              map[string]string `toml:"env"`
	Dir              string            `toml:"dir"`
	Tool             string            `toml:"tool"`
	StatePath        string            `toml:"state_path"`
	ScreenshotDir    string            `toml:"screenshot_dir"`
	ResultPath       string            `toml:"result_path"`
	OperationTimeout string            `toml:"operation_timeout"`
	HardTimeout      string            `toml:"hard_timeout"`
	KillGrace        string            `toml:"kill_grace"`
	ExitGrace        string            `toml:"exit_grace"`
}

// StorageConfig selects the publish ledger.
type StorageConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

type PolicyConfig struct {
	MaxAttempts int           `toml:"max_attempts"`
	Quality     QualityConfig `toml:"quality"`
}

type QualityConfig struct {
	Enabled          bool     `toml:"enabled"`
	RequiredKeys     []string `toml:"required_keys"`
	MinChars         int      `toml:"min_chars"`
	MaxChars         int      `toml:"max_chars"`
	RequiredSections []string `toml:"required_sections"`
	NGWords          []string `toml:"ng_words"`
	MaxLinkErrors    int      `toml:"max_link_errors"`
	AssetsRoot       string   `toml:"assets_root"`
}

type PlatformConfig struct {
	Type     string                 `toml:"type"`
	Sleep    string                 `toml:"sleep"`
	Settings map[string]interface{} `toml:"settings"`
}

type TargetConfig struct {
	Type     string                 `toml:"type"`
	Enabled  bool                   `toml:"enabled"`
	Platform string                 `toml:"platform"`
	Settings map[string]interface{} `toml:"settings"`
}

// FeedConfig describes the feed built from the posted stage.
type FeedConfig struct {
	Title       string `toml:"title"`
	Link        string `toml:"link"`
	Description string `toml:"description"`
	Author      string `toml:"author"`
	MaxItems    int    `toml:"max_items"`
	// Output is written after every post when set.
	Output string `toml:"output"`
	Format string `toml:"format"`
	Port   int    `toml:"port"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// RunLog receives every record as a JSON line.
	RunLog string `toml:"run_log"`
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var config Config
	// the defaults are valid by construction
	_ = validateConfig(&config)
	return &config
}

func validateConfig(config *Config) error {
	if config.Bot.Name == "" {
		config.Bot.Name = "notepost"
	}

	if config.Bot.Interval == "" {
		config.Bot.Interval = "30m"
	}

	if config.Bot.Debounce == "" {
		config.Bot.Debounce = "2s"
	}

	q := &config.Queue
	if q.Root == "" {
		q.Root = "articles"
	}
	if q.Incoming == "" {
		q.Incoming = filepath.Join(q.Root, "incoming")
	}
	if q.Queued == "" {
		q.Queued = filepath.Join(q.Root, "queue")
	}
	if q.Posted == "" {
		q.Posted = filepath.Join(q.Root, "posted")
	}
	if q.Rejected == "" {
		q.Rejected = filepath.Join(q.Root, "rejected")
	}
	if q.Source == "" {
		q.Source = "generator"
	}

	p := &config.Publisher
	if p.Tool == "" {
		p.Tool = "post_to_note"
	}
	if p.StatePath == "" {
		p.StatePath = "note-state.json"
	}
	if p.ScreenshotDir == "" {
		p.ScreenshotDir = "screenshots"
	}
	if p.OperationTimeout == "" {
		p.OperationTimeout = "240s"
	}
	if p.HardTimeout == "" {
		p.HardTimeout = "300s"
	}
	if p.KillGrace == "" {
		p.KillGrace = "5s"
	}
	if p.ExitGrace == "" {
		p.ExitGrace = "5s"
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "sqlite"
	}

	if config.Storage.Path == "" {
		config.Storage.Path = "./notepost.db"
	}

	if config.Policy.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}

	qc := &config.Policy.Quality
	if qc.MinChars < 0 || qc.MaxChars < 0 {
		return fmt.Errorf("quality char bounds must not be negative")
	}
	if qc.MaxChars > 0 && qc.MinChars > qc.MaxChars {
		return fmt.Errorf("quality min_chars %d exceeds max_chars %d", qc.MinChars, qc.MaxChars)
	}

	if config.Feed.Title == "" {
		config.Feed.Title = "notepost"
	}
	if config.Feed.MaxItems == 0 {
		config.Feed.MaxItems = 50
	}
	if config.Feed.Format == "" {
		config.Feed.Format = "rss"
	}
	switch config.Feed.Format {
	case "rss", "atom", "json":
	default:
		return fmt.Errorf("unknown feed format %q", config.Feed.Format)
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}

	durations := map[string]string{
		"bot.interval":                config.Bot.Interval,
		"bot.debounce":                config.Bot.Debounce,
		"publisher.operation_timeout": p.OperationTimeout,
		"publisher.hard_timeout":      p.HardTimeout,
		"publisher.kill_grace":        p.KillGrace,
		"publisher.exit_grace":        p.ExitGrace,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	for name, tgt := range config.Targets {
		if !tgt.Enabled {
			continue
		}
		if tgt.Type == "" {
			return fmt.Errorf("target %s has no type", name)
		}
		if tgt.Platform != "" {
			if _, ok := config.Platforms[tgt.Platform]; !ok {
				return fmt.Errorf("target %s references unknown platform %s", name, tgt.Platform)
			}
		}
	}

	return nil
}

// Duration parses a value already checked by validateConfig.
func Duration(value string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// Env variables recognised by ApplyEnv.
const (
	EnvStatePath     = "NOTEPOST_STATE_PATH"
	EnvScreenshotDir = "NOTEPOST_SCREENSHOT_DIR"
	EnvResultPath    = "NOTEPOST_RESULT_PATH"
	EnvQueueDir      = "NOTEPOST_QUEUE_DIR"
	EnvPostedDir     = "NOTEPOST_POSTED_DIR"
	EnvRejectedDir   = "NOTEPOST_REJECTED_DIR"
	EnvIncomingDir   = "NOTEPOST_INCOMING_DIR"
	EnvNoteURL       = "NOTEPOST_NOTE_URL"
	EnvCommand       = "NOTEPOST_COMMAND"
	EnvLedgerPath    = "NOTEPOST_LEDGER_PATH"
	EnvLogLevel      = "NOTEPOST_LOG_LEVEL"
	EnvDiscordToken  = "NOTEPOST_DISCORD_TOKEN"
)

// ApplyEnv overlays environment overrides. It is the only place the
// environment is read; getenv is os.Getenv outside tests.
func ApplyEnv(config *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&config.Publisher.StatePath, EnvStatePath)
	set(&config.Publisher.ScreenshotDir, EnvScreenshotDir)
	set(&config.Publisher.ResultPath, EnvResultPath)
	set(&config.Publisher.Command, EnvCommand)
	set(&config.Queue.Queued, EnvQueueDir)
	set(&config.Queue.Posted, EnvPostedDir)
	set(&config.Queue.Rejected, EnvRejectedDir)
	set(&config.Queue.Incoming, EnvIncomingDir)
	set(&config.Queue.NoteURL, EnvNoteURL)
	set(&config.Storage.Path, EnvLedgerPath)
	set(&config.Logging.Level, EnvLogLevel)

	if token := strings.TrimSpace(getenv(EnvDiscordToken)); token != "" {
		for name, p := range config.Platforms {
			if p.Type != "discord" {
				continue
			}
			if p.Settings == nil {
				p.Settings = map[string]interface{}{}
			}
			p.Settings["bot_token"] = token
			config.Platforms[name] = p
		}
	}
}

func GetString(settings map[string]interface{}, key string, defaultValue string) string {
	if val, ok := settings[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultValue
}

func GetInt(settings map[string]interface{}, key string, defaultValue int) int {
	if val, ok := settings[key]; ok {
		if i, ok := val.(int64); ok {
			return int(i)
		}
		if i, ok := val.(int); ok {
			return i
		}
	}
	return defaultValue
}

func GetBool(settings map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := settings[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultValue
}

func GetStringSlice(settings map[string]interface{}, key string) []string {
	if val, ok := settings[key]; ok {
		if arr, ok := val.([]interface{}); ok {
			result := make([]string, 0, len(arr))
			for _, item := range arr {
				if str, ok := item.(string); ok {
					result = append(result, str)
				}
			}
			return result
		}
	}
	return []string{}
}

func GetStringMap(settings map[string]interface{}, key string) map[string]string {
	if val, ok := settings[key]; ok {
		if m, ok := val.(map[string]interface{}); ok {
			result := make(map[string]string)
			for k, v := range m {
				if str, ok := v.(string); ok {
					result[k] = str
				}
			}
			return result
		}
	}
	return map[string]string{}
}

func GetDuration(settings map[string]interface{}, key string, defaultValue time.Duration) time.Duration {
	if val, ok := settings[key]; ok {
		if str, ok := val.(string); ok {
			if d, err := time.ParseDuration(str); err == nil {
				return d
			}
		}
	}
	return defaultValue
}
