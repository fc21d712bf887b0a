// Package config loads and validates Paavo's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths lists where FindConfig looks when no explicit path
// is given, in order.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "paavo", "config.yaml"))
	}
	return append(paths, "/etc/paavo/config.yaml")
}

// FindConfig returns explicit if it exists, otherwise the first existing
// entry of DefaultSearchPaths.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config is the root of config.yaml.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	OllamaAPI     OllamaAPIConfig     `yaml:"ollama_api"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Music         MusicConfig         `yaml:"music"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	Router        RouterConfig        `yaml:"router"`
	Workers       WorkersConfig       `yaml:"workers"`
	Journal       JournalConfig       `yaml:"journal"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text or json
}

// ListenConfig is the native API listener.
type ListenConfig struct {
	Address string `yaml:"address"` // empty binds all interfaces
	Port    int    `yaml:"port"`
}

// OllamaAPIConfig enables a second listener speaking the Ollama wire
// protocol so Home Assistant's stock Ollama integration can drive Paavo.
type OllamaAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// OllamaConfig points at the Ollama server used for every LLM call.
type OllamaConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Model        string `yaml:"model"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	StartupCheck *bool  `yaml:"startup_check"`
}

// BaseURL returns http://host:port.
func (o OllamaConfig) BaseURL() string {
	return "http://" + o.Host + ":" + strconv.Itoa(o.Port)
}

// Timeout returns the per-request timeout.
func (o OllamaConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSec) * time.Second
}

// CheckOnStartup reports whether serve should verify Ollama before
// accepting turns. Defaults to true.
func (o OllamaConfig) CheckOnStartup() bool {
	return o.StartupCheck == nil || *o.StartupCheck
}

// HomeAssistantConfig is the REST connection used for device calls.
type HomeAssistantConfig struct {
	URL                string `yaml:"url"`
	Token              string `yaml:"token"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Configured reports whether both URL and token are set.
func (h HomeAssistantConfig) Configured() bool {
	return h.URL != "" && h.Token != ""
}

// MusicConfig names the media player the music topic controls.
type MusicConfig struct {
	EntityID          string `yaml:"entity_id"`
	DefaultPlaylistID string `yaml:"default_playlist_id"`
}

// ConversationConfig shapes the dialogue loop.
type ConversationConfig struct {
	HistorySize   int      `yaml:"history_size"`
	ClassifyTurns int      `yaml:"classify_turns"`
	ReplyTurns    int      `yaml:"reply_turns"`
	PromptsFile   string   `yaml:"prompts_file"`
	WatchPrompts  bool     `yaml:"watch_prompts"`
	Languages     []string `yaml:"languages"`
	StripMarkdown *bool    `yaml:"strip_markdown"`
}

// SanitizeSpeech reports whether rephrased replies are flattened from
// markdown to plain text. Defaults to true.
func (c ConversationConfig) SanitizeSpeech() bool {
	return c.StripMarkdown == nil || *c.StripMarkdown
}

// RouterConfig bounds the classification audit log.
type RouterConfig struct {
	MaxAuditLog int `yaml:"max_audit_log"`
}

// WorkersConfig bounds concurrent outbound calls.
type WorkersConfig struct {
	Max int `yaml:"max"`
}

// JournalConfig controls the SQLite turn journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`   // default: {data_dir}/journal.db
	Driver  string `yaml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
}

// MQTTConfig enables the Home Assistant discovery publisher.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // e.g. mqtt://homeassistant.local:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker URL is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// PublishInterval returns the state publish period.
func (m MQTTConfig) PublishInterval() time.Duration {
	return time.Duration(m.PublishIntervalSec) * time.Second
}

// Load reads path, expands ${VAR} references, and applies defaults.
// The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.OllamaAPI.Port == 0 {
		c.OllamaAPI.Port = 11434
	}
	if c.Ollama.Host == "" {
		c.Ollama.Host = "localhost"
	}
	if c.Ollama.Port == 0 {
		c.Ollama.Port = 11434
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = "qwen3:30b"
	}
	if c.Ollama.TimeoutSec == 0 {
		c.Ollama.TimeoutSec = 30
	}
	if c.Music.EntityID == "" {
		c.Music.EntityID = "media_player.shieldi"
	}
	if c.Conversation.HistorySize == 0 {
		c.Conversation.HistorySize = 10
	}
	if c.Conversation.ClassifyTurns == 0 {
		c.Conversation.ClassifyTurns = 4
	}
	if c.Conversation.ReplyTurns == 0 {
		c.Conversation.ReplyTurns = 8
	}
	if len(c.Conversation.Languages) == 0 {
		c.Conversation.Languages = []string{"fi"}
	}
	if c.Router.MaxAuditLog == 0 {
		c.Router.MaxAuditLog = 50
	}
	if c.Workers.Max == 0 {
		c.Workers.Max = 4
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.DataDir, "journal.db")
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "sqlite3"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "paavo"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want text or json", c.LogFormat))
	}
	if c.Ollama.Model == "" {
		errs = append(errs, errors.New("ollama.model is required"))
	}
	if c.Ollama.Port < 1 || c.Ollama.Port > 65535 {
		errs = append(errs, fmt.Errorf("ollama.port %d out of range", c.Ollama.Port))
	}
	if c.Ollama.TimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("ollama.timeout_sec %d must not be negative", c.Ollama.TimeoutSec))
	}
	if c.HomeAssistant.Token != "" && c.HomeAssistant.URL == "" {
		errs = append(errs, errors.New("homeassistant.url is required when a token is set"))
	}
	if !strings.HasPrefix(c.Music.EntityID, "media_player.") {
		errs = append(errs, fmt.Errorf("music.entity_id %q is not a media_player entity", c.Music.EntityID))
	}
	conv := c.Conversation
	if conv.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("conversation.history_size %d must be positive", conv.HistorySize))
	}
	if conv.ClassifyTurns < 1 || conv.ClassifyTurns > conv.HistorySize {
		errs = append(errs, fmt.Errorf("conversation.classify_turns %d must be within 1..%d", conv.ClassifyTurns, conv.HistorySize))
	}
	if conv.ReplyTurns < 1 || conv.ReplyTurns > conv.HistorySize {
		errs = append(errs, fmt.Errorf("conversation.reply_turns %d must be within 1..%d", conv.ReplyTurns, conv.HistorySize))
	}
	if c.Workers.Max < 1 {
		errs = append(errs, fmt.Errorf("workers.max %d must be positive", c.Workers.Max))
	}
	switch c.Journal.Driver {
	case "sqlite3", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("journal.driver %q: want sqlite3 or sqlite", c.Journal.Driver))
	}
	return errors.Join(errs...)
}
