// Package config loads the daemon configuration: a YAML file selected by
// CONFIG_PATH, with environment overrides for credentials.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	YouTube YouTubeConfig `yaml:"youtube"`
	Kick    KickConfig    `yaml:"kick"`
	TikTok  TikTokConfig  `yaml:"tiktok"`
	Twitch  TwitchConfig  `yaml:"twitch"`
	Speech  SpeechConfig  `yaml:"speech"`
	Filters FiltersConfig `yaml:"filters"`
	Health  HealthConfig  `yaml:"health"`
}

// YouTubeConfig selects the live stream to read. Either a video id (or any
// watch/live URL form) or a channel identifier whose current live stream is
// resolved at startup.
type YouTubeConfig struct {
	Enabled bool   `yaml:"enabled"`
	VideoID string `yaml:"video_id"`
	Channel string `yaml:"channel"`
}

// KickConfig selects the Kick channel. A non-zero chatroom id pins the
// chatroom and skips API resolution.
type KickConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Channel    string `yaml:"channel"`
	ChatroomID int    `yaml:"chatroom_id" env:"KICK_CHATROOM_ID"`
}

// TikTokConfig selects the TikTok user and the worker binary that speaks
// the platform protocol out of process.
type TikTokConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Username      string `yaml:"username"`
	WorkerCommand string `yaml:"worker_command"`
}

// TwitchConfig selects Twitch channels. Without credentials the connection
// is anonymous (read-only), which is all this daemon needs.
type TwitchConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Username string   `yaml:"username"`
	OAuth    string   `yaml:"oauth" env:"TWITCH_OAUTH"`
	Channels []string `yaml:"channels"`
}

// SpeechConfig controls the delivery queue and synthesis command. An empty
// command logs messages instead of speaking them.
type SpeechConfig struct {
	Command          string `yaml:"command"`
	QueueSize        int    `yaml:"queue_size"`
	AnnouncePlatform bool   `yaml:"announce_platform"`
	AnnounceUsername bool   `yaml:"announce_username"`
}

// FiltersConfig controls which messages are spoken.
type FiltersConfig struct {
	MinLength      int      `yaml:"min_length"`
	MaxLength      int      `yaml:"max_length"`
	IgnoreCommands bool     `yaml:"ignore_commands"`
	IgnoreLinks    bool     `yaml:"ignore_links"`
	BlockedUsers   []string `yaml:"blocked_users"`
	BlockedWords   []string `yaml:"blocked_words"`
}

// HealthConfig controls the liveness/status endpoint.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// Load loads configuration from a file and applies env overrides and
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Speech.QueueSize == 0 {
		c.Speech.QueueSize = 50
	}
	if c.Filters.MaxLength == 0 {
		c.Filters.MaxLength = 200
	}
	if c.TikTok.WorkerCommand == "" {
		c.TikTok.WorkerCommand = "tiktok-chat-worker"
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}
}

func (c *Config) validate() error {
	if !c.YouTube.Enabled && !c.Kick.Enabled && !c.TikTok.Enabled && !c.Twitch.Enabled {
		return fmt.Errorf("no chat platform enabled")
	}
	if c.YouTube.Enabled && c.YouTube.VideoID == "" && c.YouTube.Channel == "" {
		return fmt.Errorf("youtube.video_id or youtube.channel is required")
	}
	if c.Kick.Enabled && c.Kick.Channel == "" && c.Kick.ChatroomID == 0 {
		return fmt.Errorf("kick.channel or kick.chatroom_id is required")
	}
	if c.TikTok.Enabled && c.TikTok.Username == "" {
		return fmt.Errorf("tiktok.username is required")
	}
	if c.Twitch.Enabled && len(c.Twitch.Channels) == 0 {
		return fmt.Errorf("at least one twitch channel is required")
	}
	if c.Twitch.Enabled && c.Twitch.Username != "" && c.Twitch.OAuth == "" {
		return fmt.Errorf("twitch.oauth is required when twitch.username is set (or set TWITCH_OAUTH)")
	}
	return nil
}
