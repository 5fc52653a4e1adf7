// Package config loads and validates the bot configuration.
//
// Files may be YAML or JSON; YAML is coerced to JSON so both formats go
// through the same strict decoder (unknown fields are rejected).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid classifies configuration validation failures. Operations that
// hit it abort before any write.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Bot      BotConfig     `json:"bot"`
	Admin    AdminConfig   `json:"admin"`
	Channels []Channel     `json:"channels"`
	Store    StoreConfig   `json:"store,omitempty"`
	Engine   EngineConfig  `json:"engine,omitempty"`
	Logging  LoggingConfig `json:"logging,omitempty"`
}

type BotConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s"). Default: 10s.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec throttles outgoing Telegram sends. Default: 25.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type AdminConfig struct {
	// ID is the only Telegram user allowed to talk to the bot.
	ID int64 `json:"id"`
}

// Channel is a configured delivery destination.
type Channel struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

type StoreConfig struct {
	// Path of the flat task file. Default: "./tasks.json".
	Path string `json:"path,omitempty"`
}

type EngineConfig struct {
	// Interval between evaluation cycles, Go duration string. Default: "1m".
	Interval string `json:"interval,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console is a pointer so "omitted" (default true) is distinguishable
	// from an explicit false.
	Console *bool         `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bot.Token) == "" {
		return fmt.Errorf("%w: bot.token is required", ErrInvalid)
	}
	if c.Admin.ID == 0 {
		return fmt.Errorf("%w: admin.id is required", ErrInvalid)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if strings.TrimSpace(ch.ID) == "" || strings.TrimSpace(ch.URL) == "" {
			return fmt.Errorf("%w: channels[%d] needs both id and url", ErrInvalid, i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("%w: duplicate channel id %q", ErrInvalid, ch.ID)
		}
		seen[ch.ID] = true
	}
	if _, err := parseDuration(c.Bot.PollTimeout); err != nil {
		return fmt.Errorf("%w: bot.poll_timeout: %v", ErrInvalid, err)
	}
	if _, err := parseDuration(c.Engine.Interval); err != nil {
		return fmt.Errorf("%w: engine.interval: %v", ErrInvalid, err)
	}
	return nil
}

// ChannelByID returns the configured channel with the given id.
func (c *Config) ChannelByID(id string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}

func (c *Config) StorePath() string {
	if p := strings.TrimSpace(c.Store.Path); p != "" {
		return p
	}
	return "./tasks.json"
}

func (c *Config) EngineInterval() time.Duration {
	d, err := parseDuration(c.Engine.Interval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

func (c *Config) PollTimeout() time.Duration {
	d, err := parseDuration(c.Bot.PollTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c *Config) ConsoleEnabled() bool {
	if c.Logging.Console == nil {
		return true
	}
	return *c.Logging.Console
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
