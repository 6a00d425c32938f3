// Package config loads server configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Server configures the listening side.
type Server struct {
	Addr           string   `yaml:"addr" env:"TURNFORGE_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"TURNFORGE_ALLOWED_ORIGINS" envSeparator:","`
}

// Storage selects and configures the match store.
type Storage struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" env:"TURNFORGE_STORAGE_DRIVER"`
	Path   string `yaml:"path" env:"TURNFORGE_STORAGE_PATH"`
}

// Auth selects the credential scheme.
type Auth struct {
	// Mode is "plain" or "jwt".
	Mode   string `yaml:"mode" env:"TURNFORGE_AUTH_MODE"`
	Secret string `yaml:"secret" env:"TURNFORGE_AUTH_SECRET"`
}

// Match tunes coordinator behaviour.
type Match struct {
	AutoCreate        bool `yaml:"auto_create" env:"TURNFORGE_MATCH_AUTO_CREATE"`
	DefaultNumPlayers int  `yaml:"default_num_players" env:"TURNFORGE_MATCH_DEFAULT_NUM_PLAYERS"`
	ChatHistory       int  `yaml:"chat_history" env:"TURNFORGE_MATCH_CHAT_HISTORY"`
}

// Logging configures the slog handler.
type Logging struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level" env:"TURNFORGE_LOG_LEVEL"`
	// Format is "text" or "json".
	Format string `yaml:"format" env:"TURNFORGE_LOG_FORMAT"`
}

// Config is the full server configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Auth    Auth    `yaml:"auth"`
	Match   Match   `yaml:"match"`
	Logging Logging `yaml:"logging"`

	// LuaGames lists Lua game definition files to load at startup.
	LuaGames []string `yaml:"lua_games" env:"TURNFORGE_LUA_GAMES" envSeparator:","`
}

// Default returns the configuration used when neither the file nor the
// environment says otherwise. All defaults live here.
func Default() *Config {
	return &Config{
		Server:  Server{Addr: ":8000"},
		Storage: Storage{Driver: "memory", Path: "turnforge.db"},
		Auth:    Auth{Mode: "plain"},
		Match:   Match{AutoCreate: true, ChatHistory: 100},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load starts from the defaults, layers the YAML file at path over them
// (skipped when path is empty), then applies environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Logger builds the slog logger described by the Logging section.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
