package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr, ":8000")
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Driver = %q, want %q", cfg.Storage.Driver, "memory")
	}
	if cfg.Auth.Mode != "plain" {
		t.Errorf("Auth mode = %q, want %q", cfg.Auth.Mode, "plain")
	}
	if !cfg.Match.AutoCreate {
		t.Errorf("AutoCreate defaults to false, want true")
	}
	if cfg.Match.ChatHistory != 100 {
		t.Errorf("ChatHistory = %d, want 100", cfg.Match.ChatHistory)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
server:
  addr: ":9100"
storage:
  driver: sqlite
  path: /var/lib/turnforge.db
auth:
  mode: jwt
  secret: s3cret
match:
  auto_create: false
  chat_history: 5
logging:
  level: debug
  format: json
lua_games:
  - games/rps.lua
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr, ":9100")
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/var/lib/turnforge.db" {
		t.Errorf("Storage = %+v, want the sqlite settings from the file", cfg.Storage)
	}
	if cfg.Auth.Mode != "jwt" || cfg.Auth.Secret != "s3cret" {
		t.Errorf("Auth = %+v, want the jwt settings from the file", cfg.Auth)
	}
	if cfg.Match.AutoCreate {
		t.Errorf("AutoCreate = true, the file must override the default")
	}
	if cfg.Match.ChatHistory != 5 {
		t.Errorf("ChatHistory = %d, want 5 from the file", cfg.Match.ChatHistory)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
	if len(cfg.LuaGames) != 1 || cfg.LuaGames[0] != "games/rps.lua" {
		t.Errorf("LuaGames = %v, want the one scripted game", cfg.LuaGames)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9100\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TURNFORGE_ADDR", ":7000")
	t.Setenv("TURNFORGE_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Addr = %q, the environment must win over the file", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v, want two entries", cfg.Server.AllowedOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("Load accepted a missing config file")
	}
}
