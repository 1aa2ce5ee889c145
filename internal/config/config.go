package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Backend  struct {
		BaseURL string `json:"base_url"`
	} `json:"backend"`
	Poll struct {
		GuideSeconds      int `json:"guide_seconds"`
		AssignmentSeconds int `json:"assignment_seconds"`
		MessagesSeconds   int `json:"messages_seconds"`
	} `json:"poll"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

func Load(path string) (*Config, error) {
	// .env is optional; real env vars still win below.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".lifeline"),
		LogLevel: "info",
	}
	cfg.Backend.BaseURL = "http://localhost:8000"
	cfg.Poll.GuideSeconds = 5
	cfg.Poll.AssignmentSeconds = 2
	cfg.Poll.MessagesSeconds = 3

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if baseURL := os.Getenv("LIFELINE_BASE_URL"); baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}
	if level := os.Getenv("LIFELINE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Save writes the config atomically, creating the parent directory if
// needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
