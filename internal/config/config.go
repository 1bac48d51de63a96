// Package config loads skladbot configuration from an optional YAML file
// with environment variable overrides. Environment names match the ones the
// bot has always been deployed with, so a plain env-only deployment (Railway,
// Docker) needs no config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMoySkladBaseURL is the MoySklad JSON-API 1.2 endpoint.
const DefaultMoySkladBaseURL = "https://api.moysklad.ru/api/remap/1.2"

// Config holds all skladbot configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	MoySklad MoySkladConfig `yaml:"moysklad"`
	OCR      OCRConfig      `yaml:"ocr"`
	Storage  StorageConfig  `yaml:"storage"`
}

// TelegramConfig configures the bot transport and chat routing.
type TelegramConfig struct {
	Token string `yaml:"token"`

	// GroupChatID receives payment notifications, ConfirmChatID order
	// notifications. Zero disables the respective channel.
	GroupChatID   int64 `yaml:"group_chat_id"`
	ConfirmChatID int64 `yaml:"confirm_chat_id"`

	// AdminIDs are Telegram user IDs allowed to manage operators.
	AdminIDs []int64 `yaml:"admin_ids"`
}

// MoySkladConfig configures the MoySklad API client.
type MoySkladConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// OCRConfig configures the Tesseract engine.
type OCRConfig struct {
	// Languages is a Tesseract language tag, e.g. "rus+eng".
	Languages string `yaml:"languages"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	TempDir      string `yaml:"temp_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MoySklad: MoySkladConfig{
			BaseURL: DefaultMoySkladBaseURL,
			Timeout: "20s",
		},
		OCR: OCRConfig{
			Languages: "rus+eng",
		},
		Storage: StorageConfig{
			DatabasePath: "data/skladbot.db",
			TempDir:      "data/tmp",
		},
	}
}

// Load reads configuration from path (missing file is fine, defaults are
// used) and applies environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.Telegram.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("GROUP_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Telegram.GroupChatID = id
		}
	}
	if v := os.Getenv("CONFIRM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Telegram.ConfirmChatID = id
		}
	}
	if v := os.Getenv("ADMIN_IDS"); v != "" {
		c.Telegram.AdminIDs = ParseAdminIDs(v)
	}
	if v := os.Getenv("MOYSKLAD_TOKEN"); v != "" {
		c.MoySklad.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("MOYSKLAD_BASE_URL"); v != "" {
		c.MoySklad.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("TESS_LANG"); v != "" {
		c.OCR.Languages = strings.TrimSpace(v)
	}
	if v := os.Getenv("SKLADBOT_DB"); v != "" {
		c.Storage.DatabasePath = v
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("BOT_TOKEN is not set")
	}
	if c.MoySklad.BaseURL == "" {
		return fmt.Errorf("moysklad base_url is empty")
	}
	if _, err := time.ParseDuration(c.MoySklad.Timeout); err != nil {
		return fmt.Errorf("invalid moysklad timeout %q: %w", c.MoySklad.Timeout, err)
	}
	return nil
}

// ParseAdminIDs parses a comma-separated admin ID list. Entries that are
// not integers are skipped.
func ParseAdminIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// IsAdmin reports whether a Telegram user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MoySkladTimeout returns the client timeout as a duration.
func (c *Config) MoySkladTimeout() time.Duration {
	d, err := time.ParseDuration(c.MoySklad.Timeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// OCRLanguages splits the Tesseract language tag ("rus+eng") into the
// individual language codes gosseract expects.
func (c *Config) OCRLanguages() []string {
	var langs []string
	for _, l := range strings.Split(c.OCR.Languages, "+") {
		l = strings.TrimSpace(l)
		if l != "" {
			langs = append(langs, l)
		}
	}
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return langs
}
