package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token-from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "token-from-env", cfg.Telegram.Token)
	assert.Equal(t, DefaultMoySkladBaseURL, cfg.MoySklad.BaseURL)
	assert.Equal(t, "rus+eng", cfg.OCR.Languages)
	assert.Equal(t, "data/skladbot.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 20*time.Second, cfg.MoySkladTimeout())
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN")
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")

	path := filepath.Join(t.TempDir(), "skladbot.yaml")
	data := `
telegram:
  token: file-token
  group_chat_id: -100200
  admin_ids: [11, 22]
moysklad:
  token: ms-token
  timeout: 45s
ocr:
  languages: rus
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Telegram.Token)
	assert.Equal(t, int64(-100200), cfg.Telegram.GroupChatID)
	assert.Equal(t, []int64{11, 22}, cfg.Telegram.AdminIDs)
	assert.Equal(t, "ms-token", cfg.MoySklad.Token)
	assert.Equal(t, 45*time.Second, cfg.MoySkladTimeout())
	assert.Equal(t, []string{"rus"}, cfg.OCRLanguages())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("MOYSKLAD_BASE_URL", "https://example.test/api")
	t.Setenv("TESS_LANG", "uzb+rus+eng")
	t.Setenv("ADMIN_IDS", "123, 456, oops, 789")
	t.Setenv("SKLADBOT_DB", "/tmp/other.db")

	path := filepath.Join(t.TempDir(), "skladbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  token: file-token\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "https://example.test/api", cfg.MoySklad.BaseURL)
	assert.Equal(t, []string{"uzb", "rus", "eng"}, cfg.OCRLanguages())
	assert.Equal(t, []int64{123, 456, 789}, cfg.Telegram.AdminIDs)
	assert.Equal(t, "/tmp/other.db", cfg.Storage.DatabasePath)
}

func TestParseAdminIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 2}, ParseAdminIDs("1,2"))
	assert.Equal(t, []int64{5}, ParseAdminIDs(" 5 , abc , "))
	assert.Nil(t, ParseAdminIDs(""))
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{AdminIDs: []int64{42}}}
	assert.True(t, cfg.IsAdmin(42))
	assert.False(t, cfg.IsAdmin(7))
}

func TestOCRLanguagesFallback(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, []string{"eng"}, cfg.OCRLanguages())
}
