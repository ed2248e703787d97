package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret: s3cret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "local", cfg.Bus.Driver)
	assert.Equal(t, 10, cfg.Chat.PageSize)
	assert.Equal(t, 2*time.Second, cfg.TypingIdle())
	assert.Equal(t, int64(1<<20), cfg.Chat.MaxImageBytes)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret: s3cret\nchat:\n  page_size: 10\n")
	t.Setenv("CHAT_CHAT_PAGE_SIZE", "25")
	t.Setenv("CHAT_APP_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Chat.PageSize)
	assert.Equal(t, "9090", cfg.App.Port)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing secret":  "store:\n  driver: memory\n",
		"unknown store":   "jwt:\n  secret: x\nstore:\n  driver: sqlite\n",
		"kafka no topic":  "jwt:\n  secret: x\nbus:\n  driver: kafka\nkafka:\n  topic: \"\"\n",
		"s3 no bucket":    "jwt:\n  secret: x\nblob:\n  driver: s3\n",
		"brevo no apikey": "jwt:\n  secret: x\nmail:\n  driver: brevo\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{App: App{AdminEmails: []string{"Admin@Habibi.chat"}}}
	assert.True(t, cfg.IsAdmin("admin@habibi.chat"))
	assert.False(t, cfg.IsAdmin("user@habibi.chat"))
}
