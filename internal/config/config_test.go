package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "TRIPCHAT_BASE_URL", "TRIPCHAT_STREAM_URL", "TRIPCHAT_USER_ID", "TRIPCHAT_TOKEN", "TRIPCHAT_ACCOUNT_TYPE", "TRIPCHAT_RECONNECT_DELAY", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:8080", cfg.Client.BaseURL)
	assert.Equal(t, "ws://localhost:8080/api/ws", cfg.Client.StreamURL)
	assert.Equal(t, 5*time.Second, cfg.Client.ReconnectDelay)
	assert.Equal(t, "/user/queue/messages", cfg.Client.InboxDestination)
	assert.False(t, cfg.Client.Authenticated())
	assert.Equal(t, LogConfig{Level: "info", Format: "text"}, cfg.Log)
}

func TestLoadClientOverrides(t *testing.T) {
	t.Setenv("TRIPCHAT_BASE_URL", "https://chat.example.com/")
	t.Setenv("TRIPCHAT_STREAM_URL", "")
	t.Setenv("TRIPCHAT_USER_ID", "12")
	t.Setenv("TRIPCHAT_TOKEN", "tok")
	t.Setenv("TRIPCHAT_ACCOUNT_TYPE", "provider")
	t.Setenv("TRIPCHAT_RECONNECT_DELAY", "2")
	t.Setenv("TRIPCHAT_REQUEST_TIMEOUT", "1500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.Client.BaseURL)
	assert.Equal(t, "wss://chat.example.com/api/ws", cfg.Client.StreamURL)
	assert.Equal(t, int64(12), cfg.Client.UserID)
	assert.Equal(t, "PROVIDER", cfg.Client.AccountType)
	assert.Equal(t, 2*time.Second, cfg.Client.ReconnectDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.Client.RequestTimeout)
	assert.True(t, cfg.Client.Authenticated())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"PORT":                     "80 80",
		"TRIPCHAT_USER_ID":         "abc",
		"TRIPCHAT_RECONNECT_DELAY": "-1s",
		"TRIPCHAT_PING_INTERVAL":   "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestServerAddrForms(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	cfg, err := loadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)

	t.Setenv("PORT", "9001")
	cfg, err = loadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.Addr)
}
