package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"

func validVars() map[string]string {
	return map[string]string{
		"XMTP_WALLET_KEY":        testKey,
		"XMTP_DB_ENCRYPTION_KEY": strings.TrimPrefix(testKey, "0x"),
		"XMTP_ENV":               "production",
	}
}

func TestLoadConfigFromDefaults(t *testing.T) {
	cfg, err := LoadConfigFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Network.Env)
	assert.Equal(t, "ws://127.0.0.1:7080/ws", cfg.Bridge.URL)
	assert.Equal(t, []string{"/key-check", "/kc"}, cfg.Commands.Prefixes)
	assert.Equal(t, 30*time.Second, cfg.Commands.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.Bridge.ReconnectInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Audit.Cron)
}

func TestLoadConfigFromOverrides(t *testing.T) {
	vars := validVars()
	vars["KEYCHECK_PREFIXES"] = "/kc,/keys"
	vars["KEYCHECK_REQUEST_TIMEOUT"] = "5s"
	vars["KEYCHECK_AUDIT_CRON"] = "*/15 * * * *"
	vars["KEYCHECK_BRIDGE_URL"] = "wss://bridge.example/ws"

	cfg, err := LoadConfigFrom(vars)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"/kc", "/keys"}, cfg.Commands.Prefixes)
	assert.Equal(t, 5*time.Second, cfg.Commands.RequestTimeout)
	assert.Equal(t, "*/15 * * * *", cfg.Audit.Cron)
	assert.Equal(t, "wss://bridge.example/ws", cfg.Bridge.URL)
	assert.Equal(t, "production", cfg.Network.Env)
}

func TestLoadConfigFromBadDuration(t *testing.T) {
	_, err := LoadConfigFrom(map[string]string{"KEYCHECK_REQUEST_TIMEOUT": "soon"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{"valid", func(map[string]string) {}, ""},
		{"missing wallet key", func(v map[string]string) { delete(v, "XMTP_WALLET_KEY") }, "XMTP_WALLET_KEY is required"},
		{"short db key", func(v map[string]string) { v["XMTP_DB_ENCRYPTION_KEY"] = "abcd" }, "XMTP_DB_ENCRYPTION_KEY"},
		{"non hex key", func(v map[string]string) { v["XMTP_WALLET_KEY"] = strings.Repeat("zz", 32) }, "not hex"},
		{"unknown env", func(v map[string]string) { v["XMTP_ENV"] = "staging" }, "XMTP_ENV must be one of"},
		{"token url without client", func(v map[string]string) { v["KEYCHECK_BRIDGE_TOKEN_URL"] = "https://auth.example/token" }, "KEYCHECK_BRIDGE_CLIENT_ID"},
		{"zero timeout", func(v map[string]string) { v["KEYCHECK_REQUEST_TIMEOUT"] = "0s" }, "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := validVars()
			tt.mutate(vars)
			cfg, err := LoadConfigFrom(vars)
			require.NoError(t, err)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodeKey(t *testing.T) {
	raw, err := DecodeKey(testKey)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.Equal(t, byte(0x01), raw[0])

	_, err = DecodeKey("0x00")
	assert.True(t, errors.Is(err, ErrInvalidKey))
}
