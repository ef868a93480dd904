// KeyCheck - key package diagnostics bot
// License: MIT
//
// Copyright (c) 2026 KeyCheck contributors

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalidKey = errors.New("invalid key")

const keyBytes = 32

// Networks are the environments the messaging network can be reached on.
var Networks = []string{"local", "dev", "production"}

type Config struct {
	Network  NetworkConfig  `envPrefix:"XMTP_"`
	Bridge   BridgeConfig   `envPrefix:"KEYCHECK_BRIDGE_"`
	Commands CommandsConfig `envPrefix:"KEYCHECK_"`
	Audit    AuditConfig    `envPrefix:"KEYCHECK_AUDIT_"`
	Log      LogConfig      `envPrefix:"KEYCHECK_LOG_"`
}

type NetworkConfig struct {
	WalletKey       string `env:"WALLET_KEY"`
	DBEncryptionKey string `env:"DB_ENCRYPTION_KEY"`
	Env             string `env:"ENV" envDefault:"dev"`
	DBPath          string `env:"DB_PATH"`
}

type BridgeConfig struct {
	URL               string        `env:"URL" envDefault:"ws://127.0.0.1:7080/ws"`
	Token             string        `env:"TOKEN"`
	TokenURL          string        `env:"TOKEN_URL"`
	ClientID          string        `env:"CLIENT_ID"`
	ClientSecret      string        `env:"CLIENT_SECRET"`
	ReconnectInterval time.Duration `env:"RECONNECT_INTERVAL" envDefault:"10s"`
	HandshakeTimeout  time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
}

type CommandsConfig struct {
	Prefixes       []string      `env:"PREFIXES" envDefault:"/key-check,/kc" envSeparator:","`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

type AuditConfig struct {
	// Cron is a five-field cron expression; empty disables the audit.
	Cron string `env:"CRON"`
}

type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
	File  string `env:"FILE"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// LoadConfigFrom reads the configuration from the given variables only.
func LoadConfigFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks everything needed to connect to the network.
func (c *Config) Validate() error {
	if err := validateKey("XMTP_WALLET_KEY", c.Network.WalletKey); err != nil {
		return err
	}
	if err := validateKey("XMTP_DB_ENCRYPTION_KEY", c.Network.DBEncryptionKey); err != nil {
		return err
	}
	if !IsValidNetwork(c.Network.Env) {
		return fmt.Errorf("XMTP_ENV must be one of %s, got %q", strings.Join(Networks, ", "), c.Network.Env)
	}
	if c.Bridge.URL == "" {
		return fmt.Errorf("KEYCHECK_BRIDGE_URL is required")
	}
	if c.Bridge.TokenURL != "" && (c.Bridge.ClientID == "" || c.Bridge.ClientSecret == "") {
		return fmt.Errorf("KEYCHECK_BRIDGE_TOKEN_URL requires KEYCHECK_BRIDGE_CLIENT_ID and KEYCHECK_BRIDGE_CLIENT_SECRET")
	}
	if c.Commands.RequestTimeout <= 0 {
		return fmt.Errorf("KEYCHECK_REQUEST_TIMEOUT must be positive")
	}
	return nil
}

func IsValidNetwork(name string) bool {
	for _, n := range Networks {
		if n == name {
			return true
		}
	}
	return false
}

// DecodeKey decodes a 32-byte hex key with an optional 0x prefix.
func DecodeKey(value string) ([]byte, error) {
	value = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex: %v", ErrInvalidKey, err)
	}
	if len(raw) != keyBytes {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, keyBytes, len(raw))
	}
	return raw, nil
}

func validateKey(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if _, err := DecodeKey(value); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
