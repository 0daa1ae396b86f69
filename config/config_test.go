package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/spf13/pflag"
)

func clearEnv(t *testing.T) {
	for _, name := range []string{"TYPEWRITER_ENV", "TYPEWRITER_RELAY", "TYPEWRITER_CONFIG", "REDIS_ADDR", "DATABASE_URL"} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "typewriter.yaml")
	assert.Equal(t, os.WriteFile(path, []byte(body), 0o600), nil)
	return path
}

const sample = `
environment: development
agent:
  listen: ":9000"
  ready_timeout: 3s
relay:
  redis_addr: "redis:6379"
production:
  agent:
    listen: ":80"
    network_wait: 10s
`

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Validate(), nil)
	assert.Equal(t, cfg.Environment, Development)
	assert.Equal(t, cfg.Agent.RelayURL, "wss://galaxy.observer")
	assert.Equal(t, cfg.Agent.Namespace, "typewriter")
	assert.Equal(t, cfg.Agent.CacheVersion, "v2")
	assert.Equal(t, cfg.Agent.ReadyTimeout, time.Duration(0))
	assert.Equal(t, cfg.Relay.Listen, ":8081")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, sample))
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Agent.Listen, ":9000")
	assert.Equal(t, cfg.Agent.ReadyTimeout, 3*time.Second)
	assert.Equal(t, cfg.Agent.NetworkWait, time.Duration(0))
	assert.Equal(t, cfg.Relay.RedisAddr, "redis:6379")
	assert.Equal(t, cfg.Agent.DataFile, "typewriter.db")
}

func TestEnvironmentSection(t *testing.T) {
	clearEnv(t)
	t.Setenv("TYPEWRITER_ENV", "production")
	cfg, err := Load(writeConfig(t, sample))
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Environment, Production)
	assert.Equal(t, cfg.Agent.Listen, ":80")
	assert.Equal(t, cfg.Agent.NetworkWait, 10*time.Second)
	assert.Equal(t, cfg.Agent.ReadyTimeout, 3*time.Second)
}

func TestEnvironmentVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("DATABASE_URL", "postgres://db/typewriter")
	t.Setenv("TYPEWRITER_RELAY", "ws://localhost:8081/ws")
	cfg, err := Load(writeConfig(t, sample))
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Relay.RedisAddr, "cache:6380")
	assert.Equal(t, cfg.Relay.DatabaseURL, "postgres://db/typewriter")
	assert.Equal(t, cfg.Agent.RelayURL, "ws://localhost:8081/ws")
}

func TestFlagsWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("TYPEWRITER_RELAY", "ws://from-env/ws")
	path := writeConfig(t, sample)

	fs := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	flags := AgentFlags(fs)
	err := fs.Parse([]string{"--config", path, "--env", "production", "--relay", "ws://from-flag/ws", "--ready-timeout", "1s"})
	assert.Equal(t, err, nil)

	cfg, err := flags.Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Environment, Production)
	assert.Equal(t, cfg.Agent.Listen, ":80")
	assert.Equal(t, cfg.Agent.RelayURL, "ws://from-flag/ws")
	assert.Equal(t, cfg.Agent.ReadyTimeout, time.Second)
	// untouched flags leave file values alone
	assert.Equal(t, cfg.Agent.NetworkWait, 10*time.Second)
}

func TestRelayFlags(t *testing.T) {
	clearEnv(t)
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	flags := RelayFlags(fs)
	assert.Equal(t, fs.Parse([]string{"--redis", "r:1", "--announce=false"}), nil)
	cfg, err := flags.Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Relay.RedisAddr, "r:1")
	assert.Equal(t, cfg.Relay.Announce, false)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.Agent.RelayURL = ""
	err := cfg.Validate()
	assert.NotEqual(t, err, nil)
	assert.Equal(t, strings.Contains(err.Error(), "invalid environment"), true)
	assert.Equal(t, strings.Contains(err.Error(), "relay_url"), true)

	cfg = Default()
	cfg.Agent.RelayURL = ""
	cfg.Agent.Discover = true
	assert.Equal(t, cfg.Validate(), nil)
}

func TestVerifyMount(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.VerifyMount(strings.NewReader(`<html><body><div id="root"></div></body></html>`)), nil)

	err := cfg.VerifyMount(strings.NewReader(`<html><body><div id="app"></div></body></html>`))
	assert.Equal(t, errors.Is(err, ErrMissingMount), true)

	cfg.Environment = Production
	assert.Equal(t, cfg.VerifyMount(strings.NewReader(`<p>nothing here</p>`)), nil)
}
