package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// Flags binds command line flags to a Config. Flags given on the command
// line take precedence over everything else.
type Flags struct {
	fs       *pflag.FlagSet
	path     string
	values   *Config
	bindings map[string]func(dst, src *Config)
}

func newFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{
		fs:       fs,
		values:   Default(),
		bindings: make(map[string]func(dst, src *Config)),
	}
	fs.StringVar(&f.path, "config", os.Getenv("TYPEWRITER_CONFIG"), "path to a YAML config file")
	bind(f, "env", func(c *Config) *string { return (*string)(&c.Environment) }, fs.StringVar, "environment: development or production")
	return f
}

// AgentFlags registers the agent's flags on fs.
func AgentFlags(fs *pflag.FlagSet) *Flags {
	f := newFlags(fs)
	bind(f, "listen", func(c *Config) *string { return &c.Agent.Listen }, fs.StringVar, "address to serve the UI on")
	bind(f, "relay", func(c *Config) *string { return &c.Agent.RelayURL }, fs.StringVar, "sync relay websocket URL")
	bind(f, "discover", func(c *Config) *bool { return &c.Agent.Discover }, fs.BoolVar, "find a relay on the local network")
	bind(f, "namespace", func(c *Config) *string { return &c.Agent.Namespace }, fs.StringVar, "storage namespace")
	bind(f, "data", func(c *Config) *string { return &c.Agent.DataFile }, fs.StringVar, "path to the local database")
	bind(f, "name", func(c *Config) *string { return &c.Agent.PeerName }, fs.StringVar, "replica name to store and use")
	bind(f, "assets", func(c *Config) *string { return &c.Agent.Assets }, fs.StringVar, "directory holding the UI")
	bind(f, "network-wait", func(c *Config) *time.Duration { return &c.Agent.NetworkWait }, fs.DurationVar, "how long to wait for the relay at startup (0 waits forever)")
	bind(f, "ready-timeout", func(c *Config) *time.Duration { return &c.Agent.ReadyTimeout }, fs.DurationVar, "how long to wait for a document before going offline (0 waits forever)")
	return f
}

// RelayFlags registers the relay's flags on fs.
func RelayFlags(fs *pflag.FlagSet) *Flags {
	f := newFlags(fs)
	bind(f, "listen", func(c *Config) *string { return &c.Relay.Listen }, fs.StringVar, "address to listen on")
	bind(f, "redis", func(c *Config) *string { return &c.Relay.RedisAddr }, fs.StringVar, "redis address")
	bind(f, "database", func(c *Config) *string { return &c.Relay.DatabaseURL }, fs.StringVar, "postgres connection string")
	bind(f, "announce", func(c *Config) *bool { return &c.Relay.Announce }, fs.BoolVar, "announce the relay over mDNS")
	return f
}

func bind[T any](f *Flags, name string, field func(*Config) *T, register func(p *T, name string, value T, usage string), usage string) {
	p := field(f.values)
	register(p, name, *p, usage)
	f.bindings[name] = func(dst, src *Config) {
		*field(dst) = *field(src)
	}
}

// Load builds the Config once the flag set has been parsed.
func (f *Flags) Load() (*Config, error) {
	var env Environment
	if f.fs.Changed("env") {
		env = f.values.Environment
	}
	cfg, err := load(f.path, env)
	if err != nil {
		return nil, err
	}
	f.fs.Visit(func(fl *pflag.Flag) {
		if apply, ok := f.bindings[fl.Name]; ok {
			apply(cfg, f.values)
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
