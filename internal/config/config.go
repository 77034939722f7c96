package config

import (
	"time"

	"grimm.is/hostnet/internal/brand"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Defaults for settings left out of the file.
const (
	DefaultLogLevel          = "info"
	DefaultCheckpointTimeout = 60 * time.Second
	DefaultVerifyRetries     = 5
	DefaultVerifyInterval    = time.Second
	DefaultProbeTimeout      = time.Second
)

// Config is the top-level structure of the hostnet configuration.
type Config struct {
	// Schema version for backward compatibility. Defaults to "1.0".
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	LogLevel      string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON       bool   `hcl:"log_json,optional" json:"log_json,omitempty"`
	StateDir      string `hcl:"state_dir,optional" json:"state_dir,omitempty"`
	SocketPath    string `hcl:"socket_path,optional" json:"socket_path,omitempty"`
	MetricsListen string `hcl:"metrics_listen,optional" json:"metrics_listen,omitempty"`
	ResolvConf    string `hcl:"resolv_conf,optional" json:"resolv_conf,omitempty"`

	Checkpoint *CheckpointConfig `hcl:"checkpoint,block" json:"checkpoint,omitempty"`
	Verify     *VerifyConfig     `hcl:"verify,block" json:"verify,omitempty"`
	Probe      *ProbeConfig      `hcl:"probe,block" json:"probe,omitempty"`
	Plugins    []PluginConfig    `hcl:"plugin,block" json:"plugins,omitempty"`
}

// CheckpointConfig controls checkpoints taken around an apply.
type CheckpointConfig struct {
	// Timeout after which an uncommitted checkpoint rolls back, e.g. "60s".
	Timeout string `hcl:"timeout,optional" json:"timeout,omitempty"`
	// PersistSnapshot stores snapshots on disk so a restarted daemon can
	// still roll back.
	PersistSnapshot *bool `hcl:"persist_snapshot,optional" json:"persist_snapshot,omitempty"`
}

// VerifyConfig controls post-apply verification.
type VerifyConfig struct {
	Retries  *int   `hcl:"retries,optional" json:"retries,omitempty"`
	Interval string `hcl:"interval,optional" json:"interval,omitempty"`
}

// ProbeConfig lists hosts pinged after an apply. An unreachable target
// rolls the change back.
type ProbeConfig struct {
	Targets []string `hcl:"targets,optional" json:"targets,omitempty"`
	Timeout string   `hcl:"timeout,optional" json:"timeout,omitempty"`
}

// PluginConfig configures one backend.
type PluginConfig struct {
	Name         string `hcl:"name,label" json:"name"`
	Enabled      *bool  `hcl:"enabled,optional" json:"enabled,omitempty"`
	Supplemental bool   `hcl:"supplemental,optional" json:"supplemental,omitempty"`
	Priority     *int   `hcl:"priority,optional" json:"priority,omitempty"`
	// LinkSettings reports ethernet speed, duplex and auto-negotiation.
	LinkSettings bool `hcl:"link_settings,optional" json:"link_settings,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		LogLevel:      DefaultLogLevel,
		StateDir:      brand.GetStateDir(),
		SocketPath:    brand.GetSocketPath(),
		ResolvConf:    brand.ResolvConfPath,
	}
}

// applyDefaults fills unset top-level settings.
func (c *Config) applyDefaults() {
	d := Default()
	if c.SchemaVersion == "" {
		c.SchemaVersion = d.SchemaVersion
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.StateDir == "" {
		c.StateDir = d.StateDir
	}
	if c.SocketPath == "" {
		c.SocketPath = d.SocketPath
	}
	if c.ResolvConf == "" {
		c.ResolvConf = d.ResolvConf
	}
}

// CheckpointTimeout returns the rollback timeout.
func (c *Config) CheckpointTimeout() time.Duration {
	if c.Checkpoint == nil {
		return DefaultCheckpointTimeout
	}
	return durationOr(c.Checkpoint.Timeout, DefaultCheckpointTimeout)
}

// PersistSnapshots reports whether checkpoint snapshots go to disk.
func (c *Config) PersistSnapshots() bool {
	if c.Checkpoint == nil || c.Checkpoint.PersistSnapshot == nil {
		return true
	}
	return *c.Checkpoint.PersistSnapshot
}

// VerifyRetries returns how many extra reads verification may take.
func (c *Config) VerifyRetries() int {
	if c.Verify == nil || c.Verify.Retries == nil {
		return DefaultVerifyRetries
	}
	return *c.Verify.Retries
}

// VerifyInterval returns the pause between verification attempts.
func (c *Config) VerifyInterval() time.Duration {
	if c.Verify == nil {
		return DefaultVerifyInterval
	}
	return durationOr(c.Verify.Interval, DefaultVerifyInterval)
}

// ProbeTargets returns the hosts to ping after an apply.
func (c *Config) ProbeTargets() []string {
	if c.Probe == nil {
		return nil
	}
	return c.Probe.Targets
}

// ProbeTimeout returns the per-target probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	if c.Probe == nil {
		return DefaultProbeTimeout
	}
	return durationOr(c.Probe.Timeout, DefaultProbeTimeout)
}

// Plugin returns the block for a backend, or nil.
func (c *Config) Plugin(name string) *PluginConfig {
	for i := range c.Plugins {
		if c.Plugins[i].Name == name {
			return &c.Plugins[i]
		}
	}
	return nil
}

// PluginEnabled reports whether a backend should be loaded. Backends
// without a block are enabled.
func (c *Config) PluginEnabled(name string) bool {
	p := c.Plugin(name)
	return p == nil || p.Enabled == nil || *p.Enabled
}

// durationOr parses s, falling back to def when s is empty or invalid.
// Validate reports invalid values.
func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
