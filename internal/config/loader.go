package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/kelseyhightower/envconfig"

	"grimm.is/hostnet/internal/brand"
)

// envOverrides are read from HOSTNET_<NAME>. Unset variables leave the
// file value alone.
type envOverrides struct {
	LogLevel          string   `envconfig:"LOG_LEVEL"`
	LogJSON           *bool    `envconfig:"LOG_JSON"`
	StateDir          string   `envconfig:"STATE_DIR"`
	SocketPath        string   `envconfig:"SOCKET_PATH"`
	MetricsListen     string   `envconfig:"METRICS_LISTEN"`
	ResolvConf        string   `envconfig:"RESOLV_CONF"`
	CheckpointTimeout string   `envconfig:"CHECKPOINT_TIMEOUT"`
	ProbeTargets      []string `envconfig:"PROBE_TARGETS"`
}

// Load reads the configuration file at path, applies environment
// overrides and validates the result. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
	} else if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %w", errs)
	}
	return cfg, nil
}

// LoadFile loads a config file (HCL or JSON) without environment
// overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".hcl":
		return LoadHCL(data, path)
	case ".json":
		return LoadJSON(data)
	default:
		// Try HCL first, fall back to JSON
		cfg, err := LoadHCL(data, path)
		if err != nil {
			return LoadJSON(data)
		}
		return cfg, nil
	}
}

// LoadHCL loads config from HCL bytes
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadJSON loads config from JSON bytes
func LoadJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overrides settings from the environment.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(brand.ConfigEnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}
	if env.LogJSON != nil {
		cfg.LogJSON = *env.LogJSON
	}
	if env.StateDir != "" {
		cfg.StateDir = env.StateDir
	}
	if env.SocketPath != "" {
		cfg.SocketPath = env.SocketPath
	}
	if env.MetricsListen != "" {
		cfg.MetricsListen = env.MetricsListen
	}
	if env.ResolvConf != "" {
		cfg.ResolvConf = env.ResolvConf
	}
	if env.CheckpointTimeout != "" {
		if cfg.Checkpoint == nil {
			cfg.Checkpoint = &CheckpointConfig{}
		}
		cfg.Checkpoint.Timeout = env.CheckpointTimeout
	}
	if len(env.ProbeTargets) > 0 {
		if cfg.Probe == nil {
			cfg.Probe = &ProbeConfig{}
		}
		cfg.Probe.Targets = env.ProbeTargets
	}
	return nil
}
