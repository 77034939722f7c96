package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHCL = `
log_level      = "debug"
log_json       = true
state_dir      = "/tmp/hostnet-state"
socket_path    = "/tmp/hostnet.sock"
metrics_listen = "127.0.0.1:9465"

checkpoint {
  timeout          = "90s"
  persist_snapshot = false
}

verify {
  retries  = 2
  interval = "250ms"
}

probe {
  targets = ["192.0.2.1", "2001:db8::1"]
  timeout = "2s"
}

plugin "netlink" {
  priority      = 70
  link_settings = true
}
`

func TestLoadHCL(t *testing.T) {
	cfg, err := LoadHCL([]byte(sampleHCL), "test.hcl")
	require.NoError(t, err)
	require.Empty(t, cfg.Validate())

	assert.Equal(t, CurrentSchemaVersion, cfg.SchemaVersion)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "/tmp/hostnet-state", cfg.StateDir)
	assert.Equal(t, "/tmp/hostnet.sock", cfg.SocketPath)
	assert.Equal(t, "127.0.0.1:9465", cfg.MetricsListen)

	assert.Equal(t, 90*time.Second, cfg.CheckpointTimeout())
	assert.False(t, cfg.PersistSnapshots())
	assert.Equal(t, 2, cfg.VerifyRetries())
	assert.Equal(t, 250*time.Millisecond, cfg.VerifyInterval())
	assert.Equal(t, []string{"192.0.2.1", "2001:db8::1"}, cfg.ProbeTargets())
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout())

	p := cfg.Plugin("netlink")
	require.NotNil(t, p)
	assert.Equal(t, 70, *p.Priority)
	assert.True(t, p.LinkSettings)
	assert.True(t, cfg.PluginEnabled("netlink"))
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadHCL([]byte(""), "empty.hcl")
	require.NoError(t, err)
	require.Empty(t, cfg.Validate())

	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.NotEmpty(t, cfg.StateDir)
	assert.NotEmpty(t, cfg.SocketPath)
	assert.Equal(t, "/etc/resolv.conf", cfg.ResolvConf)
	assert.Equal(t, DefaultCheckpointTimeout, cfg.CheckpointTimeout())
	assert.True(t, cfg.PersistSnapshots())
	assert.Equal(t, DefaultVerifyRetries, cfg.VerifyRetries())
	assert.Equal(t, DefaultVerifyInterval, cfg.VerifyInterval())
	assert.Nil(t, cfg.ProbeTargets())
	assert.True(t, cfg.PluginEnabled("netlink"))
}

func TestLoadFileFormats(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "hostnet.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"log_level":"warn","verify":{"retries":0}}`), 0o644))
	cfg, err := LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 0, cfg.VerifyRetries())

	// No extension: HCL first, then JSON.
	plain := filepath.Join(dir, "hostnet")
	require.NoError(t, os.WriteFile(plain, []byte(`{"log_level":"error"}`), 0o644))
	cfg, err = LoadFile(plain)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)

	_, err = LoadHCL([]byte(`log_level = `), "broken.hcl")
	assert.ErrorContains(t, err, "HCL parse error")
	_, err = LoadHCL([]byte(`unknown_setting = 1`), "unknown.hcl")
	assert.ErrorContains(t, err, "HCL decode error")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.hcl"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HOSTNET_LOG_LEVEL", "warn")
	t.Setenv("HOSTNET_LOG_JSON", "true")
	t.Setenv("HOSTNET_SOCKET_PATH", "/tmp/env.sock")
	t.Setenv("HOSTNET_CHECKPOINT_TIMEOUT", "5s")
	t.Setenv("HOSTNET_PROBE_TARGETS", "192.0.2.1,192.0.2.2")

	path := filepath.Join(t.TempDir(), "hostnet.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleHCL), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "/tmp/env.sock", cfg.SocketPath)
	assert.Equal(t, "/tmp/hostnet-state", cfg.StateDir, "file value kept")
	assert.Equal(t, 5*time.Second, cfg.CheckpointTimeout())
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2"}, cfg.ProbeTargets())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		hcl   string
		field string
	}{
		{"log level", `log_level = "loud"`, "log_level"},
		{"listen", `metrics_listen = "9465"`, "metrics_listen"},
		{"timeout", "checkpoint {\n  timeout = \"soon\"\n}", "checkpoint.timeout"},
		{"retries", "verify {\n  retries = -1\n}", "verify.retries"},
		{"probe target", "probe {\n  targets = [\"gateway\"]\n}", "probe.targets[0]"},
		{"unknown plugin", "plugin \"nm\" {}", "plugin[nm]"},
		{"supplemental primary", "plugin \"netlink\" {\n  supplemental = true\n}", "plugin[netlink].supplemental"},
		{"no primary", "plugin \"netlink\" {\n  enabled = false\n}", "plugin"},
		{"duplicate", "plugin \"netlink\" {}\nplugin \"netlink\" {}", "plugin[netlink]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadHCL([]byte(tt.hcl), "test.hcl")
			require.NoError(t, err)
			errs := cfg.Validate()
			require.True(t, errs.HasErrors())
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostnet.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`log_level = "loud"`), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid configuration")
}
