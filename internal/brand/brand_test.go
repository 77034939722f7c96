package brand

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbeddedIdentity(t *testing.T) {
	assert.NotEmpty(t, Name)
	assert.Equal(t, "HOSTNET", ConfigEnvPrefix)
	assert.Equal(t, "dev", Version)
	assert.NotEmpty(t, ResolvConfPath)
}

func TestDirectoryResolution(t *testing.T) {
	for _, kind := range []string{"PREFIX", "CONFIG_DIR", "STATE_DIR", "RUN_DIR"} {
		t.Setenv(ConfigEnvPrefix+"_"+kind, "")
	}
	assert.Equal(t, DefaultConfigDir, GetConfigDir())
	assert.Equal(t, DefaultStateDir, GetStateDir())
	assert.Equal(t, DefaultRunDir, GetRunDir())

	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/tmp/hostnet")
	assert.Equal(t, "/tmp/hostnet/config", GetConfigDir())
	assert.Equal(t, "/tmp/hostnet/state", GetStateDir())
	assert.Equal(t, "/tmp/hostnet/run", GetRunDir())

	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "/custom/config")
	assert.Equal(t, "/custom/config", GetConfigDir())
	assert.Equal(t, filepath.Join("/custom/config", ConfigFileName), GetConfigFile())
}

func TestSocketPath(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_RUN_DIR", "/tmp/run")
	assert.Equal(t, "/tmp/run/hostnet-ctl.sock", GetSocketPath())
}
