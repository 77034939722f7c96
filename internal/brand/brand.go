// Package brand holds the product identity and filesystem defaults.
//
// The values come from brand.json, embedded at compile time so packaging
// scripts read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

var (
	Name             string
	LowerName        string
	Description      string
	BinaryName       string
	ConfigEnvPrefix  string
	ConfigFileName   string
	DefaultConfigDir string
	DefaultStateDir  string
	DefaultRunDir    string
	SocketName       string
	ResolvConfPath   string

	// Version and GitCommit are set at build time via -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
)

func init() {
	var raw struct {
		Name             string `json:"name"`
		LowerName        string `json:"lowerName"`
		Description      string `json:"description"`
		BinaryName       string `json:"binaryName"`
		ConfigEnvPrefix  string `json:"configEnvPrefix"`
		ConfigFileName   string `json:"configFileName"`
		DefaultConfigDir string `json:"defaultConfigDir"`
		DefaultStateDir  string `json:"defaultStateDir"`
		DefaultRunDir    string `json:"defaultRunDir"`
		SocketName       string `json:"socketName"`
		ResolvConfPath   string `json:"resolvConfPath"`
	}
	if err := json.Unmarshal(brandJSON, &raw); err != nil {
		panic("brand: invalid brand.json: " + err.Error())
	}
	Name, LowerName, Description = raw.Name, raw.LowerName, raw.Description
	BinaryName, ConfigEnvPrefix, ConfigFileName = raw.BinaryName, raw.ConfigEnvPrefix, raw.ConfigFileName
	DefaultConfigDir, DefaultStateDir, DefaultRunDir = raw.DefaultConfigDir, raw.DefaultStateDir, raw.DefaultRunDir
	SocketName, ResolvConfPath = raw.SocketName, raw.ResolvConfPath
}

// dir resolves a directory from $PREFIX_<kind>_DIR, then $PREFIX_PREFIX/<sub>,
// then the compiled default.
func dir(kind, sub, def string) string {
	if d := os.Getenv(ConfigEnvPrefix + "_" + kind + "_DIR"); d != "" {
		return d
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, sub)
	}
	return def
}

// GetStateDir is where the checkpoint journal and apply history live.
func GetStateDir() string { return dir("STATE", "state", DefaultStateDir) }

// GetConfigDir is where the daemon configuration is looked up.
func GetConfigDir() string { return dir("CONFIG", "config", DefaultConfigDir) }

// GetRunDir holds the control socket.
func GetRunDir() string { return dir("RUN", "run", DefaultRunDir) }

// GetSocketPath returns the control plane socket, e.g. /run/hostnet-ctl.sock.
func GetSocketPath() string {
	return filepath.Join(GetRunDir(), LowerName+"-"+SocketName)
}

// GetConfigFile returns the default daemon configuration file.
func GetConfigFile() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}
