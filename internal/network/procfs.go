package network

import (
	"errors"
	"io/fs"
	"os"
	"strings"
)

// DefaultSystemController reads and writes the live /proc and /sys.
var DefaultSystemController SystemController = ProcFS{}

// ProcFS implements SystemController on top of procfs and sysfs.
type ProcFS struct {
	// Root is prepended to every resolved path; tests point it at a
	// temporary directory.
	Root string
}

// path turns "net.ipv6.conf.eth0.disable_ipv6" into its /proc/sys file.
// Absolute paths, such as bonding attributes under /sys, pass through.
func (p ProcFS) path(key string) string {
	if !strings.HasPrefix(key, "/") {
		key = "/proc/sys/" + strings.ReplaceAll(key, ".", "/")
	}
	return p.Root + key
}

func (p ProcFS) ReadSysctl(key string) (string, error) {
	data, err := os.ReadFile(p.path(key))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (p ProcFS) WriteSysctl(key, value string) error {
	return os.WriteFile(p.path(key), []byte(value), 0644)
}

func (ProcFS) IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
