package network

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/miekg/dns"

	"grimm.is/hostnet/internal/schema"
)

// DefaultResolvConfPath is the system resolver configuration.
const DefaultResolvConfPath = "/etc/resolv.conf"

const resolvConfHeader = "# Generated by hostnet"

// ResolvConf reads and writes a resolv.conf file.
type ResolvConf struct {
	Path string
}

// NewResolvConf returns a handle on path.
func NewResolvConf(path string) *ResolvConf {
	if path == "" {
		path = DefaultResolvConfPath
	}
	return &ResolvConf{Path: path}
}

// Read parses the file. A missing file is an empty configuration.
func (r *ResolvConf) Read() (*schema.DNSConfigDoc, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return &schema.DNSConfigDoc{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", r.Path, err)
	}
	cc, err := dns.ClientConfigFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", r.Path, err)
	}
	cfg := &schema.DNSConfigDoc{}
	if len(cc.Servers) > 0 {
		cfg.Server = append([]string{}, cc.Servers...)
	}
	for _, s := range cc.Search {
		cfg.Search = append(cfg.Search, strings.TrimSuffix(s, "."))
	}
	return cfg, nil
}

// Write replaces the file atomically.
func (r *ResolvConf) Write(cfg *schema.DNSConfigDoc) error {
	data := []byte(strings.Join(RenderResolvConf(cfg), "\n") + "\n")
	dir := filepath.Dir(r.Path)
	tmp, err := os.CreateTemp(dir, ".resolv.conf.*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", r.Path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", r.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.Path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.Path, err)
	}
	if err := os.Rename(tmp.Name(), r.Path); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.Path, err)
	}
	return nil
}

// RenderResolvConf returns the file lines for cfg.
func RenderResolvConf(cfg *schema.DNSConfigDoc) []string {
	lines := []string{resolvConfHeader}
	if cfg == nil {
		return lines
	}
	if len(cfg.Search) > 0 {
		lines = append(lines, "search "+strings.Join(cfg.Search, " "))
	}
	for _, s := range cfg.Server {
		lines = append(lines, "nameserver "+s)
	}
	return lines
}

// validSearchDomain reports whether s can be written as a search entry.
func validSearchDomain(s string) bool {
	_, ok := dns.IsDomainName(s)
	return ok && !strings.ContainsAny(s, " \t")
}
