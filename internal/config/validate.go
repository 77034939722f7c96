package config

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"grimm.is/hostnet/internal/logging"
)

// KnownPlugins lists the backends this build ships and whether each is
// a primary backend.
var KnownPlugins = map[string]bool{
	"netlink": true,
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate validates the entire configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.SchemaVersion != CurrentSchemaVersion {
		errs.add("schema_version", "unsupported version %q (supported: %s)", c.SchemaVersion, CurrentSchemaVersion)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs.add("log_level", "%v", err)
	}
	if c.StateDir == "" {
		errs.add("state_dir", "must not be empty")
	}
	if c.SocketPath == "" {
		errs.add("socket_path", "must not be empty")
	}
	if c.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(c.MetricsListen); err != nil {
			errs.add("metrics_listen", "invalid listen address %q", c.MetricsListen)
		}
	}

	if c.Checkpoint != nil {
		validateDuration(&errs, "checkpoint.timeout", c.Checkpoint.Timeout)
	}
	if c.Verify != nil {
		if c.Verify.Retries != nil && *c.Verify.Retries < 0 {
			errs.add("verify.retries", "must not be negative")
		}
		validateDuration(&errs, "verify.interval", c.Verify.Interval)
	}
	if c.Probe != nil {
		for i, t := range c.Probe.Targets {
			if _, err := netip.ParseAddr(t); err != nil {
				errs.add(fmt.Sprintf("probe.targets[%d]", i), "invalid IP address %q", t)
			}
		}
		validateDuration(&errs, "probe.timeout", c.Probe.Timeout)
	}

	errs = append(errs, c.validatePlugins()...)
	return errs
}

func validateDuration(errs *ValidationErrors, field, s string) {
	if s == "" {
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		errs.add(field, "invalid duration %q", s)
		return
	}
	if d < 0 {
		errs.add(field, "must not be negative")
	}
}

func (c *Config) validatePlugins() ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)
	primaries := 0
	for name, primary := range KnownPlugins {
		if primary && c.PluginEnabled(name) {
			primaries++
		}
	}
	for i, p := range c.Plugins {
		field := fmt.Sprintf("plugin[%s]", p.Name)
		if p.Name == "" {
			field = fmt.Sprintf("plugin[%d]", i)
		}
		if seen[p.Name] {
			errs.add(field, "duplicate plugin block")
		}
		seen[p.Name] = true

		primary, ok := KnownPlugins[p.Name]
		if !ok {
			errs.add(field, "unknown plugin %q", p.Name)
			continue
		}
		if primary && p.Supplemental {
			errs.add(field+".supplemental", "%s is a primary backend", p.Name)
		}
	}
	if primaries == 0 {
		errs.add("plugin", "no primary backend enabled")
	}
	return errs
}
