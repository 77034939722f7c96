// Package config loads the daemon and CLI configuration.
//
// # Overview
//
// The configuration file is HCL; a file ending in .json is read as JSON
// instead. Every setting has a default, so a missing file is not an
// error. Environment variables prefixed with HOSTNET_ override the file.
//
// # Configuration Blocks
//
//   - checkpoint: automatic rollback timeout and snapshot persistence
//   - verify: how often to re-read state before reporting a mismatch
//   - probe: hosts that must stay reachable after an apply
//   - plugin: per-backend enable flag and priority
//
// # Example
//
//	log_level      = "debug"
//	metrics_listen = "127.0.0.1:9465"
//
//	checkpoint {
//	  timeout = "90s"
//	}
//
//	probe {
//	  targets = ["192.0.2.1"]
//	  timeout = "2s"
//	}
//
//	plugin "netlink" {
//	  link_settings = true
//	}
package config
