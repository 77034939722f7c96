//go:build linux
// +build linux

package network

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/safchain/ethtool"
)

// EthtoolReader reads ethernet link settings through the ethtool ioctl,
// falling back to sysfs for virtual NICs.
type EthtoolReader struct {
	handle *ethtool.Ethtool
}

// NewEthtoolReader opens an ethtool handle.
func NewEthtoolReader() (*EthtoolReader, error) {
	h, err := ethtool.NewEthtool()
	if err != nil {
		return nil, fmt.Errorf("failed to open ethtool handle: %w", err)
	}
	return &EthtoolReader{handle: h}, nil
}

// Close closes the ethtool handle.
func (r *EthtoolReader) Close() {
	r.handle.Close()
}

// GetLinkInfo returns link speed, duplex, and autoneg status.
func (r *EthtoolReader) GetLinkInfo(iface string) (*LinkInfo, error) {
	if isVirtualNIC(iface) {
		return linkInfoFromSysfs(iface), nil
	}

	settings, err := r.handle.GetLinkSettings(iface)
	if err != nil {
		return linkInfoFromSysfs(iface), nil
	}

	duplex := "unknown"
	switch settings.Duplex {
	case ethtool.DUPLEX_FULL:
		duplex = "full"
	case ethtool.DUPLEX_HALF:
		duplex = "half"
	}

	return &LinkInfo{
		Speed:   settings.Speed,
		Duplex:  duplex,
		Autoneg: settings.Autoneg != 0,
	}, nil
}

// linkInfoFromSysfs reads link info from sysfs. Autoneg is not exposed
// there and reads as true.
func linkInfoFromSysfs(iface string) *LinkInfo {
	info := &LinkInfo{Duplex: "unknown", Autoneg: true}
	if data, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/speed", iface)); err == nil {
		s := strings.TrimSpace(string(data))
		if s != "-1" && s != "" {
			fmt.Sscanf(s, "%d", &info.Speed)
		}
	}
	if data, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/duplex", iface)); err == nil {
		if d := strings.TrimSpace(string(data)); d == "full" || d == "half" {
			info.Duplex = d
		}
	}
	return info
}

var virtualDrivers = map[string]bool{
	"virtio_net": true, "veth": true, "tun": true, "tap": true,
	"bridge": true, "dummy": true, "xen_netfront": true, "vmxnet3": true,
	"hv_netvsc": true, "e1000": true, "e1000e": true,
}

// isVirtualNIC detects NICs that don't support full ethtool features.
func isVirtualNIC(name string) bool {
	if target, err := os.Readlink(fmt.Sprintf("/sys/class/net/%s/device/driver", name)); err == nil {
		if virtualDrivers[filepath.Base(target)] {
			return true
		}
	}

	if data, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/device/modalias", name)); err == nil {
		if strings.HasPrefix(string(data), "virtio") {
			return true
		}
	}

	// No device directory means a software interface.
	if _, err := os.Stat(fmt.Sprintf("/sys/class/net/%s/device", name)); os.IsNotExist(err) {
		return true
	}
	return false
}
