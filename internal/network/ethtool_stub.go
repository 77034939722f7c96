//go:build !linux
// +build !linux

package network

// EthtoolReader reads ethernet link settings (Stub).
type EthtoolReader struct{}

// NewEthtoolReader opens an ethtool handle (Stub).
func NewEthtoolReader() (*EthtoolReader, error) {
	return &EthtoolReader{}, nil
}

// Close closes the ethtool handle (Stub).
func (r *EthtoolReader) Close() {}

// GetLinkInfo reports nothing known.
func (r *EthtoolReader) GetLinkInfo(iface string) (*LinkInfo, error) {
	return &LinkInfo{Duplex: "unknown", Autoneg: true}, nil
}
