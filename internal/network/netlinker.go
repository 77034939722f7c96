package network

import (
	"net"

	"github.com/vishvananda/netlink"
)

// DefaultNetlinker talks to the network namespace of the calling thread.
var DefaultNetlinker = NewNetlinker(nil)

// handleNetlinker drives the kernel through a netlink.Handle. Outside
// Linux every call fails with netlink's not-implemented error.
type handleNetlinker struct {
	*netlink.Handle
}

// NewNetlinker returns a Netlinker bound to h, typically one opened with
// netlink.NewHandleAt for another namespace. A nil handle uses the
// current namespace.
func NewNetlinker(h *netlink.Handle) Netlinker {
	if h == nil {
		h = &netlink.Handle{}
	}
	return handleNetlinker{Handle: h}
}

// LinkSetHardwareAddr accepts the colon separated form used in state
// documents.
func (n handleNetlinker) LinkSetHardwareAddr(link netlink.Link, hwaddr string) error {
	mac, err := net.ParseMAC(hwaddr)
	if err != nil {
		return err
	}
	return n.Handle.LinkSetHardwareAddr(link, mac)
}

// RouteListAll lists routes of every table, not only main.
func (n handleNetlinker) RouteListAll(family int) ([]netlink.Route, error) {
	return n.RouteListFiltered(family, &netlink.Route{Table: rtTableUnspec}, netlink.RT_FILTER_TABLE)
}
