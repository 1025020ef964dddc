package bootstrap

import (
	"net"
	"net/netip"
)

// Interface is the subset of a host interface used to pick a parent.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []netip.Prefix
}

// InterfaceLister returns the host's interfaces.
type InterfaceLister func() ([]Interface, error)

// SystemInterfaces lists the host interfaces through the net package.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		entry := Interface{
			Name:     ifc.Name,
			Up:       ifc.Flags&net.FlagUp != 0,
			Loopback: ifc.Flags&net.FlagLoopback != 0,
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipNet.IP)
			if !ok {
				continue
			}
			ones, _ := ipNet.Mask.Size()
			entry.Addrs = append(entry.Addrs, netip.PrefixFrom(addr.Unmap(), ones))
		}
		out = append(out, entry)
	}
	return out, nil
}

// firstIPv4 returns the first usable interface carrying an IPv4 address.
func firstIPv4(ifaces []Interface) (Interface, netip.Addr, bool) {
	for _, ifc := range ifaces {
		if !ifc.Up || ifc.Loopback {
			continue
		}
		for _, p := range ifc.Addrs {
			if p.Addr().Is4() && !p.Addr().IsLoopback() {
				return ifc, p.Addr(), true
			}
		}
	}
	return Interface{}, netip.Addr{}, false
}

// DetectParent picks the interface a macvlan or ipvlan segment should bind to.
func DetectParent(list InterfaceLister, fallback string) string {
	ifaces, err := list()
	if err != nil {
		return fallback
	}
	if ifc, _, ok := firstIPv4(ifaces); ok {
		return ifc.Name
	}
	return fallback
}

// LocalAddress returns the host's first external IPv4 address, or "localhost".
func LocalAddress(list InterfaceLister) string {
	ifaces, err := list()
	if err != nil {
		return "localhost"
	}
	if _, addr, ok := firstIPv4(ifaces); ok {
		return addr.String()
	}
	return "localhost"
}
