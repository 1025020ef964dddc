package ipam

import (
	"fmt"
	"net/netip"
)

// AddressPool allocates IPv4 addresses on one subnet.
type AddressPool = Pool[netip.Addr]

// PortPool allocates host ports.
type PortPool = Pool[int]

// NewAddressPool builds a pool over start..end inclusive. The subnet's
// network and broadcast addresses and anything in exclude (the gateway)
// are left out even when the range covers them.
func NewAddressPool(subnet netip.Prefix, start, end netip.Addr, exclude ...netip.Addr) (*AddressPool, error) {
	if !subnet.IsValid() || !subnet.Addr().Is4() {
		return nil, fmt.Errorf("subnet %s: only IPv4 subnets are supported", subnet)
	}
	subnet = subnet.Masked()
	if !subnet.Contains(start) || !subnet.Contains(end) {
		return nil, fmt.Errorf("range %s-%s is not inside %s", start, end, subnet)
	}
	if end.Less(start) {
		return nil, fmt.Errorf("range start %s is after end %s", start, end)
	}

	skip := map[netip.Addr]bool{
		subnet.Addr():     true,
		Broadcast(subnet): true,
	}
	for _, a := range exclude {
		skip[a] = true
	}

	var candidates []netip.Addr
	for a := start; ; a = a.Next() {
		if !skip[a] {
			candidates = append(candidates, a)
		}
		if a == end {
			break
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("range %s-%s has no usable addresses", start, end)
	}
	return New(candidates), nil
}

// NewPortPool builds a pool over the ports from..to inclusive.
func NewPortPool(from, to int) (*PortPool, error) {
	if from < 1 || to > 65535 || from > to {
		return nil, fmt.Errorf("invalid port range %d-%d", from, to)
	}
	ports := make([]int, 0, to-from+1)
	for p := from; p <= to; p++ {
		ports = append(ports, p)
	}
	return New(ports), nil
}

// Broadcast returns the broadcast address of an IPv4 prefix.
func Broadcast(p netip.Prefix) netip.Addr {
	b := p.Masked().Addr().As4()
	host := 32 - p.Bits()
	for i := 3; i >= 0 && host > 0; i-- {
		n := min(host, 8)
		b[i] |= byte(1<<n - 1)
		host -= n
	}
	return netip.AddrFrom4(b)
}
