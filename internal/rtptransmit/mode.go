package rtptransmit

import (
	"fmt"
	"net"
	"net/netip"
)

// Mode is a resolved RTP destination mode.
type Mode int

const (
	// ModeUnicast sends to a single fixed destination, no special socket options.
	ModeUnicast Mode = iota
	// ModeBroadcast sends to a fixed destination with SO_BROADCAST set.
	ModeBroadcast
	// ModeMulticast sends to a multicast group with TTL/loopback configured;
	// the sender does not manage group membership.
	ModeMulticast
	// ModeRequest sends once per registered recipient via add/remove commands.
	ModeRequest
)

func (m Mode) String() string {
	switch m {
	case ModeUnicast:
		return "unicast"
	case ModeBroadcast:
		return "broadcast"
	case ModeMulticast:
		return "multicast"
	case ModeRequest:
		return "request"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a configuration string to a Mode, for the non-auto cases.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "unicast":
		return ModeUnicast, nil
	case "broadcast":
		return ModeBroadcast, nil
	case "multicast":
		return ModeMulticast, nil
	case "request":
		return ModeRequest, nil
	default:
		return 0, fmt.Errorf("rtptransmit: unknown destination mode %q", s)
	}
}

// ResolveMode implements "auto" destination-mode resolution: request mode
// if no destination is configured; multicast if the destination address
// is a multicast address; broadcast if it matches a local interface's
// broadcast address; unicast otherwise.
func ResolveMode(destination string) (Mode, error) {
	if destination == "" {
		return ModeRequest, nil
	}
	host, _, err := net.SplitHostPort(destination)
	if err != nil {
		return 0, fmt.Errorf("rtptransmit: invalid destination %q: %w", destination, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// Hostnames resolve to unicast; this module doesn't scan DNS
		// results for multicast/broadcast membership.
		return ModeUnicast, nil
	}
	if addr.IsMulticast() {
		return ModeMulticast, nil
	}
	if isLocalBroadcast(addr) {
		return ModeBroadcast, nil
	}
	return ModeUnicast, nil
}

// isLocalBroadcast reports whether addr matches the broadcast address of
// any local interface's configured IPv4 network, determined by
// enumerating interfaces.
func isLocalBroadcast(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			bcast := broadcastAddr(ipNet)
			if bcast.IsValid() && bcast == addr {
				return true
			}
		}
	}
	return false
}

func broadcastAddr(ipNet *net.IPNet) netip.Addr {
	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return netip.Addr{}
	}
	mask := ipNet.Mask
	var out [4]byte
	for i := range out {
		out[i] = ip4[i] | ^mask[i]
	}
	return netip.AddrFrom4(out)
}
