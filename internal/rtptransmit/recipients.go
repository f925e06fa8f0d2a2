package rtptransmit

import (
	"fmt"
	"net/netip"
	"sync"
)

// Recipients is the mutable destination set used in request mode,
// modeled on the teacher's participant-registry-plus-RWMutex shape.
// Entries are unique by address+port.
type Recipients struct {
	mu   sync.RWMutex
	set  map[netip.AddrPort]struct{}
}

// NewRecipients returns an empty Recipients registry.
func NewRecipients() *Recipients {
	return &Recipients{set: make(map[netip.AddrPort]struct{})}
}

// Add registers addr (host:port). Re-adding an existing recipient is a no-op.
func (r *Recipients) Add(addr string) error {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return fmt.Errorf("rtptransmit: invalid recipient address %q: %w", addr, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set[ap] = struct{}{}
	return nil
}

// Remove unregisters addr. Removing an unknown recipient is a no-op.
func (r *Recipients) Remove(addr string) error {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return fmt.Errorf("rtptransmit: invalid recipient address %q: %w", addr, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.set, ap)
	return nil
}

// List returns a snapshot of the current recipient set.
func (r *Recipients) List() []netip.AddrPort {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]netip.AddrPort, 0, len(r.set))
	for ap := range r.set {
		out = append(out, ap)
	}
	return out
}

// Count returns the number of registered recipients.
func (r *Recipients) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.set)
}
