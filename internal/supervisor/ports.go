package supervisor

import (
	"fmt"
	"net"
	"sync"
)

// portAllocator implements spec §4.9's port-allocation rule: a
// configured port wins outright (diagnostic failure if another site
// already holds it), otherwise the first free port scanning upward
// from PortRangeStart, skipping every port recorded as configured or
// active for any other site.
type portAllocator struct {
	rangeStart uint16

	mu     sync.Mutex
	inUse  map[uint16]string // port -> owning hostname
}

func newPortAllocator(rangeStart uint16) *portAllocator {
	return &portAllocator{rangeStart: rangeStart, inUse: make(map[uint16]string)}
}

// Allocate returns the port hostname should bind to. configured, if
// non-zero, must be free or Allocate fails with a diagnostic naming
// the conflicting hostname.
func (p *portAllocator) Allocate(hostname string, configured uint16) (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if configured != 0 {
		if owner, taken := p.inUse[configured]; taken && owner != hostname {
			return 0, fmt.Errorf("port %d requested by %q is already in use by %q", configured, hostname, owner)
		}
		p.inUse[configured] = hostname
		return configured, nil
	}

	for port := p.rangeStart; port < 65535; port++ {
		if owner, taken := p.inUse[port]; taken && owner != hostname {
			continue
		}
		if !portLooksFree(port) {
			continue
		}
		p.inUse[port] = hostname
		return port, nil
	}
	return 0, fmt.Errorf("no free port found starting from %d", p.rangeStart)
}

// Release frees the port previously allocated to hostname, if any.
func (p *portAllocator) Release(hostname string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port, owner := range p.inUse {
		if owner == hostname {
			delete(p.inUse, port)
		}
	}
}

// portLooksFree does a best-effort local bind check so a port freed by
// a crashed child outside our bookkeeping isn't handed out while the
// OS still considers it bound.
func portLooksFree(port uint16) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
