package processes

import (
	"fmt"
	"net"
	"sync"
)

// PortAllocator hands out TCP ports for runtime host subprocesses from a
// fixed range. A port is only returned if the allocator can actually
// listen on it at allocation time.
type PortAllocator struct {
	mu        sync.Mutex
	minPort   int
	maxPort   int
	allocated map[int]bool
	next      int
}

// NewPortAllocator creates an allocator for the inclusive range
// [minPort, maxPort].
func NewPortAllocator(minPort, maxPort int) (*PortAllocator, error) {
	if minPort <= 0 || maxPort <= 0 || minPort > maxPort {
		return nil, fmt.Errorf("invalid port range: min %d, max %d", minPort, maxPort)
	}
	return &PortAllocator{
		minPort:   minPort,
		maxPort:   maxPort,
		allocated: make(map[int]bool),
		next:      minPort,
	}, nil
}

// Allocate finds a free port in the range, verifies it by listening on it
// briefly, and marks it as taken.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	first := a.next
	for {
		candidate := a.next

		a.next++
		if a.next > a.maxPort {
			a.next = a.minPort
		}

		if a.allocated[candidate] {
			if a.next == first {
				return 0, fmt.Errorf("no available ports in range [%d-%d]", a.minPort, a.maxPort)
			}
			continue
		}

		l, err := net.Listen("tcp", fmt.Sprintf(":%d", candidate))
		if err == nil {
			l.Close()
			a.allocated[candidate] = true
			return candidate, nil
		}

		// Candidate is busy outside our bookkeeping (another process holds
		// it). Keep scanning until we wrap.
		if a.next == first {
			return 0, fmt.Errorf("no available ports in range [%d-%d] after checking system availability", a.minPort, a.maxPort)
		}
	}
}

// Release marks a previously allocated port as available again. Ports
// outside the managed range are ignored.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port < a.minPort || port > a.maxPort {
		return
	}
	delete(a.allocated, port)
}
