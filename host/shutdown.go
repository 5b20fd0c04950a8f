package host

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// ShutdownRegistry is the process-lifetime collection of hosts that should
// be stopped when the controlling process exits. Start registers its
// controller here; binaries drain the registry once, on the way out.
//
// Registrations are keyed by config file, so repeated starts of the same
// controller (or of two controllers for the same configuration) collapse
// into one pending stop. Drain runs at most once per registry.
type ShutdownRegistry struct {
	mu    sync.Mutex
	once  sync.Once
	hosts map[string]*ManagedHost
}

// DefaultRegistry is the registry ManagedHost uses unless overridden with
// WithShutdownRegistry.
var DefaultRegistry = NewShutdownRegistry()

// NewShutdownRegistry creates an empty registry.
func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{hosts: make(map[string]*ManagedHost)}
}

// Register records h for a best-effort stop at drain time. Idempotent per
// config file.
func (r *ShutdownRegistry) Register(h *ManagedHost) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[h.ConfigFile()] = h
}

// Len returns the number of distinct pending registrations.
func (r *ShutdownRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosts)
}

// Drain issues a stop with the given grace timeout for every registered
// host. Best effort: failures are logged and never surfaced, since at
// drain time there is nobody left to handle them. Subsequent calls are
// no-ops.
func (r *ShutdownRegistry) Drain(ctx context.Context, timeoutMillis int) {
	r.once.Do(func() {
		r.mu.Lock()
		hosts := make([]*ManagedHost, 0, len(r.hosts))
		keys := make([]string, 0, len(r.hosts))
		for key := range r.hosts {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			hosts = append(hosts, r.hosts[key])
		}
		r.mu.Unlock()

		for _, h := range hosts {
			if err := h.Stop(ctx, timeoutMillis); err != nil {
				slog.Warn("stop on shutdown failed", "host", h.Name(), "error", err)
			}
		}
	})
}
