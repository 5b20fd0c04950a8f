package host

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// statusProbeTimeout bounds a single /status probe.
	statusProbeTimeout = 2 * time.Second

	// connectInitialInterval/connectMaxElapsed shape the backoff used by
	// Connect while waiting for a freshly started host to answer.
	connectInitialInterval = 50 * time.Millisecond
	connectMaxElapsed      = 10 * time.Second
)

// Host is the base handle for a runtime host subprocess reachable over
// HTTP. It caches a ConnectionConfig and knows how to probe the host's
// /status endpoint. ManagedHost embeds it and adds the manager protocol.
type Host struct {
	mu     sync.RWMutex
	config ConnectionConfig

	probeClient *http.Client
}

// NewHost creates a Host seeded with the given connection config.
func NewHost(config ConnectionConfig) *Host {
	return &Host{
		config:      config,
		probeClient: &http.Client{Timeout: statusProbeTimeout},
	}
}

// Config returns the cached connection configuration.
func (h *Host) Config() ConnectionConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// setConfig replaces the cached connection configuration wholesale.
func (h *Host) setConfig(config ConnectionConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = config
}

// IsRunning reports whether this handle currently considers its host
// reachable. It is a local, possibly stale check: one /status probe
// against the cached connection config, with no side effects.
func (h *Host) IsRunning() bool {
	config := h.Config()
	if config.Port <= 0 {
		return false
	}
	resp, err := h.probeClient.Get(config.URL() + "/status")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Connect waits for the host at the cached connection config to answer
// its /status endpoint, retrying with exponential backoff until it does,
// the backoff budget is spent, or ctx is cancelled.
func (h *Host) Connect(ctx context.Context) error {
	operation := func() error {
		if !h.IsRunning() {
			return fmt.Errorf("host at %s is not answering", h.Config().URL())
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = connectInitialInterval
	bo.MaxElapsedTime = connectMaxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("connecting to %s: %w", h.Config().URL(), err)
	}
	return nil
}
