package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hostlink/hostlink/config"
)

// stopSettleDelay is how long a no-timeout stop blocks after the manager
// accepts the request. The manager terminates the subprocess almost
// immediately but asynchronously; the bounded wait lets that completion
// happen so a following IsRunning check reflects reality. If the manager's
// actual stop latency exceeds this, the next check can observe stale
// "still running" state.
const stopSettleDelay = 50 * time.Millisecond

// ManagedHost is a controller for one remotely-managed host subprocess.
// It delegates lifecycle to a shared ManagerClient and caches the
// connection config the manager reports on each successful start.
type ManagedHost struct {
	*Host

	manager    *ManagerClient
	configFile string
	settings   *config.Settings
	registry   *ShutdownRegistry
	out        io.Writer
}

// ManagedHostOption configures a ManagedHost.
type ManagedHostOption func(*ManagedHost)

// WithNotificationWriter redirects lifecycle notifications (default
// os.Stdout).
func WithNotificationWriter(w io.Writer) ManagedHostOption {
	return func(h *ManagedHost) {
		h.out = w
	}
}

// WithShutdownRegistry uses a registry other than DefaultRegistry for the
// at-exit stop registration.
func WithShutdownRegistry(r *ShutdownRegistry) ManagedHostOption {
	return func(h *ManagedHost) {
		h.registry = r
	}
}

// NewManagedHost creates a controller for the host configuration named in
// settings. The manager reference is shared, not owned.
func NewManagedHost(manager *ManagerClient, settings *config.Settings, options ...ManagedHostOption) *ManagedHost {
	h := &ManagedHost{
		Host: NewHost(ConnectionConfig{
			Address: settings.DefaultAddress,
			Port:    settings.DefaultPort,
		}),
		manager:    manager,
		configFile: settings.ConfigFile,
		settings:   settings,
		registry:   DefaultRegistry,
		out:        os.Stdout,
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Name returns the controller's display name, used in notifications and
// error messages.
func (h *ManagedHost) Name() string {
	return fmt.Sprintf("ManagedHost[%s]", h.configFile)
}

// ConfigFile returns the configuration identifier this controller refers
// to.
func (h *ManagedHost) ConfigFile() string {
	return h.configFile
}

// startPayload is the manager's reply to a start request. Output holds a
// JSON-encoded ConnectionConfig describing the subprocess as it actually
// came up.
type startPayload struct {
	Started bool   `json:"started"`
	Output  string `json:"output"`
}

// Start asks the manager to ensure the subprocess for this controller's
// config file is running, then adopts the connection config the manager
// reports. Hosts bind OS-allocated ports, so every start resolves address
// discovery freshly even when the subprocess was already running. On
// success the controller is registered for a best-effort stop at process
// exit.
func (h *ManagedHost) Start(ctx context.Context) error {
	res, err := h.manager.SendRequest(ctx, "start", RequestParams{Config: h.configFile})
	if err != nil {
		return fmt.Errorf("requesting start of %s: %w", h.Name(), err)
	}
	if !res.OK() {
		return &UnexpectedResponseError{
			Op:         "start",
			Name:       h.Name(),
			StatusCode: res.StatusCode,
			Body:       string(res.Body),
		}
	}

	var payload startPayload
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return fmt.Errorf("decoding start response for %s: %w", h.Name(), err)
	}
	var liveConfig ConnectionConfig
	if err := json.Unmarshal([]byte(payload.Output), &liveConfig); err != nil {
		return fmt.Errorf("decoding connection config for %s: %w", h.Name(), err)
	}
	h.setConfig(liveConfig)

	if payload.Started && h.settings.Verbosity >= config.ProcessStart {
		fmt.Fprintf(h.out, "Started %s\n", h.Name())
	}

	h.registry.Register(h)
	return nil
}

// Connect waits for the host to answer its status endpoint, then reports
// the connection when verbosity allows.
func (h *ManagedHost) Connect(ctx context.Context) error {
	if err := h.Host.Connect(ctx); err != nil {
		return err
	}
	if h.settings.Verbosity >= config.Connection {
		fmt.Fprintf(h.out, "Connected to %s at %s\n", h.Name(), h.Config().URL())
	}
	return nil
}

// Stop asks the manager to terminate the subprocess. timeoutMillis > 0 is
// forwarded to the manager as a grace period: the call returns while the
// host is still running and the manager stops it later (a new start
// cancels the pending stop). timeoutMillis <= 0 means stop now. Calling
// Stop when the host is not running is a silent no-op and sends nothing.
func (h *ManagedHost) Stop(ctx context.Context, timeoutMillis int) error {
	if !h.IsRunning() {
		return nil
	}

	params := RequestParams{Config: h.configFile}
	if timeoutMillis > 0 {
		params.TimeoutMillis = timeoutMillis
	}
	res, err := h.manager.SendRequest(ctx, "stop", params)
	if err != nil {
		return fmt.Errorf("requesting stop of %s: %w", h.Name(), err)
	}
	if res.StatusCode != http.StatusOK {
		return &UnexpectedResponseError{
			Op:         "stop",
			Name:       h.Name(),
			StatusCode: res.StatusCode,
			Body:       string(res.Body),
		}
	}

	if timeoutMillis <= 0 {
		time.Sleep(stopSettleDelay)
	}

	if h.settings.Verbosity >= config.ProcessStop {
		if timeoutMillis > 0 {
			fmt.Fprintf(h.out, "%s will stop in %g seconds\n", h.Name(), float64(timeoutMillis)/1000.0)
		} else {
			fmt.Fprintf(h.out, "Stopped %s\n", h.Name())
		}
	}
	return nil
}

// Restart composes an immediate stop, a fresh start, and a reconnect using
// the newly acquired connection config. There is no partial-failure
// recovery: the first failing step's error is returned and the controller
// is left in whatever state that step produced.
func (h *ManagedHost) Restart(ctx context.Context) error {
	if err := h.Stop(ctx, 0); err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}
	return h.Connect(ctx)
}
