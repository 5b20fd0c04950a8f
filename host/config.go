package host

import "fmt"

// ConnectionConfig describes how to reach a running host subprocess. It is
// replaced wholesale each time a start request succeeds, since managed
// hosts bind OS-allocated ports and the manager is the only component that
// knows the live value.
type ConnectionConfig struct {
	// Address is the host's listen address. Empty means loopback.
	Address string `json:"address,omitempty"`

	// Port is the TCP port the host is bound to. Zero means unknown.
	Port int `json:"port"`

	// SessionID is the manager's identity token for the spawned
	// subprocess. Opaque to the controller.
	SessionID string `json:"session,omitempty"`
}

// URL returns the base HTTP URL for the host.
func (c ConnectionConfig) URL() string {
	addr := c.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", addr, c.Port)
}
