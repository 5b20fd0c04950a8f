// Package config holds the client-side settings for HostLink: where the
// manager daemon lives, which host configuration this process controls,
// and how chatty lifecycle notifications should be.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Verbosity controls which lifecycle notifications are printed.
// Each level includes everything below it.
type Verbosity int

const (
	// Silent suppresses all notifications.
	Silent Verbosity = iota
	// ProcessStart prints a notification when the manager spawns a new
	// subprocess on our behalf.
	ProcessStart
	// ProcessStop additionally prints stop / scheduled-stop notifications.
	ProcessStop
	// Connection additionally prints connection-level notifications.
	Connection
)

// String returns the settings-file spelling of the verbosity level.
func (v Verbosity) String() string {
	switch v {
	case Silent:
		return "silent"
	case ProcessStart:
		return "process_start"
	case ProcessStop:
		return "process_stop"
	case Connection:
		return "connection"
	default:
		return fmt.Sprintf("verbosity(%d)", int(v))
	}
}

// UnmarshalYAML accepts the string spelling used in settings files.
func (v *Verbosity) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(value.Value)) {
	case "", "silent":
		*v = Silent
	case "process_start":
		*v = ProcessStart
	case "process_stop":
		*v = ProcessStop
	case "connection":
		*v = Connection
	default:
		return fmt.Errorf("unknown verbosity %q", value.Value)
	}
	return nil
}

const (
	defaultManagerURL        = "http://127.0.0.1:9810"
	defaultAddress           = "127.0.0.1"
	defaultOnExitStopMillis  = 5000
	defaultControlSecretPath = "/tmp/hostlink-control.key"
)

// Settings describes one controlled host and how to reach its manager.
type Settings struct {
	// ManagerURL is the base URL of the manager daemon's control API.
	ManagerURL string `yaml:"manager_url"`

	// RuntimePath and ModuleRoot are forwarded to the manager daemon's
	// configuration; the controller treats them as opaque.
	RuntimePath string `yaml:"runtime_path"`
	ModuleRoot  string `yaml:"module_root"`

	// ConfigFile identifies which host configuration this controller
	// refers to. Immutable for the lifetime of a ManagedHost.
	ConfigFile string `yaml:"config_file"`

	// DefaultAddress/DefaultPort seed the connection config before the
	// first start reports the live values.
	DefaultAddress string `yaml:"default_address"`
	DefaultPort    int    `yaml:"default_port"`

	// Verbosity gates lifecycle notifications.
	Verbosity Verbosity `yaml:"verbosity"`

	// OnExitStopTimeoutMillis is the grace period passed with the stop
	// request issued for every started host when the process exits. Nil
	// means the default; an explicit zero means stop immediately at exit.
	// Read through OnExitStopTimeout.
	OnExitStopTimeoutMillis *int `yaml:"on_exit_stop_timeout_millis"`

	// ControlSecretPath locates the shared control-channel secret.
	ControlSecretPath string `yaml:"control_secret_path"`
}

// Default returns settings with all defaults applied.
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// Environment overrides, applied on top of file values.
const (
	envManagerURL        = "HOSTLINK_MANAGER_URL"
	envControlSecretPath = "HOSTLINK_CONTROL_SECRET"
)

func (s *Settings) applyEnv() {
	if v := os.Getenv(envManagerURL); v != "" {
		s.ManagerURL = v
	}
	if v := os.Getenv(envControlSecretPath); v != "" {
		s.ControlSecretPath = v
	}
}

func (s *Settings) applyDefaults() {
	if s.ManagerURL == "" {
		s.ManagerURL = defaultManagerURL
	}
	if s.DefaultAddress == "" {
		s.DefaultAddress = defaultAddress
	}
	if s.ControlSecretPath == "" {
		s.ControlSecretPath = defaultControlSecretPath
	}
}

// OnExitStopTimeout returns the grace period in milliseconds for the
// exit-time stop, defaulting only when the settings file left it unset.
func (s *Settings) OnExitStopTimeout() int {
	if s.OnExitStopTimeoutMillis == nil {
		return defaultOnExitStopMillis
	}
	return *s.OnExitStopTimeoutMillis
}

// Load reads settings from a YAML file and applies defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	s.applyEnv()
	s.applyDefaults()
	return &s, nil
}
