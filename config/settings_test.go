package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSettingsFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostlink.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write settings file: %v", err)
	}
	return path
}

func TestLoadAppliesValuesAndDefaults(t *testing.T) {
	path := writeSettingsFile(t, `
manager_url: http://manager.internal:9900
config_file: app.host.json
default_port: 7001
verbosity: process_stop
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if s.ManagerURL != "http://manager.internal:9900" {
		t.Errorf("ManagerURL = %q", s.ManagerURL)
	}
	if s.ConfigFile != "app.host.json" {
		t.Errorf("ConfigFile = %q", s.ConfigFile)
	}
	if s.DefaultPort != 7001 {
		t.Errorf("DefaultPort = %d", s.DefaultPort)
	}
	if s.Verbosity != ProcessStop {
		t.Errorf("Verbosity = %v", s.Verbosity)
	}

	// Unspecified fields fall back to defaults.
	if s.DefaultAddress != "127.0.0.1" {
		t.Errorf("DefaultAddress = %q", s.DefaultAddress)
	}
	if got := s.OnExitStopTimeout(); got != 5000 {
		t.Errorf("OnExitStopTimeout() = %d", got)
	}
	if s.ControlSecretPath == "" {
		t.Error("ControlSecretPath default missing")
	}
}

func TestLoadEmptyFileMatchesDefault(t *testing.T) {
	path := writeSettingsFile(t, "")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := Default()
	if *s != *want {
		t.Errorf("Load(empty) = %+v, want %+v", s, want)
	}
}

func TestExitStopTimeoutExplicitZero(t *testing.T) {
	// An explicit zero means "stop immediately at exit" and must not be
	// replaced with the default.
	path := writeSettingsFile(t, "on_exit_stop_timeout_millis: 0\n")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := s.OnExitStopTimeout(); got != 0 {
		t.Errorf("OnExitStopTimeout() = %d, want explicit 0", got)
	}

	configured := writeSettingsFile(t, "on_exit_stop_timeout_millis: 250\n")
	s, err = Load(configured)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := s.OnExitStopTimeout(); got != 250 {
		t.Errorf("OnExitStopTimeout() = %d, want 250", got)
	}

	if got := Default().OnExitStopTimeout(); got != 5000 {
		t.Errorf("default OnExitStopTimeout() = %d, want 5000", got)
	}
}

func TestLoadEnvironmentOverridesFileValues(t *testing.T) {
	path := writeSettingsFile(t, "manager_url: http://from-file:9900\n")
	t.Setenv("HOSTLINK_MANAGER_URL", "http://from-env:9901")
	t.Setenv("HOSTLINK_CONTROL_SECRET", "/run/hostlink/control.key")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if s.ManagerURL != "http://from-env:9901" {
		t.Errorf("ManagerURL = %q, environment did not win", s.ManagerURL)
	}
	if s.ControlSecretPath != "/run/hostlink/control.key" {
		t.Errorf("ControlSecretPath = %q", s.ControlSecretPath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing settings file")
	}
}

func TestLoadRejectsUnknownVerbosity(t *testing.T) {
	path := writeSettingsFile(t, "verbosity: shout\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown verbosity")
	}
}

func TestVerbosityRoundTrip(t *testing.T) {
	levels := []Verbosity{Silent, ProcessStart, ProcessStop, Connection}
	names := []string{"silent", "process_start", "process_stop", "connection"}

	for i, level := range levels {
		if got := level.String(); got != names[i] {
			t.Errorf("%d.String() = %q, want %q", int(level), got, names[i])
		}
	}

	// Levels are ordered so gating can compare them directly.
	if !(Silent < ProcessStart && ProcessStart < ProcessStop && ProcessStop < Connection) {
		t.Error("verbosity levels are not strictly ordered")
	}
}
