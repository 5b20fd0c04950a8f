package processes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/hostlink/hostlink/host"
)

const (
	defaultReadyTimeout           = 10 * time.Second
	defaultGracefulShutdownPeriod = 10 * time.Second

	readyProbeInterval = 25 * time.Millisecond
	readyProbeTimeout  = 500 * time.Millisecond
)

// Config holds configuration options for the Supervisor.
type Config struct {
	// RuntimePath is the executable spawned for every host configuration.
	RuntimePath string
	// ModuleRoot, when set, is passed to the runtime via --modules.
	ModuleRoot string
	// WorkDir is the working directory for subprocesses. Defaults to the
	// manager's current directory.
	WorkDir string
	// Ports allocates listen ports for subprocesses.
	Ports *PortAllocator
	// Journal, when set, persists session transitions.
	Journal *Journal
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// ExtraEnv is appended to the subprocess environment.
	ExtraEnv []string
	// ReadyTimeout bounds how long a spawned subprocess may take to answer
	// its /status endpoint. Defaults to 10s.
	ReadyTimeout time.Duration
	// GracefulShutdownPeriod is how long a terminating subprocess gets
	// between SIGTERM and SIGKILL. Defaults to 10s.
	GracefulShutdownPeriod time.Duration
}

// Supervisor spawns and terminates runtime host subprocesses on behalf of
// remote controllers. It is the sole authority on whether a subprocess for
// a given configuration is already running: a start request for a running
// configuration reuses it (cancelling any pending scheduled stop) instead
// of spawning a duplicate.
type Supervisor struct {
	runtimePath            string
	moduleRoot             string
	workDir                string
	ports                  *PortAllocator
	journal                *Journal
	logger                 *slog.Logger
	extraEnv               []string
	readyTimeout           time.Duration
	gracefulShutdownPeriod time.Duration

	probeClient *http.Client

	mu    sync.Mutex
	procs map[string]*RuntimeProcess // keyed by config file
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(config Config) (*Supervisor, error) {
	if config.RuntimePath == "" {
		return nil, fmt.Errorf("RuntimePath is required")
	}
	if config.Ports == nil {
		return nil, fmt.Errorf("PortAllocator is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workDir := config.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		workDir = wd
	}

	readyTimeout := config.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = defaultReadyTimeout
	}
	gracefulShutdown := config.GracefulShutdownPeriod
	if gracefulShutdown == 0 {
		gracefulShutdown = defaultGracefulShutdownPeriod
	}

	return &Supervisor{
		runtimePath:            config.RuntimePath,
		moduleRoot:             config.ModuleRoot,
		workDir:                workDir,
		ports:                  config.Ports,
		journal:                config.Journal,
		logger:                 logger.With("component", "Supervisor"),
		extraEnv:               config.ExtraEnv,
		readyTimeout:           readyTimeout,
		gracefulShutdownPeriod: gracefulShutdown,
		probeClient:            &http.Client{Timeout: readyProbeTimeout},
		procs:                  make(map[string]*RuntimeProcess),
	}, nil
}

// StartResult is the outcome of a start request. Started reports whether a
// new subprocess was actually spawned, as opposed to reusing one already
// running.
type StartResult struct {
	Started bool
	Config  host.ConnectionConfig
}

// Start ensures a subprocess for configFile is running and returns its
// live connection config. A pending scheduled stop for the configuration
// is cancelled, matching the rule that a new connection keeps the host
// alive.
func (s *Supervisor) Start(ctx context.Context, configFile string) (StartResult, error) {
	if configFile == "" {
		return StartResult{}, fmt.Errorf("config file is required")
	}

	s.mu.Lock()
	if proc, exists := s.procs[configFile]; exists {
		switch proc.State() {
		case StateRunning:
			hadPending, cancelled := proc.cancelPendingStop()
			if cancelled {
				s.logger.Info("Cancelled pending stop", "config", configFile, "session", proc.SessionID)
			}
			if !hadPending || cancelled {
				result := StartResult{Started: false, Config: s.connectionConfig(proc)}
				s.mu.Unlock()
				return result, nil
			}
			// The scheduled stop fired before it could be cancelled, so
			// termination is underway. Fall through to a fresh spawn.
		case StateStarting:
			s.mu.Unlock()
			return s.awaitStarting(ctx, proc)
		}
		// Stopping/Stopped/Failed entries are superseded by a fresh spawn;
		// the old waiter removes its own map entry.
	}
	placeholder := &RuntimeProcess{
		ConfigFile: configFile,
		exited:     make(chan struct{}),
		state:      StateStarting,
	}
	s.procs[configFile] = placeholder
	s.mu.Unlock()

	config, err := s.spawn(ctx, placeholder)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Started: true, Config: config}, nil
}

// Stop terminates (or schedules termination of) the subprocess for
// configFile. timeoutMillis > 0 delays the actual termination by that
// grace period; the subprocess keeps running until the timer fires or a
// new start cancels it. Stopping a configuration with no running
// subprocess is a no-op.
func (s *Supervisor) Stop(ctx context.Context, configFile string, timeoutMillis int) error {
	s.mu.Lock()
	proc, exists := s.procs[configFile]
	s.mu.Unlock()

	if !exists {
		return nil
	}
	if state := proc.State(); state != StateRunning && state != StateStarting {
		return nil
	}

	if timeoutMillis > 0 {
		delay := time.Duration(timeoutMillis) * time.Millisecond
		proc.schedulePendingStop(time.AfterFunc(delay, func() {
			s.logger.Info("Scheduled stop firing", "config", configFile)
			s.terminate(proc)
		}))
		s.logger.Info("Scheduled stop", "config", configFile, "delay", delay)
		return nil
	}

	// Immediate stops complete asynchronously: the control response goes
	// out before the subprocess has fully exited.
	go s.terminate(proc)
	return nil
}

// Running reports whether a subprocess for configFile is currently up.
func (s *Supervisor) Running(configFile string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, exists := s.procs[configFile]
	return exists && proc.State() == StateRunning
}

// RunningCount returns the number of subprocesses currently up.
func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, proc := range s.procs {
		if proc.State() == StateRunning {
			count++
		}
	}
	return count
}

// SessionInfo is a point-in-time view of one tracked subprocess.
type SessionInfo struct {
	ConfigFile string    `json:"config"`
	SessionID  string    `json:"session"`
	Port       int       `json:"port"`
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"startedAt"`
}

// Sessions returns a snapshot of all tracked subprocesses.
func (s *Supervisor) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]SessionInfo, 0, len(s.procs))
	for _, proc := range s.procs {
		sessions = append(sessions, SessionInfo{
			ConfigFile: proc.ConfigFile,
			SessionID:  proc.SessionID,
			Port:       proc.Port,
			PID:        proc.PID,
			State:      proc.State().String(),
			StartedAt:  proc.StartedAt(),
		})
	}
	return sessions
}

// Shutdown terminates every tracked subprocess and waits for them to be
// reaped.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	procs := make([]*RuntimeProcess, 0, len(s.procs))
	for _, proc := range s.procs {
		procs = append(procs, proc)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, proc := range procs {
		if state := proc.State(); state != StateRunning && state != StateStarting {
			continue
		}
		wg.Add(1)
		go func(p *RuntimeProcess) {
			defer wg.Done()
			s.terminate(p)
		}(proc)
	}
	wg.Wait()
	s.logger.Info("All managed subprocesses have stopped")
}

func (s *Supervisor) connectionConfig(proc *RuntimeProcess) host.ConnectionConfig {
	return host.ConnectionConfig{
		Address:   "127.0.0.1",
		Port:      proc.Port,
		SessionID: proc.SessionID,
	}
}

// awaitStarting waits for a spawn already in flight (from a concurrent
// start request) to finish, then reports it as a reuse.
func (s *Supervisor) awaitStarting(ctx context.Context, proc *RuntimeProcess) (StartResult, error) {
	deadline := time.NewTimer(s.readyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return StartResult{}, ctx.Err()
		case <-proc.exited:
			return StartResult{}, fmt.Errorf("subprocess for %s exited while starting", proc.ConfigFile)
		case <-deadline.C:
			return StartResult{}, fmt.Errorf("timed out waiting for %s to start", proc.ConfigFile)
		case <-ticker.C:
			if proc.State() == StateRunning {
				return StartResult{Started: false, Config: s.connectionConfig(proc)}, nil
			}
		}
	}
}

// spawn launches the runtime for proc.ConfigFile, waits for it to answer
// its readiness probe, and journals the new session. proc is the map
// placeholder created by Start; its fields are filled in here.
func (s *Supervisor) spawn(ctx context.Context, proc *RuntimeProcess) (host.ConnectionConfig, error) {
	configFile := proc.ConfigFile

	port, err := s.ports.Allocate()
	if err != nil {
		s.abortSpawn(proc, 0)
		return host.ConnectionConfig{}, fmt.Errorf("failed to allocate port for %s: %w", configFile, err)
	}

	args := []string{
		"--config", configFile,
		"--port", strconv.Itoa(port),
	}
	if s.moduleRoot != "" {
		args = append(args, "--modules", s.moduleRoot)
	}

	cmd := exec.Command(s.runtimePath, args...)
	cmd.Dir = s.workDir
	cmd.Env = append(os.Environ(), s.extraEnv...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		s.abortSpawn(proc, port)
		return host.ConnectionConfig{}, fmt.Errorf("failed to get stdout pipe for %s: %w", configFile, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdoutPipe.Close()
		s.abortSpawn(proc, port)
		return host.ConnectionConfig{}, fmt.Errorf("failed to get stderr pipe for %s: %w", configFile, err)
	}

	if err := cmd.Start(); err != nil {
		s.abortSpawn(proc, port)
		return host.ConnectionConfig{}, fmt.Errorf("failed to start runtime for %s: %w", configFile, err)
	}

	sessionID := uuid.New().String()
	proc.markSpawned(cmd, port, sessionID)
	s.logger.Info("Spawned runtime subprocess",
		"config", configFile, "session", sessionID, "pid", cmd.Process.Pid, "port", port)

	go s.streamLogs(proc, "stdout", stdoutPipe)
	go s.streamLogs(proc, "stderr", stderrPipe)

	go func() {
		waitErr := cmd.Wait()
		close(proc.exited)
		s.reap(proc, waitErr)
	}()

	if err := s.waitReady(ctx, proc); err != nil {
		s.terminate(proc)
		return host.ConnectionConfig{}, fmt.Errorf("runtime for %s never became ready: %w", configFile, err)
	}
	if !proc.markRunning() {
		// A stop accepted mid-spawn claimed the process before there was a
		// Cmd to signal; deliver the termination it was owed.
		s.kill(proc)
		return host.ConnectionConfig{}, fmt.Errorf("subprocess for %s was stopped while starting", configFile)
	}

	if s.journal != nil {
		if err := s.journal.RecordStart(proc.SessionID, configFile, port, proc.PID); err != nil {
			s.logger.Error("Failed to journal session start", "session", proc.SessionID, "error", err)
		}
	}

	return s.connectionConfig(proc), nil
}

// abortSpawn cleans up a placeholder whose spawn never produced a live
// subprocess.
func (s *Supervisor) abortSpawn(proc *RuntimeProcess, port int) {
	proc.setState(StateFailed)
	close(proc.exited)
	if port > 0 {
		s.ports.Release(port)
	}
	s.mu.Lock()
	if s.procs[proc.ConfigFile] == proc {
		delete(s.procs, proc.ConfigFile)
	}
	s.mu.Unlock()
}

// waitReady probes the subprocess's /status endpoint until it answers 200,
// the subprocess dies, or the ready budget is spent.
func (s *Supervisor) waitReady(ctx context.Context, proc *RuntimeProcess) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/status", proc.Port)
	operation := func() error {
		select {
		case <-proc.exited:
			return backoff.Permanent(fmt.Errorf("subprocess exited before becoming ready"))
		default:
		}
		resp, err := s.probeClient.Get(url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status endpoint returned %s", resp.Status)
		}
		return nil
	}

	bo := backoff.NewConstantBackOff(readyProbeInterval)
	retries := uint64(s.readyTimeout / readyProbeInterval)
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
}

// streamLogs forwards one of the subprocess's output streams to the
// manager's logger, line by line.
func (s *Supervisor) streamLogs(proc *RuntimeProcess, stream string, pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		if stream == "stderr" {
			s.logger.Error("Subprocess output", "config", proc.ConfigFile, "pid", proc.PID, "stream", stream, "line", scanner.Text())
		} else {
			s.logger.Info("Subprocess output", "config", proc.ConfigFile, "pid", proc.PID, "stream", stream, "line", scanner.Text())
		}
	}
}

// terminate stops a subprocess: SIGTERM, a grace period, then SIGKILL.
// Reaping (port release, journal, map removal) happens in the waiter
// goroutine once the process exits. Safe to call more than once; only the
// first caller per process does the work.
func (s *Supervisor) terminate(proc *RuntimeProcess) {
	if !proc.beginStop() {
		return
	}
	s.kill(proc)
}

// kill delivers the signals for a stop already claimed via beginStop. The
// spawn-time fields are read under the state lock because the claiming
// stop may have landed while the spawn was still filling them in.
func (s *Supervisor) kill(proc *RuntimeProcess) {
	cmd, pid, sessionID := proc.spawnInfo()
	s.logger.Info("Stopping subprocess", "config", proc.ConfigFile, "session", sessionID, "pid", pid)

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		s.logger.Error("Failed to signal subprocess", "config", proc.ConfigFile, "pid", pid, "error", err)
	}

	grace := time.NewTimer(s.gracefulShutdownPeriod)
	defer grace.Stop()
	select {
	case <-proc.exited:
	case <-grace.C:
		s.logger.Warn("Subprocess did not exit gracefully, sending SIGKILL", "config", proc.ConfigFile, "pid", pid)
		if err := cmd.Process.Kill(); err != nil {
			s.logger.Error("Failed to kill subprocess", "config", proc.ConfigFile, "pid", pid, "error", err)
		}
		<-proc.exited
	}
}

// reap runs exactly once per spawned subprocess, after it has exited.
func (s *Supervisor) reap(proc *RuntimeProcess, exitErr error) {
	intentional := proc.State() == StateStopping

	s.mu.Lock()
	if s.procs[proc.ConfigFile] == proc {
		delete(s.procs, proc.ConfigFile)
	}
	s.mu.Unlock()

	s.ports.Release(proc.Port)

	note := "stopped"
	if intentional {
		proc.setState(StateStopped)
		if exitErr != nil {
			note = fmt.Sprintf("stopped (%v)", exitErr)
		}
		s.logger.Info("Subprocess stopped", "config", proc.ConfigFile, "session", proc.SessionID, "pid", proc.PID)
	} else {
		proc.setState(StateFailed)
		note = fmt.Sprintf("exited unexpectedly: %v", exitErr)
		s.logger.Error("Subprocess exited unexpectedly", "config", proc.ConfigFile, "session", proc.SessionID, "pid", proc.PID, "error", exitErr)
	}

	if s.journal != nil && proc.SessionID != "" {
		if err := s.journal.RecordStop(proc.SessionID, note); err != nil {
			s.logger.Error("Failed to journal session stop", "session", proc.SessionID, "error", err)
		}
	}
}
