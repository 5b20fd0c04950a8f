package processes

import (
	"os/exec"
	"sync"
	"time"
)

// ProcessState is the lifecycle state of one runtime host subprocess.
type ProcessState int

const (
	// StateStarting means the subprocess has been spawned but has not yet
	// answered its readiness probe.
	StateStarting ProcessState = iota
	// StateRunning means the subprocess is up and answering /status.
	StateRunning
	// StateStopping means termination is in progress.
	StateStopping
	// StateStopped means the subprocess exited after an intentional stop.
	StateStopped
	// StateFailed means the subprocess exited unexpectedly or never became
	// ready.
	StateFailed
)

// String returns a string representation of the ProcessState.
func (s ProcessState) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "InvalidState"
	}
}

// RuntimeProcess is one spawned runtime host subprocess tracked by the
// supervisor.
type RuntimeProcess struct {
	ConfigFile string
	SessionID  string
	Cmd        *exec.Cmd
	Port       int
	PID        int

	// exited is closed by the supervisor's waiter goroutine once the
	// subprocess has been reaped.
	exited chan struct{}

	mu          sync.Mutex
	state       ProcessState
	startedAt   time.Time
	pendingStop *time.Timer
}

// State returns the current lifecycle state.
func (p *RuntimeProcess) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *RuntimeProcess) setState(state ProcessState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// StartedAt returns when the subprocess was spawned.
func (p *RuntimeProcess) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// markSpawned fills in the spawn-time fields under the state lock, since
// a stop accepted during the spawn may read them concurrently.
func (p *RuntimeProcess) markSpawned(cmd *exec.Cmd, port int, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Cmd = cmd
	p.Port = port
	p.PID = cmd.Process.Pid
	p.SessionID = sessionID
	p.startedAt = time.Now()
}

// spawnInfo returns the spawn-time fields under the state lock; safe to
// call while a spawn may still be filling them in.
func (p *RuntimeProcess) spawnInfo() (cmd *exec.Cmd, pid int, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Cmd, p.PID, p.SessionID
}

// beginStop transitions to StateStopping, reporting whether the caller
// now owns termination. Returns false if the process is already stopping
// or gone.
func (p *RuntimeProcess) beginStop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning && p.state != StateStarting {
		return false
	}
	p.state = StateStopping
	return true
}

// markRunning promotes a starting process to Running. It refuses when a
// stop already claimed the process, so an accepted stop is never
// overwritten by the spawn finishing.
func (p *RuntimeProcess) markRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStarting {
		return false
	}
	p.state = StateRunning
	return true
}

// schedulePendingStop replaces any pending scheduled stop with timer.
func (p *RuntimeProcess) schedulePendingStop(timer *time.Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingStop != nil {
		p.pendingStop.Stop()
	}
	p.pendingStop = timer
}

// cancelPendingStop cancels any pending scheduled stop. hadPending reports
// whether a stop was scheduled at all; cancelled whether it was revoked
// before firing. hadPending with !cancelled means the timer already fired
// and termination is underway even if the state still reads Running.
func (p *RuntimeProcess) cancelPendingStop() (hadPending, cancelled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingStop == nil {
		return false, false
	}
	cancelled = p.pendingStop.Stop()
	p.pendingStop = nil
	return true, cancelled
}
