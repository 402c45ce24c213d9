// Package svc implements the service-wrapper lifecycle (spec.md §4.7):
// launching the relay as a managed child process and supervising it,
// reporting StartPending -> Running -> Stopped. The platform-specific
// entry points (the Windows SCM dispatch loop vs. a plain Unix foreground
// run) live in svc_windows.go and svc_other.go, mirroring the teacher's
// own build-tag split between sign.go and sign_dummy.go.
package svc

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State mirrors the small state machine spec.md §4.7 names.
type State int

const (
	StateStartPending State = iota
	StateRunning
	StateStopPending
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStartPending:
		return "StartPending"
	case StateRunning:
		return "Running"
	case StateStopPending:
		return "StopPending"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ErrUnsupported is returned by the Windows-only entry points (Install,
// Remove) when built for a non-Windows GOOS.
var ErrUnsupported = errors.New("svc: not supported on this platform")

// Child is the supervised relay process. The wrapper's only
// responsibility is to keep this one process running and report its
// liveness; spec.md §4.7's correctness property is "the child is running
// iff the service reports Running".
type Child struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	exited bool
}

// Start launches argv, already resolved from the sibling batch/config
// file by the caller (spec.md §4.7). A goroutine reaps the process via
// Wait so Running can tell an exited child from a live one — cmd.
// ProcessState is only populated by Wait, which nothing else here ever
// calls.
func (c *Child) Start(ctx context.Context, argv []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	c.cmd = cmd
	c.exited = false

	go func() {
		cmd.Wait()
		c.mu.Lock()
		c.exited = true
		c.mu.Unlock()
	}()
	return nil
}

// Running reports whether the child process is still alive.
func (c *Child) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return false
	}
	return !c.exited
}

// Kill terminates the child process.
func (c *Child) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

// Supervisor polls a Child at ProbeInterval, allowing up to
// OverallTimeout for it to report alive the first time, and calls Report
// on every state transition (spec.md §4.7: "~3s probe, ~8s overall").
type Supervisor struct {
	ProbeInterval  time.Duration
	OverallTimeout time.Duration
	Report         func(State)
	Logger         logrus.FieldLogger
}

func (s *Supervisor) defaults() {
	if s.ProbeInterval == 0 {
		s.ProbeInterval = 3 * time.Second
	}
	if s.OverallTimeout == 0 {
		s.OverallTimeout = 8 * time.Second
	}
	if s.Report == nil {
		s.Report = func(State) {}
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
}

// Supervise starts argv and blocks: it reports StartPending immediately,
// Running once the child survives its first probe, and Stopped when the
// child exits, fails to start within OverallTimeout, or ctx is
// cancelled (in which case the child is killed first). Cancellation is
// the Go equivalent of the source's "set an event, observed on every
// cycle" wait (spec.md §5).
func (s *Supervisor) Supervise(ctx context.Context, argv []string) error {
	s.defaults()
	s.Report(StateStartPending)

	child := &Child{}
	if err := child.Start(ctx, argv); err != nil {
		s.Report(StateStopped)
		return err
	}

	deadline := time.Now().Add(s.OverallTimeout)
	ticker := time.NewTicker(s.ProbeInterval)
	defer ticker.Stop()

	reportedRunning := false
	for {
		select {
		case <-ctx.Done():
			child.Kill()
			s.Report(StateStopped)
			return nil
		case <-ticker.C:
			alive := child.Running()
			if !reportedRunning {
				if alive {
					s.Report(StateRunning)
					reportedRunning = true
					continue
				}
				if time.Now().After(deadline) {
					child.Kill()
					s.Report(StateStopped)
					return errors.New("svc: child did not start in time")
				}
				continue
			}
			if !alive {
				s.Report(StateStopped)
				return errors.New("svc: child process exited")
			}
		}
	}
}
