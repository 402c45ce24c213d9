package svc

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func sleepArgv(t *testing.T, seconds string) []string {
	t.Helper()
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", "ping", "-n", "5", "127.0.0.1"}
	}
	return []string{"sleep", seconds}
}

func TestSuperviseReportsRunningThenStopped(t *testing.T) {
	var states []State
	sup := &Supervisor{
		ProbeInterval:  20 * time.Millisecond,
		OverallTimeout: 200 * time.Millisecond,
		Report:         func(s State) { states = append(states, s) },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := sup.Supervise(ctx, sleepArgv(t, "5"))
	if err != nil {
		t.Fatalf("Supervise: %v", err)
	}
	if len(states) < 2 || states[0] != StateStartPending {
		t.Fatalf("expected StartPending first, got %v", states)
	}
	if states[len(states)-1] != StateStopped {
		t.Fatalf("expected Stopped last, got %v", states)
	}
}

func TestSuperviseDetectsEarlyExit(t *testing.T) {
	var states []State
	sup := &Supervisor{
		ProbeInterval:  10 * time.Millisecond,
		OverallTimeout: 500 * time.Millisecond,
		Report:         func(s State) { states = append(states, s) },
	}

	argv := []string{"sleep", "0"}
	if runtime.GOOS == "windows" {
		argv = []string{"cmd", "/C", "exit", "0"}
	}

	err := sup.Supervise(context.Background(), argv)
	if err == nil {
		t.Fatal("expected an error reporting the child exited")
	}
	if states[len(states)-1] != StateStopped {
		t.Fatalf("expected Stopped reported on exit, got %v", states)
	}
}

func TestChildKillStopsRunning(t *testing.T) {
	c := &Child{}
	if err := c.Start(context.Background(), sleepArgv(t, "5")); err != nil {
		t.Fatal(err)
	}
	if !c.Running() {
		t.Fatal("expected child to be running immediately after start")
	}
	if err := c.Kill(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if c.Running() {
		t.Fatal("expected child to report not running after Kill")
	}
}

func TestStateString(t *testing.T) {
	if StateRunning.String() != "Running" {
		t.Errorf("got %q", StateRunning.String())
	}
	if State(99).String() != "Unknown" {
		t.Errorf("got %q", State(99).String())
	}
}
