//go:build windows

package svc

import (
	"context"
	"fmt"

	wsvc "golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"
)

// handler adapts a Supervisor to golang.org/x/sys/windows/svc's
// Handler interface, translating its Report callbacks into SCM status
// updates (spec.md §4.7).
type handler struct {
	name string
	argv []string
	sup  *Supervisor
	elog *eventlog.Log
}

func (h *handler) Execute(args []string, r <-chan wsvc.ChangeRequest, changes chan<- wsvc.Status) (bool, uint32) {
	changes <- wsvc.Status{State: wsvc.StartPending}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.sup.Report = func(s State) {
		switch s {
		case StateRunning:
			changes <- wsvc.Status{State: wsvc.Running, Accepts: wsvc.AcceptStop | wsvc.AcceptShutdown}
			if h.elog != nil {
				h.elog.Info(1, h.name+" started")
			}
		case StateStopped:
			if h.elog != nil {
				h.elog.Info(1, h.name+" stopped")
			}
		}
	}

	done := make(chan error, 1)
	go func() { done <- h.sup.Supervise(ctx, h.argv) }()

loop:
	for {
		select {
		case err := <-done:
			if err != nil && h.elog != nil {
				h.elog.Error(1, fmt.Sprintf("%s: %v", h.name, err))
			}
			break loop
		case req := <-r:
			switch req.Cmd {
			case wsvc.Interrogate:
				changes <- req.CurrentStatus
			case wsvc.Stop, wsvc.Shutdown:
				changes <- wsvc.Status{State: wsvc.StopPending}
				cancel()
				<-done
				break loop
			}
		}
	}
	changes <- wsvc.Status{State: wsvc.Stopped}
	return false, 0
}

// Run enters the Windows service control dispatch loop, the default
// action of the service_wrapper CLI contract (spec.md §6) when not
// installing or removing.
func Run(name string, argv []string, sup *Supervisor) error {
	elog, err := eventlog.Open(name)
	if err != nil {
		elog = nil
	} else {
		defer elog.Close()
	}
	h := &handler{name: name, argv: argv, sup: sup, elog: elog}
	return wsvc.Run(name, h)
}

// Install registers the service with the SCM (spec.md §6:
// "--install [<name> [<display-name>]]").
func Install(name, displayName string, argv []string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("svc: %w", err)
	}
	defer m.Disconnect()

	if s, err := m.OpenService(name); err == nil {
		s.Close()
		return fmt.Errorf("svc: service %q already exists", name)
	}

	s, err := m.CreateService(name, argv[0], mgr.Config{
		DisplayName: displayName,
		StartType:   mgr.StartAutomatic,
	}, argv[1:]...)
	if err != nil {
		return fmt.Errorf("svc: %w", err)
	}
	defer s.Close()

	if err := eventlog.InstallAsEventCreate(name, eventlog.Info|eventlog.Warning|eventlog.Error); err != nil {
		return fmt.Errorf("svc: %w", err)
	}
	return nil
}

// Remove unregisters the service (spec.md §6: "--remove [<name>]").
func Remove(name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("svc: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("svc: service %q is not installed", name)
	}
	defer s.Close()
	if err := s.Delete(); err != nil {
		return fmt.Errorf("svc: %w", err)
	}
	eventlog.Remove(name)
	return nil
}
