//go:build !windows

package svc

import "context"

// Run has no SCM-equivalent dispatch loop outside Windows: the Unix
// story (spec.md §4.7) is running the supervised child in the
// foreground under whatever process manager invoked this binary
// (systemd, runit, or an init script), so Run just blocks on Supervise.
func Run(name string, argv []string, sup *Supervisor) error {
	return sup.Supervise(context.Background(), argv)
}

// Install and Remove have no meaning outside the Windows service
// control manager.
func Install(name, displayName string, argv []string) error { return ErrUnsupported }
func Remove(name string) error                              { return ErrUnsupported }
