// Package config collects the relay's startup configuration: the two
// plain strings spec.md §6 names for SASL server init (a mechanism
// filter string and a challenge-domain override) plus the handful of
// addresses and paths the daemon needs to bind sockets and find its
// secrets and spool. It owns no parsing logic of its own beyond simple
// flag assignment — sasl.NewServer/NewClient already parse the filter
// string (§4.5); this package just carries it from flags to there.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is every value cmd/emrelayd needs before it can start serving.
type Config struct {
	// SecretsPath is the path to the secrets file (spec.md §6).
	SecretsPath string

	// Filter is the raw server-side mechanism filter string, passed
	// through unchanged to sasl.ServerOptions.Filter.
	Filter string

	// ClientFilter is the raw client-side mechanism filter string,
	// passed through unchanged to sasl.ClientOptions.Filter.
	ClientFilter string

	// ChallengeDomain overrides the domain name embedded in generated
	// CRAM/APOP challenges; empty uses the local hostname.
	ChallengeDomain string

	// AllowAPOP enables the APOP mechanism on the server side.
	AllowAPOP bool

	// SMTPAddr is the address the SMTP submission/relay server listens
	// on, e.g. ":587".
	SMTPAddr string

	// POP3Addr is the address the POP3 server listens on, e.g. ":110".
	// Empty disables the POP3 listener.
	POP3Addr string

	// SpoolDir is the directory internal/spool stores messages in.
	SpoolDir string

	// ForwardAddr is the upstream SMTP relay's address, e.g.
	// "smtp.example.test:587". Empty disables forwarding (messages stay
	// queued in SpoolDir for a separate forwarding run). Credentials for
	// ForwardAddr come from the same secrets file's side=client rows, so
	// there is no separate forward-user/forward-secret flag to carry.
	ForwardAddr string

	// ForwardInterval, if non-zero, repeats a forwarding pass on this
	// schedule; zero means forward once at startup only.
	ForwardInterval time.Duration

	// LogLevel names a logrus level ("debug", "info", "warn", ...).
	LogLevel string

	// PIDFile, if set, receives the daemon's process id on startup.
	PIDFile string
}

// Validate checks the fields a daemon cannot run without.
func (c *Config) Validate() error {
	if c.SecretsPath == "" {
		return fmt.Errorf("config: secrets path is required")
	}
	if c.SMTPAddr == "" {
		return fmt.Errorf("config: an SMTP listen address is required")
	}
	if c.SpoolDir == "" {
		return fmt.Errorf("config: a spool directory is required")
	}
	return nil
}

// Logger builds a logrus logger at the configured level, defaulting to
// info on an empty or unrecognised LogLevel, in the teacher's style of
// passing an explicit logging handle rather than relying on a
// process-wide singleton (spec.md §9's "no process-wide singletons"
// redesign note).
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// WritePID writes the current process id to PIDFile, if set.
func (c *Config) WritePID() error {
	if c.PIDFile == "" {
		return nil
	}
	return os.WriteFile(c.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
