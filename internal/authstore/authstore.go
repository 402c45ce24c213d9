// Package authstore adapts a secrets.Store into the small
// NewServerState/NewClientState factory interfaces smtpd and pop3d
// depend on, so neither protocol package needs to import
// internal/secrets directly.
package authstore

import (
	"zgo.at/emrelay/internal/secrets"
	"zgo.at/emrelay/sasl"
)

// Store wraps a *secrets.Store as a SASL server/client state factory.
type Store struct {
	Secrets *secrets.Store
}

// New returns a Store backed by secrets.
func New(secrets *secrets.Store) *Store { return &Store{Secrets: secrets} }

// NewServerState builds a fresh sasl.ServerState for one connection.
func (s *Store) NewServerState(opts sasl.ServerOptions) *sasl.ServerState {
	return sasl.NewServer(s.Secrets, opts)
}

// NewClientState builds a fresh sasl.ClientState for one connection.
func (s *Store) NewClientState(opts sasl.ClientOptions) *sasl.ClientState {
	return sasl.NewClient(s.Secrets, opts)
}
