// Package smtpd implements the SMTP submission/relay protocol glue
// spec.md §1 names as an external collaborator: a command loop that
// binds a net.Listener to a sasl.ServerState per connection and a
// spool.Store for accepted messages. The option-pattern Server shape
// (NewServer(opts...), Serve/ListenAndServe/Shutdown/Close, one
// goroutine per connection) is grounded on pack member
// alexisbouchez-smtp.go's smtpserver.Server.
package smtpd

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"zgo.at/emrelay/internal/spool"
	"zgo.at/emrelay/sasl"
)

// Server is an SMTP server that accepts connections, negotiates SASL
// authentication, and spools accepted messages.
type Server struct {
	addr            string
	hostname        string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	maxMessageSize  int64
	maxRecipients   int
	tlsConfig       *tls.Config
	logger          logrus.FieldLogger
	submissionMode  bool
	saslFilter      string
	challengeDomain string
	allowAPOP       bool

	store *spool.Store
	auth  AuthBackend

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	quit     chan struct{}
}

// AuthBackend supplies the secrets a sasl.ServerState authenticates
// against; in practice this is a thin wrapper around a
// *secrets.Store, kept as an interface so tests can substitute a fake.
type AuthBackend interface {
	NewServerState(opts sasl.ServerOptions) *sasl.ServerState
}

// Option configures a Server.
type Option func(*Server)

// NewServer creates a Server that spools accepted mail into store and
// authenticates against auth.
func NewServer(store *spool.Store, auth AuthBackend, opts ...Option) *Server {
	s := &Server{
		addr:           ":25",
		hostname:       "localhost",
		readTimeout:    5 * time.Minute,
		writeTimeout:   5 * time.Minute,
		maxMessageSize: 25 * 1024 * 1024,
		maxRecipients:  100,
		logger:         logrus.StandardLogger(),
		store:          store,
		auth:           auth,
		quit:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func WithAddr(addr string) Option                { return func(s *Server) { s.addr = addr } }
func WithHostname(hostname string) Option        { return func(s *Server) { s.hostname = hostname } }
func WithReadTimeout(d time.Duration) Option     { return func(s *Server) { s.readTimeout = d } }
func WithWriteTimeout(d time.Duration) Option    { return func(s *Server) { s.writeTimeout = d } }
func WithMaxMessageSize(n int64) Option          { return func(s *Server) { s.maxMessageSize = n } }
func WithMaxRecipients(n int) Option             { return func(s *Server) { s.maxRecipients = n } }
func WithTLSConfig(c *tls.Config) Option         { return func(s *Server) { s.tlsConfig = c } }
func WithLogger(l logrus.FieldLogger) Option     { return func(s *Server) { s.logger = l } }
func WithSubmissionMode(enabled bool) Option     { return func(s *Server) { s.submissionMode = enabled } }
func WithSASLFilter(filter string) Option        { return func(s *Server) { s.saslFilter = filter } }
func WithChallengeDomain(domain string) Option   { return func(s *Server) { s.challengeDomain = domain } }
func WithAPOP(enabled bool) Option               { return func(s *Server) { s.allowAPOP = enabled } }

// ListenAndServe listens on the configured address and serves until an
// error or Close/Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln, dispatching each to its own
// session goroutine.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.WithField("addr", ln.Addr()).Info("smtpd listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.logger.WithError(err).Warn("smtpd accept error")
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the listener's address, or nil if not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting new connections and waits for running
// sessions to finish, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.quit)
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately closes the listener, dropping in-flight sessions.
func (s *Server) Close() error {
	close(s.quit)
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}
