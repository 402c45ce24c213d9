// Package pop3d implements the companion POP3 server spec.md §1 names
// as an external collaborator: it offers each authenticated user the
// subset of the spool they submitted (tracked by the envelope's
// AuthID), following RFC 1939's AUTHORIZATION -> TRANSACTION -> UPDATE
// state machine. The Server/Option shape mirrors smtpd's, both lifted
// from pack member alexisbouchez-smtp.go's smtpserver.Server; the
// command set and state-transition behavior (USER/PASS/APOP login,
// DELE deferred to QUIT, RSET undoing pending deletes) are grounded on
// other_examples/0d2fa31e_infodancer-pop3d's round-trip test suite.
package pop3d

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"zgo.at/emrelay/sasl"
)

// Message is one mailbox entry's identity and size.
type Message struct {
	ID   string
	Size int64
}

// Mailbox is one user's view of their spooled messages.
type Mailbox interface {
	List() ([]Message, error)
	Retrieve(id string) (io.ReadCloser, error)
	Delete(id string) error
}

// MailboxProvider resolves an authenticated user id to their Mailbox.
type MailboxProvider interface {
	Mailbox(user string) (Mailbox, error)
}

// AuthBackend supplies a fresh sasl.ServerState per connection.
type AuthBackend interface {
	NewServerState(opts sasl.ServerOptions) *sasl.ServerState
}

// Server is a POP3 server.
type Server struct {
	addr         string
	hostname     string
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       logrus.FieldLogger
	allowAPOP    bool
	saslFilter   string
	domain       string

	mailboxes MailboxProvider
	auth      AuthBackend

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	quit     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// NewServer creates a Server offering mailboxes resolved by mailboxes,
// authenticating against auth.
func NewServer(mailboxes MailboxProvider, auth AuthBackend, opts ...Option) *Server {
	s := &Server{
		addr:         ":110",
		hostname:     "localhost",
		readTimeout:  5 * time.Minute,
		writeTimeout: 5 * time.Minute,
		logger:       logrus.StandardLogger(),
		mailboxes:    mailboxes,
		auth:         auth,
		quit:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func WithAddr(addr string) Option              { return func(s *Server) { s.addr = addr } }
func WithHostname(hostname string) Option      { return func(s *Server) { s.hostname = hostname } }
func WithReadTimeout(d time.Duration) Option   { return func(s *Server) { s.readTimeout = d } }
func WithWriteTimeout(d time.Duration) Option  { return func(s *Server) { s.writeTimeout = d } }
func WithLogger(l logrus.FieldLogger) Option   { return func(s *Server) { s.logger = l } }
func WithAPOP(enabled bool) Option             { return func(s *Server) { s.allowAPOP = enabled } }
func WithSASLFilter(filter string) Option      { return func(s *Server) { s.saslFilter = filter } }
func WithChallengeDomain(domain string) Option { return func(s *Server) { s.domain = domain } }

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

	s.logger.WithField("addr", ln.Addr()).Info("pop3d listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.logger.WithError(err).Warn("pop3d accept error")
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
