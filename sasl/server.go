package sasl

import (
	"crypto/subtle"
	"strings"

	"github.com/sirupsen/logrus"

	"zgo.at/emrelay/internal/cram"
	"zgo.at/emrelay/internal/secrets"
)

// serverPhase tracks where a ServerState is in the Idle -> MechanismSelected
// -> Challenging <-> AwaitingResponse -> {Authenticated, Failed} machine
// (spec.md §4.5). LOGIN's AwaitingPassword sits between Challenging and
// Authenticated.
type serverPhase int

const (
	phaseIdle serverPhase = iota
	phaseMechanismSelected
	phaseChallenging
	phaseAwaitingResponse
	phaseAwaitingPassword
	phaseAuthenticated
	phaseFailed
)

// ServerOptions configures a ServerState at construction (spec.md §4.5,
// §6): the two-string SASL-init config (mechanism filter and a
// challenge-domain override) plus whether APOP is offered.
type ServerOptions struct {
	Filter string
	Domain string
	APOP   bool
	Logger logrus.FieldLogger
}

// ServerState is a single connection's SASL server dialog. It is not
// safe for concurrent use; each transport peer owns one (spec.md §5).
type ServerState struct {
	store *secrets.Store
	log   logrus.FieldLogger

	secure   []string
	insecure []string
	domain   string

	phase       serverPhase
	mechanism   string
	challenge   string
	id          string
	trusted     bool
	authed      bool
	firstApply  bool
}

// NewServer builds a ServerState against a secrets store, computing the
// advertised mechanism lists once at construction.
func NewServer(store *secrets.Store, opts ServerOptions) *ServerState {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &ServerState{store: store, log: log, domain: opts.Domain, phase: phaseIdle}

	base := serverMechanismBase(store, opts.APOP)
	secure := append([]string{}, base...)
	if !containsFold(secure, Plain) {
		secure = append(secure, Plain)
	}
	insecure := append([]string{}, base...)

	frags := parseFragments(opts.Filter)
	_, hasA := frags['A']
	_, hasD := frags['D']
	if hasA || hasD {
		secure = applyMechFilter(secure, frags['A'], frags['D'])
		insecure = applyMechFilter(insecure, frags['M'], frags['X'])
	} else {
		secure = applyMechFilter(secure, frags['M'], frags['X'])
		insecure = applyMechFilter(insecure, frags['M'], frags['X'])
	}
	s.secure, s.insecure = secure, insecure
	return s
}

// serverMechanismBase computes the full candidate mechanism list before
// any config filter is applied (spec.md §4.5): CRAM-X for every digest
// (restricted to state-capable digests unless a plaintext secret exists
// somewhere), APOP if enabled, and PLAIN/LOGIN if a plaintext secret
// exists.
func serverMechanismBase(store *secrets.Store, apop bool) []string {
	hasPlain := store.Contains("plain", "")
	requireState := !hasPlain

	list := append([]string{}, cram.HashTypes(cramPrefix, requireState)...)
	if apop {
		list = append(list, APOP)
	}
	if hasPlain {
		list = append(list, Plain, Login)
	}
	return list
}

// Mechanisms returns the advertised mechanism list for the given
// transport state (true once TLS is established).
func (s *ServerState) Mechanisms(secureTransport bool) []string {
	if secureTransport {
		return append([]string{}, s.secure...)
	}
	return append([]string{}, s.insecure...)
}

// SelectMechanism begins a dialog for the named mechanism, failing if it
// was not advertised for the given transport state.
func (s *ServerState) SelectMechanism(name string, secureTransport bool) error {
	list := s.insecure
	if secureTransport {
		list = s.secure
	}
	if !containsFold(list, name) {
		return &Error{Kind: KindNotFound, Mechanism: name, Message: "mechanism not offered"}
	}
	s.mechanism = strings.ToUpper(name)
	s.phase = phaseMechanismSelected
	s.firstApply = true
	s.challenge = ""
	s.id = ""
	s.authed = false
	if s.MustChallenge() {
		s.challenge = cram.Challenge(s.domain)
		s.phase = phaseChallenging
	}
	return nil
}

// MustChallenge reports whether the selected mechanism requires the
// server to issue a challenge before the client can respond (spec.md
// §4.5): true for APOP and CRAM-*, false for PLAIN/LOGIN.
func (s *ServerState) MustChallenge() bool {
	return strings.EqualFold(s.mechanism, APOP) || isCRAM(s.mechanism)
}

// Challenge returns the text to send the client for the current step.
func (s *ServerState) Challenge() string {
	switch {
	case strings.EqualFold(s.mechanism, Login):
		if s.firstApply {
			return "Username:"
		}
		return "Password:"
	case strings.EqualFold(s.mechanism, Plain):
		return ""
	default:
		return s.challenge
	}
}

// Apply consumes one client response, advancing the dialog. It never
// returns an error (spec.md §7): every failure funnels into
// Authenticated()==false, with a warning logged that names the mechanism
// and id but never the secret. The return values are the next challenge
// text (if any) and whether the dialog is finished.
func (s *ServerState) Apply(response string) (nextChallenge string, done bool) {
	switch {
	case strings.EqualFold(s.mechanism, Plain):
		s.applyPlain(response)
	case strings.EqualFold(s.mechanism, Login):
		s.applyLogin(response)
	case strings.EqualFold(s.mechanism, APOP), isCRAM(s.mechanism):
		s.applyCRAM(response)
	default:
		s.fail("unsupported mechanism")
	}
	return s.Challenge(), s.Done()
}

func (s *ServerState) applyPlain(response string) {
	parts := strings.SplitN(response, "\x00", 3)
	if len(parts) != 3 {
		s.fail("malformed PLAIN response")
		return
	}
	authcid, password := parts[1], parts[2]
	sec := s.store.ServerSecret("plain", authcid)
	plain, has := sec.Plain()
	if !sec.Valid() || !has || subtle.ConstantTimeCompare(plain, []byte(password)) != 1 {
		s.fail("credential mismatch")
		return
	}
	s.succeed(authcid)
}

func (s *ServerState) applyLogin(response string) {
	if s.firstApply {
		s.id = response
		s.firstApply = false
		s.phase = phaseAwaitingPassword
		return
	}
	sec := s.store.ServerSecret("plain", s.id)
	plain, has := sec.Plain()
	if !sec.Valid() || !has || subtle.ConstantTimeCompare(plain, []byte(response)) != 1 {
		s.fail("credential mismatch")
		return
	}
	s.succeed(s.id)
}

func (s *ServerState) applyCRAM(response string) {
	id := cram.ID(response)
	if id == "" {
		s.fail("malformed response")
		return
	}
	hashType, asHMAC := mechParams(s.mechanism)

	var sec secrets.Secret
	if asHMAC {
		sec = s.store.ServerSecret("cram-"+strings.ToLower(hashType), id)
	}
	if !sec.Valid() {
		sec = s.store.ServerSecret("plain", id)
	}
	if !sec.Valid() || !cram.Validate(hashType, asHMAC, sec, s.challenge, response) {
		s.fail("credential mismatch")
		return
	}
	s.succeed(id)
}

func (s *ServerState) fail(reason string) {
	s.authed = false
	s.phase = phaseFailed
	s.log.WithField("mechanism", s.mechanism).Warn("sasl: authentication failed: " + reason)
}

func (s *ServerState) succeed(id string) {
	s.id = id
	s.authed = true
	s.phase = phaseAuthenticated
	s.log.WithFields(logrus.Fields{"mechanism": s.mechanism, "id": id}).Info("sasl: authenticated")
}

// TrustBypass tries each address wildcard, longest match first as the
// caller ordered them, against side=server,type=none entries. On a match
// it sets Trusted()/ID() without running the SASL dialog (spec.md §4.5).
func (s *ServerState) TrustBypass(wildcards []string) bool {
	for _, w := range wildcards {
		t, ok := s.store.ServerTrust(w)
		if !ok || t.Trustee == "" {
			continue
		}
		s.trusted = true
		s.authed = true
		s.id = t.Trustee
		s.phase = phaseAuthenticated
		return true
	}
	return false
}

// Done reports whether the dialog has reached a terminal state.
func (s *ServerState) Done() bool {
	return s.phase == phaseAuthenticated || s.phase == phaseFailed
}

// Authenticated reports the dialog's outcome.
func (s *ServerState) Authenticated() bool { return s.authed }

// Trusted reports whether the session was authenticated via address-based
// trust bypass rather than a SASL dialog.
func (s *ServerState) Trusted() bool { return s.trusted }

// ID returns the authenticated (or trusted) id, empty until success.
func (s *ServerState) ID() string { return s.id }

// Mechanism returns the mechanism currently selected, empty before the
// first SelectMechanism call.
func (s *ServerState) Mechanism() string { return s.mechanism }

// Reset clears per-dialog state so the ServerState can be reused for a
// fresh AUTH attempt on the same connection.
func (s *ServerState) Reset() {
	s.authed = false
	s.trusted = false
	s.id = ""
	s.challenge = ""
	s.mechanism = ""
	s.firstApply = false
	s.phase = phaseIdle
}
