package sasl

import (
	"strings"

	"github.com/sirupsen/logrus"

	"zgo.at/emrelay/internal/cram"
	"zgo.at/emrelay/internal/digest"
	"zgo.at/emrelay/internal/secrets"
)

// ClientOptions configures a ClientState at construction (spec.md §4.6).
type ClientOptions struct {
	Filter string
	Logger logrus.FieldLogger
}

// Response is one client reply to a server challenge (spec.md §4.6).
type Response struct {
	// Text is the reply to send; for a Final response it is the
	// authentication response, otherwise an intermediate value (e.g. a
	// LOGIN username).
	Text string
	// Sensitive means the text must not be logged (it is, or derives
	// from, a credential).
	Sensitive bool
	// Error means the dialog cannot continue; the client should abort.
	Error bool
	// Final means this is the last response the client sends; the
	// server's next message is its decision.
	Final bool
}

// ClientState is a single connection's SASL client dialog: an ordered,
// preference list of candidate mechanisms, intersected with what the
// server advertises, that the client works through via Next.
type ClientState struct {
	store      *secrets.Store
	log        logrus.FieldLogger
	candidates []string
	lastID     string
	lastInfo   string
}

// NewClient builds a ClientState's candidate mechanism list from the
// secrets store (spec.md §4.6), strongest digest first, filtered by the
// same M:/X: config fragments the server understands.
func NewClient(store *secrets.Store, opts ClientOptions) *ClientState {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	base := clientMechanismBase(store)
	frags := parseFragments(opts.Filter)
	candidates := applyMechFilter(base, frags['M'], frags['X'])
	return &ClientState{store: store, log: log, candidates: candidates}
}

func clientMechanismBase(store *secrets.Store) []string {
	hasPlain := store.ClientSecret("plain", "").Valid()

	var list []string
	for _, name := range digest.Names(false) {
		unlocked := hasPlain
		if !unlocked {
			if sec := store.ClientSecret("cram-"+strings.ToLower(name), ""); sec.Valid() {
				if _, isMasked := sec.Masked(); isMasked {
					unlocked = digest.SupportsState(name)
				} else {
					unlocked = true
				}
			}
		}
		if unlocked {
			list = append(list, cramPrefix+name)
		}
	}
	if store.ClientSecret("oauth", "").Valid() {
		list = append(list, XOAuth2)
	}
	if hasPlain {
		list = append(list, Plain, Login)
	}
	return list
}

// Intersect narrows the candidate list to mechanisms the server
// advertised, preserving the client's own preference order.
func (c *ClientState) Intersect(serverAdvertised []string) {
	avail := upperSet(serverAdvertised)
	kept := make([]string, 0, len(c.candidates))
	for _, m := range c.candidates {
		if avail[strings.ToUpper(m)] {
			kept = append(kept, m)
		}
	}
	c.candidates = kept
}

// Mechanism returns the currently selected (head-of-list) mechanism, or
// "" if no candidates remain.
func (c *ClientState) Mechanism() string {
	if len(c.candidates) == 0 {
		return ""
	}
	return c.candidates[0]
}

// Next discards the current mechanism (it was rejected) and reports the
// new head, if any.
func (c *ClientState) Next() (string, bool) {
	if len(c.candidates) == 0 {
		return "", false
	}
	c.candidates = c.candidates[1:]
	if len(c.candidates) == 0 {
		return "", false
	}
	return c.candidates[0], true
}

// Respond computes the reply to the server's challenge text for the
// currently selected mechanism (spec.md §4.6).
func (c *ClientState) Respond(challenge string) Response {
	m := c.Mechanism()
	switch {
	case m == "":
		return Response{Error: true}

	case strings.EqualFold(m, Plain):
		sec := c.store.ClientSecret("plain", "")
		if !sec.Valid() {
			return Response{Error: true}
		}
		plain, _ := sec.Plain()
		c.lastID = sec.ID()
		return Response{Text: "\x00" + sec.ID() + "\x00" + string(plain), Sensitive: true, Final: true}

	case strings.EqualFold(m, Login):
		sec := c.store.ClientSecret("plain", "")
		if !sec.Valid() {
			return Response{Error: true}
		}
		switch challenge {
		case "Username:":
			c.lastID = sec.ID()
			return Response{Text: sec.ID()}
		case "Password:":
			plain, _ := sec.Plain()
			return Response{Text: string(plain), Sensitive: true, Final: true}
		default:
			return Response{Error: true}
		}

	case strings.EqualFold(m, APOP):
		sec := clientCramSecret(c.store, "MD5")
		resp := cram.Response("MD5", false, sec, challenge, sec.ID())
		if resp == "" {
			return Response{Error: true}
		}
		c.lastID = sec.ID()
		return Response{Text: resp, Final: true}

	case isCRAM(m):
		hashType := cramHashType(m)
		sec := clientCramSecret(c.store, hashType)
		resp := cram.Response(hashType, true, sec, challenge, sec.ID())
		if resp == "" {
			return Response{Error: true}
		}
		c.lastID = sec.ID()
		return Response{Text: resp, Final: true}

	case strings.EqualFold(m, XOAuth2):
		if challenge != "" {
			return Response{Text: ""}
		}
		sec := c.store.ClientSecret("oauth", "")
		if !sec.Valid() {
			return Response{Error: true}
		}
		plain, _ := sec.Plain()
		c.lastID = sec.ID()
		return Response{Text: string(plain), Sensitive: true, Final: true}

	default:
		return Response{Error: true}
	}
}

func clientCramSecret(store *secrets.Store, hashType string) secrets.Secret {
	if sec := store.ClientSecret("cram-"+strings.ToLower(hashType), ""); sec.Valid() {
		return sec
	}
	return store.ClientSecret("plain", "")
}

// InitialResponse computes the client-first response for mechanisms that
// support one (PLAIN, XOAUTH2), suppressing it if longer than limit
// (limit<=0 means unlimited). Server-first mechanisms (LOGIN, CRAM-*,
// APOP) always return ok=false.
func (c *ClientState) InitialResponse(limit int) (text string, ok bool) {
	m := c.Mechanism()
	if m == "" || strings.EqualFold(m, Login) || strings.EqualFold(m, APOP) || isCRAM(m) {
		return "", false
	}
	resp := c.Respond("")
	if resp.Error {
		return "", false
	}
	if limit > 0 && len(resp.Text) > limit {
		return "", false
	}
	return resp.Text, true
}

// LastID returns the identity used to compute the most recent final
// response, for post-hoc logging (spec.md §4.6); it never reveals the
// secret itself.
func (c *ClientState) LastID() string { return c.lastID }

// LastInfo returns the client's info string. Respond never sets it, so
// it is always empty; use LastID for the identity of the last response.
func (c *ClientState) LastInfo() string { return c.lastInfo }
