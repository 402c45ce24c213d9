// Package secrets loads and looks up the credential records described in
// spec.md §3–§4.4: a text file of "<side> <type> <id-or-wildcard> <payload>"
// lines, parsed once into an immutable, read-only lookup table.
package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNotFound is never returned by a lookup method directly (they return
// the invalid zero Secret instead, per spec.md §4.4); it is exposed for
// callers that want to turn a missing lookup into an error of their own.
var ErrNotFound = errors.New("secrets: no matching entry")

// ErrParseError is returned by Load for a malformed line: wrong field
// count, or bad base64/xtext.
var ErrParseError = errors.New("secrets: malformed line")

// Secret is a single credential record (spec.md §3). The zero Secret is the
// "invalid" sentinel a failed lookup returns; it tests false under Valid.
type Secret struct {
	side   string // "server" or "client"
	typ    string // "plain", "md5", "cram-sha1", ..., "none", "oauth"
	id     string // decoded id, or the address wildcard for type=none
	plain  []byte
	masked []byte
	trust  Trust
	valid  bool
}

// Trust is the payload of a side=server,type=none row: a trustee tag and a
// free-text description, returned together by ServerTrust (spec.md §4.4,
// and SPEC_FULL.md's supplemental Trust type).
type Trust struct {
	Trustee string
	Context string
}

// Valid reports whether this is a real record (as opposed to the sentinel
// a missed lookup returns).
func (s Secret) Valid() bool { return s.valid }

// Type returns the secret's mechanism/type tag, lower-case.
func (s Secret) Type() string { return s.typ }

// ID returns the decoded id (or address wildcard, for type=none).
func (s Secret) ID() string { return s.id }

// HashFunction returns the secret's hash algorithm name, upper-cased,
// empty for plaintext/oauth/none secrets. Satisfies internal/cram.Secret.
func (s Secret) HashFunction() string {
	if !strings.HasPrefix(s.typ, "cram-") {
		return ""
	}
	return strings.ToUpper(strings.TrimPrefix(s.typ, "cram-"))
}

// Plain returns the plaintext payload, if this secret carries one.
// Satisfies internal/cram.Secret.
func (s Secret) Plain() ([]byte, bool) { return s.plain, s.plain != nil }

// Masked returns the masked (inner||outer intermediate state) payload, if
// this secret is masked. Satisfies internal/cram.Secret.
func (s Secret) Masked() ([]byte, bool) { return s.masked, s.masked != nil }

// TrustInfo returns the trust tag and context description for a
// side=server,type=none secret; the zero Trust otherwise.
func (s Secret) TrustInfo() Trust { return s.trust }

// invalid is the sentinel returned by a missed lookup.
var invalid = Secret{}

// Store is an immutable, read-only lookup table loaded from a secrets
// file. A *Store is safe for concurrent use by multiple SASL sessions
// (spec.md §5); reloading produces a new *Store rather than mutating one
// in place.
type Store struct {
	server map[string]Secret // "<mechanism>:<id>"
	client map[string]Secret // "<mechanism> client"
	trust  map[string]Secret // "NONE:<wildcard>"
}

// Load reads and parses a secrets file (spec.md §6). Comments begin with
// '#'; blank lines are skipped. Duplicate keys: last write wins.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Store, error) {
	st := &Store{
		server: map[string]Secret{},
		client: map[string]Secret{},
		trust:  map[string]Secret{},
	}

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		sec, err := parseLine(text)
		if err != nil {
			return nil, fmt.Errorf("secrets: line %d: %w", line, err)
		}
		st.insert(sec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return st, nil
}

func parseLine(line string) (Secret, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Secret{}, fmt.Errorf("%w: want at least 4 fields, got %d", ErrParseError, len(fields))
	}
	side := strings.ToLower(fields[0])
	if side != "server" && side != "client" {
		return Secret{}, fmt.Errorf("%w: side must be server or client, got %q", ErrParseError, fields[0])
	}
	typeTag := strings.ToLower(fields[1])
	idField, payloadField := fields[2], fields[3]
	if typeTag != "none" && len(fields) != 4 {
		return Secret{}, fmt.Errorf("%w: want exactly 4 fields, got %d", ErrParseError, len(fields))
	}

	sec := Secret{side: side, valid: true}

	switch typeTag {
	case "none":
		if side != "server" {
			return Secret{}, fmt.Errorf("%w: type=none is only valid for side=server", ErrParseError)
		}
		sec.typ = "none"
		sec.id = idField // address wildcard, used verbatim
		sec.trust = Trust{Trustee: payloadField, Context: strings.Join(fields[4:], " ")}
		return sec, nil

	case "plain:b":
		id, err := base64Decode(idField)
		if err != nil {
			return Secret{}, fmt.Errorf("%w: id: %v", ErrParseError, err)
		}
		payload, err := base64Decode(payloadField)
		if err != nil {
			return Secret{}, fmt.Errorf("%w: payload: %v", ErrParseError, err)
		}
		sec.typ = "plain"
		sec.id = string(id)
		sec.plain = payload
		return sec, nil

	case "plain", "md5", "oauth":
		id, err := xtextDecode(idField)
		if err != nil {
			return Secret{}, fmt.Errorf("%w: id: %v", ErrParseError, err)
		}
		payload, err := xtextDecode(payloadField)
		if err != nil {
			return Secret{}, fmt.Errorf("%w: payload: %v", ErrParseError, err)
		}
		sec.typ = typeTag
		sec.id = id
		sec.plain = []byte(payload)
		return sec, nil

	default:
		if !strings.HasPrefix(typeTag, "cram-") {
			return Secret{}, fmt.Errorf("%w: unknown type %q", ErrParseError, fields[1])
		}
		id, err := xtextDecode(idField)
		if err != nil {
			return Secret{}, fmt.Errorf("%w: id: %v", ErrParseError, err)
		}
		masked, err := base64Decode(payloadField)
		if err != nil {
			return Secret{}, fmt.Errorf("%w: payload: %v", ErrParseError, err)
		}
		if len(masked)%2 != 0 || len(masked) == 0 {
			return Secret{}, fmt.Errorf("%w: masked payload must have even, non-zero length", ErrParseError)
		}
		sec.typ = typeTag
		sec.id = id
		sec.masked = masked
		return sec, nil
	}
}

func (st *Store) insert(s Secret) {
	switch {
	case s.typ == "none":
		st.trust["NONE:"+s.id] = s
	case s.side == "client":
		st.client[s.typ+" client"] = s
	default:
		st.server[s.typ+":"+s.id] = s
	}
}

// Contains reports whether a server secret of the given type exists,
// optionally narrowed to a specific id.
func (st *Store) Contains(typ, id string) bool {
	typ = strings.ToLower(typ)
	if id == "" {
		for k := range st.server {
			if strings.HasPrefix(k, typ+":") {
				return true
			}
		}
		return false
	}
	_, ok := st.server[typ+":"+id]
	return ok
}

// ClientSecret looks up the (at most one) client secret of the given type.
// selector is reserved for a future multi-identity file format; the
// current one-entry-per-mechanism grammar (spec.md §4.4) never needs it.
func (st *Store) ClientSecret(typ, selector string) Secret {
	_ = selector
	if s, ok := st.client[strings.ToLower(typ)+" client"]; ok {
		return s
	}
	return invalid
}

// ServerSecret looks up a server secret by (type, id).
func (st *Store) ServerSecret(typ, id string) Secret {
	if s, ok := st.server[strings.ToLower(typ)+":"+id]; ok {
		return s
	}
	return invalid
}

// ServerTrust looks up a side=server,type=none entry by exact address
// wildcard. The caller is responsible for trying progressively shorter
// wildcards (spec.md §4.5's "longest to shortest match").
func (st *Store) ServerTrust(wildcard string) (Trust, bool) {
	s, ok := st.trust["NONE:"+wildcard]
	if !ok {
		return Trust{}, false
	}
	return s.trust, true
}

// FormatLine renders one secrets-file line for a masked (cram-<hash>)
// credential, in the xtext/base64 encoding Load expects: "<side>
// cram-<hash> <id> <base64>". It's the offline counterpart to Load,
// used by the mask operation (spec.md §3) to hand the operator a line
// ready to paste into the secrets file.
func FormatLine(side, typ, id string, maskedPayload []byte) string {
	return fmt.Sprintf("%s %s %s %s", side, typ, xtextEncode(id), base64Encode(maskedPayload))
}
