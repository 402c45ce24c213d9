// Package cram implements the CRAM engine (RFC 2195): challenge
// generation, response construction and validation, and the digest-name
// negotiation CRAM-* mechanisms and APOP share (spec.md §4.3).
package cram

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"zgo.at/emrelay/internal/digest"
	"zgo.at/emrelay/internal/saslhmac"
)

// Secret is the minimal view CRAM needs of a credential; internal/secrets'
// Secret type satisfies it without either package importing the other.
type Secret interface {
	// HashFunction is the secret's hash algorithm name, empty for
	// plaintext secrets.
	HashFunction() string

	// Plain returns the plaintext payload, if this secret carries one.
	Plain() ([]byte, bool)

	// Masked returns the masked (inner||outer intermediate state)
	// payload, if this secret is masked.
	Masked() ([]byte, bool)
}

// Clock and Rand are overridable for tests; production code leaves them at
// their defaults (time.Now, crypto/rand).
var (
	Clock = func() time.Time { return time.Now() }
	Rand  = func() uint64 {
		n, err := rand.Int(rand.Reader, big.NewInt(0).SetUint64(1<<62))
		if err != nil {
			// crypto/rand failing is a misconfigured kernel, not something
			// a mail server should silently paper over with a weaker
			// source; see spec.md §5 ("randomness must come from a
			// non-predictable source").
			panic("cram: crypto/rand unavailable: " + err.Error())
		}
		return n.Uint64()
	}
)

// Challenge formats a fresh CRAM/APOP challenge: <N.T@domain> where N is a
// non-predictable integer and T is the current Unix second count (spec.md
// §3, §4.3). If domain is empty, the local hostname is used.
func Challenge(domain string) string {
	if domain == "" {
		domain = localDomain()
	}
	return fmt.Sprintf("<%d.%d@%s>", Rand(), Clock().Unix(), domain)
}

func localDomain() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

// Response computes "idPrefix hex(H)" for the given mechanism parameters
// (spec.md §4.3). Any failure (mismatched digest, a masked secret used
// non-HMAC, an unavailable digest, ...) returns the empty string; the
// caller treats an empty response as authentication-refused.
func Response(hashType string, asHMAC bool, secret Secret, challenge, idPrefix string) string {
	sum, err := computeHash(hashType, asHMAC, secret, challenge)
	if err != nil {
		return ""
	}
	return idPrefix + " " + saslhmac.Printable(sum)
}

func computeHash(hashType string, asHMAC bool, secret Secret, challenge string) ([]byte, error) {
	masked, isMasked := secret.Masked()
	plain, isPlain := secret.Plain()

	switch {
	case asHMAC && isMasked:
		if secret.HashFunction() != "" && !strings.EqualFold(secret.HashFunction(), hashType) {
			return nil, ErrMismatch
		}
		return saslhmac.Masked(hashType, masked, []byte(challenge))

	case asHMAC && isPlain:
		return saslhmac.Plain(hashType, plain, []byte(challenge))

	case !asHMAC && isMasked:
		// A masked secret only ever holds HMAC intermediate state; it
		// cannot produce a bare (non-HMAC) digest like APOP needs.
		return nil, ErrBadType

	case !asHMAC && isPlain:
		d, err := digest.New(hashType)
		if err != nil {
			return nil, err
		}
		d.Add([]byte(challenge))
		d.Add(plain)
		return d.Value(), nil

	default:
		return nil, ErrBadType
	}
}

// Validate recomputes the response for challenge and compares it, byte
// exact, to the tail of responseIn (the text after the last space). An
// empty expected response (any internal failure) is always rejected.
func Validate(hashType string, asHMAC bool, secret Secret, challenge, responseIn string) bool {
	_, gotHex := splitLastSpace(responseIn)
	if gotHex == "" {
		return false
	}
	sum, err := computeHash(hashType, asHMAC, secret, challenge)
	if err != nil {
		return false
	}
	want := saslhmac.Printable(sum)
	return subtle.ConstantTimeCompare([]byte(want), []byte(gotHex)) == 1
}

// ID returns the substring of response before the last space ("" if there
// is none).
func ID(response string) string {
	id, _ := splitLastSpace(response)
	return id
}

func splitLastSpace(s string) (head, tail string) {
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return "", ""
	}
	return s[:i], s[i+1:]
}

// HashTypes returns the available digest names, strongest first, each
// joined to prefix (e.g. "CRAM-"), optionally filtered to those that
// support intermediate-state initialization (spec.md §4.3). MD5 is always
// included.
func HashTypes(prefix string, requireState bool) []string {
	names := digest.Names(requireState)
	if prefix == "" {
		return names
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + n
	}
	return out
}
