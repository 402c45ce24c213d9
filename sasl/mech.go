// Package sasl implements the SASL server and client state machines
// (spec.md §4.5, §4.6): mechanism negotiation, challenge/response dialog,
// and the allow/deny mechanism filter shared by both sides.
package sasl

import "strings"

// Mechanism name constants (spec.md §3). CRAM-X mechanisms are not fixed
// constants: they are built from the available digest names at runtime
// (see internal/digest.Names), prefixed with cramPrefix.
const (
	Plain   = "PLAIN"
	Login   = "LOGIN"
	APOP    = "APOP"
	XOAuth2 = "XOAUTH2"
)

const cramPrefix = "CRAM-"

func isCRAM(mechanism string) bool {
	return strings.HasPrefix(strings.ToUpper(mechanism), cramPrefix)
}

func cramHashType(mechanism string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.ToUpper(mechanism), cramPrefix))
}

// mechParams returns the digest name and whether HMAC framing applies for
// a CRAM-X or APOP mechanism (spec.md §4.3).
func mechParams(mechanism string) (hashType string, asHMAC bool) {
	if strings.EqualFold(mechanism, APOP) {
		return "MD5", false
	}
	return cramHashType(mechanism), true
}

func containsFold(list []string, name string) bool {
	for _, m := range list {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}
