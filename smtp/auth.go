package smtp

// Note: the Start/Next shape of Auth, and plainAuth/loginAuth below, were
// copied with modifications from net/smtp; CramAuth replaces the
// hand-rolled HMAC-MD5 that used to live here with the shared CRAM
// engine so it can speak any registered digest, not just MD5.

import (
	"bytes"
	"errors"
	"strings"

	"zgo.at/emrelay/internal/cram"
)

// Common SASL errors.
var (
	ErrUnexpectedAuthResponse    = errors.New("sasl: unexpected client response")
	ErrUnexpectedServerChallenge = errors.New("sasl: unexpected server challenge")
)

// Auth interface to perform challenge-response authentication.
type Auth interface {
	// Begins SASL authentication with the server. It returns the
	// authentication mechanism name and "initial response" data (if required by
	// the selected mechanism). A non-nil error causes the client to abort the
	// authentication attempt.
	//
	// A nil ir value is different from a zero-length value. The nil value
	// indicates that the selected mechanism does not use an initial response,
	// while a zero-length value indicates an empty initial response, which must
	// be sent to the server.
	Start() (mech string, ir []byte, err error)

	// Continues challenge-response authentication. A non-nil error causes
	// the client to abort the authentication attempt.
	Next(challenge []byte) (response []byte, err error)
}

type plainAuth struct{ Identity, Username, Password string }

func (a *plainAuth) Start() (mech string, ir []byte, err error) {
	return "PLAIN", []byte(a.Identity + "\x00" + a.Username + "\x00" + a.Password), nil
}

func (a *plainAuth) Next(challenge []byte) (response []byte, err error) {
	return nil, ErrUnexpectedServerChallenge
}

// PlainAuth implements the PLAIN authentication mechanism as described in RFC
// 4616. Authorization identity may be left blank to indicate that it is the
// same as the username.
func PlainAuth(identity, username, password string) Auth {
	return &plainAuth{identity, username, password}
}

type loginAuth struct{ Username, Password string }

func (a *loginAuth) Start() (mech string, ir []byte, err error) {
	return "LOGIN", []byte(a.Username), nil
}

func (a *loginAuth) Next(challenge []byte) (response []byte, err error) {
	if !bytes.Equal(challenge, []byte("Password:")) {
		return nil, ErrUnexpectedServerChallenge
	}
	return []byte(a.Password), nil
}

// LoginAuth implements of the LOGIN authentication mechanism as described in
// http://www.iana.org/go/draft-murchison-sasl-login
func LoginAuth(username, password string) Auth {
	return &loginAuth{username, password}
}

// plainSecret adapts a bare password string to internal/cram.Secret so
// cramAuth can drive the shared CRAM engine instead of keying its own
// digest by hand.
type plainSecret struct{ password string }

func (s plainSecret) HashFunction() string   { return "" }
func (s plainSecret) Plain() ([]byte, bool)  { return []byte(s.password), true }
func (s plainSecret) Masked() ([]byte, bool) { return nil, false }

type cramAuth struct{ HashType, Username, Secret string }

func (a *cramAuth) Start() (mech string, ir []byte, err error) {
	return "CRAM-" + a.HashType, nil, nil
}

func (a *cramAuth) Next(challenge []byte) (response []byte, err error) {
	resp := cram.Response(a.HashType, true, plainSecret{a.Secret}, string(challenge), a.Username)
	if resp == "" {
		return nil, errors.New("sasl: unable to compute CRAM-" + a.HashType + " response")
	}
	return []byte(resp), nil
}

// CramAuth implements the CRAM-X authentication mechanisms (RFC 2195),
// parameterized by the digest name ("MD5", "SHA1", "SHA256", ...).
func CramAuth(hashType, username, secret string) Auth {
	return &cramAuth{HashType: strings.ToUpper(hashType), Username: username, Secret: secret}
}

// CramMD5Auth implements the CRAM-MD5 authentication mechanism, as described in
// RFC 2195.
//
// The returned Auth uses the given username and secret to authenticate to the
// server using the challenge-response mechanism.
func CramMD5Auth(username, secret string) Auth {
	return CramAuth("MD5", username, secret)
}

type xoauth2Auth struct{ Username, Token string }

func (a *xoauth2Auth) Start() (mech string, ir []byte, err error) {
	return "XOAUTH2", []byte(a.Token), nil
}

func (a *xoauth2Auth) Next(challenge []byte) (response []byte, err error) {
	// A non-empty challenge here means the server rejected the bearer
	// token and sent back an informational JSON error blob (RFC-named in
	// the XOAUTH2 draft); the client has nothing useful to answer with.
	return nil, ErrUnexpectedServerChallenge
}

// XOAuth2Auth implements the XOAUTH2 mechanism used by OAuth2-authenticated
// mail providers: token is the bearer token, already fetched and valid.
func XOAuth2Auth(username, token string) Auth {
	return &xoauth2Auth{username, token}
}
