package smtp_test

import (
	"bytes"
	"testing"

	"zgo.at/emrelay/smtp"
)

func TestPlainAuth(t *testing.T) {
	c := smtp.PlainAuth("identity", "username", "password")

	mech, ir, err := c.Start()
	if err != nil {
		t.Fatal("Error while starting client:", err)
	}
	if mech != "PLAIN" {
		t.Error("Invalid mechanism name:", mech)
	}

	expected := []byte{105, 100, 101, 110, 116, 105, 116, 121, 0, 117, 115, 101, 114, 110, 97, 109, 101, 0, 112, 97, 115, 115, 119, 111, 114, 100}
	if !bytes.Equal(ir, expected) {
		t.Error("Invalid initial response:", ir)
	}
}

func TestLoginAuth(t *testing.T) {
	c := smtp.LoginAuth("username", "Password:")

	mech, resp, err := c.Start()
	if err != nil {
		t.Fatal("Error while starting client:", err)
	}
	if mech != "LOGIN" {
		t.Error("Invalid mechanism name:", mech)
	}

	expected := []byte{117, 115, 101, 114, 110, 97, 109, 101}
	if !bytes.Equal(resp, expected) {
		t.Error("Invalid initial response:", resp)
	}

	_, err = c.Next(expected)
	if err != smtp.ErrUnexpectedServerChallenge {
		t.Error("Invalid chalange")
	}

	expected = []byte("Password:")
	resp, err = c.Next(expected)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, expected) {
		t.Error("Invalid initial response:", resp)
	}
}

// RFC 2195 §3 worked example, reused here to check CramMD5Auth drives the
// shared CRAM engine correctly.
func TestCramMD5Auth(t *testing.T) {
	c := smtp.CramMD5Auth("tim", "tanstaaftanstaaf")

	mech, ir, err := c.Start()
	if err != nil {
		t.Fatal(err)
	}
	if mech != "CRAM-MD5" {
		t.Error("Invalid mechanism name:", mech)
	}
	if ir != nil {
		t.Error("CRAM-MD5 has no initial response")
	}

	resp, err := c.Next([]byte("<1896.697170952@postoffice.reston.mci.net>"))
	if err != nil {
		t.Fatal(err)
	}
	want := "tim b913a602c7eda7a495b4e6e7334d3890"
	if string(resp) != want {
		t.Errorf("got %q, want %q", resp, want)
	}
}

func TestCramAuthOtherDigest(t *testing.T) {
	c := smtp.CramAuth("sha1", "alice", "pencil")
	mech, _, err := c.Start()
	if err != nil {
		t.Fatal(err)
	}
	if mech != "CRAM-SHA1" {
		t.Error("Invalid mechanism name:", mech)
	}
	resp, err := c.Next([]byte("<1.2@host>"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(resp, []byte("alice ")) {
		t.Errorf("response missing id prefix: %q", resp)
	}
}

func TestXOAuth2Auth(t *testing.T) {
	c := smtp.XOAuth2Auth("alice", "bearer-token")
	mech, ir, err := c.Start()
	if err != nil {
		t.Fatal(err)
	}
	if mech != "XOAUTH2" {
		t.Error("Invalid mechanism name:", mech)
	}
	if string(ir) != "bearer-token" {
		t.Errorf("got %q", ir)
	}
	if _, err := c.Next([]byte(`{"status":"401"}`)); err != smtp.ErrUnexpectedServerChallenge {
		t.Error("expected ErrUnexpectedServerChallenge on a non-empty challenge")
	}
}
