package secrets

import (
	"strings"
	"testing"

	"zgo.at/emrelay/internal/cram"
	"zgo.at/emrelay/internal/saslhmac"
)

func TestXtextRoundTrip(t *testing.T) {
	cases := []string{"", "plain", "a+b=c", "has space", "tab\ttab"}
	for _, c := range cases {
		enc := xtextEncode(c)
		if strings.ContainsRune(enc, ' ') {
			t.Errorf("encoded form of %q still contains a space: %q", c, enc)
		}
		dec, err := xtextDecode(enc)
		if err != nil {
			t.Fatalf("%q: %v", c, err)
		}
		if dec != c {
			t.Errorf("round trip: got %q, want %q", dec, c)
		}
	}
}

func TestXtextDecodeTruncated(t *testing.T) {
	if _, err := xtextDecode("abc+1"); err == nil {
		t.Error("expected an error for a truncated escape")
	}
}

func TestParsePlainServerSecret(t *testing.T) {
	st, err := parse(strings.NewReader("server plain alice pencil\n"))
	if err != nil {
		t.Fatal(err)
	}
	s := st.ServerSecret("plain", "alice")
	if !s.Valid() {
		t.Fatal("expected a match")
	}
	plain, ok := s.Plain()
	if !ok || string(plain) != "pencil" {
		t.Errorf("got %q, ok=%v", plain, ok)
	}
}

func TestParseClientSecret(t *testing.T) {
	st, err := parse(strings.NewReader("client plain ignored pencil\n"))
	if err != nil {
		t.Fatal(err)
	}
	s := st.ClientSecret("plain", "")
	if !s.Valid() {
		t.Fatal("expected a match")
	}
	plain, _ := s.Plain()
	if string(plain) != "pencil" {
		t.Errorf("got %q", plain)
	}
}

func TestParseComments(t *testing.T) {
	st, err := parse(strings.NewReader("# a comment\n\nserver plain alice pencil\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !st.ServerSecret("plain", "alice").Valid() {
		t.Error("comment/blank lines should be skipped, not break parsing")
	}
}

func TestParsePlainBase64(t *testing.T) {
	// "alice" -> YWxpY2U=, "pencil" -> cGVuY2ls
	st, err := parse(strings.NewReader("server plain:b YWxpY2U= cGVuY2ls\n"))
	if err != nil {
		t.Fatal(err)
	}
	s := st.ServerSecret("plain", "alice")
	if !s.Valid() {
		t.Fatal("expected a match keyed by the decoded id")
	}
	plain, _ := s.Plain()
	if string(plain) != "pencil" {
		t.Errorf("got %q", plain)
	}
}

func TestParseCramMasked(t *testing.T) {
	masked, err := saslhmac.Mask("MD5", []byte("pencil"))
	if err != nil {
		t.Fatal(err)
	}
	line := "server cram-md5 alice " + base64Encode(masked) + "\n"
	st, err := parse(strings.NewReader(line))
	if err != nil {
		t.Fatal(err)
	}
	s := st.ServerSecret("cram-md5", "alice")
	if !s.Valid() {
		t.Fatal("expected a match")
	}
	if s.HashFunction() != "MD5" {
		t.Errorf("got hash function %q", s.HashFunction())
	}
	got, ok := s.Masked()
	if !ok {
		t.Fatal("expected a masked payload")
	}
	if string(got) != string(masked) {
		t.Error("masked payload round trip mismatch")
	}
}

func TestParseServerNone(t *testing.T) {
	st, err := parse(strings.NewReader("server none 192.168.1.* trusted\n"))
	if err != nil {
		t.Fatal(err)
	}
	trust, ok := st.ServerTrust("192.168.1.*")
	if !ok {
		t.Fatal("expected a match")
	}
	if trust.Trustee != "trusted" {
		t.Errorf("got trustee %q", trust.Trustee)
	}
	if _, ok := st.ServerTrust("10.0.0.*"); ok {
		t.Error("unrelated wildcard should not match")
	}
}

func TestParseRejectsWrongFieldCount(t *testing.T) {
	if _, err := parse(strings.NewReader("server plain alice\n")); err == nil {
		t.Error("expected a parse error for a 3-field line")
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	if _, err := parse(strings.NewReader("server bogus alice x\n")); err == nil {
		t.Error("expected a parse error for an unknown type")
	}
}

func TestParseRejectsClientNone(t *testing.T) {
	if _, err := parse(strings.NewReader("client none alice x\n")); err == nil {
		t.Error("type=none is only valid for side=server")
	}
}

func TestLastWriteWins(t *testing.T) {
	st, err := parse(strings.NewReader("server plain alice first\nserver plain alice second\n"))
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := st.ServerSecret("plain", "alice").Plain()
	if string(plain) != "second" {
		t.Errorf("got %q, want last entry to win", plain)
	}
}

func TestMissingLookupReturnsInvalidSecret(t *testing.T) {
	st, err := parse(strings.NewReader("server plain alice pencil\n"))
	if err != nil {
		t.Fatal(err)
	}
	s := st.ServerSecret("plain", "bob")
	if s.Valid() {
		t.Error("expected the invalid sentinel for a missing id")
	}
	if _, ok := s.Plain(); ok {
		t.Error("invalid secret should not claim a plaintext payload")
	}
}

func TestContains(t *testing.T) {
	st, err := parse(strings.NewReader("server plain alice pencil\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !st.Contains("plain", "alice") {
		t.Error("expected Contains to find the exact id")
	}
	if !st.Contains("plain", "") {
		t.Error("expected Contains with no id to find any plain secret")
	}
	if st.Contains("plain", "bob") {
		t.Error("did not expect a match for an unknown id")
	}
}

func TestFormatLineRoundTripsThroughParse(t *testing.T) {
	masked := []byte{0x01, 0x02, 0x03, 0x04}
	line := FormatLine("server", "cram-md5", "al ice", masked)
	st, err := parse(strings.NewReader(line + "\n"))
	if err != nil {
		t.Fatalf("FormatLine produced an unparsable line %q: %v", line, err)
	}
	sec := st.ServerSecret("cram-md5", "al ice")
	if !sec.Valid() {
		t.Fatal("expected the formatted line to round-trip to a valid secret")
	}
	got, ok := sec.Masked()
	if !ok || string(got) != string(masked) {
		t.Errorf("got masked=%x, want %x", got, masked)
	}
}

// Secret must satisfy cram.Secret without either package importing the
// other (see internal/cram.Secret's doc comment).
var _ cram.Secret = Secret{}
