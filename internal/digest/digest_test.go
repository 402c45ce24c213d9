package digest

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

// RFC 1321 §A.5 test suite.
func TestMD5Vectors(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"a", "0cc175b9c0f1b6a831c399e269772661"},
		{"abc", "900150983cd24fb0d6963f7d28e17f72"},
		{"message digest", "f96b697d7cb7938d525a2f31aaf161d0"},
		{"abcdefghijklmnopqrstuvwxyz", "c3fcd3d76192e4007dfb496cca67e13b"},
		{"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789",
			"d174ab98d277d9f5a5611c2c9f419d9f"},
		{strings.Repeat("1234567890", 8), "57edf4a22be3c955ac49da2e2107b67a"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d := NewMD5()
			d.Add([]byte(tt.in))
			got := hex.EncodeToString(d.Value())
			if got != tt.want {
				t.Errorf("MD5(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestMD5Incremental(t *testing.T) {
	msg := []byte("The quick brown fox jumps over the lazy dog")

	whole := NewMD5()
	whole.Add(msg)

	split := NewMD5()
	split.Add(msg[:10])
	split.Add(msg[10:])

	if !bytes.Equal(whole.Value(), split.Value()) {
		t.Error("incremental Add produced a different digest than one-shot Add")
	}
}

func TestMD5StateRoundTrip(t *testing.T) {
	// 64 bytes exactly so State() is valid (a whole block has been
	// consumed), then continue and compare against one continuous Add.
	block := bytes.Repeat([]byte{'x'}, 64)
	rest := []byte("tail data after the first block")

	whole := NewMD5()
	whole.Add(block)
	whole.Add(rest)
	want := whole.Value()

	first := NewMD5()
	first.Add(block)
	state, err := first.(Stateful).State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}

	resumed, err := NewMD5WithState(state)
	if err != nil {
		t.Fatalf("NewMD5WithState: %v", err)
	}
	resumed.Add(rest)
	got := resumed.Value()

	if !bytes.Equal(got, want) {
		t.Errorf("resumed digest = %x, want %x", got, want)
	}
}

func TestMD5StateMidBlockRejected(t *testing.T) {
	d := NewMD5()
	d.Add([]byte("not a multiple of the block size"))
	if _, err := d.(Stateful).State(); err != ErrInvalidState {
		t.Errorf("State() mid-block: got %v, want ErrInvalidState", err)
	}
}

func TestNewUnknownDigest(t *testing.T) {
	_, err := New("ROT13")
	if err == nil {
		t.Fatal("expected an error for an unknown digest")
	}
}

func TestNamesAlwaysIncludesMD5(t *testing.T) {
	found := false
	for _, n := range Names(false) {
		if n == "MD5" {
			found = true
		}
	}
	if !found {
		t.Error("Names() must always include MD5")
	}
}

func TestCaseInsensitiveLookup(t *testing.T) {
	a, err := New("md5")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("MD5")
	if err != nil {
		t.Fatal(err)
	}
	a.Add([]byte("hello"))
	b.Add([]byte("hello"))
	if !bytes.Equal(a.Value(), b.Value()) {
		t.Error("case-insensitive lookups should be equivalent")
	}
}
