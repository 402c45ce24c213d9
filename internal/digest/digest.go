// Package digest implements the digest-primitive abstraction SASL's CRAM and
// HMAC engines are built on (spec.md §4.1): a small capability set
// (New/Add/Value, plus the optional State/NewWithState pair that masked-key
// authentication needs) backed by a registry so algorithms beyond the
// built-in MD5 can be supplied by an external crypto library.
package digest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Digest is a running hash computation.
type Digest interface {
	// Add appends p to the data processed so far.
	Add(p []byte)

	// Value returns the digest of the data seen so far. It does not mutate
	// the receiver; further Add calls may follow.
	Value() []byte

	// BlockSize is the algorithm's block size in bytes (used by HMAC's key
	// padding, RFC-2104).
	BlockSize() int

	// ValueSize is the length in bytes of Value's result.
	ValueSize() int
}

// Stateful is implemented by a Digest that can capture and later restore its
// intermediate state after a whole number of blocks. This is the
// prerequisite for masked-key HMAC (spec.md §4.2): a server can store the
// inner/outer intermediate states produced by mask() instead of the
// plaintext shared secret.
type Stateful interface {
	Digest

	// State returns the encoded intermediate state. The built-in MD5 only
	// allows this when the number of bytes added so far is a multiple of
	// BlockSize and otherwise returns ErrInvalidState; the external digests
	// return whatever their BinaryMarshaler encodes, at any point, or
	// ErrNoState if the hash has no marshaler.
	State() ([]byte, error)
}

// Errors returned by this package. CRAM and SASL map these onto the error
// kinds from spec.md §7.
var (
	// ErrUnknownDigest is returned by New/NewWithState for a name this
	// process has never heard of.
	ErrUnknownDigest = errors.New("digest: unknown algorithm")

	// ErrNoTls is returned by New/NewWithState for a name that is known but
	// not registered because the external crypto library providing it
	// wasn't built in (build tag emrelay_notls).
	ErrNoTls = errors.New("digest: algorithm requires an external crypto library that was not loaded")

	// ErrNoState is returned by NewWithState when the algorithm is
	// registered but does not support intermediate-state initialization.
	ErrNoState = errors.New("digest: algorithm does not support intermediate state")

	// ErrInvalidState is returned by NewWithState (wrong length) or State
	// (called mid-block).
	ErrInvalidState = errors.New("digest: invalid state")
)

type factory struct {
	name         string
	rank         int // lower sorts first ("strongest first")
	new          func() Digest
	newWithState func([]byte) (Digest, error) // nil if unsupported
	stateSize    int
}

var registry = map[string]*factory{}

// externalNames lists algorithms this package knows the name of but only
// registers when the external-crypto build tag is active; used to tell
// ErrNoTls apart from ErrUnknownDigest.
var externalNames = map[string]bool{
	"SHA256":   true,
	"SHA1":     true,
	"SHA3-256": true,
}

func register(name string, rank int, new func() Digest, newWithState func([]byte) (Digest, error), stateSize int) {
	registry[strings.ToUpper(name)] = &factory{
		name: strings.ToUpper(name), rank: rank, new: new,
		newWithState: newWithState, stateSize: stateSize,
	}
}

// New returns a fresh Digest for the named algorithm. Lookup is
// case-insensitive.
func New(name string) (Digest, error) {
	f, ok := registry[strings.ToUpper(name)]
	if !ok {
		if externalNames[strings.ToUpper(name)] {
			return nil, fmt.Errorf("digest: %s: %w", name, ErrNoTls)
		}
		return nil, fmt.Errorf("digest: %s: %w", name, ErrUnknownDigest)
	}
	return f.new(), nil
}

// NewWithState restores a Digest from a previously captured intermediate
// state (see Stateful.State).
func NewWithState(name string, state []byte) (Digest, error) {
	f, ok := registry[strings.ToUpper(name)]
	if !ok {
		if externalNames[strings.ToUpper(name)] {
			return nil, fmt.Errorf("digest: %s: %w", name, ErrNoTls)
		}
		return nil, fmt.Errorf("digest: %s: %w", name, ErrUnknownDigest)
	}
	if f.newWithState == nil {
		return nil, fmt.Errorf("digest: %s: %w", name, ErrNoState)
	}
	return f.newWithState(state)
}

// SupportsState reports whether the named, registered algorithm supports
// intermediate-state initialization. It returns false for unregistered
// names too (callers that care about NoTls vs NoState should call New
// first).
func SupportsState(name string) bool {
	f, ok := registry[strings.ToUpper(name)]
	return ok && f.newWithState != nil
}

// Names returns the available digest names, strongest first, optionally
// filtered to those that support intermediate-state initialization
// (spec.md §4.3 hash_types). MD5 is always included.
func Names(requireState bool) []string {
	var names []string
	for _, f := range registry {
		if requireState && f.newWithState == nil {
			continue
		}
		names = append(names, f.name)
	}
	sort.Slice(names, func(i, j int) bool {
		return registry[names[i]].rank < registry[names[j]].rank
	})
	return names
}
