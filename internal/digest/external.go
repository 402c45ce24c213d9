//go:build !emrelay_notls

package digest

// Registers the algorithms that come from an external crypto library:
// stdlib crypto/sha1 and crypto/sha256 (both part of the Go distribution but
// treated here the way spec.md's "external crypto library" is treated,
// since MD5 is this module's only dependency-free algorithm) plus
// golang.org/x/crypto/sha3, the teacher's crypto dependency re-tasked from
// OpenPGP signing to digest supply (see DESIGN.md).
//
// Building with -tags emrelay_notls omits this file entirely, so the
// registry only contains MD5 and any mechanism needing SHA-1/SHA-256/SHA3
// fails with ErrNoTls — mirroring the teacher's sign.go/sign_dummy.go split
// for "golang.org/x/crypto present or absent".

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding"
	"hash"

	"golang.org/x/crypto/sha3"
)

// hashDigest adapts a stdlib/x-crypto hash.Hash to the Digest interface,
// using encoding.BinaryMarshaler/BinaryUnmarshaler for State/NewWithState
// when the underlying implementation supports it.
type hashDigest struct {
	h         hash.Hash
	blockSize int
}

func (d *hashDigest) Add(p []byte)  { d.h.Write(p) }
func (d *hashDigest) Value() []byte { return d.h.Sum(nil) }
func (d *hashDigest) BlockSize() int { return d.blockSize }
func (d *hashDigest) ValueSize() int { return d.h.Size() }

func (d *hashDigest) State() ([]byte, error) {
	m, ok := d.h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, ErrNoState
	}
	return m.MarshalBinary()
}

func newHashFactory(newHash func() hash.Hash, blockSize int) (func() Digest, func([]byte) (Digest, error)) {
	newFn := func() Digest { return &hashDigest{h: newHash(), blockSize: blockSize} }

	// Probe whether this hash implementation supports binary
	// (un)marshaling; if not, NewWithState is left nil so the registry
	// reports ErrNoState for this algorithm instead of silently accepting
	// garbage.
	probe := newHash()
	if _, ok := probe.(encoding.BinaryUnmarshaler); !ok {
		return newFn, nil
	}

	newWithState := func(state []byte) (Digest, error) {
		h := newHash()
		u, ok := h.(encoding.BinaryUnmarshaler)
		if !ok {
			return nil, ErrNoState
		}
		if err := u.UnmarshalBinary(state); err != nil {
			return nil, ErrInvalidState
		}
		return &hashDigest{h: h, blockSize: blockSize}, nil
	}
	return newFn, newWithState
}

func init() {
	newSHA1, newSHA1State := newHashFactory(sha1.New, sha1.BlockSize)
	register("SHA1", 50, newSHA1, newSHA1State, 0)

	newSHA256, newSHA256State := newHashFactory(sha256.New, sha256.BlockSize)
	register("SHA256", 10, newSHA256, newSHA256State, 0)

	newSHA3, newSHA3State := newHashFactory(sha3.New256, 136) // rate of SHA3-256
	register("SHA3-256", 5, newSHA3, newSHA3State, 0)
}
