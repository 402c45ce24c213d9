// Package saslhmac implements the HMAC construction (RFC 2104) used by the
// CRAM engine, in both its ordinary plain-key form and the masked-key form
// that lets a server authenticate clients without storing a plaintext
// shared secret (spec.md §4.2).
package saslhmac

import (
	"encoding/hex"

	"zgo.at/emrelay/internal/digest"
)

const (
	ipad = 0x36
	opad = 0x5c
)

// Plain computes HMAC(digest, blockSize, key, message) per RFC 2104 §2,
// using a fresh instance of the named digest for every step.
func Plain(name string, key, message []byte) ([]byte, error) {
	d, err := digest.New(name)
	if err != nil {
		return nil, err
	}
	blockSize := d.BlockSize()

	if len(key) > blockSize {
		hk, err := digest.New(name)
		if err != nil {
			return nil, err
		}
		hk.Add(key)
		key = hk.Value()
	}
	padded := make([]byte, blockSize)
	copy(padded, key)

	inner, err := digest.New(name)
	if err != nil {
		return nil, err
	}
	innerKey := xorPad(padded, ipad)
	inner.Add(innerKey)
	inner.Add(message)
	innerSum := inner.Value()

	outer, err := digest.New(name)
	if err != nil {
		return nil, err
	}
	outerKey := xorPad(padded, opad)
	outer.Add(outerKey)
	outer.Add(innerSum)
	return outer.Value(), nil
}

// Mask produces the masked key for the named digest and shared key: the
// concatenation of the inner and outer intermediate states captured after
// exactly one block (spec.md §4.2). The digest must support
// intermediate-state initialization (digest.Stateful); otherwise
// digest.ErrNoState is returned.
func Mask(name string, key []byte) ([]byte, error) {
	probe, err := digest.New(name)
	if err != nil {
		return nil, err
	}
	blockSize := probe.BlockSize()
	if _, ok := probe.(digest.Stateful); !ok {
		return nil, digest.ErrNoState
	}

	if len(key) > blockSize {
		hk, err := digest.New(name)
		if err != nil {
			return nil, err
		}
		hk.Add(key)
		key = hk.Value()
	}
	padded := make([]byte, blockSize)
	copy(padded, key)

	inner, err := digest.New(name)
	if err != nil {
		return nil, err
	}
	inner.Add(xorPad(padded, ipad))
	innerState, err := inner.(digest.Stateful).State()
	if err != nil {
		return nil, err
	}

	outer, err := digest.New(name)
	if err != nil {
		return nil, err
	}
	outer.Add(xorPad(padded, opad))
	outerState, err := outer.(digest.Stateful).State()
	if err != nil {
		return nil, err
	}

	return append(append([]byte{}, innerState...), outerState...), nil
}

// Masked computes HMAC(postdigest, maskedKey, message): maskedKey is the
// concatenation of two intermediate states produced by Mask. The inner and
// outer digests are restored from their respective halves, the message (and
// the inner result) are added, and the outer result is returned.
func Masked(name string, maskedKey, message []byte) ([]byte, error) {
	if !digest.SupportsState(name) {
		return nil, digest.ErrNoState
	}
	half := len(maskedKey) / 2
	if half == 0 || len(maskedKey)%2 != 0 {
		return nil, digest.ErrInvalidState
	}

	inner, err := digest.NewWithState(name, maskedKey[:half])
	if err != nil {
		return nil, err
	}
	inner.Add(message)
	innerSum := inner.Value()

	outer, err := digest.NewWithState(name, maskedKey[half:])
	if err != nil {
		return nil, err
	}
	outer.Add(innerSum)
	return outer.Value(), nil
}

func xorPad(key []byte, pad byte) []byte {
	out := make([]byte, len(key))
	for i, b := range key {
		out[i] = b ^ pad
	}
	return out
}

// Printable renders a digest value as lowercase hexadecimal with no
// separators (spec.md §4.2).
func Printable(b []byte) string {
	return hex.EncodeToString(b)
}
