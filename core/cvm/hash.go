package cvm

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSize is the width of every digest used throughout the VM.
const HashSize = 32

// Hash is a 32-byte SHA-256 digest, used for commitments, Merkle nodes and
// the proof-of-history chain.
type Hash [HashSize]byte

// String renders the hash as lower-case hex, matching the teacher's
// preference for hex over base58 when the value is a digest rather than a
// public key.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero sentinel used for "no value yet"
// (e.g. a Nonce that has never been consumed).
func (h Hash) IsZero() bool { return h == Hash{} }

// Bytes returns the digest as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// H hashes a single byte slice, mirroring the on-chain program's `hashv`
// helper invoked with one element.
func H(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// Hashv hashes the concatenation of every element in data, matching the
// `solana_program::hash::hashv`-style helper used throughout the original
// program for commitments and the Merkle tree's combine function.
func Hashv(data ...[]byte) Hash {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashFromBytes copies a 32-byte slice into a Hash, rejecting any other
// length.
func HashFromBytes(b []byte) (Hash, error) {
	var out Hash
	if len(b) != HashSize {
		return out, invalidArgument("hash must be 32 bytes")
	}
	copy(out[:], b)
	return out, nil
}
