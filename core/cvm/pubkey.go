package cvm

import (
	"encoding/hex"

	"github.com/mr-tron/base58"
)

// PubKeySize is the width of an Ed25519 public key / VM address.
const PubKeySize = 32

// PubKey is a 32-byte Ed25519 public key, used both as an account owner and
// as the stand-in for a Solana-style derived address throughout the VM.
type PubKey [PubKeySize]byte

// String renders the key the way Solana tooling does: base58, no padding.
func (p PubKey) String() string { return base58.Encode(p[:]) }

// Bytes returns the key as a byte slice.
func (p PubKey) Bytes() []byte { return p[:] }

// IsZero reports whether p is the default, uninitialised key.
func (p PubKey) IsZero() bool { return p == PubKey{} }

// Equal reports whether p and other hold the same bytes.
func (p PubKey) Equal(other PubKey) bool { return p == other }

// PubKeyFromBase58 decodes a base58-encoded 32-byte public key.
func PubKeyFromBase58(s string) (PubKey, error) {
	var out PubKey
	b, err := base58.Decode(s)
	if err != nil {
		return out, invalidArgument("malformed base58 pubkey: " + err.Error())
	}
	if len(b) != PubKeySize {
		return out, invalidArgument("pubkey must decode to 32 bytes")
	}
	copy(out[:], b)
	return out, nil
}

// PubKeyFromHex decodes a hex-encoded 32-byte public key, used by CLI flags
// that accept raw hex rather than base58.
func PubKeyFromHex(s string) (PubKey, error) {
	var out PubKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, invalidArgument("malformed hex pubkey: " + err.Error())
	}
	if len(b) != PubKeySize {
		return out, invalidArgument("pubkey must decode to 32 bytes")
	}
	copy(out[:], b)
	return out, nil
}

// PubKeyFromBytes copies a 32-byte slice into a PubKey.
func PubKeyFromBytes(b []byte) (PubKey, error) {
	var out PubKey
	if len(b) != PubKeySize {
		return out, invalidArgument("pubkey must be 32 bytes")
	}
	copy(out[:], b)
	return out, nil
}
