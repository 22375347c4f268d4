package cvm

import (
	stded25519 "crypto/ed25519"

	"filippo.io/edwards25519"
)

// SignatureSize is the width of a raw Ed25519 signature.
const SignatureSize = 64

// verifyEd25519Strict checks a signature the way the on-chain program's
// `sig_verify` helper does: standard RFC 8032 verification, plus rejection
// of small-order (torsion) points for both the public key and the
// signature's R component. crypto/ed25519.Verify alone accepts small-order
// points, which would let a malicious actor forge a signature that verifies
// under multiple distinct "effective" keys; every opcode handler that
// authorizes a transfer goes through this instead of the stdlib verifier
// directly.
func verifyEd25519Strict(pub PubKey, sig, message []byte) error {
	if len(sig) != SignatureSize {
		return invalidSignature("signature must be 64 bytes")
	}

	if err := rejectSmallOrder(pub[:]); err != nil {
		return err
	}
	if err := rejectSmallOrder(sig[:32]); err != nil {
		return err
	}

	if !stded25519.Verify(pub[:], message, sig) {
		return invalidSignature("signature does not verify")
	}
	return nil
}

// rejectSmallOrder decompresses a 32-byte Edwards point and rejects it if it
// lies in the small-order (torsion) subgroup, i.e. multiplying it by the
// cofactor (8) yields the identity: a point of order 1, 2, 4 or 8.
func rejectSmallOrder(encoded []byte) error {
	pt, err := new(edwards25519.Point).SetBytes(encoded)
	if err != nil {
		return invalidSignature("point is not a valid curve encoding")
	}

	cleared := new(edwards25519.Point).MultByCofactor(pt)
	if cleared.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return invalidSignature("point has small order")
	}
	return nil
}
