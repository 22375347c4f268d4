package cvm

import (
	"crypto/ed25519"
	"testing"
)

func TestVerifyEd25519StrictAcceptsValidSignature(t *testing.T) {
	kp := newTestKeypair(t)
	msg := []byte("canonical message bytes")
	sig := kp.sign(msg)

	if err := verifyEd25519Strict(kp.Pub, sig, msg); err != nil {
		t.Fatalf("expected valid signature to verify, got: %v", err)
	}
}

func TestVerifyEd25519StrictRejectsTamperedMessage(t *testing.T) {
	kp := newTestKeypair(t)
	sig := kp.sign([]byte("original message"))

	if err := verifyEd25519Strict(kp.Pub, sig, []byte("tampered message")); err == nil {
		t.Fatal("expected verification to fail for a tampered message")
	}
}

func TestVerifyEd25519StrictRejectsWrongKey(t *testing.T) {
	kp := newTestKeypair(t)
	other := newTestKeypair(t)
	msg := []byte("message")
	sig := kp.sign(msg)

	if err := verifyEd25519Strict(other.Pub, sig, msg); err == nil {
		t.Fatal("expected verification to fail under the wrong public key")
	}
}

func TestVerifyEd25519StrictRejectsWrongLengthSignature(t *testing.T) {
	kp := newTestKeypair(t)
	if err := verifyEd25519Strict(kp.Pub, make([]byte, 63), []byte("m")); err == nil {
		t.Fatal("expected error for a short signature")
	}
}

func TestVerifyEd25519StrictRejectsSmallOrderKey(t *testing.T) {
	// The all-zero encoding (y = 0) is a canonical small-order encoding of a
	// point of order 4, not the identity (which is y = 1): it decompresses
	// successfully but lies in the torsion subgroup, so it
	// must be rejected even though the raw bytes are a "valid" curve
	// encoding.
	var identity PubKey
	kp := newTestKeypair(t)
	sig := ed25519.Sign(kp.priv, []byte("m"))

	if err := verifyEd25519Strict(identity, sig, []byte("m")); err == nil {
		t.Fatal("expected small-order public key to be rejected")
	}
}

func TestVerifyEd25519StrictSignatureBinding(t *testing.T) {
	// Flipping any single byte of the signed fields must invalidate the
	// signature: spec's signature-binding property.
	kp := newTestKeypair(t)
	msg := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	sig := kp.sign(msg)

	for i := range msg {
		tampered := append([]byte(nil), msg...)
		tampered[i] ^= 0xFF
		if err := verifyEd25519Strict(kp.Pub, sig, tampered); err == nil {
			t.Fatalf("expected verification to fail after flipping byte %d", i)
		}
	}
}
