package cvm

import (
	"bytes"
	"testing"
)

func TestVirtualAccountPackUnpackRoundTrip(t *testing.T) {
	cases := []VirtualAccount{
		NewNonceAccount(VirtualDurableNonce{Address: testPubKey(1), Value: H([]byte("v"))}),
		NewTimelockAccount(VirtualTimelockAccount{
			Owner:         testPubKey(2),
			NonceInstance: H([]byte("n")),
			TokenBump:     1,
			UnlockBump:    2,
			WithdrawBump:  3,
			Balance:       123456789,
		}),
		NewRelayAccount(VirtualRelayAccount{Target: testPubKey(3), Destination: testPubKey(4)}),
	}

	for _, va := range cases {
		packed, err := va.Pack()
		if err != nil {
			t.Fatalf("Pack: %v", err)
		}
		again, err := va.Pack()
		if err != nil {
			t.Fatalf("Pack (second call): %v", err)
		}
		if !bytes.Equal(packed, again) {
			t.Fatal("Pack must be deterministic")
		}

		decoded, err := UnpackVirtualAccount(packed)
		if err != nil {
			t.Fatalf("UnpackVirtualAccount: %v", err)
		}
		reEncoded, err := decoded.Pack()
		if err != nil {
			t.Fatalf("Pack(decoded): %v", err)
		}
		if !bytes.Equal(packed, reEncoded) {
			t.Fatalf("pack(unpack(pack(va))) != pack(va): %v != %v", reEncoded, packed)
		}
	}
}

func TestUnpackVirtualAccountRejectsBadInput(t *testing.T) {
	if _, err := UnpackVirtualAccount(nil); err == nil {
		t.Fatal("expected error for empty buffer")
	}
	if _, err := UnpackVirtualAccount([]byte{99}); err == nil {
		t.Fatal("expected error for unknown discriminator")
	}
	if _, err := UnpackVirtualAccount([]byte{byte(TagTimelock), 1, 2, 3}); err == nil {
		t.Fatal("expected error for short timelock buffer")
	}
}

func TestVirtualAccountIntoWrongVariantFails(t *testing.T) {
	va := NewNonceAccount(VirtualDurableNonce{})
	if _, err := va.IntoTimelock(); err == nil {
		t.Fatal("expected error converting a Nonce to a Timelock")
	}
	if _, err := va.IntoRelay(); err == nil {
		t.Fatal("expected error converting a Nonce to a Relay")
	}
}

func TestGetHashMatchesPackedDigest(t *testing.T) {
	va := NewTimelockAccount(VirtualTimelockAccount{Owner: testPubKey(9), Balance: 7})
	packed, err := va.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := GetHash(va)
	if err != nil {
		t.Fatalf("GetHash: %v", err)
	}
	if got != H(packed) {
		t.Fatal("GetHash(va) must equal H(pack(va))")
	}
}
