package cvm

import (
	"crypto/ed25519"
	"testing"
)

// testKeypair bundles a real Ed25519 keypair so opcode tests can produce
// signatures verifyEd25519Strict will actually accept: random 32-byte
// PubKeys are not valid curve points and would always fail the small-order
// decompression check.
type testKeypair struct {
	Pub  PubKey
	priv ed25519.PrivateKey
}

func newTestKeypair(t *testing.T) testKeypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	pk, err := PubKeyFromBytes(pub)
	if err != nil {
		t.Fatalf("pubkey from bytes: %v", err)
	}
	return testKeypair{Pub: pk, priv: priv}
}

func (k testKeypair) sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// testPubKey builds a deterministic non-curve PubKey for fields that are
// never signature-checked (mints, destinations used only as map keys).
func testPubKey(b byte) PubKey {
	var pk PubKey
	pk[0] = b
	pk[31] = b ^ 0x5A
	return pk
}

func testName(s string) [MaxNameLen]byte {
	var out [MaxNameLen]byte
	copy(out[:], s)
	return out
}

// authorityKeypairs lets tests that only have a *VM in hand (compress and
// decompress need to sign with the VM authority's key well after
// construction) recover the private key newTestVM generated for it.
var authorityKeypairs = make(map[PubKey]testKeypair)

// newTestVM wires a fresh VM with a funded in-memory ledger, matching the
// shape every opcode/instruction test starts from.
func newTestVM(t *testing.T, authority testKeypair, lockDurationDays uint8) (*VM, *InMemoryLedger) {
	t.Helper()
	ledger := NewInMemoryLedger()
	mint := testPubKey(0x01)
	vm, err := InitVm(authority.Pub, mint, lockDurationDays, ledger)
	if err != nil {
		t.Fatalf("InitVm: %v", err)
	}
	authorityKeypairs[authority.Pub] = authority
	return vm, ledger
}

// newNonceAndTimelockMem allocates two memory banks sized for nonceCount
// VirtualDurableNonce and tlCount VirtualTimelockAccount items, respectively.
func newNonceAndTimelockMem(t *testing.T, vm *VM, authority testKeypair, nonceCount, tlCount uint32) (nonceMem, tlMem *MemoryAccount) {
	t.Helper()
	const nonceItemSize = 1 + PubKeySize + HashSize
	const timelockItemSize = 1 + PubKeySize + HashSize + 3 + 8

	var err error
	nonceMem, err = vm.InitMemory(authority.Pub, testName("nonces"), nonceCount, nonceItemSize)
	if err != nil {
		t.Fatalf("InitMemory(nonces): %v", err)
	}
	tlMem, err = vm.InitMemory(authority.Pub, testName("timelocks"), tlCount, timelockItemSize)
	if err != nil {
		t.Fatalf("InitMemory(timelocks): %v", err)
	}
	return nonceMem, tlMem
}

// setupTransferFixture builds a VM with one nonce and two funded-or-empty
// timelock accounts at idx 0 (src) and 1 (dst) in the same memory bank,
// ready to drive Transfer/Withdraw/Airdrop-style opcode tests.
type transferFixture struct {
	VM        *VM
	Ledger    *InMemoryLedger
	Authority testKeypair
	Owner     testKeypair
	DstOwner  testKeypair
	NonceMem  *MemoryAccount
	TLMem     *MemoryAccount
	NonceIdx  uint16
	SrcIdx    uint16
	DstIdx    uint16
	Nonce     VirtualDurableNonce
}

func setupTransferFixture(t *testing.T, srcBalance uint64) *transferFixture {
	t.Helper()
	authority := newTestKeypair(t)
	owner := newTestKeypair(t)
	dstOwner := newTestKeypair(t)

	vm, ledger := newTestVM(t, authority, 21)
	nonceMem, tlMem := newNonceAndTimelockMem(t, vm, authority, 8, 8)

	vdn, err := vm.InitNonce(authority.Pub, nonceMem, 0, owner.Pub)
	if err != nil {
		t.Fatalf("InitNonce: %v", err)
	}

	src, err := vm.InitTimelock(authority.Pub, tlMem, 0, owner.Pub, H(vdn.Address[:]))
	if err != nil {
		t.Fatalf("InitTimelock(src): %v", err)
	}
	if _, err := vm.InitTimelock(authority.Pub, tlMem, 1, dstOwner.Pub, H(vdn.Address[:])); err != nil {
		t.Fatalf("InitTimelock(dst): %v", err)
	}

	if srcBalance > 0 {
		ledger.Credit(testPubKey(0xF0), srcBalance)
		if err := vm.Deposit(authority.Pub, tlMem, 0, LedgerDepositor{Source: testPubKey(0xF0)}, srcBalance); err != nil {
			t.Fatalf("Deposit: %v", err)
		}
	}
	_ = src

	return &transferFixture{
		VM:        vm,
		Ledger:    ledger,
		Authority: authority,
		Owner:     owner,
		DstOwner:  dstOwner,
		NonceMem:  nonceMem,
		TLMem:     tlMem,
		NonceIdx:  0,
		SrcIdx:    0,
		DstIdx:    1,
		Nonce:     vdn,
	}
}

func (f *transferFixture) readTimelock(t *testing.T, idx uint16) VirtualTimelockAccount {
	t.Helper()
	va, err := f.TLMem.ReadVirtualAccount(idx)
	if err != nil {
		t.Fatalf("ReadVirtualAccount(%d): %v", idx, err)
	}
	tl, err := va.IntoTimelock()
	if err != nil {
		t.Fatalf("IntoTimelock(%d): %v", idx, err)
	}
	return tl
}

func (f *transferFixture) readNonce(t *testing.T) VirtualDurableNonce {
	t.Helper()
	va, err := f.NonceMem.ReadVirtualAccount(f.NonceIdx)
	if err != nil {
		t.Fatalf("ReadVirtualAccount(nonce): %v", err)
	}
	vdn, err := va.IntoNonce()
	if err != nil {
		t.Fatalf("IntoNonce: %v", err)
	}
	return vdn
}

func (f *transferFixture) execCtx() *ExecContext {
	return &ExecContext{Banks: [NumMemoryBanks]*MemoryAccount{0: f.NonceMem, 1: f.TLMem}}
}
