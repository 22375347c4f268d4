package cvm

import "testing"

type relayFixture struct {
	VM        *VM
	Ledger    *InMemoryLedger
	Authority testKeypair
	Owner     testKeypair
	NonceMem  *MemoryAccount
	TLMem     *MemoryAccount
	NonceIdx  uint16
	DstIdx    uint16
	VRAIdx    uint16
	Nonce     VirtualDurableNonce
	RelayAddr PubKey
}

// setupRelayFixture wires a VM with one relay account (with its current
// root already snapshotted into the recent-roots window and its treasury
// funded with treasuryBalance) and one empty Timelock destination, ready to
// drive Relay/ExternalRelay/ConditionalTransfer scenarios.
func setupRelayFixture(t *testing.T, treasuryBalance uint64) *relayFixture {
	t.Helper()
	authority := newTestKeypair(t)
	owner := newTestKeypair(t)

	vm, ledger := newTestVM(t, authority, 21)
	nonceMem, tlMem := newNonceAndTimelockMem(t, vm, authority, 8, 8)

	vdn, err := vm.InitNonce(authority.Pub, nonceMem, 0, owner.Pub)
	if err != nil {
		t.Fatalf("InitNonce: %v", err)
	}
	if _, err := vm.InitTimelock(authority.Pub, tlMem, 0, owner.Pub, H(vdn.Address[:])); err != nil {
		t.Fatalf("InitTimelock(dst): %v", err)
	}

	// The relay-receipt slot is a plain memory slot like any other; a real
	// client would reuse a freed Timelock/Nonce index for it. Reserve one
	// here with TryAllocItem directly, since no dedicated Init instruction
	// exists for a VirtualRelayAccount on its own.
	receiptSize := 1 + PubKeySize + PubKeySize
	if err := tlMem.Allocator.TryAllocItem(1, receiptSize); err != nil {
		t.Fatalf("reserve relay receipt slot: %v", err)
	}

	if err := vm.InitRelay(authority.Pub, testName("relay"), 4, 4); err != nil {
		t.Fatalf("InitRelay: %v", err)
	}
	if err := vm.Snapshot(authority.Pub); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if treasuryBalance > 0 {
		ledger.Credit(vm.Relay.Treasury.Vault, treasuryBalance)
	}

	relayAddr, _ := RelayAddress(testName("relay"), vm.Address())

	return &relayFixture{
		VM: vm, Ledger: ledger, Authority: authority, Owner: owner,
		NonceMem: nonceMem, TLMem: tlMem,
		NonceIdx: 0, DstIdx: 0, VRAIdx: 1, Nonce: vdn, RelayAddr: relayAddr,
	}
}

func (f *relayFixture) readTimelock(t *testing.T, idx uint16) VirtualTimelockAccount {
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

func (f *relayFixture) readVRA(t *testing.T, idx uint16) VirtualRelayAccount {
	t.Helper()
	va, err := f.TLMem.ReadVirtualAccount(idx)
	if err != nil {
		t.Fatalf("ReadVirtualAccount(%d): %v", idx, err)
	}
	vra, err := va.IntoRelay()
	if err != nil {
		t.Fatalf("IntoRelay(%d): %v", idx, err)
	}
	return vra
}

// TestScenarioS6RelayRoundTrip drives spec scenario S6: a relay payment
// credits a Timelock destination, inserts its commitment into the relay's
// history (changing the history root), and records a receipt.
func TestScenarioS6RelayRoundTrip(t *testing.T) {
	const amount = 42
	f := setupRelayFixture(t, 1000)

	recentRoot := f.VM.Relay.History.Root()
	transcript := H([]byte("transcript"))
	dst := f.readTimelock(t, f.DstIdx)
	commitment, _ := RelayCommitmentAddress(f.RelayAddr, recentRoot, transcript, dst.Owner, amount)

	data := make([]byte, 0, 8+HashSize+HashSize+PubKeySize)
	data = append(data, leUint64(amount)...)
	data = append(data, transcript[:]...)
	data = append(data, recentRoot[:]...)
	data = append(data, commitment[:]...)

	rootBefore := f.VM.Relay.History.Root()
	ctx := &ExecContext{Banks: [NumMemoryBanks]*MemoryAccount{0: f.TLMem}, Relay: f.VM.Relay}
	if err := f.VM.Exec(f.Authority.Pub, []uint16{f.DstIdx, f.VRAIdx}, []uint8{0, 0}, OpRelay, data, ctx); err != nil {
		t.Fatalf("Exec(Relay): %v", err)
	}

	if got := f.readTimelock(t, f.DstIdx).Balance; got != amount {
		t.Fatalf("dst balance = %d, want %d", got, amount)
	}
	if got := f.Ledger.Balance(f.VM.State.OmnibusVault); got != amount {
		t.Fatalf("omnibus vault balance = %d, want %d", got, amount)
	}
	if f.VM.Relay.History.Root() == rootBefore {
		t.Fatal("relay history root must change after a successful commitment insert")
	}
	vra := f.readVRA(t, f.VRAIdx)
	if vra.Destination != f.VM.Relay.Treasury.Vault {
		t.Fatal("relay receipt must record the relay's own treasury vault as the payment's origin")
	}
}

func TestRelayRejectsStaleRecentRoot(t *testing.T) {
	const amount = 10
	f := setupRelayFixture(t, 1000)

	staleRoot := H([]byte("not a real recent root"))
	transcript := H([]byte("transcript"))
	dst := f.readTimelock(t, f.DstIdx)
	commitment, _ := RelayCommitmentAddress(f.RelayAddr, staleRoot, transcript, dst.Owner, amount)

	data := make([]byte, 0, 8+HashSize+HashSize+PubKeySize)
	data = append(data, leUint64(amount)...)
	data = append(data, transcript[:]...)
	data = append(data, staleRoot[:]...)
	data = append(data, commitment[:]...)

	ctx := &ExecContext{Banks: [NumMemoryBanks]*MemoryAccount{0: f.TLMem}, Relay: f.VM.Relay}
	if err := f.VM.Exec(f.Authority.Pub, []uint16{f.DstIdx, f.VRAIdx}, []uint8{0, 0}, OpRelay, data, ctx); err == nil {
		t.Fatal("expected an uncited recent root to be rejected")
	}
}

func TestExternalRelayAndConditionalTransfer(t *testing.T) {
	const relayAmount, spendAmount = 100, 30
	f := setupRelayFixture(t, 1000)
	external := testPubKey(0x99)

	recentRoot := f.VM.Relay.History.Root()
	transcript := H([]byte("transcript"))
	commitment, _ := RelayCommitmentAddress(f.RelayAddr, recentRoot, transcript, external, relayAmount)

	data := make([]byte, 0, 8+HashSize+HashSize+PubKeySize)
	data = append(data, leUint64(relayAmount)...)
	data = append(data, transcript[:]...)
	data = append(data, recentRoot[:]...)
	data = append(data, commitment[:]...)

	ctx := &ExecContext{Banks: [NumMemoryBanks]*MemoryAccount{0: f.TLMem}, Relay: f.VM.Relay, ExternalAddress: &external}
	if err := f.VM.Exec(f.Authority.Pub, []uint16{f.VRAIdx}, []uint8{0}, OpExternalRelay, data, ctx); err != nil {
		t.Fatalf("Exec(ExternalRelay): %v", err)
	}
	if got := f.Ledger.Balance(external); got != relayAmount {
		t.Fatalf("external balance after ExternalRelay = %d, want %d", got, relayAmount)
	}
	vra := f.readVRA(t, f.VRAIdx)
	if vra.Destination != external {
		t.Fatal("external relay receipt must record the external destination as proof of prior payment")
	}

	// Fund the VM omnibus vault so ConditionalTransfer has real tokens to
	// release against the virtual balance it debits.
	f.Ledger.Credit(testPubKey(0xF0), spendAmount)
	if err := f.VM.Deposit(f.Authority.Pub, f.TLMem, f.DstIdx, LedgerDepositor{Source: testPubKey(0xF0)}, spendAmount); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	src := f.readTimelock(t, f.DstIdx)
	hash := CreateTransferMessageToExternal(f.VM.State, src, external, f.Nonce, spendAmount)
	sig := f.Owner.sign(hash[:])
	ctData := append(append([]byte{}, sig...), leUint64(spendAmount)...)

	ctCtx := &ExecContext{Banks: [NumMemoryBanks]*MemoryAccount{0: f.NonceMem, 1: f.TLMem}, ExternalAddress: &external}
	if err := f.VM.Exec(f.Authority.Pub, []uint16{f.NonceIdx, f.DstIdx, f.VRAIdx}, []uint8{0, 1, 1}, OpConditionalTransfer, ctData, ctCtx); err != nil {
		t.Fatalf("Exec(ConditionalTransfer): %v", err)
	}

	if got := f.Ledger.Balance(external); got != relayAmount+spendAmount {
		t.Fatalf("external balance after ConditionalTransfer = %d, want %d", got, relayAmount+spendAmount)
	}
	if !f.TLMem.Allocator.IsEmpty(f.VRAIdx) {
		t.Fatal("conditional transfer must burn the relay receipt so it cannot authorize a second release")
	}
}

func TestConditionalTransferRejectsMismatchedDestination(t *testing.T) {
	const relayAmount = 50
	f := setupRelayFixture(t, 1000)
	external := testPubKey(0x99)
	otherExternal := testPubKey(0xAA)

	recentRoot := f.VM.Relay.History.Root()
	transcript := H([]byte("transcript"))
	commitment, _ := RelayCommitmentAddress(f.RelayAddr, recentRoot, transcript, external, relayAmount)
	data := make([]byte, 0, 8+HashSize+HashSize+PubKeySize)
	data = append(data, leUint64(relayAmount)...)
	data = append(data, transcript[:]...)
	data = append(data, recentRoot[:]...)
	data = append(data, commitment[:]...)

	ctx := &ExecContext{Banks: [NumMemoryBanks]*MemoryAccount{0: f.TLMem}, Relay: f.VM.Relay, ExternalAddress: &external}
	if err := f.VM.Exec(f.Authority.Pub, []uint16{f.VRAIdx}, []uint8{0}, OpExternalRelay, data, ctx); err != nil {
		t.Fatalf("Exec(ExternalRelay): %v", err)
	}

	src := f.readTimelock(t, f.DstIdx)
	hash := CreateTransferMessageToExternal(f.VM.State, src, otherExternal, f.Nonce, 10)
	sig := f.Owner.sign(hash[:])
	ctData := append(append([]byte{}, sig...), leUint64(10)...)

	ctCtx := &ExecContext{Banks: [NumMemoryBanks]*MemoryAccount{0: f.NonceMem, 1: f.TLMem}, ExternalAddress: &otherExternal}
	if err := f.VM.Exec(f.Authority.Pub, []uint16{f.NonceIdx, f.DstIdx, f.VRAIdx}, []uint8{0, 1, 1}, OpConditionalTransfer, ctData, ctCtx); err == nil {
		t.Fatal("expected conditional transfer to reject a destination the receipt does not authorize")
	}
}
