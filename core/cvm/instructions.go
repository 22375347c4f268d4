package cvm

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

// InstructionTag is the host instruction discriminator, the first byte of
// every top-level instruction the VM accepts. Unlike Opcode, which only has
// meaning inside an Exec instruction's opaque data, this value identifies
// which of the fifteen operations in the instruction set is being invoked.
type InstructionTag uint8

const (
	InstrUnknown InstructionTag = iota
	InstrInitVm
	InstrInitMemory
	InstrInitStorage
	InstrInitRelay
	InstrInitNonce
	InstrInitTimelock
	InstrInitUnlock
	InstrExec
	InstrCompress
	InstrDecompress
	InstrResizeMemory
	InstrSnapshot
	InstrDeposit
	InstrWithdraw
	InstrFinalizeUnlock
)

func (t InstructionTag) String() string {
	switch t {
	case InstrInitVm:
		return "InitVm"
	case InstrInitMemory:
		return "InitMemory"
	case InstrInitStorage:
		return "InitStorage"
	case InstrInitRelay:
		return "InitRelay"
	case InstrInitNonce:
		return "InitNonce"
	case InstrInitTimelock:
		return "InitTimelock"
	case InstrInitUnlock:
		return "InitUnlock"
	case InstrExec:
		return "Exec"
	case InstrCompress:
		return "Compress"
	case InstrDecompress:
		return "Decompress"
	case InstrResizeMemory:
		return "ResizeMemory"
	case InstrSnapshot:
		return "Snapshot"
	case InstrDeposit:
		return "Deposit"
	case InstrWithdraw:
		return "Withdraw"
	case InstrFinalizeUnlock:
		return "FinalizeUnlock"
	default:
		return "Unknown"
	}
}

// commitInstruction computes the canonical message for a non-Exec
// instruction and advances PoH as its final act, mirroring Exec's own
// dispatch/commit split: every successful instruction — not just Exec —
// appends to the PoH chain.
func (vm *VM) commitInstruction(tag InstructionTag, payer PubKey, metas []AccountMeta, data []byte) {
	full := make([]byte, 0, 1+len(data))
	full = append(full, byte(tag))
	full = append(full, data...)

	msgHash := HashCanonicalMessage(vm.Address(), payer, metas, vm.CurrentPoH(), full)
	vm.State.AdvancePoH(msgHash)
	vm.metrics.pohSlot.Set(float64(vm.State.Slot))
	pkgLogger.WithFields(logrus.Fields{"instruction": tag.String(), "slot": vm.State.Slot}).Debug("instruction succeeded")
}

func payerMeta(payer PubKey) []AccountMeta {
	return []AccountMeta{{Pubkey: payer, IsSigner: true, IsWritable: true}}
}

// InitVm constructs a brand-new VM root account and wraps it with the
// ledger collaborator that will back every real token movement. It is the
// Go counterpart of instruction discriminator 1; unlike the other
// instructions it has no existing *VM to operate on, since a VM must come
// into being before anything else can reference it.
func InitVm(authority, mint PubKey, lockDurationDays uint8, ledger TokenLedger) (*VM, error) {
	state, err := NewVmState(authority, mint, lockDurationDays)
	if err != nil {
		return nil, err
	}
	vm := NewVM(state, ledger)
	vm.commitInstruction(InstrInitVm, authority, payerMeta(authority), []byte{lockDurationDays, state.Bump, state.OmnibusBump})
	return vm, nil
}

// InitMemory allocates a fresh physical memory bank bound to this VM.
func (vm *VM) InitMemory(authority PubKey, name [MaxNameLen]byte, numAccounts uint32, itemSize uint16) (*MemoryAccount, error) {
	if authority != vm.State.Authority {
		return nil, unauthorized("init memory requires the VM authority's signature")
	}
	mem, err := NewMemoryAccount(vm.Address(), name, numAccounts, itemSize)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, MaxNameLen+4+2+1)
	data = append(data, name[:]...)
	var nb [4]byte
	binary.LittleEndian.PutUint32(nb[:], numAccounts)
	data = append(data, nb[:]...)
	var ib [2]byte
	binary.LittleEndian.PutUint16(ib[:], itemSize)
	data = append(data, ib[:]...)
	data = append(data, mem.Bump)

	vm.commitInstruction(InstrInitMemory, authority, payerMeta(authority), data)
	return mem, nil
}

// InitStorage allocates the VM's cold-storage compression tree. A VM owns
// at most one at a time; a second call replaces it, matching the one
// StorageAccount field on VM.
func (vm *VM) InitStorage(authority PubKey, name [MaxNameLen]byte, depth uint8) error {
	if authority != vm.State.Authority {
		return unauthorized("init storage requires the VM authority's signature")
	}
	storage, err := NewStorageAccount(vm.Address(), name, depth)
	if err != nil {
		return err
	}
	vm.Storage = storage

	data := make([]byte, 0, MaxNameLen+1)
	data = append(data, name[:]...)
	data = append(data, storage.Bump)
	vm.commitInstruction(InstrInitStorage, authority, payerMeta(authority), data)
	return nil
}

// InitRelay allocates the VM's privacy-relay account and its treasury.
func (vm *VM) InitRelay(authority PubKey, name [MaxNameLen]byte, numLevels uint8, numHistory uint16) error {
	if authority != vm.State.Authority {
		return unauthorized("init relay requires the VM authority's signature")
	}
	relay, err := NewRelay(vm.Address(), name, numLevels, numHistory)
	if err != nil {
		return err
	}
	vm.Relay = relay

	data := make([]byte, 0, MaxNameLen+2)
	data = append(data, name[:]...)
	data = append(data, relay.Bump, relay.Treasury.Bump)
	vm.commitInstruction(InstrInitRelay, authority, payerMeta(authority), data)
	return nil
}

// InitNonce creates a fresh VirtualDurableNonce at idx within mem. The
// nonce's address is derived by hashing an owner-chosen seed together with
// the VM's PoH as of this very instruction, guaranteeing a distinct address
// even for two nonces requested back-to-back by the same owner.
func (vm *VM) InitNonce(authority PubKey, mem *MemoryAccount, idx uint16, ownerSeed PubKey) (VirtualDurableNonce, error) {
	if authority != vm.State.Authority {
		return VirtualDurableNonce{}, unauthorized("init nonce requires the VM authority's signature")
	}

	addr := PubKey(Hashv(ownerSeed[:], vm.CurrentPoH().Bytes()))
	vdn := VirtualDurableNonce{Address: addr, Value: vm.CurrentPoH()}

	packed, err := NewNonceAccount(vdn).Pack()
	if err != nil {
		return VirtualDurableNonce{}, err
	}
	if err := mem.Allocator.TryAllocItem(idx, len(packed)); err != nil {
		return VirtualDurableNonce{}, err
	}
	if err := mem.Allocator.TryWriteItem(idx, packed); err != nil {
		return VirtualDurableNonce{}, err
	}

	var ib [2]byte
	binary.LittleEndian.PutUint16(ib[:], idx)
	vm.commitInstruction(InstrInitNonce, authority, payerMeta(authority), ib[:])
	return vdn, nil
}

// InitTimelock creates a fresh VirtualTimelockAccount at idx within mem,
// bound to owner and to the durable nonce identified by nonceInstance. The
// three PDA bumps embedded in the account are derived once here so every
// later opcode handler can re-derive the same addresses without storing
// them a second time.
func (vm *VM) InitTimelock(authority PubKey, mem *MemoryAccount, idx uint16, owner PubKey, nonceInstance Hash) (VirtualTimelockAccount, error) {
	if authority != vm.State.Authority {
		return VirtualTimelockAccount{}, unauthorized("init timelock requires the VM authority's signature")
	}

	timelockAddr, _ := TimelockAddress(owner, vm.State.Mint, vm.State.Authority, vm.State.LockDuration)
	_, tokenBump := TimelockVaultAddress(timelockAddr)
	unlockPDA, unlockBump := UnlockAddress(owner, timelockAddr, vm.Address())
	_, withdrawBump := WithdrawReceiptAddress(unlockPDA, nonceInstance, vm.Address())

	tl := VirtualTimelockAccount{
		Owner:         owner,
		NonceInstance: nonceInstance,
		TokenBump:     tokenBump,
		UnlockBump:    unlockBump,
		WithdrawBump:  withdrawBump,
		Balance:       0,
	}

	packed, err := NewTimelockAccount(tl).Pack()
	if err != nil {
		return VirtualTimelockAccount{}, err
	}
	if err := mem.Allocator.TryAllocItem(idx, len(packed)); err != nil {
		return VirtualTimelockAccount{}, err
	}
	if err := mem.Allocator.TryWriteItem(idx, packed); err != nil {
		return VirtualTimelockAccount{}, err
	}

	data := make([]byte, 0, 2+3)
	var ib [2]byte
	binary.LittleEndian.PutUint16(ib[:], idx)
	data = append(data, ib[:]...)
	data = append(data, tokenBump, unlockBump, withdrawBump)
	vm.commitInstruction(InstrInitTimelock, authority, payerMeta(authority), data)
	return tl, nil
}

// InitUnlock begins the non-custodial withdrawal countdown for a timelock
// account: owner must co-sign, matching spec's InitUnlock(owner signer,
// payer signer) contract.
func (vm *VM) InitUnlock(owner PubKey, timelockAddress PubKey, now int64) (*UnlockState, error) {
	u := NewUnlockState(vm.Address(), owner, timelockAddress, now, vm.State.LockDuration)
	vm.commitInstruction(InstrInitUnlock, owner, payerMeta(owner), nil)
	return u, nil
}

// FinalizeUnlock transitions u to Unlocked once now has reached its
// unlock_at timestamp.
func (vm *VM) FinalizeUnlock(owner PubKey, u *UnlockState, now int64) error {
	if u.Owner != owner {
		return unauthorized("unlock state does not belong to this owner")
	}
	if err := u.Finalize(now); err != nil {
		return err
	}
	vm.commitInstruction(InstrFinalizeUnlock, owner, payerMeta(owner), nil)
	return nil
}

// ResizeMemory grows mem to hold newSize accounts. Per the instruction
// set's documented contract this can only grow: existing slot data must
// remain addressable forever.
func (vm *VM) ResizeMemory(authority PubKey, mem *MemoryAccount, newSize uint32) error {
	if authority != vm.State.Authority {
		return unauthorized("resize memory requires the VM authority's signature")
	}
	if err := mem.Resize(newSize); err != nil {
		return err
	}
	var nb [4]byte
	binary.LittleEndian.PutUint32(nb[:], newSize)
	vm.commitInstruction(InstrResizeMemory, authority, payerMeta(authority), nb[:])
	return nil
}

// Snapshot pushes the relay's current commitment-tree root into its
// recent-roots ring, giving participants a window of acceptable roots to
// cite in new commitments without racing a concurrently-advancing tree.
func (vm *VM) Snapshot(authority PubKey) error {
	if authority != vm.State.Authority {
		return unauthorized("snapshot requires the VM authority's signature")
	}
	if vm.Relay == nil {
		return invalidArgument("snapshot requires an initialized relay account")
	}
	vm.Relay.Snapshot()
	vm.metrics.ObserveRelay(vm.Relay)
	vm.commitInstruction(InstrSnapshot, authority, payerMeta(authority), nil)
	return nil
}

// compressLeaf computes the leaf Compress inserts and Decompress/
// WithdrawFromStorage remove: H(signature ‖ va_hash). Because Ed25519
// signing is deterministic for a fixed key and message, re-signing the same
// va_hash under the same authority key at decompress time reproduces the
// exact signature bytes used at compress time, so the same leaf value
// authenticates against the tree both ways.
func compressLeaf(signature []byte, vaHash Hash) Hash {
	return Hashv(signature, vaHash[:])
}

// Compress moves the virtual account at idx out of hot memory and into the
// storage Merkle tree, freeing its slot for reuse.
func (vm *VM) Compress(mem *MemoryAccount, idx uint16, signature []byte) error {
	if vm.Storage == nil {
		return invalidArgument("compress requires an initialized storage account")
	}

	va, err := mem.ReadVirtualAccount(idx)
	if err != nil {
		return err
	}
	vaHash, err := GetHash(va)
	if err != nil {
		return err
	}
	if err := verifyEd25519Strict(vm.State.Authority, signature, vaHash[:]); err != nil {
		return err
	}

	leaf := compressLeaf(signature, vaHash)
	if err := vm.Storage.Merkle.TryInsert(leaf); err != nil {
		return err
	}
	vm.metrics.ObserveStorage(vm.Storage)

	if err := mem.Allocator.TryFreeItem(idx); err != nil {
		return err
	}

	data := make([]byte, 0, 2+SignatureSize)
	var ib [2]byte
	binary.LittleEndian.PutUint16(ib[:], idx)
	data = append(data, ib[:]...)
	data = append(data, signature...)
	vm.commitInstruction(InstrCompress, vm.State.Authority, payerMeta(vm.State.Authority), data)
	return nil
}

// Decompress moves a previously compressed virtual account back into hot
// memory at idx. A Timelock account additionally requires that it has not
// yet progressed to Unlocked (which must withdraw non-custodially instead)
// and that no withdraw receipt already exists for its nonce instance.
func (vm *VM) Decompress(mem *MemoryAccount, idx uint16, packedVA []byte, proof []Hash, signature []byte, unlock *UnlockState) error {
	if vm.Storage == nil {
		return invalidArgument("decompress requires an initialized storage account")
	}

	va, err := UnpackVirtualAccount(packedVA)
	if err != nil {
		return err
	}

	if va.Tag == TagTimelock {
		tl := va.Timelock
		if unlock != nil && unlock.Status == UnlockUnlocked {
			return invalidState("cannot decompress an unlocked timelock account; withdraw instead")
		}
		timelockAddr, _ := TimelockAddress(tl.Owner, vm.State.Mint, vm.State.Authority, vm.State.LockDuration)
		unlockPDA, _ := UnlockAddress(tl.Owner, timelockAddr, vm.Address())
		receiptAddr, _ := WithdrawReceiptAddress(unlockPDA, tl.NonceInstance, vm.Address())
		if vm.HasReceipt(receiptAddr) {
			return alreadyExists("withdraw receipt already exists for this instance")
		}
	}

	vaHash := H(packedVA)
	if err := verifyEd25519Strict(vm.State.Authority, signature, vaHash[:]); err != nil {
		return err
	}

	leaf := compressLeaf(signature, vaHash)
	if err := vm.Storage.Merkle.TryRemove(proof, leaf); err != nil {
		return err
	}
	vm.metrics.ObserveStorage(vm.Storage)

	if err := mem.Allocator.TryAllocItem(idx, len(packedVA)); err != nil {
		return err
	}
	if err := mem.Allocator.TryWriteItem(idx, packedVA); err != nil {
		return err
	}

	data := make([]byte, 0, 2+SignatureSize)
	var ib [2]byte
	binary.LittleEndian.PutUint16(ib[:], idx)
	data = append(data, ib[:]...)
	data = append(data, signature...)
	vm.commitInstruction(InstrDecompress, vm.State.Authority, payerMeta(vm.State.Authority), data)
	return nil
}

// Depositor funds a Deposit instruction by moving amount into the VM's
// omnibus vault from wherever it actually lives. It stands in for both of
// the original deposit paths — an associated token account, or a
// pre-existing deposit PDA — so the CVM core never needs to know which one
// supplied the funds.
type Depositor interface {
	Fund(vm *VM, amount uint64) error
}

// LedgerDepositor is the concrete Depositor backed by the VM's own
// TokenLedger collaborator, the only funding source available without a
// real host runtime.
type LedgerDepositor struct {
	Source PubKey
}

// Fund moves amount from d.Source into the VM's omnibus vault.
func (d LedgerDepositor) Fund(vm *VM, amount uint64) error {
	return vm.Ledger.TransferSigned(d.Source, vm.State.OmnibusVault, amount)
}

// Deposit credits the Timelock account at idx with amount, drawn from
// depositor.
func (vm *VM) Deposit(authority PubKey, mem *MemoryAccount, idx uint16, depositor Depositor, amount uint64) error {
	if authority != vm.State.Authority {
		return unauthorized("deposit requires the VM authority's signature")
	}

	va, err := mem.ReadVirtualAccount(idx)
	if err != nil {
		return err
	}
	tl, err := va.IntoTimelock()
	if err != nil {
		return err
	}

	if err := depositor.Fund(vm, amount); err != nil {
		return err
	}
	tl.Balance += amount
	if err := mem.WriteVirtualAccount(idx, NewTimelockAccount(tl)); err != nil {
		return err
	}

	data := make([]byte, 0, 2+8)
	var ib [2]byte
	binary.LittleEndian.PutUint16(ib[:], idx)
	data = append(data, ib[:]...)
	var ab [8]byte
	binary.LittleEndian.PutUint64(ab[:], amount)
	data = append(data, ab[:]...)
	vm.commitInstruction(InstrDeposit, authority, payerMeta(authority), data)
	return nil
}

// WithdrawVariant selects one of Withdraw's three funding sources.
type WithdrawVariant uint8

const (
	WithdrawFromMemory WithdrawVariant = iota
	WithdrawFromStorage
	WithdrawFromDeposit
)

// withdrawReceiptFor derives the withdraw-receipt PDA a non-custodial
// withdrawal of tl must check and record.
func (vm *VM) withdrawReceiptFor(tl VirtualTimelockAccount) PubKey {
	timelockAddr, _ := TimelockAddress(tl.Owner, vm.State.Mint, vm.State.Authority, vm.State.LockDuration)
	unlockPDA, _ := UnlockAddress(tl.Owner, timelockAddr, vm.Address())
	receiptAddr, _ := WithdrawReceiptAddress(unlockPDA, tl.NonceInstance, vm.Address())
	return receiptAddr
}

// WithdrawFromMemory performs a non-custodial withdrawal of the Timelock
// account at idx directly out of hot memory: the account must belong to
// unlock's owner and unlock must already be Unlocked.
func (vm *VM) WithdrawFromMemory(mem *MemoryAccount, idx uint16, unlock *UnlockState, externalDestination PubKey) error {
	if unlock == nil || unlock.Status != UnlockUnlocked {
		return invalidState("withdraw from memory requires a finalized unlock")
	}

	va, err := mem.ReadVirtualAccount(idx)
	if err != nil {
		return err
	}
	tl, err := va.IntoTimelock()
	if err != nil {
		return err
	}
	if tl.Owner != unlock.Owner {
		return unauthorized("unlock state does not belong to this account's owner")
	}

	if err := vm.recordReceipt(vm.withdrawReceiptFor(tl)); err != nil {
		return err
	}

	if tl.Balance > 0 {
		if err := vm.Ledger.TransferSigned(vm.State.OmnibusVault, externalDestination, tl.Balance); err != nil {
			return err
		}
	}
	if err := mem.Allocator.TryFreeItem(idx); err != nil {
		return err
	}

	var ib [2]byte
	binary.LittleEndian.PutUint16(ib[:], idx)
	data := append([]byte{byte(WithdrawFromMemory)}, ib[:]...)
	vm.commitInstruction(InstrWithdraw, tl.Owner, payerMeta(tl.Owner), data)
	return nil
}

// WithdrawFromStorage performs a non-custodial withdrawal directly from
// the storage Merkle tree, without ever passing back through hot memory.
func (vm *VM) WithdrawFromStorage(packedVA []byte, proof []Hash, signature []byte, unlock *UnlockState, externalDestination PubKey) error {
	if vm.Storage == nil {
		return invalidArgument("withdraw from storage requires an initialized storage account")
	}
	if unlock == nil || unlock.Status != UnlockUnlocked {
		return invalidState("withdraw from storage requires a finalized unlock")
	}

	va, err := UnpackVirtualAccount(packedVA)
	if err != nil {
		return err
	}
	tl, err := va.IntoTimelock()
	if err != nil {
		return err
	}
	if tl.Owner != unlock.Owner {
		return unauthorized("unlock state does not belong to this account's owner")
	}

	if err := vm.recordReceipt(vm.withdrawReceiptFor(tl)); err != nil {
		return err
	}

	vaHash := H(packedVA)
	if err := verifyEd25519Strict(vm.State.Authority, signature, vaHash[:]); err != nil {
		return err
	}
	leaf := compressLeaf(signature, vaHash)
	if err := vm.Storage.Merkle.TryRemove(proof, leaf); err != nil {
		return err
	}
	vm.metrics.ObserveStorage(vm.Storage)

	if tl.Balance > 0 {
		if err := vm.Ledger.TransferSigned(vm.State.OmnibusVault, externalDestination, tl.Balance); err != nil {
			return err
		}
	}

	data := append([]byte{byte(WithdrawFromStorage)}, signature...)
	vm.commitInstruction(InstrWithdraw, tl.Owner, payerMeta(tl.Owner), data)
	return nil
}

// WithdrawFromDeposit reverses an uncommitted Deposit, returning amount
// from the omnibus vault to depositor before it was ever merged into a
// Timelock account's virtual balance.
func (vm *VM) WithdrawFromDeposit(authority, depositor PubKey, amount uint64) error {
	if authority != vm.State.Authority {
		return unauthorized("withdraw from deposit requires the VM authority's signature")
	}
	if err := vm.Ledger.TransferSigned(vm.State.OmnibusVault, depositor, amount); err != nil {
		return err
	}

	data := make([]byte, 0, 1+8)
	data = append(data, byte(WithdrawFromDeposit))
	var ab [8]byte
	binary.LittleEndian.PutUint64(ab[:], amount)
	data = append(data, ab[:]...)
	vm.commitInstruction(InstrWithdraw, authority, payerMeta(authority), data)
	return nil
}
