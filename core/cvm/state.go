package cvm

const (
	// MaxNameLen is the maximum length, in bytes, of a memory/storage/relay
	// account's name field.
	MaxNameLen = 32

	// NumMemoryBanks is the number of memory banks one Exec call can reference.
	NumMemoryBanks = 4
)

// UnlockStatus is the UnlockState's lifecycle position. The implicit Locked
// state (no UnlockState account at all) is represented by the absence of an
// *UnlockState, not by a zero value of this type.
type UnlockStatus uint8

const (
	UnlockWaitingForTimeout UnlockStatus = 1
	UnlockUnlocked          UnlockStatus = 2
)

// VmState is the root account of a CVM instance.
type VmState struct {
	Authority     PubKey
	Mint          PubKey
	LockDuration  uint8 // whole days
	Bump          uint8
	Slot          uint64
	PoH           Hash
	OmnibusVault  PubKey
	OmnibusBump   uint8
}

// NewVmState constructs a fresh VM root account. The initial PoH seeds from
// the VM's own derived address, giving every VM a distinct starting chain
// even before any instruction executes.
func NewVmState(authority, mint PubKey, lockDurationDays uint8) (*VmState, error) {
	if lockDurationDays == 0 {
		return nil, invalidArgument("lock_duration must be greater than zero")
	}

	vmAddr, vmBump := VMAddress(mint, authority, lockDurationDays)
	omnibus, omnibusBump := OmnibusAddress(vmAddr)

	return &VmState{
		Authority:    authority,
		Mint:         mint,
		LockDuration: lockDurationDays,
		Bump:         vmBump,
		Slot:         0,
		PoH:          H(vmAddr[:]),
		OmnibusVault: omnibus,
		OmnibusBump:  omnibusBump,
	}, nil
}

// Address returns the VM's own derived address.
func (vm *VmState) Address() PubKey {
	addr, _ := VMAddress(vm.Mint, vm.Authority, vm.LockDuration)
	return addr
}

// CurrentPoH returns the running proof-of-history digest as it stands right
// now, i.e. before the instruction currently executing advances it.
func (vm *VmState) CurrentPoH() Hash { return vm.PoH }

// AdvancePoH is every instruction's final, unconditional act on success:
// poh ← H(poh ‖ H(canonical_message)); slot ← slot + 1. It returns the new
// PoH. Exec does not call it: it computes the same value up front (handed to
// handlers as ExecRequest.NewPoH for nonce consumption) and commits it only
// once the handler succeeds.
func (vm *VmState) AdvancePoH(messageHash Hash) Hash {
	vm.PoH = Hashv(vm.PoH[:], messageHash[:])
	vm.Slot++
	return vm.PoH
}

// MemoryAccount is one of a VM's (up to four) physical memory buffers.
type MemoryAccount struct {
	VM        PubKey
	Bump      uint8
	Name      [MaxNameLen]byte
	ItemSize  uint16
	Allocator *SliceAllocator
}

// NewMemoryAccount allocates a fresh memory bank bound to vm.
func NewMemoryAccount(vm PubKey, name [MaxNameLen]byte, numAccounts uint32, itemSize uint16) (*MemoryAccount, error) {
	alloc, err := NewSliceAllocator(int(numAccounts), int(itemSize))
	if err != nil {
		return nil, err
	}
	_, bump := MemoryAddress(name, vm)
	return &MemoryAccount{VM: vm, Bump: bump, Name: name, ItemSize: itemSize, Allocator: alloc}, nil
}

// Resize grows the memory account's allocator to hold newSize accounts.
// Per the instruction set's ResizeMemory semantics, this can only grow: an
// existing slot's data must remain addressable forever.
func (m *MemoryAccount) Resize(newSize uint32) error {
	return m.Allocator.Grow(int(newSize))
}

// ReadVirtualAccount reads and unpacks the virtual account at idx.
func (m *MemoryAccount) ReadVirtualAccount(idx uint16) (VirtualAccount, error) {
	raw, err := m.Allocator.ReadItem(idx)
	if err != nil {
		return VirtualAccount{}, err
	}
	return UnpackVirtualAccount(raw)
}

// WriteVirtualAccount packs and writes va at idx. The slot must already be
// allocated (TryAllocItem first for a brand-new slot).
func (m *MemoryAccount) WriteVirtualAccount(idx uint16, va VirtualAccount) error {
	packed, err := va.Pack()
	if err != nil {
		return err
	}
	return m.Allocator.TryWriteItem(idx, packed)
}

// StorageAccount is the cold store: a Merkle tree of signed virtual-account
// digests.
type StorageAccount struct {
	VM     PubKey
	Name   [MaxNameLen]byte
	Bump   uint8
	Depth  uint8
	Merkle *MerkleTree
}

// NewStorageAccount builds an empty storage account with a tree of the
// given depth, seeded from the account's own derived address.
func NewStorageAccount(vm PubKey, name [MaxNameLen]byte, depth uint8) (*StorageAccount, error) {
	addr, bump := StorageAddress(name, vm)
	tree, err := NewMerkleTree(int(depth), addr[:])
	if err != nil {
		return nil, err
	}
	return &StorageAccount{VM: vm, Name: name, Bump: bump, Depth: depth, Merkle: tree}, nil
}

// RelayTreasury is a relay account's token vault and its derivation bump.
type RelayTreasury struct {
	Vault PubKey
	Bump  uint8
}

// RelayAccount holds a private-relay commitment tree and a ring of recent
// roots that commitments may cite.
type RelayAccount struct {
	VM          PubKey
	Name        [MaxNameLen]byte
	Bump        uint8
	NumLevels   uint8
	NumHistory  uint16
	Treasury    RelayTreasury
	History     *MerkleTree
	RecentRoots *CircularBuffer
}

// NewRelay builds an empty relay account. Named without the "Account" suffix
// carried by NewMemoryAccount/NewStorageAccount to avoid colliding with
// account.go's NewRelayAccount, which wraps a VirtualRelayAccount payload
// into the VirtualAccount tagged union — a different thing with the more
// obvious claim to that name.
func NewRelay(vm PubKey, name [MaxNameLen]byte, numLevels uint8, numHistory uint16) (*RelayAccount, error) {
	addr, bump := RelayAddress(name, vm)
	vault, vaultBump := RelayVaultAddress(addr)

	history, err := NewMerkleTree(int(numLevels), addr[:])
	if err != nil {
		return nil, err
	}
	ring, err := NewCircularBuffer(int(numHistory))
	if err != nil {
		return nil, err
	}

	return &RelayAccount{
		VM:          vm,
		Name:        name,
		Bump:        bump,
		NumLevels:   numLevels,
		NumHistory:  numHistory,
		Treasury:    RelayTreasury{Vault: vault, Bump: vaultBump},
		History:     history,
		RecentRoots: ring,
	}, nil
}

// Snapshot pushes the current commitment-tree root into the recent-roots
// ring, giving relay participants a window of acceptable roots to cite
// without racing concurrent tree updates.
func (r *RelayAccount) Snapshot() {
	r.RecentRoots.Push(r.History.Root())
}

// UnlockState tracks one (owner, virtual-account-address, vm) triple's
// progress toward a non-custodial withdrawal.
type UnlockState struct {
	VM        PubKey
	Bump      uint8
	Owner     PubKey
	Address   PubKey
	Status    UnlockStatus
	UnlockAt  int64 // unix seconds, day-aligned
}

// dayAlignedUnlockAt rounds (now + lockDurationDays days) UP to the next UTC
// day boundary, per InitUnlock's ceil((now + duration*86400) / 86400) * 86400.
func dayAlignedUnlockAt(now int64, lockDurationDays uint8) int64 {
	const secondsPerDay = 86400
	target := now + int64(lockDurationDays)*secondsPerDay
	return ((target + secondsPerDay - 1) / secondsPerDay) * secondsPerDay
}

// NewUnlockState creates an UnlockState in WaitingForTimeout, the only
// state InitUnlock ever produces.
func NewUnlockState(vm, owner, address PubKey, now int64, lockDurationDays uint8) *UnlockState {
	_, bump := UnlockAddress(owner, address, vm)
	return &UnlockState{
		VM:       vm,
		Bump:     bump,
		Owner:    owner,
		Address:  address,
		Status:   UnlockWaitingForTimeout,
		UnlockAt: dayAlignedUnlockAt(now, lockDurationDays),
	}
}

// Finalize transitions WaitingForTimeout to Unlocked once now has reached
// UnlockAt.
func (u *UnlockState) Finalize(now int64) error {
	if u.Status != UnlockWaitingForTimeout {
		return invalidState("unlock state is not waiting for timeout")
	}
	if now < u.UnlockAt {
		return invalidState("unlock timeout has not yet elapsed")
	}
	u.Status = UnlockUnlocked
	return nil
}

// WithdrawReceipt is an existence-only marker: once present for a given
// (unlock_pda, nonce_instance, vm), no further decompression or
// memory-withdrawal of a virtual account carrying that nonce may succeed.
type WithdrawReceipt struct {
	UnlockPDA     PubKey
	NonceInstance Hash
	VM            PubKey
}

// Address returns the receipt's own derived PDA.
func (w WithdrawReceipt) Address() PubKey {
	addr, _ := WithdrawReceiptAddress(w.UnlockPDA, w.NonceInstance, w.VM)
	return addr
}
