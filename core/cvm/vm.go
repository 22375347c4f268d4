package cvm

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

var pkgLogger = logrus.New()

// SetLogger replaces the package-level logger every VM method logs
// through, mirroring the wallet package's SetWalletLogger pattern.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		pkgLogger = l
	}
}

// TokenLedger is the CVM's one external collaborator for physical token
// movement: the host ledger/runtime that actually owns SPL-style token
// accounts is out of scope (see spec's Non-goals), so every opcode that
// moves real tokens does so through this narrow interface instead of
// reaching into a concrete token program. TransferSigned represents a
// CPI-style transfer signed by a VM-owned PDA (the omnibus vault or a
// relay vault); the caller authorizes it, not the token owner.
type TokenLedger interface {
	TransferSigned(from, to PubKey, amount uint64) error
	Balance(account PubKey) uint64
}

// InMemoryLedger is a TokenLedger backed by a plain balance map. It exists
// for tests and for the debug CLI, where there is no real host runtime to
// delegate to.
type InMemoryLedger struct {
	balances map[PubKey]uint64
}

// NewInMemoryLedger constructs an empty ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{balances: make(map[PubKey]uint64)}
}

// Credit adds amount to account's balance, used to seed vaults in tests.
func (l *InMemoryLedger) Credit(account PubKey, amount uint64) {
	l.balances[account] += amount
}

// Balance returns account's current balance.
func (l *InMemoryLedger) Balance(account PubKey) uint64 {
	return l.balances[account]
}

// TransferSigned moves amount from from to to, failing if from is short.
func (l *InMemoryLedger) TransferSigned(from, to PubKey, amount uint64) error {
	if l.balances[from] < amount {
		return insufficientFunds("token ledger balance too low for signed transfer")
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// VM is a single Code Virtual Machine instance: its root state plus the
// cold-storage and relay accounts it owns. Memory banks are supplied
// per-Exec-call via ExecContext rather than owned here, matching the
// on-chain program's account-per-instruction model.
type VM struct {
	State   *VmState
	Storage *StorageAccount
	Relay   *RelayAccount
	Ledger  TokenLedger

	// Receipts tracks every WithdrawReceipt PDA this VM has ever produced,
	// keyed by its derived address. Existence alone is the signal per
	// spec's WithdrawReceipt: a receipt is never closed or garbage
	// collected, so no further decompression or memory-withdrawal of a
	// virtual account carrying that nonce may ever succeed again.
	Receipts map[PubKey]struct{}

	metrics *Metrics
}

// NewVM wires a fresh VM root state to its ledger collaborator.
func NewVM(state *VmState, ledger TokenLedger) *VM {
	return &VM{State: state, Ledger: ledger, Receipts: make(map[PubKey]struct{}), metrics: defaultMetrics}
}

// HasReceipt reports whether a withdraw receipt already exists at addr.
func (vm *VM) HasReceipt(addr PubKey) bool {
	_, ok := vm.Receipts[addr]
	return ok
}

// recordReceipt marks addr as a spent withdraw receipt, failing if one
// already exists there (spec's ReceiptExists kind).
func (vm *VM) recordReceipt(addr PubKey) error {
	if vm.HasReceipt(addr) {
		return alreadyExists("withdraw receipt already exists for this instance")
	}
	vm.Receipts[addr] = struct{}{}
	return nil
}

// Address returns the VM's derived address.
func (vm *VM) Address() PubKey { return vm.State.Address() }

// CurrentPoH returns the VM's running PoH digest as of right now.
func (vm *VM) CurrentPoH() Hash { return vm.State.CurrentPoH() }

// ExecContext resolves the accounts one Exec call touches, mirroring the
// on-chain program's ExecContext: up to four memory banks, an optional
// relay account, and an optional external token destination. Banks slots
// left nil stand for accounts the caller did not provide.
type ExecContext struct {
	Banks           [NumMemoryBanks]*MemoryAccount
	Relay           *RelayAccount
	ExternalAddress *PubKey
}

// bank fetches the memory account bound to bankIdx (0..3, banks A..D),
// failing if it was not provided.
func (c *ExecContext) bank(bankIdx uint8) (*MemoryAccount, error) {
	if int(bankIdx) >= NumMemoryBanks {
		return nil, invalidArgument("memory bank index out of range")
	}
	m := c.Banks[bankIdx]
	if m == nil {
		return nil, invalidArgument("required memory bank was not provided")
	}
	return m, nil
}

// checkUniqueBanks enforces that every memory bank actually passed into
// this Exec call is a distinct account: exec.rs's bank-aliasing check is a
// hard precondition, not merely documentation.
func (c *ExecContext) checkUniqueBanks() error {
	seen := make(map[*MemoryAccount]struct{}, NumMemoryBanks)
	for _, m := range c.Banks {
		if m == nil {
			continue
		}
		if _, ok := seen[m]; ok {
			return invalidArgument("provided memory banks must be unique")
		}
		seen[m] = struct{}{}
	}
	return nil
}

func readUint16LE(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func readUint64LE(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// mulUint64Checked multiplies a*b, reporting overflow instead of wrapping,
// for the few opcode preconditions (Airdrop's amount*count) that multiply
// two caller-controlled values before comparing against a balance.
func mulUint64Checked(a, b uint64) (product uint64, overflow bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	product = a * b
	return product, product/a != b
}

// ExecRequest bundles everything an opcode handler needs: which memory
// slots/banks it was asked to operate on, its opcode-specific opaque data
// (signature, amount, ...), the resolved accounts, and the PoH value the
// VM will advance to if the handler succeeds.
type ExecRequest struct {
	Opcode     Opcode
	MemIndices []uint16
	MemBanks   []uint8
	Data       []byte
	Ctx        *ExecContext
	NewPoH     Hash
}

// bankAt resolves the idx-th (index, bank) pair in the request to its
// memory account, failing if the bank was not provided.
func (r *ExecRequest) bankAt(i int) (*MemoryAccount, uint16, error) {
	if i >= len(r.MemIndices) || i >= len(r.MemBanks) {
		return nil, 0, invalidArgument("not enough memory indices/banks for this opcode")
	}
	m, err := r.Ctx.bank(r.MemBanks[i])
	if err != nil {
		return nil, 0, err
	}
	return m, r.MemIndices[i], nil
}

// Exec validates and runs one opcode against ctx's resolved accounts. It is
// the Go counterpart of process_exec: it checks the authority signer,
// forbids aliased memory banks, computes this instruction's canonical
// message and the PoH value it will advance to, dispatches to the opcode
// handler, and — only once the handler succeeds — commits the new PoH.
// PoH is never advanced on failure, and no handler mutation is visible
// unless every precondition it checks passed first.
func (vm *VM) Exec(authority PubKey, memIndices []uint16, memBanks []uint8, op Opcode, data []byte, ctx *ExecContext) error {
	if authority != vm.State.Authority {
		return unauthorized("exec requires the VM authority's signature")
	}
	if len(memIndices) != len(memBanks) {
		return invalidArgument("mem_indices and mem_banks must be the same length")
	}
	if err := ctx.checkUniqueBanks(); err != nil {
		return err
	}

	instrData := make([]byte, 0, 1+2+len(memIndices)*2+len(memBanks)+4+len(data))
	instrData = append(instrData, byte(op))
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(memIndices)))
	instrData = append(instrData, n...)
	for _, idx := range memIndices {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], idx)
		instrData = append(instrData, b...)
	}
	instrData = append(instrData, memBanks...)
	instrData = append(instrData, data...)

	messageHash := HashCanonicalMessage(vm.Address(), authority, []AccountMeta{
		{Pubkey: authority, IsSigner: true, IsWritable: true},
		{Pubkey: vm.Address(), IsWritable: true},
	}, vm.CurrentPoH(), instrData)

	newPoH := Hashv(vm.State.PoH[:], messageHash[:])

	req := &ExecRequest{
		Opcode:     op,
		MemIndices: memIndices,
		MemBanks:   memBanks,
		Data:       data,
		Ctx:        ctx,
		NewPoH:     newPoH,
	}

	if err := DispatchOpcode(vm, req); err != nil {
		pkgLogger.WithFields(logrus.Fields{"opcode": op.String()}).Warn(err)
		vm.metrics.opcodeFailures.WithLabelValues(op.String()).Inc()
		return err
	}

	vm.State.PoH = newPoH
	vm.State.Slot++
	vm.metrics.opcodeSuccesses.WithLabelValues(op.String()).Inc()
	vm.metrics.pohSlot.Set(float64(vm.State.Slot))
	pkgLogger.WithFields(logrus.Fields{"opcode": op.String(), "slot": vm.State.Slot}).Debug("exec succeeded")
	return nil
}
