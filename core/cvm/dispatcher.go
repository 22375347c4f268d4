package cvm

import (
	"fmt"
	"sort"
	"sync"
)

// Opcode identifies one of the VM's closed set of Exec sub-instructions.
// Unlike the host instruction discriminator (see instructions.go), this
// value only has meaning inside an Exec instruction's opaque data.
type Opcode uint8

const (
	OpTransfer            Opcode = iota // intra-VM timelock-to-timelock
	OpWithdraw                          // intra-VM, closes source
	OpRelay                             // privacy-preserving vault -> omnibus
	OpExternalTransfer                  // timelock -> external token account
	OpExternalWithdraw                  // like ExternalTransfer, empties and closes source
	OpExternalRelay                     // like Relay, destination is external
	OpConditionalTransfer               // spend proven by a prior relay payment
	OpAirdrop                           // one source to N destinations
)

// OpcodeHandler executes one opcode's effect against a live VM and the
// request a top-level Exec call resolved for it.
type OpcodeHandler func(vm *VM, req *ExecRequest) error

var (
	opcodeMu    sync.RWMutex
	opcodeTable = make(map[Opcode]OpcodeHandler, 8)
	opcodeNames = make(map[Opcode]string, 8)
)

// registerOpcode binds an opcode to its handler. It panics on duplicate
// registration, mirroring the rest of this codebase's opcode dispatcher:
// collisions are a programming error that must never reach production.
func registerOpcode(op Opcode, name string, fn OpcodeHandler) {
	opcodeMu.Lock()
	defer opcodeMu.Unlock()
	if _, exists := opcodeTable[op]; exists {
		panic(fmt.Sprintf("cvm: opcode collision: %s already registered", op))
	}
	opcodeTable[op] = fn
	opcodeNames[op] = name
}

// DispatchOpcode looks up and invokes the handler bound to req.Opcode.
func DispatchOpcode(vm *VM, req *ExecRequest) error {
	opcodeMu.RLock()
	fn, ok := opcodeTable[req.Opcode]
	opcodeMu.RUnlock()

	if !ok {
		return invalidArgument(fmt.Sprintf("unknown opcode %s", req.Opcode))
	}
	return fn(vm, req)
}

// String renders the opcode's registered name, falling back to its numeric
// value if somehow unregistered.
func (op Opcode) String() string {
	opcodeMu.RLock()
	defer opcodeMu.RUnlock()
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

// OpcodeInfo is one catalogue entry, used by the opcode-lint tool to assert
// the closed opcode set has no name or value collisions.
type OpcodeInfo struct {
	Op   Opcode
	Name string
}

// Catalogue returns every registered opcode, sorted by numeric value.
func Catalogue() []OpcodeInfo {
	opcodeMu.RLock()
	defer opcodeMu.RUnlock()

	out := make([]OpcodeInfo, 0, len(opcodeTable))
	for op, name := range opcodeNames {
		out = append(out, OpcodeInfo{Op: op, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

func init() {
	registerOpcode(OpTransfer, "Transfer", handleTransfer)
	registerOpcode(OpWithdraw, "Withdraw", handleWithdraw)
	registerOpcode(OpRelay, "Relay", handleRelay)
	registerOpcode(OpExternalTransfer, "ExternalTransfer", handleExternalTransfer)
	registerOpcode(OpExternalWithdraw, "ExternalWithdraw", handleExternalWithdraw)
	registerOpcode(OpExternalRelay, "ExternalRelay", handleExternalRelay)
	registerOpcode(OpConditionalTransfer, "ConditionalTransfer", handleConditionalTransfer)
	registerOpcode(OpAirdrop, "Airdrop", handleAirdrop)
}
