package cvm

import "encoding/binary"

// Program-derived addresses are an explicit external collaborator per the
// CVM's scope: the real derivation (find_program_address, an iterative
// bump search for an off-curve point) lives in the host ledger/runtime.
// This package only needs a *deterministic* stand-in so the opcode and
// instruction handlers can re-derive the same address a host would have
// derived for the same seeds, and so tests can assert on them. derivePDA
// hashes the seeds together with a fixed canonical bump; there is no
// curve-membership search, since these addresses never need to double as
// real Ed25519 public keys in this simulation.
const pdaBump uint8 = 255

var codeVMSeed = []byte("code_vm")

func derivePDA(seeds ...[]byte) (PubKey, uint8) {
	all := make([][]byte, 0, len(seeds)+1)
	all = append(all, seeds...)
	all = append(all, []byte{pdaBump})
	h := Hashv(all...)
	return PubKey(h), pdaBump
}

// VMAddress derives the VM root account's address from its mint, authority
// and lock duration.
func VMAddress(mint, authority PubKey, lockDurationDays uint8) (PubKey, uint8) {
	return derivePDA(codeVMSeed, mint[:], authority[:], []byte{lockDurationDays})
}

// OmnibusAddress derives the VM's omnibus token vault address.
func OmnibusAddress(vm PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_omnibus"), vm[:])
}

// MemoryAddress derives a named memory bank's address.
func MemoryAddress(name [32]byte, vm PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_memory_account"), name[:], vm[:])
}

// StorageAddress derives a named storage account's address.
func StorageAddress(name [32]byte, vm PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_storage_account"), name[:], vm[:])
}

// RelayAddress derives a named relay account's address.
func RelayAddress(name [32]byte, vm PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_relay_account"), name[:], vm[:])
}

// RelayVaultAddress derives a relay's token vault address.
func RelayVaultAddress(relay PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_relay_vault"), relay[:])
}

// DepositAddress derives a depositor's deposit PDA for a given VM.
func DepositAddress(depositor, vm PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_deposit_pda"), depositor[:], vm[:])
}

// UnlockAddress derives the UnlockState PDA for (owner, timelockAddress, vm).
func UnlockAddress(owner, timelockAddress, vm PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_unlock_pda_account"), owner[:], timelockAddress[:], vm[:])
}

// WithdrawReceiptAddress derives the existence-only withdraw-receipt PDA for
// (unlockPDA, nonceInstance, vm).
func WithdrawReceiptAddress(unlockPDA PubKey, nonceInstance Hash, vm PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_withdraw_receipt"), unlockPDA[:], nonceInstance[:], vm[:])
}

// RelayCommitmentAddress derives the commitment address bound to a specific
// relay payment: (relay, recent_root, transcript, destination, amount).
func RelayCommitmentAddress(relay PubKey, recentRoot Hash, transcript Hash, destination PubKey, amount uint64) (PubKey, uint8) {
	var amountLE [8]byte
	binary.LittleEndian.PutUint64(amountLE[:], amount)
	return derivePDA(codeVMSeed, []byte("vm_relay_commitment"), relay[:], recentRoot[:], transcript[:], destination[:], amountLE[:])
}

// RelayProofAddress derives the proof address for a (relay, recentRoot,
// commitment) triple.
func RelayProofAddress(relay PubKey, recentRoot Hash, commitment PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_relay_proof"), relay[:], recentRoot[:], commitment[:])
}

// TimelockAddress derives a participant's timelock account address from
// their owner key and the VM's mint/authority/lock-duration triple. The
// canonical seed list (spec's PDA seed schemes) does not enumerate this
// derivation explicitly since the timelock account never needs a physical
// on-chain address of its own in this simulation — owner + mint + authority
// + lock_duration is already a unique key — but account.go's virtual
// timelock account documents it as derivable, so it is named here for any
// caller (tests, the CLI) that wants a stable display address.
func TimelockAddress(owner, mint, authority PubKey, lockDurationDays uint8) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_timelock_account"), owner[:], mint[:], authority[:], []byte{lockDurationDays})
}

// TimelockVaultAddress derives a timelock account's token vault address.
func TimelockVaultAddress(timelock PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_timelock_vault"), timelock[:])
}

// RelayDestinationAddress derives the vault address a relay proof pays out
// to, following find_relay_destination's dependence on the proof address
// alone.
func RelayDestinationAddress(proof PubKey) (PubKey, uint8) {
	return derivePDA(codeVMSeed, []byte("vm_relay_destination"), proof[:])
}
