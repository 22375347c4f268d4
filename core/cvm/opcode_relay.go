package cvm

// handleRelay records a privacy-preserving payment: real tokens move from
// the relay's own vault into the VM's omnibus, a destination Timelock
// account is credited the same amount, and a VirtualRelayAccount receipt is
// written recording the treasury vault the payment came from. The payment
// is authorized by citing a root the relay vault's commitment history
// actually produced plus a commitment the caller must derive correctly, not
// by any owner signature: nobody's virtual balance is debited here.
func handleRelay(vm *VM, req *ExecRequest) error {
	if len(req.MemIndices) != 2 || len(req.MemBanks) != 2 {
		return invalidArgument("relay requires exactly 2 memory references")
	}
	if len(req.Data) != 8+HashSize+HashSize+PubKeySize {
		return invalidArgument("relay data must be amount || transcript || recent_root || commitment")
	}
	if req.Ctx.Relay == nil {
		return invalidArgument("relay requires a relay account")
	}
	relay := req.Ctx.Relay

	amount := readUint64LE(req.Data[:8])
	var transcript, recentRoot Hash
	copy(transcript[:], req.Data[8:8+HashSize])
	copy(recentRoot[:], req.Data[8+HashSize:8+2*HashSize])
	var commitment PubKey
	copy(commitment[:], req.Data[8+2*HashSize:8+2*HashSize+PubKeySize])

	if !relay.RecentRoots.Contains(recentRoot) {
		return merkleProofInvalid("recent root is not in the relay's history window")
	}

	dstMem, dstIdx, err := req.bankAt(0)
	if err != nil {
		return err
	}
	vraMem, vraIdx, err := req.bankAt(1)
	if err != nil {
		return err
	}

	va, err := dstMem.ReadVirtualAccount(dstIdx)
	if err != nil {
		return err
	}
	dst, err := va.IntoTimelock()
	if err != nil {
		return err
	}

	relayAddr, _ := RelayAddress(relay.Name, relay.VM)
	derivedCommitment, _ := RelayCommitmentAddress(relayAddr, recentRoot, transcript, dst.Owner, amount)
	if derivedCommitment != commitment {
		return invalidArgument("commitment does not match the derived relay commitment address")
	}

	proofAddr, _ := RelayProofAddress(relayAddr, recentRoot, commitment)
	vaultAddr, _ := RelayDestinationAddress(proofAddr)

	if !vraMem.Allocator.HasItem(vraIdx) {
		return invalidArgument("relay receipt slot is not allocated")
	}
	if vm.Ledger.Balance(relay.Treasury.Vault) < amount {
		return insufficientFunds("relay treasury balance below payment amount")
	}

	if err := relay.History.TryInsert(Hash(commitment)); err != nil {
		return err
	}
	vm.metrics.ObserveRelay(relay)

	if err := vm.Ledger.TransferSigned(relay.Treasury.Vault, vm.State.OmnibusVault, amount); err != nil {
		return err
	}
	dst.Balance += amount

	if err := dstMem.WriteVirtualAccount(dstIdx, NewTimelockAccount(dst)); err != nil {
		return err
	}
	receipt := VirtualRelayAccount{Target: vaultAddr, Destination: relay.Treasury.Vault}
	return vraMem.WriteVirtualAccount(vraIdx, NewRelayAccount(receipt))
}
