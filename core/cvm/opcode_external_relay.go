package cvm

// handleExternalRelay is handleRelay's external counterpart: the relay
// vault pays an external token destination directly, with no intervening
// Timelock credit, so there is no dst memory reference at all — only the
// receipt slot.
func handleExternalRelay(vm *VM, req *ExecRequest) error {
	if len(req.MemIndices) != 1 || len(req.MemBanks) != 1 {
		return invalidArgument("external relay requires exactly 1 memory reference")
	}
	if len(req.Data) != 8+HashSize+HashSize+PubKeySize {
		return invalidArgument("external relay data must be amount || transcript || recent_root || commitment")
	}
	if req.Ctx.Relay == nil {
		return invalidArgument("external relay requires a relay account")
	}
	if req.Ctx.ExternalAddress == nil {
		return invalidArgument("external relay requires an external destination")
	}
	relay := req.Ctx.Relay
	destination := *req.Ctx.ExternalAddress

	amount := readUint64LE(req.Data[:8])
	var transcript, recentRoot Hash
	copy(transcript[:], req.Data[8:8+HashSize])
	copy(recentRoot[:], req.Data[8+HashSize:8+2*HashSize])
	var commitment PubKey
	copy(commitment[:], req.Data[8+2*HashSize:8+2*HashSize+PubKeySize])

	if !relay.RecentRoots.Contains(recentRoot) {
		return merkleProofInvalid("recent root is not in the relay's history window")
	}

	vraMem, vraIdx, err := req.bankAt(0)
	if err != nil {
		return err
	}

	relayAddr, _ := RelayAddress(relay.Name, relay.VM)
	derivedCommitment, _ := RelayCommitmentAddress(relayAddr, recentRoot, transcript, destination, amount)
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

	if err := vm.Ledger.TransferSigned(relay.Treasury.Vault, destination, amount); err != nil {
		return err
	}

	receipt := VirtualRelayAccount{Target: vaultAddr, Destination: destination}
	return vraMem.WriteVirtualAccount(vraIdx, NewRelayAccount(receipt))
}
