package cvm

// handleConditionalTransfer spends a Timelock balance to an external
// destination the same way ExternalTransfer does, but only when the caller
// holds a VirtualRelayAccount receipt whose Destination names that same
// external address: a prior ExternalRelay payment already proved the funds
// reached it, so this instruction's job is only to release the matching
// virtual balance under the owner's signature and burn the receipt so it
// cannot authorize a second release.
func handleConditionalTransfer(vm *VM, req *ExecRequest) error {
	if len(req.MemIndices) != 3 || len(req.MemBanks) != 3 {
		return invalidArgument("conditional transfer requires exactly 3 memory references")
	}
	if len(req.Data) != SignatureSize+8 {
		return invalidArgument("conditional transfer data must be signature || amount")
	}
	if req.Ctx.ExternalAddress == nil {
		return invalidArgument("conditional transfer requires an external destination")
	}
	destination := *req.Ctx.ExternalAddress

	signature := req.Data[:SignatureSize]
	amount := readUint64LE(req.Data[SignatureSize:])

	nonceMem, nonceIdx, err := req.bankAt(0)
	if err != nil {
		return err
	}
	srcMem, srcIdx, err := req.bankAt(1)
	if err != nil {
		return err
	}
	vraMem, vraIdx, err := req.bankAt(2)
	if err != nil {
		return err
	}

	va, err := nonceMem.ReadVirtualAccount(nonceIdx)
	if err != nil {
		return err
	}
	vdn, err := va.IntoNonce()
	if err != nil {
		return err
	}

	va, err = srcMem.ReadVirtualAccount(srcIdx)
	if err != nil {
		return err
	}
	src, err := va.IntoTimelock()
	if err != nil {
		return err
	}
	if src.NonceInstance != H(vdn.Address[:]) {
		return invalidArgument("nonce instance does not match source account")
	}

	va, err = vraMem.ReadVirtualAccount(vraIdx)
	if err != nil {
		return err
	}
	vra, err := va.IntoRelay()
	if err != nil {
		return err
	}
	if vra.Destination != destination {
		return invalidArgument("relay receipt does not authorize this destination")
	}

	hash := CreateTransferMessageToExternal(vm.State, src, destination, vdn, amount)
	if err := verifyEd25519Strict(src.Owner, signature, hash[:]); err != nil {
		return err
	}
	if src.Balance < amount {
		return insufficientFunds("conditional transfer amount exceeds source balance")
	}

	if err := vm.Ledger.TransferSigned(vm.State.OmnibusVault, destination, amount); err != nil {
		return err
	}
	src.Balance -= amount

	vdn.Value = req.NewPoH

	if err := srcMem.WriteVirtualAccount(srcIdx, NewTimelockAccount(src)); err != nil {
		return err
	}
	if err := vraMem.Allocator.TryFreeItem(vraIdx); err != nil {
		return err
	}
	return nonceMem.WriteVirtualAccount(nonceIdx, NewNonceAccount(vdn))
}
