package cvm

// handleExternalWithdraw empties a Timelock account's entire balance to an
// external token destination and frees the source slot, the external
// counterpart of Withdraw.
func handleExternalWithdraw(vm *VM, req *ExecRequest) error {
	if len(req.MemIndices) != 2 || len(req.MemBanks) != 2 {
		return invalidArgument("external withdraw requires exactly 2 memory references")
	}
	if len(req.Data) != SignatureSize {
		return invalidArgument("external withdraw data must be a signature")
	}
	if req.Ctx.ExternalAddress == nil {
		return invalidArgument("external withdraw requires an external destination")
	}
	destination := *req.Ctx.ExternalAddress
	signature := req.Data[:SignatureSize]

	nonceMem, nonceIdx, err := req.bankAt(0)
	if err != nil {
		return err
	}
	srcMem, srcIdx, err := req.bankAt(1)
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

	amount := src.Balance

	hash := CreateExternalWithdrawMessage(vm.State, src, destination, vdn)
	if err := verifyEd25519Strict(src.Owner, signature, hash[:]); err != nil {
		return err
	}

	if amount > 0 {
		if err := vm.Ledger.TransferSigned(vm.State.OmnibusVault, destination, amount); err != nil {
			return err
		}
	}

	vdn.Value = req.NewPoH

	if err := srcMem.Allocator.TryFreeItem(srcIdx); err != nil {
		return err
	}
	return nonceMem.WriteVirtualAccount(nonceIdx, NewNonceAccount(vdn))
}
