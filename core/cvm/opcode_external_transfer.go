package cvm

// handleExternalTransfer moves amount out of a Timelock account to an
// external token destination via the VM's omnibus vault. Unlike Transfer,
// the recipient is a real token account the host ledger owns, not another
// virtual account in this VM's memory, so the move is authorized through
// the TokenLedger collaborator rather than a second WriteVirtualAccount.
func handleExternalTransfer(vm *VM, req *ExecRequest) error {
	if len(req.MemIndices) != 2 || len(req.MemBanks) != 2 {
		return invalidArgument("external transfer requires exactly 2 memory references")
	}
	if len(req.Data) != SignatureSize+8 {
		return invalidArgument("external transfer data must be signature || amount")
	}
	if req.Ctx.ExternalAddress == nil {
		return invalidArgument("external transfer requires an external destination")
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

	hash := CreateTransferMessageToExternal(vm.State, src, destination, vdn, amount)
	if err := verifyEd25519Strict(src.Owner, signature, hash[:]); err != nil {
		return err
	}

	if src.Balance < amount {
		return insufficientFunds("external transfer amount exceeds source balance")
	}

	if err := vm.Ledger.TransferSigned(vm.State.OmnibusVault, destination, amount); err != nil {
		return err
	}
	src.Balance -= amount

	vdn.Value = req.NewPoH

	if err := srcMem.WriteVirtualAccount(srcIdx, NewTimelockAccount(src)); err != nil {
		return err
	}
	return nonceMem.WriteVirtualAccount(nonceIdx, NewNonceAccount(vdn))
}
