package cvm

// handleTransfer moves amount from a source Timelock account to a
// destination Timelock account, both addressed within the VM's own memory
// banks. The source owner's signature over the canonical transfer message
// authorizes the move; a transfer to the same (bank, index) as the source
// is a signed no-op.
func handleTransfer(vm *VM, req *ExecRequest) error {
	if len(req.MemIndices) != 3 || len(req.MemBanks) != 3 {
		return invalidArgument("transfer requires exactly 3 memory references")
	}
	if len(req.Data) != SignatureSize+8 {
		return invalidArgument("transfer data must be signature || amount")
	}
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
	dstMem, dstIdx, err := req.bankAt(2)
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

	va, err = dstMem.ReadVirtualAccount(dstIdx)
	if err != nil {
		return err
	}
	dst, err := va.IntoTimelock()
	if err != nil {
		return err
	}

	hash := CreateTransferMessage(vm.State, src, dst.Owner, vdn, amount)
	if err := verifyEd25519Strict(src.Owner, signature, hash[:]); err != nil {
		return err
	}

	if src.Balance < amount {
		return insufficientFunds("transfer amount exceeds source balance")
	}

	sameAccount := srcMem == dstMem && srcIdx == dstIdx
	if !sameAccount {
		src.Balance -= amount
		dst.Balance += amount
	}

	vdn.Value = req.NewPoH

	if err := srcMem.WriteVirtualAccount(srcIdx, NewTimelockAccount(src)); err != nil {
		return err
	}
	if err := dstMem.WriteVirtualAccount(dstIdx, NewTimelockAccount(dst)); err != nil {
		return err
	}
	return nonceMem.WriteVirtualAccount(nonceIdx, NewNonceAccount(vdn))
}
