package cvm

// handleWithdraw moves a source Timelock account's entire balance into a
// destination Timelock account and frees the source slot. It is the
// intra-VM "close" path: once the instruction succeeds the source index is
// free for reuse by any subsequent Init*.
func handleWithdraw(vm *VM, req *ExecRequest) error {
	if len(req.MemIndices) != 3 || len(req.MemBanks) != 3 {
		return invalidArgument("withdraw requires exactly 3 memory references")
	}
	if len(req.Data) != SignatureSize {
		return invalidArgument("withdraw data must be a signature")
	}
	signature := req.Data[:SignatureSize]

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

	amount := src.Balance

	hash := CreateWithdrawMessage(vm.State, src, dst, vdn)
	if err := verifyEd25519Strict(src.Owner, signature, hash[:]); err != nil {
		return err
	}

	sameAccount := srcMem == dstMem && srcIdx == dstIdx
	if !sameAccount {
		src.Balance -= amount
		dst.Balance += amount
	}

	vdn.Value = req.NewPoH

	if err := srcMem.Allocator.TryFreeItem(srcIdx); err != nil {
		return err
	}
	if err := dstMem.WriteVirtualAccount(dstIdx, NewTimelockAccount(dst)); err != nil {
		return err
	}
	return nonceMem.WriteVirtualAccount(nonceIdx, NewNonceAccount(vdn))
}
