package cvm

// handleAirdrop pays the same amount out of one Timelock source to each of
// N Timelock destinations under a single signature over the canonical list
// of destination owners. A destination that happens to be the source
// account itself (self-inclusion) is a net no-op for that leg: it is
// excluded from both the debit total and the destination write pass, since
// crediting and debiting the same slot by the same amount leaves it
// unchanged.
func handleAirdrop(vm *VM, req *ExecRequest) error {
	if len(req.MemIndices) < 3 || len(req.MemIndices) != len(req.MemBanks) {
		return invalidArgument("airdrop requires a nonce, a source, and at least one destination")
	}
	if len(req.Data) < SignatureSize+8+1 {
		return invalidArgument("airdrop data must be signature || amount || count")
	}
	signature := req.Data[:SignatureSize]
	amount := readUint64LE(req.Data[SignatureSize : SignatureSize+8])
	count := int(req.Data[SignatureSize+8])
	if count != len(req.MemIndices)-2 {
		return invalidArgument("airdrop destination count does not match memory references")
	}

	nonceMem, nonceIdx, err := req.bankAt(0)
	if err != nil {
		return err
	}
	srcMem, srcIdx, err := req.bankAt(1)
	if err != nil {
		return err
	}

	type destRef struct {
		mem *MemoryAccount
		idx uint16
		va  VirtualTimelockAccount
	}
	dests := make([]destRef, count)
	destinations := make([]PubKey, count)
	for i := 0; i < count; i++ {
		m, idx, err := req.bankAt(2 + i)
		if err != nil {
			return err
		}
		va, err := m.ReadVirtualAccount(idx)
		if err != nil {
			return err
		}
		tl, err := va.IntoTimelock()
		if err != nil {
			return err
		}
		dests[i] = destRef{mem: m, idx: idx, va: tl}
		destinations[i] = tl.Owner
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

	hash := CreateAirdropMessage(vm.State, src, destinations, amount, vdn)
	if err := verifyEd25519Strict(src.Owner, signature, hash[:]); err != nil {
		return err
	}

	total, overflow := mulUint64Checked(amount, uint64(count))
	if overflow {
		return arithmeticOverflow("airdrop amount times count overflows u64")
	}
	if src.Balance < total {
		return insufficientFunds("airdrop total exceeds source balance")
	}

	var debit uint64
	for _, d := range dests {
		if d.mem != srcMem || d.idx != srcIdx {
			debit += amount
		}
	}
	src.Balance -= debit

	vdn.Value = req.NewPoH

	if err := srcMem.WriteVirtualAccount(srcIdx, NewTimelockAccount(src)); err != nil {
		return err
	}
	for _, d := range dests {
		if d.mem == srcMem && d.idx == srcIdx {
			continue
		}
		d.va.Balance += amount
		if err := d.mem.WriteVirtualAccount(d.idx, NewTimelockAccount(d.va)); err != nil {
			return err
		}
	}
	return nonceMem.WriteVirtualAccount(nonceIdx, NewNonceAccount(vdn))
}
