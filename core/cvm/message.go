package cvm

import (
	"encoding/binary"
	"sort"
)

// AccountMeta names one account referenced by a canonical message along
// with the signer/writable attributes it needs for that reference. When the
// same pubkey is referenced more than once, its attributes are merged with
// logical OR: a pubkey that is signer in one reference and writable in
// another ends up both.
type AccountMeta struct {
	Pubkey     PubKey
	IsSigner   bool
	IsWritable bool
}

// CompiledInstruction is one instruction within a canonical message, with
// its accounts expressed as indices into the message's deduplicated,
// sorted pubkey table.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndices []uint8
	Data           []byte
}

// BuildCanonicalMessage produces the deterministic byte serialization of an
// instruction given its program id, the accounts it touches (with merged
// signer/writable attributes), a payer forced to the head of the account
// list, opaque instruction data, and a recent blockhash (in this VM, not a
// real ledger blockhash: the consumed nonce's current value for opcode
// messages, and the VM's current PoH for instruction commits and Exec). Two
// hosts building the same logical message must produce byte-identical
// output, since an off-by-one in signer/writable counting invalidates every
// existing signature — so this is the single place that ordering logic
// lives; nothing else sorts account metas.
func BuildCanonicalMessage(programID, payer PubKey, metas []AccountMeta, recentBlockhash Hash, data []byte) []byte {
	merged := mergeAccountMetas(programID, payer, metas)

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Pubkey == payer || b.Pubkey == payer {
			return a.Pubkey == payer
		}
		if (a.Pubkey == programID) != (b.Pubkey == programID) {
			return b.Pubkey == programID // programs sort after non-programs
		}
		if a.IsSigner != b.IsSigner {
			return a.IsSigner
		}
		if a.IsWritable != b.IsWritable {
			return a.IsWritable
		}
		return lessPubKey(a.Pubkey, b.Pubkey)
	})

	index := make(map[PubKey]uint8, len(merged))
	numRequiredSignatures := 0
	numReadonlySigned := 0
	numReadonlyUnsigned := 0
	for i, m := range merged {
		index[m.Pubkey] = uint8(i)
		if m.IsSigner {
			numRequiredSignatures++
			if !m.IsWritable {
				numReadonlySigned++
			}
		} else if !m.IsWritable {
			numReadonlyUnsigned++
		}
	}

	accountIndices := make([]uint8, 0, len(merged)-1)
	for _, m := range merged {
		if m.Pubkey == programID {
			continue
		}
		accountIndices = append(accountIndices, index[m.Pubkey])
	}

	instr := CompiledInstruction{
		ProgramIDIndex: index[programID],
		AccountIndices: accountIndices,
		Data:           data,
	}

	out := make([]byte, 0, 3+len(merged)*PubKeySize+HashSize+len(instr.Data)+16)
	out = append(out, byte(numRequiredSignatures), byte(numReadonlySigned), byte(numReadonlyUnsigned))
	for _, m := range merged {
		out = append(out, m.Pubkey[:]...)
	}
	out = append(out, recentBlockhash[:]...)

	out = append(out, instr.ProgramIDIndex)
	out = append(out, uint8(len(instr.AccountIndices)))
	out = append(out, instr.AccountIndices...)
	var dataLen [4]byte
	binary.LittleEndian.PutUint32(dataLen[:], uint32(len(instr.Data)))
	out = append(out, dataLen[:]...)
	out = append(out, instr.Data...)

	return out
}

// HashCanonicalMessage is the final step: H(serialized_message).
func HashCanonicalMessage(programID, payer PubKey, metas []AccountMeta, recentBlockhash Hash, data []byte) Hash {
	return H(BuildCanonicalMessage(programID, payer, metas, recentBlockhash, data))
}

func mergeAccountMetas(programID, payer PubKey, metas []AccountMeta) []AccountMeta {
	order := make([]PubKey, 0, len(metas)+2)
	byKey := make(map[PubKey]*AccountMeta, len(metas)+2)

	add := func(m AccountMeta) {
		if existing, ok := byKey[m.Pubkey]; ok {
			existing.IsSigner = existing.IsSigner || m.IsSigner
			existing.IsWritable = existing.IsWritable || m.IsWritable
			return
		}
		order = append(order, m.Pubkey)
		cp := m
		byKey[m.Pubkey] = &cp
	}

	add(AccountMeta{Pubkey: payer, IsSigner: true, IsWritable: true})
	add(AccountMeta{Pubkey: programID})
	for _, m := range metas {
		add(m)
	}

	out := make([]AccountMeta, len(order))
	for i, k := range order {
		out[i] = *byKey[k]
	}
	return out
}

func lessPubKey(a, b PubKey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// The following message builders assemble the "virtual instruction" each
// opcode handler authorizes a signature over. The program id is the VM's
// own derived address standing in for the real on-chain program; the
// recent blockhash is the consumed nonce's current value, matching durable
// nonce semantics: a client signs offline against a value that will be
// rotated away the moment the signature is spent.

const (
	virtualOpTransfer            byte = 1
	virtualOpWithdraw            byte = 2
	virtualOpExternalTransfer    byte = 3
	virtualOpExternalWithdraw    byte = 4
	virtualOpAirdrop             byte = 5
	virtualOpConditionalTransfer byte = 6
)

// CreateTransferMessage hashes the virtual instruction Transfer authorizes:
// src pays dst (or itself) amount, under src.Owner's signature.
func CreateTransferMessage(vm *VmState, src VirtualTimelockAccount, dst PubKey, vdn VirtualDurableNonce, amount uint64) Hash {
	data := make([]byte, 1+8)
	data[0] = virtualOpTransfer
	binary.LittleEndian.PutUint64(data[1:], amount)

	metas := []AccountMeta{
		{Pubkey: src.Owner, IsSigner: true, IsWritable: true},
		{Pubkey: dst, IsWritable: true},
		{Pubkey: vdn.Address, IsWritable: true},
	}
	return HashCanonicalMessage(vm.Address(), src.Owner, metas, vdn.Value, data)
}

// CreateWithdrawMessage hashes the virtual instruction Withdraw authorizes:
// src's full balance moves to dst and src is closed.
func CreateWithdrawMessage(vm *VmState, src, dst VirtualTimelockAccount, vdn VirtualDurableNonce) Hash {
	data := []byte{virtualOpWithdraw}

	metas := []AccountMeta{
		{Pubkey: src.Owner, IsSigner: true, IsWritable: true},
		{Pubkey: dst.Owner, IsWritable: true},
		{Pubkey: vdn.Address, IsWritable: true},
	}
	return HashCanonicalMessage(vm.Address(), src.Owner, metas, vdn.Value, data)
}

// CreateTransferMessageToExternal hashes the virtual instruction
// ExternalTransfer/ConditionalTransfer authorize: src pays amount to an
// external token destination.
func CreateTransferMessageToExternal(vm *VmState, src VirtualTimelockAccount, dst PubKey, vdn VirtualDurableNonce, amount uint64) Hash {
	data := make([]byte, 1+8)
	data[0] = virtualOpExternalTransfer
	binary.LittleEndian.PutUint64(data[1:], amount)

	metas := []AccountMeta{
		{Pubkey: src.Owner, IsSigner: true, IsWritable: true},
		{Pubkey: dst, IsWritable: true},
		{Pubkey: vdn.Address, IsWritable: true},
	}
	return HashCanonicalMessage(vm.Address(), src.Owner, metas, vdn.Value, data)
}

// CreateExternalWithdrawMessage hashes the virtual instruction
// ExternalWithdraw authorizes: src's full balance moves to an external
// token destination and src is closed.
func CreateExternalWithdrawMessage(vm *VmState, src VirtualTimelockAccount, dst PubKey, vdn VirtualDurableNonce) Hash {
	data := []byte{virtualOpExternalWithdraw}

	metas := []AccountMeta{
		{Pubkey: src.Owner, IsSigner: true, IsWritable: true},
		{Pubkey: dst, IsWritable: true},
		{Pubkey: vdn.Address, IsWritable: true},
	}
	return HashCanonicalMessage(vm.Address(), src.Owner, metas, vdn.Value, data)
}

// CreateAirdropMessage hashes the virtual instruction Airdrop authorizes: a
// single signature over the canonical list of destination owner pubkeys.
func CreateAirdropMessage(vm *VmState, src VirtualTimelockAccount, destinations []PubKey, amount uint64, vdn VirtualDurableNonce) Hash {
	data := make([]byte, 1+8+1)
	data[0] = virtualOpAirdrop
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = uint8(len(destinations))

	metas := make([]AccountMeta, 0, len(destinations)+2)
	metas = append(metas, AccountMeta{Pubkey: src.Owner, IsSigner: true, IsWritable: true})
	metas = append(metas, AccountMeta{Pubkey: vdn.Address, IsWritable: true})
	for _, d := range destinations {
		metas = append(metas, AccountMeta{Pubkey: d, IsWritable: true})
	}
	return HashCanonicalMessage(vm.Address(), src.Owner, metas, vdn.Value, data)
}
