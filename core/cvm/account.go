package cvm

import "encoding/binary"

// AccountTag discriminates the three VirtualAccount variants. It is encoded
// as the single leading byte of every packed virtual account.
type AccountTag byte

const (
	TagNonce    AccountTag = 0
	TagTimelock AccountTag = 1
	TagRelay    AccountTag = 2
)

const (
	nonceSize    = PubKeySize + HashSize                   // address + value
	timelockSize = PubKeySize + HashSize + 3 + 8           // owner + nonce_instance + 3 bumps + balance
	relaySize    = PubKeySize + PubKeySize                 // target + destination
)

// VirtualDurableNonce authorizes at most one mutation per value: handlers
// consuming it stamp vdn.Value with the VM's post-instruction PoH, rendering
// any signature built over the old value single-use.
type VirtualDurableNonce struct {
	Address PubKey
	Value   Hash
}

// VirtualTimelockAccount is the hot-memory representation of one
// participant's balance. The timelock and vault addresses are not stored
// inline; they are re-derived from Owner + the VM's mint/authority/lock
// duration via PDA derivation (see pda.go).
type VirtualTimelockAccount struct {
	Owner         PubKey
	NonceInstance Hash
	TokenBump     uint8
	UnlockBump    uint8
	WithdrawBump  uint8
	Balance       uint64
}

// VirtualRelayAccount is the one-shot redirected-transfer receipt written by
// Relay/ExternalRelay and consumed by ConditionalTransfer. Target is the
// vault address derived from the commitment's proof address. Destination
// records who the underlying payment actually reached: Relay stamps the
// relay's own treasury vault (the payment stayed inside the VM, credited to
// a Timelock account), while ExternalRelay stamps the external token
// address the payment left to — the address ConditionalTransfer checks
// against as its proof of prior payment.
type VirtualRelayAccount struct {
	Target      PubKey
	Destination PubKey
}

// VirtualAccount is the tagged union actually stored in a memory slot.
// Exactly one of the pointer fields is non-nil.
type VirtualAccount struct {
	Tag      AccountTag
	Nonce    *VirtualDurableNonce
	Timelock *VirtualTimelockAccount
	Relay    *VirtualRelayAccount
}

// NewNonceAccount wraps a VirtualDurableNonce in the tagged union.
func NewNonceAccount(v VirtualDurableNonce) VirtualAccount {
	return VirtualAccount{Tag: TagNonce, Nonce: &v}
}

// NewTimelockAccount wraps a VirtualTimelockAccount in the tagged union.
func NewTimelockAccount(v VirtualTimelockAccount) VirtualAccount {
	return VirtualAccount{Tag: TagTimelock, Timelock: &v}
}

// NewRelayAccount wraps a VirtualRelayAccount in the tagged union.
func NewRelayAccount(v VirtualRelayAccount) VirtualAccount {
	return VirtualAccount{Tag: TagRelay, Relay: &v}
}

// IntoNonce returns the Nonce payload, or an error if va does not hold one.
func (va VirtualAccount) IntoNonce() (VirtualDurableNonce, error) {
	if va.Tag != TagNonce || va.Nonce == nil {
		return VirtualDurableNonce{}, invalidAccountData("virtual account is not a Nonce")
	}
	return *va.Nonce, nil
}

// IntoTimelock returns the Timelock payload, or an error if va does not
// hold one.
func (va VirtualAccount) IntoTimelock() (VirtualTimelockAccount, error) {
	if va.Tag != TagTimelock || va.Timelock == nil {
		return VirtualTimelockAccount{}, invalidAccountData("virtual account is not a Timelock")
	}
	return *va.Timelock, nil
}

// IntoRelay returns the Relay payload, or an error if va does not hold one.
func (va VirtualAccount) IntoRelay() (VirtualRelayAccount, error) {
	if va.Tag != TagRelay || va.Relay == nil {
		return VirtualRelayAccount{}, invalidAccountData("virtual account is not a Relay")
	}
	return *va.Relay, nil
}

// Pack serializes va as `[tag_byte] ‖ variant_payload`, little-endian field
// order, matching the on-chain program's byte-exact encoding.
func (va VirtualAccount) Pack() ([]byte, error) {
	switch va.Tag {
	case TagNonce:
		if va.Nonce == nil {
			return nil, invalidAccountData("nonce tag set without payload")
		}
		buf := make([]byte, 1+nonceSize)
		buf[0] = byte(TagNonce)
		copy(buf[1:], va.Nonce.Address[:])
		copy(buf[1+PubKeySize:], va.Nonce.Value[:])
		return buf, nil

	case TagTimelock:
		if va.Timelock == nil {
			return nil, invalidAccountData("timelock tag set without payload")
		}
		t := va.Timelock
		buf := make([]byte, 1+timelockSize)
		off := 1
		buf[0] = byte(TagTimelock)
		copy(buf[off:], t.Owner[:])
		off += PubKeySize
		copy(buf[off:], t.NonceInstance[:])
		off += HashSize
		buf[off] = t.TokenBump
		buf[off+1] = t.UnlockBump
		buf[off+2] = t.WithdrawBump
		off += 3
		binary.LittleEndian.PutUint64(buf[off:], t.Balance)
		return buf, nil

	case TagRelay:
		if va.Relay == nil {
			return nil, invalidAccountData("relay tag set without payload")
		}
		buf := make([]byte, 1+relaySize)
		buf[0] = byte(TagRelay)
		copy(buf[1:], va.Relay.Target[:])
		copy(buf[1+PubKeySize:], va.Relay.Destination[:])
		return buf, nil

	default:
		return nil, invalidAccountData("unknown virtual account tag")
	}
}

// UnpackVirtualAccount decodes a packed virtual account, rejecting unknown
// tags and buffers too short for the declared variant.
func UnpackVirtualAccount(buf []byte) (VirtualAccount, error) {
	if len(buf) < 1 {
		return VirtualAccount{}, invalidAccountData("empty virtual account buffer")
	}

	tag := AccountTag(buf[0])
	body := buf[1:]

	switch tag {
	case TagNonce:
		if len(body) < nonceSize {
			return VirtualAccount{}, invalidAccountData("nonce buffer too short")
		}
		var n VirtualDurableNonce
		copy(n.Address[:], body[:PubKeySize])
		copy(n.Value[:], body[PubKeySize:PubKeySize+HashSize])
		return NewNonceAccount(n), nil

	case TagTimelock:
		if len(body) < timelockSize {
			return VirtualAccount{}, invalidAccountData("timelock buffer too short")
		}
		var t VirtualTimelockAccount
		off := 0
		copy(t.Owner[:], body[off:off+PubKeySize])
		off += PubKeySize
		copy(t.NonceInstance[:], body[off:off+HashSize])
		off += HashSize
		t.TokenBump = body[off]
		t.UnlockBump = body[off+1]
		t.WithdrawBump = body[off+2]
		off += 3
		t.Balance = binary.LittleEndian.Uint64(body[off : off+8])
		return NewTimelockAccount(t), nil

	case TagRelay:
		if len(body) < relaySize {
			return VirtualAccount{}, invalidAccountData("relay buffer too short")
		}
		var r VirtualRelayAccount
		copy(r.Target[:], body[:PubKeySize])
		copy(r.Destination[:], body[PubKeySize:PubKeySize+PubKeySize])
		return NewRelayAccount(r), nil

	default:
		return VirtualAccount{}, invalidAccountData("unknown virtual account tag")
	}
}

// GetHash returns H(pack(va)), the per-account digest compressed into the
// storage tree and cited by the withdraw-receipt protocol.
func GetHash(va VirtualAccount) (Hash, error) {
	packed, err := va.Pack()
	if err != nil {
		return Hash{}, err
	}
	return H(packed), nil
}
