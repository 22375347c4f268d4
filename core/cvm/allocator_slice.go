package cvm

import "github.com/bits-and-blooms/bitset"

// itemState mirrors the on-chain program's single-byte per-slot tag.
type itemState byte

const (
	itemFree itemState = 0
	itemUsed itemState = 1
)

// SliceAllocator is the production memory layout: a flat byte buffer of
// length capacity*(1+itemSize). The first `capacity` bytes are state tags;
// the remaining capacity*itemSize bytes are item payloads laid out
// contiguously by index. Every operation is O(1) and range-checked.
//
// A bitset mirrors the state-tag bytes so that bulk queries (free count,
// first free index, iteration over used slots) don't need to rescan the
// backing buffer; it is kept in lockstep with every alloc/free call.
type SliceAllocator struct {
	state    []byte // capacity bytes, one itemState per slot
	data     []byte // capacity*itemSize bytes
	capacity int
	itemSize int
	used     *bitset.BitSet
}

// SliceAllocatorSize returns the total byte length of the backing buffer
// required for the given capacity and max item size: capacity*(1+itemSize).
func SliceAllocatorSize(capacity, itemSize int) int {
	return capacity + capacity*itemSize
}

// NewSliceAllocator allocates a fresh, all-free SliceAllocator.
func NewSliceAllocator(capacity, itemSize int) (*SliceAllocator, error) {
	if capacity <= 0 || capacity > 1<<16 {
		return nil, invalidArgument("allocator capacity must be in (0, 65536]")
	}
	if itemSize <= 0 {
		return nil, invalidArgument("allocator item size must be positive")
	}
	return &SliceAllocator{
		state:    make([]byte, capacity),
		data:     make([]byte, capacity*itemSize),
		capacity: capacity,
		itemSize: itemSize,
		used:     bitset.New(uint(capacity)),
	}, nil
}

// SliceAllocatorFromBytes reconstructs a SliceAllocator over a pre-existing
// buffer of at least SliceAllocatorSize(capacity, itemSize) bytes (bytes
// beyond that size are ignored), the way a host deserializes a
// MemoryAccount's trailing payload.
func SliceAllocatorFromBytes(buf []byte, capacity, itemSize int) (*SliceAllocator, error) {
	want := SliceAllocatorSize(capacity, itemSize)
	if len(buf) < want {
		return nil, invalidAccountData("memory buffer shorter than declared capacity/item size")
	}

	state := buf[:capacity]
	data := buf[capacity : capacity+capacity*itemSize]

	used := bitset.New(uint(capacity))
	for i, b := range state {
		if itemState(b) == itemUsed {
			used.Set(uint(i))
		}
	}

	return &SliceAllocator{
		state:    state,
		data:     data,
		capacity: capacity,
		itemSize: itemSize,
		used:     used,
	}, nil
}

// Bytes reconstructs the flat on-wire representation: state tags followed by
// the data region, suitable for writing back into a MemoryAccount.
func (a *SliceAllocator) Bytes() []byte {
	out := make([]byte, 0, len(a.state)+len(a.data))
	out = append(out, a.state...)
	out = append(out, a.data...)
	return out
}

// Capacity returns the number of addressable slots.
func (a *SliceAllocator) Capacity() int { return a.capacity }

// ItemSize returns the maximum payload size per slot.
func (a *SliceAllocator) ItemSize() int { return a.itemSize }

// FreeCount returns the number of currently-free slots.
func (a *SliceAllocator) FreeCount() int { return a.capacity - int(a.used.Count()) }

func (a *SliceAllocator) checkIndex(idx uint16) error {
	if int(idx) >= a.capacity {
		return indexOutOfBounds("item index exceeds allocator capacity")
	}
	return nil
}

// IsEmpty reports whether the slot at idx is Free.
func (a *SliceAllocator) IsEmpty(idx uint16) bool {
	if int(idx) >= a.capacity {
		return false
	}
	return itemState(a.state[idx]) == itemFree
}

// HasItem reports whether the slot at idx is Used.
func (a *SliceAllocator) HasItem(idx uint16) bool {
	if int(idx) >= a.capacity {
		return false
	}
	return itemState(a.state[idx]) == itemUsed
}

// ReadItem returns the full item_size payload at idx, or an error if the
// slot is out of range or Free.
func (a *SliceAllocator) ReadItem(idx uint16) ([]byte, error) {
	if err := a.checkIndex(idx); err != nil {
		return nil, err
	}
	if !a.HasItem(idx) {
		return nil, notFound("item slot is free")
	}
	start := int(idx) * a.itemSize
	out := make([]byte, a.itemSize)
	copy(out, a.data[start:start+a.itemSize])
	return out, nil
}

// TryAllocItem marks idx Used and zeroes its payload. It fails if idx is out
// of range, the requested size exceeds the item size, or the slot is
// already Used.
func (a *SliceAllocator) TryAllocItem(idx uint16, size int) error {
	if err := a.checkIndex(idx); err != nil {
		return err
	}
	if size > a.itemSize {
		return invalidArgument("requested size exceeds allocator item size")
	}
	if a.HasItem(idx) {
		return alreadyExists("item slot is already allocated")
	}

	a.state[idx] = byte(itemUsed)
	a.used.Set(uint(idx))
	start := int(idx) * a.itemSize
	clear(a.data[start : start+a.itemSize])
	return nil
}

// TryFreeItem marks idx Free and zeroes its payload.
func (a *SliceAllocator) TryFreeItem(idx uint16) error {
	if err := a.checkIndex(idx); err != nil {
		return err
	}
	if a.IsEmpty(idx) {
		return invalidArgument("item slot is already free")
	}

	a.state[idx] = byte(itemFree)
	a.used.Clear(uint(idx))
	start := int(idx) * a.itemSize
	clear(a.data[start : start+a.itemSize])
	return nil
}

// TryWriteItem overwrites the payload at idx. The slot must already be
// Used and data must fit within item_size.
func (a *SliceAllocator) TryWriteItem(idx uint16, data []byte) error {
	if err := a.checkIndex(idx); err != nil {
		return err
	}
	if a.IsEmpty(idx) {
		return invalidArgument("cannot write to a free item slot")
	}
	if len(data) > a.itemSize {
		return invalidArgument("data exceeds allocator item size")
	}

	start := int(idx) * a.itemSize
	clear(a.data[start : start+a.itemSize])
	copy(a.data[start:start+len(data)], data)
	return nil
}

// Grow extends the allocator to a larger capacity, preserving every existing
// slot's state and payload. Shrinking is rejected: ResizeMemory may only
// grow a memory account, since existing slot data must remain addressable.
func (a *SliceAllocator) Grow(newCapacity int) error {
	if newCapacity <= a.capacity {
		return invalidArgument("memory accounts may only grow, never shrink")
	}

	newState := make([]byte, newCapacity)
	copy(newState, a.state)

	newData := make([]byte, newCapacity*a.itemSize)
	copy(newData, a.data)

	newUsed := bitset.New(uint(newCapacity))
	for i := uint(0); i < uint(a.capacity); i++ {
		if a.used.Test(i) {
			newUsed.Set(i)
		}
	}

	a.state = newState
	a.data = newData
	a.capacity = newCapacity
	a.used = newUsed
	return nil
}
