package cvm

import (
	"bytes"
	"testing"
)

func TestSliceAllocatorRoundTrip(t *testing.T) {
	a, err := NewSliceAllocator(4, 8)
	if err != nil {
		t.Fatalf("NewSliceAllocator: %v", err)
	}

	if err := a.TryAllocItem(1, 5); err != nil {
		t.Fatalf("TryAllocItem: %v", err)
	}
	data := []byte("hello")
	if err := a.TryWriteItem(1, data); err != nil {
		t.Fatalf("TryWriteItem: %v", err)
	}

	got, err := a.ReadItem(1)
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if !bytes.Equal(got[:len(data)], data) {
		t.Fatalf("read back %q, want prefix %q", got, data)
	}
	for _, b := range got[len(data):] {
		if b != 0 {
			t.Fatalf("expected zero padding after written data, got %v", got)
		}
	}
}

func TestSliceAllocatorFreshnessAfterFree(t *testing.T) {
	a, err := NewSliceAllocator(2, 4)
	if err != nil {
		t.Fatalf("NewSliceAllocator: %v", err)
	}

	if err := a.TryAllocItem(0, 4); err != nil {
		t.Fatalf("TryAllocItem: %v", err)
	}
	if err := a.TryWriteItem(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("TryWriteItem: %v", err)
	}
	if err := a.TryFreeItem(0); err != nil {
		t.Fatalf("TryFreeItem: %v", err)
	}
	if err := a.TryAllocItem(0, 2); err != nil {
		t.Fatalf("TryAllocItem (reuse): %v", err)
	}

	got, err := a.ReadItem(0)
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	for _, b := range got {
		if b != 0 {
			t.Fatalf("freshly reallocated slot should read all zeros, got %v", got)
		}
	}
}

func TestSliceAllocatorRejectsOutOfRangeAndConflicts(t *testing.T) {
	a, err := NewSliceAllocator(2, 4)
	if err != nil {
		t.Fatalf("NewSliceAllocator: %v", err)
	}

	if err := a.TryAllocItem(5, 1); err == nil {
		t.Fatal("expected out-of-range index to fail")
	}
	if err := a.TryAllocItem(0, 5); err == nil {
		t.Fatal("expected size exceeding item size to fail")
	}
	if err := a.TryWriteItem(0, []byte{1}); err == nil {
		t.Fatal("expected write to a free slot to fail")
	}

	if err := a.TryAllocItem(0, 2); err != nil {
		t.Fatalf("TryAllocItem: %v", err)
	}
	if err := a.TryAllocItem(0, 2); err == nil {
		t.Fatal("expected alloc-over-used to fail")
	}
	if err := a.TryFreeItem(1); err == nil {
		t.Fatal("expected free of an already-free slot to fail")
	}
}

func TestSliceAllocatorGrowPreservesExistingSlots(t *testing.T) {
	a, err := NewSliceAllocator(2, 4)
	if err != nil {
		t.Fatalf("NewSliceAllocator: %v", err)
	}
	if err := a.TryAllocItem(0, 4); err != nil {
		t.Fatalf("TryAllocItem: %v", err)
	}
	if err := a.TryWriteItem(0, []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("TryWriteItem: %v", err)
	}

	if err := a.Grow(5); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if a.Capacity() != 5 {
		t.Fatalf("capacity = %d, want 5", a.Capacity())
	}
	got, err := a.ReadItem(0)
	if err != nil {
		t.Fatalf("ReadItem after grow: %v", err)
	}
	if !bytes.Equal(got, []byte{9, 9, 9, 9}) {
		t.Fatalf("grow must preserve existing slot data, got %v", got)
	}

	if err := a.Grow(3); err == nil {
		t.Fatal("expected shrink to be rejected")
	}
}

func TestSliceAllocatorFromBytesReconstructsState(t *testing.T) {
	a, err := NewSliceAllocator(3, 2)
	if err != nil {
		t.Fatalf("NewSliceAllocator: %v", err)
	}
	if err := a.TryAllocItem(1, 2); err != nil {
		t.Fatalf("TryAllocItem: %v", err)
	}
	if err := a.TryWriteItem(1, []byte{7, 8}); err != nil {
		t.Fatalf("TryWriteItem: %v", err)
	}

	buf := a.Bytes()
	b, err := SliceAllocatorFromBytes(buf, 3, 2)
	if err != nil {
		t.Fatalf("SliceAllocatorFromBytes: %v", err)
	}
	if !b.IsEmpty(0) {
		t.Fatal("slot 0 was never allocated and should remain free")
	}
	if !b.HasItem(1) {
		t.Fatal("reconstructed allocator lost its used slot")
	}
	got, err := b.ReadItem(1)
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if !bytes.Equal(got, []byte{7, 8}) {
		t.Fatalf("reconstructed payload = %v, want [7 8]", got)
	}
}
