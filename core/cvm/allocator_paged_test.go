package cvm

import (
	"bytes"
	"testing"
)

// buildLegacyBuffer hand-assembles a PagedAllocator's on-wire layout for a
// single-sector, two-page legacy memory account holding one item that fits
// in exactly one page.
func buildLegacyBuffer(itemData []byte, pageSize int) []byte {
	const capacity = 2
	const sectorCount = 1
	const pageCount = 2

	var buf []byte

	// Item records: {size u16 LE, sector u8, first_page u8, allocated u8}.
	appendItem := func(size uint16, sector, firstPage, allocated byte) {
		buf = append(buf, byte(size), byte(size>>8), sector, firstPage, allocated)
	}
	appendItem(uint16(len(itemData)), 0, 0, 1) // item 0: allocated, lives in page 0
	appendItem(0, 0, 0, 0)                     // item 1: free

	// Sector record: {num_allocated u8, pages...}.
	buf = append(buf, 1) // num_allocated

	page0 := make([]byte, pageSize)
	copy(page0, itemData)
	buf = append(buf, 1) // page 0 allocated
	buf = append(buf, page0...)
	buf = append(buf, 0) // next = end of chain

	page1 := make([]byte, pageSize)
	buf = append(buf, 0) // page 1 free
	buf = append(buf, page1...)
	buf = append(buf, 0)

	return buf
}

func TestPagedAllocatorReadItem(t *testing.T) {
	itemData := []byte{1, 2, 3, 4}
	buf := buildLegacyBuffer(itemData, 4)

	p, err := NewPagedAllocatorFromBytes(buf, 2, 1, 2, 4)
	if err != nil {
		t.Fatalf("NewPagedAllocatorFromBytes: %v", err)
	}

	if !p.HasItem(0) {
		t.Fatal("item 0 should be allocated")
	}
	if p.HasItem(1) {
		t.Fatal("item 1 should be free")
	}

	got, err := p.ReadItem(0)
	if err != nil {
		t.Fatalf("ReadItem(0): %v", err)
	}
	if !bytes.Equal(got, itemData) {
		t.Fatalf("ReadItem(0) = %v, want %v", got, itemData)
	}

	if _, err := p.ReadItem(1); err == nil {
		t.Fatal("expected error reading a free legacy item")
	}
}

func TestMigrateLegacyItem(t *testing.T) {
	itemData := []byte{5, 6, 7, 8}
	buf := buildLegacyBuffer(itemData, 4)

	src, err := NewPagedAllocatorFromBytes(buf, 2, 1, 2, 4)
	if err != nil {
		t.Fatalf("NewPagedAllocatorFromBytes: %v", err)
	}

	dst, err := NewSliceAllocator(2, 8)
	if err != nil {
		t.Fatalf("NewSliceAllocator: %v", err)
	}

	if err := MigrateLegacyItem(dst, src, 0); err != nil {
		t.Fatalf("MigrateLegacyItem: %v", err)
	}
	if !dst.HasItem(0) {
		t.Fatal("destination slot should be allocated after migration")
	}
	got, err := dst.ReadItem(0)
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if !bytes.Equal(got[:len(itemData)], itemData) {
		t.Fatalf("migrated payload = %v, want prefix %v", got, itemData)
	}

	if err := MigrateLegacyItem(dst, src, 1); err == nil {
		t.Fatal("expected error migrating a free legacy item")
	}
}
