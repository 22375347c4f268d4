package cvm

import "testing"

func TestProofCacheReturnsSameProofUntilMutation(t *testing.T) {
	gen, err := NewProofGenerator(4, []byte("proof cache seed"))
	if err != nil {
		t.Fatalf("NewProofGenerator: %v", err)
	}
	cache := NewProofCache(gen)

	for i := 0; i < 5; i++ {
		cache.Insert(H([]byte{byte(i)}))
	}

	first, err := cache.GetMerkleProof(2)
	if err != nil {
		t.Fatalf("GetMerkleProof: %v", err)
	}
	second, err := cache.GetMerkleProof(2)
	if err != nil {
		t.Fatalf("GetMerkleProof (cached): %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached proof differs at level %d", i)
		}
	}

	if err := cache.Replace(2, H([]byte("replaced"))); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	third, err := cache.GetMerkleProof(2)
	if err != nil {
		t.Fatalf("GetMerkleProof (post-replace): %v", err)
	}

	direct, err := gen.GetMerkleProof(2)
	if err != nil {
		t.Fatalf("direct GetMerkleProof: %v", err)
	}
	for i := range third {
		if third[i] != direct[i] {
			t.Fatalf("post-mutation cached proof diverges from generator at level %d", i)
		}
	}
}

func TestProofCacheRejectsOutOfRangeIndex(t *testing.T) {
	gen, err := NewProofGenerator(3, []byte("seed"))
	if err != nil {
		t.Fatalf("NewProofGenerator: %v", err)
	}
	cache := NewProofCache(gen)
	cache.Insert(H([]byte("only leaf")))

	if _, err := cache.GetMerkleProof(5); err == nil {
		t.Fatal("expected out-of-range proof request to fail")
	}
}
