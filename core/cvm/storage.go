package cvm

import lru "github.com/hashicorp/golang-lru/v2"

// proofCacheSize bounds the number of recently generated Merkle proofs an
// off-chain proof service keeps warm. A host regenerating a proof it just
// handed out (a client retrying a stale Decompress, a wallet re-deriving a
// withdrawal receipt) hits the cache instead of replaying GetMerkleProof's
// full layer-by-layer collapse over every inserted leaf.
const proofCacheSize = 256

// ProofCache memoizes ProofGenerator.GetMerkleProof by leaf index. It is
// invalidated wholesale on any tree mutation (Insert/Replace), since either
// can change the even-length padding of layers above the mutated leaf and
// therefore the sibling path for unrelated indices.
type ProofCache struct {
	gen   *ProofGenerator
	cache *lru.Cache[int, []Hash]
}

// NewProofCache wraps an existing ProofGenerator with a bounded proof cache.
func NewProofCache(gen *ProofGenerator) *ProofCache {
	c, err := lru.New[int, []Hash](proofCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which proofCacheSize
		// never is.
		panic(err)
	}
	return &ProofCache{gen: gen, cache: c}
}

// Insert records a new leaf and drops every cached proof, since appending can
// change the zero-padding of any layer above the new leaf.
func (c *ProofCache) Insert(v Hash) {
	c.gen.Insert(v)
	c.cache.Purge()
}

// Replace overwrites a previously inserted leaf and drops every cached proof
// for the same reason as Insert.
func (c *ProofCache) Replace(index int, newLeaf Hash) error {
	if err := c.gen.Replace(index, newLeaf); err != nil {
		return err
	}
	c.cache.Purge()
	return nil
}

// GetMerkleProof returns the cached proof for index if one survived the last
// mutation, otherwise computes and caches a fresh one.
func (c *ProofCache) GetMerkleProof(index int) ([]Hash, error) {
	if proof, ok := c.cache.Get(index); ok {
		return proof, nil
	}
	proof, err := c.gen.GetMerkleProof(index)
	if err != nil {
		return nil, err
	}
	c.cache.Add(index, proof)
	return proof, nil
}
