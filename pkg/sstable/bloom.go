package sstable

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/zhangxinngang/murmur"
)

const (
	minFilterBits = 64
	maxFilterHash = 30
)

// BloomFilter answers "definitely absent" or "maybe present" for table keys.
// Probes use double hashing: h1 from xxhash, h2 from murmur3.
type BloomFilter struct {
	bits []byte
	k    int
}

// NewBloomFilter sizes a filter for n keys at bitsPerKey bits each
func NewBloomFilter(n int, bitsPerKey int) *BloomFilter {
	nbits := n * bitsPerKey
	if nbits < minFilterBits {
		nbits = minFilterBits
	}

	k := int(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > maxFilterHash {
		k = maxFilterHash
	}

	return &BloomFilter{
		bits: make([]byte, (nbits+7)/8),
		k:    k,
	}
}

func (f *BloomFilter) hashes(key []byte) (uint64, uint64) {
	// An odd step visits every bit position for power-of-two sizes
	return xxhash.Sum64(key), uint64(murmur.Murmur3(key)) | 1
}

// Add inserts key into the filter
func (f *BloomFilter) Add(key []byte) {
	h1, h2 := f.hashes(key)
	nbits := uint64(len(f.bits) * 8)
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % nbits
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MayContain reports false only if key was never added
func (f *BloomFilter) MayContain(key []byte) bool {
	h1, h2 := f.hashes(key)
	nbits := uint64(len(f.bits) * 8)
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % nbits
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}
