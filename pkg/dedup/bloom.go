// Package dedup provides the probabilistic duplicate-membership filter
// used by the pipeline's dedup stage. The filter never yields a false
// negative: a key that was added always tests positive afterward. False
// positives occur at a bounded, configured rate and cause a legitimate
// item to be dropped; that trade-off is accepted by design of the
// dedup stage.
package dedup

import (
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// BloomFilter is a fixed-size bit vector with k hash functions derived
// from the configured capacity and target false-positive rate. It is not
// resizable and is never reset during a run. Add and Test are serialized
// with a mutex so concurrent item pipelines cannot lose bit updates.
type BloomFilter struct {
	mu   sync.Mutex
	bits []uint64
	m    uint64 // bit vector length
	k    uint64 // hash function count
	n    uint64 // keys added
}

// NewBloomFilter sizes a filter for the expected number of distinct keys
// and the target false-positive rate using the standard optimal-parameter
// formulas: m = -n*ln(p)/ln(2)^2, k = m/n*ln(2).
func NewBloomFilter(capacity int, falsePositiveRate float64) *BloomFilter {
	if capacity < 1 {
		capacity = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	n := float64(capacity)
	m := math.Ceil(-n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	k := math.Round(m / n * math.Ln2)
	if k < 1 {
		k = 1
	}

	return &BloomFilter{
		bits: make([]uint64, (uint64(m)+63)/64),
		m:    uint64(m),
		k:    uint64(k),
	}
}

// hashPair produces the two independent hashes used for double hashing
// (Kirsch-Mitzenmacher): index_i = h1 + i*h2 mod m.
func hashPair(key string) (uint64, uint64) {
	h1 := xxhash.Sum64String(key)
	d := xxhash.New()
	_, _ = d.WriteString(key)
	_, _ = d.Write([]byte{0xff})
	h2 := d.Sum64()
	// h2 must be odd so the probe sequence covers the vector.
	return h1, h2 | 1
}

// Add records the key in the filter.
func (bf *BloomFilter) Add(key string) {
	h1, h2 := hashPair(key)

	bf.mu.Lock()
	defer bf.mu.Unlock()

	for i := uint64(0); i < bf.k; i++ {
		idx := (h1 + i*h2) % bf.m
		bf.bits[idx/64] |= 1 << (idx % 64)
	}
	bf.n++
}

// Test reports whether the key is possibly present. A false result is
// authoritative; a true result may be a false positive.
func (bf *BloomFilter) Test(key string) bool {
	h1, h2 := hashPair(key)

	bf.mu.Lock()
	defer bf.mu.Unlock()

	for i := uint64(0); i < bf.k; i++ {
		idx := (h1 + i*h2) % bf.m
		if bf.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// TestAndAdd reports whether the key was possibly present and records it
// if it was not, in one critical section. The dedup stage uses this to
// avoid the check-then-add race between concurrent item pipelines.
func (bf *BloomFilter) TestAndAdd(key string) bool {
	h1, h2 := hashPair(key)

	bf.mu.Lock()
	defer bf.mu.Unlock()

	present := true
	for i := uint64(0); i < bf.k; i++ {
		idx := (h1 + i*h2) % bf.m
		word, bit := idx/64, uint64(1)<<(idx%64)
		if bf.bits[word]&bit == 0 {
			present = false
			bf.bits[word] |= bit
		}
	}
	if !present {
		bf.n++
	}
	return present
}

// Count returns the number of distinct keys added so far.
func (bf *BloomFilter) Count() uint64 {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return bf.n
}

// Bits returns the bit-vector length; useful for sizing diagnostics.
func (bf *BloomFilter) Bits() uint64 { return bf.m }

// Hashes returns the hash-function count.
func (bf *BloomFilter) Hashes() uint64 { return bf.k }
