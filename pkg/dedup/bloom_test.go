package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(10000, 0.01)

	for i := 0; i < 10000; i++ {
		bf.Add(fmt.Sprintf("key-%d", i))
	}
	for i := 0; i < 10000; i++ {
		assert.True(t, bf.Test(fmt.Sprintf("key-%d", i)), "added key must test positive")
	}
}

func TestFalsePositiveRateNearTarget(t *testing.T) {
	const capacity = 10000
	const target = 0.01

	bf := NewBloomFilter(capacity, target)
	for i := 0; i < capacity; i++ {
		bf.Add(fmt.Sprintf("member-%d", i))
	}

	falsePositives := 0
	const probes = 50000
	for i := 0; i < probes; i++ {
		if bf.Test(fmt.Sprintf("outsider-%d", i)) {
			falsePositives++
		}
	}

	observed := float64(falsePositives) / probes
	// Allow a small multiple of the configured target.
	assert.Less(t, observed, target*3, "observed fp rate %f", observed)
}

func TestSizingFormulas(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)
	// m = -n ln p / ln(2)^2 ~ 9586 bits, k = m/n ln 2 ~ 7 hashes.
	assert.InDelta(t, 9586, int(bf.Bits()), 2)
	assert.Equal(t, uint64(7), bf.Hashes())
}

func TestTestAndAdd(t *testing.T) {
	bf := NewBloomFilter(100, 0.01)

	require.False(t, bf.TestAndAdd("tweet-1"), "first sighting is not a duplicate")
	assert.True(t, bf.TestAndAdd("tweet-1"), "second sighting is a duplicate")
	assert.Equal(t, uint64(1), bf.Count())
}

func TestConcurrentAddTest(t *testing.T) {
	bf := NewBloomFilter(100000, 0.01)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				bf.Add(fmt.Sprintf("w%d-key-%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 8; w++ {
		for i := 0; i < 2000; i++ {
			require.True(t, bf.Test(fmt.Sprintf("w%d-key-%d", w, i)))
		}
	}
}
