package sstable

import (
	"fmt"
	"testing"
)

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	f := NewBloomFilter(1000, 10)
	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("key-%d", i)))
	}

	for i := 0; i < 1000; i++ {
		if !f.MayContain([]byte(fmt.Sprintf("key-%d", i))) {
			t.Fatalf("filter rejected an added key: key-%d", i)
		}
	}
}

func TestBloomFilterFalsePositiveRate(t *testing.T) {
	f := NewBloomFilter(1000, 10)
	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("key-%d", i)))
	}

	falsePositives := 0
	for i := 0; i < 10000; i++ {
		if f.MayContain([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}

	// About 1% is expected at 10 bits per key
	if falsePositives > 500 {
		t.Errorf("false positive rate too high: %d of 10000", falsePositives)
	}
}

func TestBloomFilterSmall(t *testing.T) {
	f := NewBloomFilter(0, 1)
	if len(f.bits)*8 < minFilterBits {
		t.Errorf("expected at least %d bits, got %d", minFilterBits, len(f.bits)*8)
	}
	f.Add([]byte{})
	if !f.MayContain(nil) {
		t.Errorf("expected empty key to be found")
	}
}
