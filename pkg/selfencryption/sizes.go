package selfencryption

import "github.com/i5heu/xorvault/pkg/types"

// MinLeafSize is the smallest plaintext leaf the codec emits. Together with
// the key schedule in keys.go it is part of the interop contract.
const MinLeafSize = 1024

// MinEncryptableBytes is the smallest input Encrypt accepts: three minimum
// leaves, so every leaf has two distinct neighbours to mix keys from.
const MinEncryptableBytes = 3 * MinLeafSize

// Params lets tests shrink the chunk ceiling to exercise data-map recursion
// without gigabyte inputs. Production callers use DefaultParams.
type Params struct {
	MaxChunkSize int
	MinLeafSize  int
	// FanOut bounds parallel leaf fetches during Decrypt. Zero means the
	// worker pool default.
	FanOut int
}

func DefaultParams() Params {
	return Params{
		MaxChunkSize: types.MaxChunkSize,
		MinLeafSize:  MinLeafSize,
		FanOut:       8,
	}
}

// maxLeaf is the largest plaintext leaf whose ciphertext still fits the
// chunk ceiling.
func (p Params) maxLeaf() int {
	return p.MaxChunkSize - gcmOverhead
}

func (p Params) minInput() int {
	return 3 * p.MinLeafSize
}

// leafSizes fixes the leaf boundaries as a pure function of the input
// length. Three near-equal leaves below 3x the ceiling; above that,
// full-size leaves with the tail balanced across the last two so no leaf
// falls under half the ceiling.
func (p Params) leafSizes(n int) []int {
	max := p.maxLeaf()
	if n <= 3*max {
		third := n / 3
		first := third
		last := n - 2*third
		// For n = 3*max-1 the remainder leaf lands one byte past the
		// ceiling; shift the overflow onto the first leaf.
		if last > max {
			first += last - max
			last = max
		}
		return []int{first, third, last}
	}

	full := n / max
	rem := n % max
	if rem == 0 {
		sizes := make([]int, full)
		for i := range sizes {
			sizes[i] = max
		}
		return sizes
	}

	sizes := make([]int, full+1)
	for i := 0; i < full-1; i++ {
		sizes[i] = max
	}
	tail := max + rem
	sizes[full-1] = tail / 2
	sizes[full] = tail - tail/2
	return sizes
}
