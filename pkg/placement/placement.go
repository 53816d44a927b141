// Package placement maps a chunk address to the adults that should hold it.
package placement

import (
	"sort"

	"github.com/i5heu/xorvault/pkg/types"
)

// DefaultReplicationFactor is the number of adults asked to hold each chunk.
const DefaultReplicationFactor = 4

// Quorum returns the ack count that makes a write durable for a given
// replication factor: ceil(k/2) + 1.
func Quorum(k int) int {
	return (k+1)/2 + 1
}

// Holders returns the k members XOR-closest to addr, ascending by distance.
// Ties break on raw byte order of the name. Deterministic given
// (addr, members); a joining node displaces at most the farthest holder and
// a leaving node promotes exactly the next-farthest non-holder.
func Holders(addr types.ChunkAddress, members types.NameSet, k int) []types.XorName {
	names := make([]types.XorName, 0, len(members))
	for n := range members {
		names = append(names, n)
	}
	sortByDistance(addr, names)
	if len(names) > k {
		names = names[:k]
	}
	return names
}

// HoldersExcluding is Holders over members minus excluded. Used on the
// write path, where full adults are skipped.
func HoldersExcluding(addr types.ChunkAddress, members types.NameSet, excluded types.NameSet, k int) []types.XorName {
	candidates := make(types.NameSet, len(members))
	for n := range members {
		if !excluded.Has(n) {
			candidates.Add(n)
		}
	}
	return Holders(addr, candidates, k)
}

// ReadCandidates returns the holders for a read: the k closest members
// regardless of fullness, plus any full adult that sits closer to the
// address than the closest non-full candidate. Chunks written before an
// adult filled up still live there.
func ReadCandidates(addr types.ChunkAddress, members types.NameSet, full types.NameSet, k int) []types.XorName {
	candidates := Holders(addr, members, k)
	if len(candidates) == 0 || len(full) == 0 {
		return candidates
	}

	var closestNotFull *types.XorName
	for i := range candidates {
		if !full.Has(candidates[i]) {
			closestNotFull = &candidates[i]
			break
		}
	}
	if closestNotFull == nil {
		return candidates
	}

	seen := types.NewNameSet(candidates...)
	for n := range full {
		if !members.Has(n) || seen.Has(n) {
			continue
		}
		if types.CmpDistance(addr, n, *closestNotFull) < 0 {
			candidates = append(candidates, n)
			seen.Add(n)
		}
	}
	sortByDistance(addr, candidates)
	return candidates
}

func sortByDistance(target types.XorName, names []types.XorName) {
	sort.Slice(names, func(i, j int) bool {
		switch types.CmpDistance(target, names[i], names[j]) {
		case -1:
			return true
		case 1:
			return false
		}
		return lessBytes(names[i], names[j])
	})
}

func lessBytes(a, b types.XorName) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
