package placement

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/xorvault/pkg/types"
)

func members(n int) types.NameSet {
	set := make(types.NameSet, n)
	for i := 0; i < n; i++ {
		set.Add(types.NameOf([]byte(fmt.Sprintf("adult-%d", i))))
	}
	return set
}

func TestQuorum(t *testing.T) {
	assert.Equal(t, 3, Quorum(4))
	assert.Equal(t, 3, Quorum(3))
	assert.Equal(t, 4, Quorum(5))
	assert.Equal(t, 5, Quorum(7))
}

func TestHolders_Deterministic(t *testing.T) {
	set := members(10)
	addr := types.NameOf([]byte("some chunk"))

	first := Holders(addr, set, 4)
	require.Len(t, first, 4)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Holders(addr, set, 4))
	}
}

func TestHolders_SortedByDistance(t *testing.T) {
	set := members(10)
	addr := types.NameOf([]byte("ordered"))

	holders := Holders(addr, set, 4)
	for i := 1; i < len(holders); i++ {
		if types.CmpDistance(addr, holders[i-1], holders[i]) > 0 {
			t.Errorf("holders not in ascending distance order at %d", i)
		}
	}
}

func TestHolders_FewerMembersThanK(t *testing.T) {
	set := members(2)
	holders := Holders(types.NameOf([]byte("x")), set, 4)
	assert.Len(t, holders, 2)
}

func TestHolders_LeaveStability(t *testing.T) {
	// A leaving non-holder changes nothing; a leaving holder promotes
	// exactly one new name and keeps the survivors.
	set := members(12)
	addr := types.NameOf([]byte("stability"))
	before := Holders(addr, set, 4)

	holderSet := types.NewNameSet(before...)
	for name := range set {
		after := set.Clone()
		after.Remove(name)
		got := Holders(addr, after, 4)

		if !holderSet.Has(name) {
			assert.Equal(t, before, got, "removing a non-holder must not move chunks")
			continue
		}
		require.Len(t, got, 4)
		promoted := 0
		for _, h := range got {
			if !holderSet.Has(h) {
				promoted++
			}
		}
		assert.Equal(t, 1, promoted, "removing a holder must promote exactly one")
	}
}

func TestHolders_JoinDisplacesAtMostOne(t *testing.T) {
	set := members(12)
	addr := types.NameOf([]byte("join"))
	before := types.NewNameSet(Holders(addr, set, 4)...)

	joined := set.Clone()
	joined.Add(types.NameOf([]byte("newcomer")))
	after := Holders(addr, joined, 4)

	displaced := 0
	for _, h := range after {
		if !before.Has(h) {
			displaced++
		}
	}
	assert.LessOrEqual(t, displaced, 1)
}

func TestHoldersExcluding_SkipsFull(t *testing.T) {
	set := members(10)
	addr := types.NameOf([]byte("skip full"))

	all := Holders(addr, set, 4)
	full := types.NewNameSet(all[0])

	filtered := HoldersExcluding(addr, set, full, 4)
	require.Len(t, filtered, 4)
	for _, h := range filtered {
		assert.False(t, full.Has(h))
	}
	// The closest non-full holders keep their slots.
	assert.Equal(t, all[1:4], filtered[:3])
}

func TestReadCandidates_IncludeCloseFullAdults(t *testing.T) {
	set := members(10)
	addr := types.NameOf([]byte("read path"))
	all := Holders(addr, set, len(set))

	// The closest adult filled up after old chunks landed on it.
	full := types.NewNameSet(all[0])

	reads := ReadCandidates(addr, set, full, 4)
	assert.Contains(t, reads, all[0], "full adults still serve reads")

	writes := HoldersExcluding(addr, set, full, 4)
	assert.NotContains(t, writes, all[0], "full adults take no new chunks")
}

func TestReadCandidates_AllFull(t *testing.T) {
	set := members(5)
	addr := types.NameOf([]byte("everything full"))

	reads := ReadCandidates(addr, set, set.Clone(), 4)
	assert.Len(t, reads, 4)
}
