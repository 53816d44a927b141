package liveness

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/xorvault/pkg/types"
)

func adultNames(n int) []types.XorName {
	names := make([]types.XorName, n)
	for i := range names {
		names[i] = types.NameOf([]byte(fmt.Sprintf("adult-%d", i)))
	}
	return names
}

func addPending(t *testing.T, tracker *Tracker, adult types.XorName, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		op := types.OperationID(adult, uint64(i))
		require.True(t, tracker.RegisterPending(adult, op))
	}
}

func TestRegisterResolve(t *testing.T) {
	names := adultNames(3)
	tracker := NewTracker(names, nil)

	op := types.OperationID(names[0], 1)
	assert.True(t, tracker.RegisterPending(names[0], op))
	assert.False(t, tracker.RegisterPending(names[0], op), "duplicate op must not double-count")
	assert.Equal(t, 1, tracker.PendingCount(names[0]))

	assert.True(t, tracker.Resolve(names[0], op))
	assert.False(t, tracker.Resolve(names[0], op))
	assert.Equal(t, 0, tracker.PendingCount(names[0]))
}

func TestUnresponsive_SingleLaggard(t *testing.T) {
	// One adult sits on 150 pending ops while its neighbours run at normal
	// load; only the laggard is reported.
	names := adultNames(8)
	tracker := NewTracker(names, nil)

	addPending(t, tracker, names[0], 150)
	for _, name := range names[1:] {
		addPending(t, tracker, name, 12)
	}

	verdicts := tracker.Unresponsive()
	require.Len(t, verdicts, 1)
	assert.Equal(t, names[0], verdicts[0].Adult)
	assert.Equal(t, 150, verdicts[0].PendingOps)
}

func TestUnresponsive_NetworkWideLoadIsNotReported(t *testing.T) {
	// Every adult carrying the same heavy load means the network is slow,
	// not that any single adult is unresponsive.
	names := adultNames(8)
	tracker := NewTracker(names, nil)

	for _, name := range names {
		addPending(t, tracker, name, 150)
	}
	assert.Empty(t, tracker.Unresponsive())
}

func TestUnresponsive_BelowFloor(t *testing.T) {
	names := adultNames(4)
	tracker := NewTracker(names, nil)

	// Divergent but everyone is under the reporting floor.
	addPending(t, tracker, names[0], MinPendingOps)
	addPending(t, tracker, names[1], 1)
	assert.Empty(t, tracker.Unresponsive())
}

func TestUnresponsive_QuietNeighboursSuppressVerdict(t *testing.T) {
	// The formula needs a busy neighbour as a baseline: with idle
	// neighbours a high count alone proves nothing about divergence.
	names := adultNames(4)
	tracker := NewTracker(names, nil)

	addPending(t, tracker, names[0], 150)
	assert.Empty(t, tracker.Unresponsive())
}

func TestUnresponsive_ToleranceBoundary(t *testing.T) {
	names := adultNames(4)
	tracker := NewTracker(names, nil)

	// 120 * 0.1 = 12 > 11: reported.
	addPending(t, tracker, names[0], 120)
	for _, name := range names[1:] {
		addPending(t, tracker, name, 11)
	}
	verdicts := tracker.Unresponsive()
	require.Len(t, verdicts, 1)
	assert.Equal(t, names[0], verdicts[0].Adult)

	// 110 * 0.1 = 11, not strictly greater: tolerated.
	tracker2 := NewTracker(names, nil)
	addPending(t, tracker2, names[0], 110)
	for _, name := range names[1:] {
		addPending(t, tracker2, name, 11)
	}
	assert.Empty(t, tracker2.Unresponsive())
}

func TestRetainMembersOnly_DropsPendingOps(t *testing.T) {
	names := adultNames(4)
	tracker := NewTracker(names, nil)
	addPending(t, tracker, names[0], 20)

	tracker.RetainMembersOnly(types.NewNameSet(names[1], names[2], names[3]))
	assert.Equal(t, 0, tracker.PendingCount(names[0]))
	assert.Len(t, tracker.CurrentNodes(), 3)
}

func TestAddNewAdult_JoinsNeighbourhoods(t *testing.T) {
	names := adultNames(3)
	tracker := NewTracker(names[:2], nil)

	tracker.AddNewAdult(names[2])
	assert.Len(t, tracker.CurrentNodes(), 3)
	assert.Equal(t, 0, tracker.PendingCount(names[2]))
}
