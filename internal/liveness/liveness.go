// Package liveness detects unresponsive adults by comparing each adult's
// pending-operation count against its XOR-closest neighbours. A
// neighbour-relative threshold absorbs network-wide slowdowns: when every
// count rises together nobody is singled out, and only divergent behaviour
// produces a verdict. The verdict is advisory; the membership layer decides
// what to do with it.
package liveness

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/pkg/types"
)

const (
	// NeighbourCount is how many XOR-closest peers each adult is compared
	// against.
	NeighbourCount = 2
	// MinPendingOps is the floor below which an adult is never reported.
	MinPendingOps = 10
	// PendingOpToleranceRatio scales the adult's count before comparing it
	// with the busiest neighbour: an adult must carry ten times its worst
	// close peer's pending work to be reported.
	PendingOpToleranceRatio = 0.1
)

// adultState carries one adult's pending set and cached neighbours, each
// behind its own lock so trackers of different adults do not contend.
type adultState struct {
	mu         sync.Mutex
	pending    map[types.OpID]struct{}
	neighbours []types.XorName
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	adults map[types.XorName]*adultState
	log    *logrus.Logger
}

func NewTracker(adults []types.XorName, log *logrus.Logger) *Tracker {
	if log == nil {
		log = logrus.New()
	}
	t := &Tracker{
		adults: make(map[types.XorName]*adultState, len(adults)),
		log:    log,
	}
	for _, a := range adults {
		t.adults[a] = &adultState{pending: make(map[types.OpID]struct{})}
	}
	t.RecomputeNeighbours()
	return t
}

// CurrentNodes returns the tracked adult names.
func (t *Tracker) CurrentNodes() []types.XorName {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]types.XorName, 0, len(t.adults))
	for n := range t.adults {
		names = append(names, n)
	}
	return names
}

// RegisterPending records an issued-but-unanswered query against an adult.
// Returns false if the op was already pending there.
func (t *Tracker) RegisterPending(adult types.XorName, op types.OpID) bool {
	state := t.stateFor(adult)

	state.mu.Lock()
	defer state.mu.Unlock()
	if _, dup := state.pending[op]; dup {
		return false
	}
	state.pending[op] = struct{}{}
	return true
}

// Resolve clears a pending op after its response arrived (or the op was
// superseded). Returns whether anything was cleared.
func (t *Tracker) Resolve(adult types.XorName, op types.OpID) bool {
	t.mu.RLock()
	state, ok := t.adults[adult]
	t.mu.RUnlock()
	if !ok {
		return false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if _, present := state.pending[op]; !present {
		return false
	}
	delete(state.pending, op)
	return true
}

// PendingCount returns the current pending-op count for an adult.
func (t *Tracker) PendingCount(adult types.XorName) int {
	t.mu.RLock()
	state, ok := t.adults[adult]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.pending)
}

// AddNewAdult starts tracking a joining adult and refreshes every cached
// neighbour list.
func (t *Tracker) AddNewAdult(adult types.XorName) {
	t.mu.Lock()
	if _, ok := t.adults[adult]; !ok {
		t.adults[adult] = &adultState{pending: make(map[types.OpID]struct{})}
	}
	t.mu.Unlock()

	t.log.WithField("adult", adult.String()).Info("tracking liveness of new adult")
	t.RecomputeNeighbours()
}

// RetainMembersOnly drops adults that are no longer section members, along
// with their pending ops, and refreshes neighbours.
func (t *Tracker) RetainMembersOnly(members types.NameSet) {
	t.mu.Lock()
	for name := range t.adults {
		if !members.Has(name) {
			delete(t.adults, name)
		}
	}
	t.mu.Unlock()

	t.RecomputeNeighbours()
}

// RecomputeNeighbours refreshes each adult's cached XOR-closest peers.
func (t *Tracker) RecomputeNeighbours() {
	t.mu.RLock()
	names := make([]types.XorName, 0, len(t.adults))
	for n := range t.adults {
		names = append(names, n)
	}
	t.mu.RUnlock()

	for _, name := range names {
		neighbours := closestOthers(name, names, NeighbourCount)
		state := t.stateFor(name)
		state.mu.Lock()
		state.neighbours = neighbours
		state.mu.Unlock()
	}
}

// Unresponsive reports adults whose pending count diverges from their
// neighbourhood: the adult and its busiest neighbour must both exceed
// MinPendingOps, and the adult's count scaled by the tolerance ratio must
// still exceed the neighbour maximum.
func (t *Tracker) Unresponsive() []Verdict {
	t.mu.RLock()
	snapshot := make(map[types.XorName]*adultState, len(t.adults))
	for n, s := range t.adults {
		snapshot[n] = s
	}
	t.mu.RUnlock()

	counts := make(map[types.XorName]int, len(snapshot))
	neighbours := make(map[types.XorName][]types.XorName, len(snapshot))
	for name, state := range snapshot {
		state.mu.Lock()
		counts[name] = len(state.pending)
		neighbours[name] = state.neighbours
		state.mu.Unlock()
	}

	var verdicts []Verdict
	for name, pendingCount := range counts {
		maxNeighbour := 0
		for _, nb := range neighbours[name] {
			if c := counts[nb]; c > maxNeighbour {
				maxNeighbour = c
			}
		}
		if pendingCount > MinPendingOps &&
			maxNeighbour > MinPendingOps &&
			float64(pendingCount)*PendingOpToleranceRatio > float64(maxNeighbour) {
			t.log.WithFields(logrus.Fields{
				"adult":        name.String(),
				"pendingOps":   pendingCount,
				"neighbourMax": maxNeighbour,
			}).Info("adult looks unresponsive")
			verdicts = append(verdicts, Verdict{Adult: name, PendingOps: pendingCount})
		}
	}
	return verdicts
}

// Verdict names one adult reported unresponsive and its pending count.
type Verdict struct {
	Adult      types.XorName
	PendingOps int
}

func (t *Tracker) stateFor(adult types.XorName) *adultState {
	t.mu.RLock()
	state, ok := t.adults[adult]
	t.mu.RUnlock()
	if ok {
		return state
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok = t.adults[adult]; ok {
		return state
	}
	state = &adultState{pending: make(map[types.OpID]struct{})}
	t.adults[adult] = state
	return state
}

func closestOthers(target types.XorName, all []types.XorName, count int) []types.XorName {
	others := make([]types.XorName, 0, len(all))
	for _, n := range all {
		if n != target {
			others = append(others, n)
		}
	}
	sort.Slice(others, func(i, j int) bool {
		return types.CmpDistance(target, others[i], others[j]) < 0
	})
	if len(others) > count {
		others = others[:count]
	}
	return others
}
