// Package capacity tracks per-adult storage fill levels on the elder side.
package capacity

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/pkg/types"
)

// FullThreshold is the level at which an adult counts as full and stops
// receiving new chunks. It still serves reads.
const FullThreshold = 9

// MaxLevel is the top of the level scale; each step is ten percent of the
// adult's configured capacity.
const MaxLevel = 10

// Tracker records the last known fill level of every adult in the section.
// Levels only advance: reports are approximate and arrive out of order, and
// the pessimistic "once full, stay full until gone" rule avoids placement
// oscillation.
type Tracker struct {
	mu            sync.RWMutex
	levels        map[types.XorName]uint8
	fullThreshold uint8
	log           *logrus.Logger
}

func NewTracker(fullThreshold uint8, log *logrus.Logger) *Tracker {
	if fullThreshold == 0 {
		fullThreshold = FullThreshold
	}
	if log == nil {
		log = logrus.New()
	}
	return &Tracker{
		levels:        make(map[types.XorName]uint8),
		fullThreshold: fullThreshold,
		log:           log,
	}
}

// RecordFill stores a reported level. Reports below the recorded level are
// ignored. Returns whether the recorded level changed.
func (t *Tracker) RecordFill(name types.XorName, level uint8) bool {
	if level > MaxLevel {
		level = MaxLevel
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	current, known := t.levels[name]
	if known && level <= current {
		return false
	}
	t.levels[name] = level
	if level >= t.fullThreshold && (!known || current < t.fullThreshold) {
		t.log.WithFields(logrus.Fields{
			"adult": name.String(),
			"level": level,
		}).Info("adult is now full")
	}
	return true
}

// IsFull reports whether the adult's recorded level reached the threshold.
func (t *Tracker) IsFull(name types.XorName) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.levels[name] >= t.fullThreshold
}

// FullAdults returns the set of adults at or above the threshold.
func (t *Tracker) FullAdults() types.NameSet {
	t.mu.RLock()
	defer t.mu.RUnlock()

	full := make(types.NameSet)
	for name, level := range t.levels {
		if level >= t.fullThreshold {
			full.Add(name)
		}
	}
	return full
}

// AllLevels returns a copy of the level map, for metadata exchange with a
// succeeding elder.
func (t *Tracker) AllLevels() map[types.XorName]uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[types.XorName]uint8, len(t.levels))
	for name, level := range t.levels {
		out[name] = level
	}
	return out
}

// SetLevels absorbs a level map from another elder, keeping the higher
// level on conflict.
func (t *Tracker) SetLevels(levels map[types.XorName]uint8) {
	for name, level := range levels {
		t.RecordFill(name, level)
	}
}

// AvgUsage returns the mean recorded level, rounded down. Zero with no
// adults tracked.
func (t *Tracker) AvgUsage() uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.levels) == 0 {
		return 0
	}
	var sum int
	for _, level := range t.levels {
		sum += int(level)
	}
	return uint8(sum / len(t.levels))
}

// AddNewAdult starts tracking a joining adult at level zero.
func (t *Tracker) AddNewAdult(name types.XorName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.levels[name]; !ok {
		t.levels[name] = 0
	}
}

// RetainMembersOnly drops adults that left the section. A re-joining adult
// starts over at level zero.
func (t *Tracker) RetainMembersOnly(members types.NameSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name := range t.levels {
		if !members.Has(name) {
			delete(t.levels, name)
		}
	}
}
