package telemetry

import (
	"sort"

	"github.com/pthm-cable/sandpile/systems"
)

// HallEntry is one avalanche ranked by its grains x movement product.
type HallEntry struct {
	Rank    int `csv:"rank"`
	Replica int `csv:"replica"`
	Drop    int `csv:"drop"` // drop counter within Replica
	Score   int `csv:"score"`
	systems.Report
}

// HallOfFame keeps the largest avalanches of a run, sorted descending by score.
// Ties keep the earlier avalanche ahead.
type HallOfFame struct {
	entries []HallEntry
	maxSize int
	replica int
}

// NewHallOfFame creates a hall holding at most maxSize entries.
func NewHallOfFame(maxSize int) *HallOfFame {
	if maxSize < 0 {
		maxSize = 0
	}
	return &HallOfFame{
		entries: make([]HallEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// ForReplica tags every entry considered from now on with replica.
func (hof *HallOfFame) ForReplica(replica int) *HallOfFame {
	hof.replica = replica
	return hof
}

// Consider evaluates a report for entry.
// Returns true if the avalanche was added to the hall.
func (hof *HallOfFame) Consider(drop int, r systems.Report) bool {
	return hof.insert(HallEntry{Replica: hof.replica, Drop: drop, Score: r.Product(), Report: r})
}

func (hof *HallOfFame) insert(entry HallEntry) bool {
	if hof.maxSize == 0 {
		return false
	}

	// Find insertion point (sorted descending by score, stable on ties)
	idx := sort.Search(len(hof.entries), func(i int) bool {
		return hof.entries[i].Score < entry.Score
	})
	if len(hof.entries) >= hof.maxSize && idx >= hof.maxSize {
		return false
	}

	hof.entries = append(hof.entries, HallEntry{})
	copy(hof.entries[idx+1:], hof.entries[idx:])
	hof.entries[idx] = entry
	if len(hof.entries) > hof.maxSize {
		hof.entries = hof.entries[:hof.maxSize]
	}
	return true
}

// Merge considers every entry of o, keeping its replica and drop. Used to
// combine ensemble replicas.
func (hof *HallOfFame) Merge(o *HallOfFame) {
	for _, e := range o.entries {
		hof.insert(e)
	}
}

// Entries returns the hall in rank order with Rank filled in (1-based).
func (hof *HallOfFame) Entries() []HallEntry {
	out := make([]HallEntry, len(hof.entries))
	copy(out, hof.entries)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Size returns the number of entries.
func (hof *HallOfFame) Size() int { return len(hof.entries) }

// TopScore returns the highest score in the hall, or 0 if empty.
func (hof *HallOfFame) TopScore() int {
	if len(hof.entries) == 0 {
		return 0
	}
	return hof.entries[0].Score
}
