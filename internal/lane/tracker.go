package lane

import "sync"

// DefaultSaturationThreshold is used when the configured threshold is unset.
const DefaultSaturationThreshold = 0.5

// Tracker counts routed and in-flight work per tier. A tier whose share of
// lifetime routed work exceeds the saturation threshold is demoted in the
// candidate order but never removed, so it stays available as a fallback.
// Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	threshold float64
	routed    map[string]uint64
	active    map[string]uint64
}

// NewTracker creates a Tracker with the given saturation threshold.
// Thresholds at or below zero fall back to DefaultSaturationThreshold.
func NewTracker(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = DefaultSaturationThreshold
	}
	return &Tracker{
		threshold: threshold,
		routed:    make(map[string]uint64),
		active:    make(map[string]uint64),
	}
}

// Threshold reports the saturation threshold in effect.
func (t *Tracker) Threshold() float64 {
	return t.threshold
}

// RecordRouted increments the lifetime routed counter for tier.
func (t *Tracker) RecordRouted(tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routed[tier]++
}

// TotalRouted returns the lifetime routed total with a floor of one,
// so shares are well defined on a cold start.
func (t *Tracker) TotalRouted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked()
}

// TierShare returns tier's fraction of all routed work.
func (t *Tracker) TierShare(tier string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shareLocked(tier)
}

// IsSaturated reports whether tier's share exceeds the threshold.
func (t *Tracker) IsSaturated(tier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shareLocked(tier) > t.threshold
}

// RebalanceCandidates stable-partitions tiers so unsaturated tiers come
// first, each group keeping its relative input order. When every tier is
// saturated, or only one candidate is given, the input order is returned
// unchanged. The result is always a fresh slice and a permutation of the
// input.
func (t *Tracker) RebalanceCandidates(tiers []string) []string {
	out := make([]string, 0, len(tiers))
	if len(tiers) <= 1 {
		return append(out, tiers...)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var saturated []string
	for _, tier := range tiers {
		if t.shareLocked(tier) > t.threshold {
			saturated = append(saturated, tier)
			continue
		}
		out = append(out, tier)
	}
	if len(out) == 0 {
		return append(out, tiers...)
	}
	return append(out, saturated...)
}

// Acquire increments the in-flight counter for tier.
func (t *Tracker) Acquire(tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[tier]++
}

// Release decrements the in-flight counter for tier. Releasing a tier
// that is already at zero is a no-op.
func (t *Tracker) Release(tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[tier] == 0 {
		return
	}
	t.active[tier]--
}

// Active returns the current in-flight count for tier.
func (t *Tracker) Active(tier string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[tier]
}

// Snapshot copies the current counters for logging and fact building.
type Snapshot struct {
	TotalRouted uint64            `json:"total_routed"`
	Routed      map[string]uint64 `json:"routed"`
	Active      map[string]uint64 `json:"active"`
}

// Snapshot returns a copy of the tracker's counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		TotalRouted: t.totalLocked(),
		Routed:      make(map[string]uint64, len(t.routed)),
		Active:      make(map[string]uint64, len(t.active)),
	}
	for tier, n := range t.routed {
		snap.Routed[tier] = n
	}
	for tier, n := range t.active {
		snap.Active[tier] = n
	}
	return snap
}

func (t *Tracker) totalLocked() uint64 {
	var total uint64
	for _, n := range t.routed {
		total += n
	}
	if total == 0 {
		return 1
	}
	return total
}

func (t *Tracker) shareLocked(tier string) float64 {
	return float64(t.routed[tier]) / float64(t.totalLocked())
}
