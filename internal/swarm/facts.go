package swarm

import (
	"sync"

	"swarmd/internal/decision"
)

// Fact names fed to the scaling decision table. The built-in default
// table keys on exactly these counters.
const (
	FactStarted               = "started_count"
	FactFailed                = "failed_count"
	FactRestarted             = "restarted_count"
	FactParallelGroupsAtLimit = "parallel_groups_at_limit"
	FactScaledUp              = "scaled_up_count"
	FactScaledDown            = "scaled_down_count"
)

var baseFacts = []string{
	FactStarted,
	FactFailed,
	FactRestarted,
	FactParallelGroupsAtLimit,
	FactScaledUp,
	FactScaledDown,
}

// factsWindow accumulates run counters between scaling evaluations.
// snapshot drains the window; applied scale actions are recorded into
// the window that follows, so the default table's cooldown rules see
// each action exactly once.
type factsWindow struct {
	mu sync.Mutex
	m  map[string]int64
}

func newFactsWindow() *factsWindow {
	return &factsWindow{m: map[string]int64{}}
}

func (w *factsWindow) add(name string, delta int64) {
	if delta == 0 {
		return
	}
	w.mu.Lock()
	w.m[name] += delta
	w.mu.Unlock()
}

// snapshot returns the window's facts and starts a fresh window. The
// base counters are always present, zero-valued when nothing happened,
// so the inputs hash of an idle window is stable.
func (w *factsWindow) snapshot() decision.Facts {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(decision.Facts, len(baseFacts)+len(w.m))
	for _, name := range baseFacts {
		out[name] = 0
	}
	for k, v := range w.m {
		out[k] = v
	}
	w.m = map[string]int64{}
	return out
}
