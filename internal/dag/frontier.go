package dag

import "sort"

// Frontier returns the ids of nodes eligible to run: state pending or
// ready, with every dependency in state success. Output is sorted
// lexicographically so scheduling order is deterministic across runs
// and across leaders re-deriving it after a takeover.
//
// Pure: neither nodes nor store is mutated.
func Frontier(nodes []Node, store StateStore) []string {
	ready := make([]string, 0)
	for _, n := range nodes {
		st, _ := store.Get(n.ID)
		switch st.effective() {
		case StatePending, StateReady:
		default:
			continue
		}

		depsOK := true
		for _, dep := range n.Dependencies {
			dst, _ := store.Get(dep)
			if dst.effective() != StateSuccess {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, n.ID)
		}
	}

	sort.Strings(ready)
	return ready
}
