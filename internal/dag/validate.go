package dag

import "fmt"

// ValidationError reports one (node, missing dependency) pair.
type ValidationError struct {
	NodeID     string `json:"node_id"`
	Dependency string `json:"dependency"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("node %q depends on unknown node %q", e.NodeID, e.Dependency)
}

// Validate checks that every dependency resolves to a known node id.
// It returns one error per (node, missing dependency) pair, in input
// order, so callers can report all problems at once.
func Validate(nodes []Node) []ValidationError {
	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}

	var errs []ValidationError
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if _, ok := known[dep]; !ok {
				errs = append(errs, ValidationError{NodeID: n.ID, Dependency: dep})
			}
		}
	}
	return errs
}
