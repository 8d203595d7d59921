package dag

import (
	"time"
)

// Node is one immutable vertex of the task graph.
type Node struct {
	ID           string   `json:"id"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// State is the scheduling state of a node.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
	StateBlocked State = "blocked"
)

// ValidState reports whether s names one of the six scheduling states.
func ValidState(s State) bool {
	switch s {
	case StatePending, StateReady, StateRunning, StateSuccess, StateFailed, StateBlocked:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a finished state. Re-entry into
// pending/ready from a terminal state is legal, but only through
// Transition.
func IsTerminal(s State) bool {
	switch s {
	case StateSuccess, StateFailed, StateBlocked:
		return true
	default:
		return false
	}
}

// NodeState is the dynamic record kept per node id.
//
// The zero value means "pending, never claimed": nodes without a stored
// record behave as pending.
type NodeState struct {
	State       State     `json:"state"`
	TaskID      string    `json:"task_id,omitempty"`
	Attempt     uint64    `json:"attempt,omitempty"`
	LeaderEpoch uint64    `json:"leader_epoch,omitempty"`
	ClaimKey    string    `json:"claim_key,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (st NodeState) effective() State {
	if st.State == "" {
		return StatePending
	}
	return st.State
}
