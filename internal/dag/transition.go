package dag

import "time"

// TransitionResult reports the outcome of one state transition.
type TransitionResult struct {
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	State NodeState `json:"state"`
}

// Transition overwrites a node's state, reason and timestamp, keeping
// the claim bookkeeping fields intact. A target outside the six
// scheduling states is rejected with Error="invalid_state" and no
// mutation.
//
// Every state change goes through here, never a direct field write, so
// retries re-entering pending/ready from a terminal state stay
// reason-tagged and timestamped.
func Transition(store StateStore, nodeID string, next State, reason string) (TransitionResult, error) {
	if !ValidState(next) {
		cur, _ := store.Get(nodeID)
		return TransitionResult{Error: "invalid_state", State: cur}, nil
	}

	st, _ := store.Get(nodeID)
	st.State = next
	st.Reason = reason
	// UTC() strips the monotonic reading and normalizes the location so
	// the value survives a JSON round trip unchanged.
	st.UpdatedAt = time.Now().UTC()
	if err := store.Put(nodeID, st); err != nil {
		return TransitionResult{State: st}, err
	}
	return TransitionResult{OK: true, State: st}, nil
}
