package dag

import (
	"fmt"
	"time"
)

// ClaimResult reports the outcome of one replay-safe claim.
type ClaimResult struct {
	OK       bool      `json:"ok"`
	NodeID   string    `json:"node_id"`
	ClaimKey string    `json:"claim_key"`
	Deduped  bool      `json:"deduped"`
	State    NodeState `json:"state"`
}

// BuildClaimKey builds the fencing token for a (task, attempt, epoch)
// tuple. Distinct tuples never collide in meaning.
func BuildClaimKey(taskID string, attempt, epoch uint64) string {
	return fmt.Sprintf("%s:%d:%d", taskID, attempt, epoch)
}

// Claim marks a node running on behalf of (taskID, attempt, epoch).
//
// If the node already carries the identical claim key and is still
// running, the call is a replay: it returns Deduped=true and mutates
// nothing. A different attempt or a newer leader epoch produces a
// different key and legitimately supersedes the stale claim.
func Claim(store StateStore, nodeID, taskID string, attempt, epoch uint64) (ClaimResult, error) {
	key := BuildClaimKey(taskID, attempt, epoch)

	cur, _ := store.Get(nodeID)
	if cur.ClaimKey == key && cur.State == StateRunning {
		return ClaimResult{OK: true, NodeID: nodeID, ClaimKey: key, Deduped: true, State: cur}, nil
	}

	next := cur
	next.State = StateRunning
	next.TaskID = taskID
	next.Attempt = attempt
	next.LeaderEpoch = epoch
	next.ClaimKey = key
	// UTC() strips the monotonic reading and normalizes the location so
	// the value survives a JSON round trip unchanged.
	next.UpdatedAt = time.Now().UTC()
	if err := store.Put(nodeID, next); err != nil {
		return ClaimResult{NodeID: nodeID, ClaimKey: key}, err
	}
	return ClaimResult{OK: true, NodeID: nodeID, ClaimKey: key, State: next}, nil
}
