package swarm

import "swarmd/internal/decision"

// Bus event types published by the coordinator. Audit records use the
// same names as their kind. Job-level events (job.started, job.finished,
// job.failed) are published by the job scheduler itself.
const (
	EventLeaseAcquired  = "lease.acquired"
	EventLeaseTakeover  = "lease.takeover"
	EventLeaseLost      = "lease.lost"
	EventNodeClaimed    = "node.claimed"
	EventNodeTransition = "node.transition"
	EventScaleDecision  = "scale.decision"
	EventTickComplete   = "tick.complete"
)

// LeaseEvent is the payload for lease.* events.
type LeaseEvent struct {
	NodeID   string `json:"node_id"`
	LeaderID string `json:"leader_id,omitempty"`
	Epoch    uint64 `json:"epoch"`
	Outcome  string `json:"outcome"`
}

// ClaimEvent is the payload for node.claimed.
type ClaimEvent struct {
	NodeID   string `json:"node_id"`
	TaskID   string `json:"task_id"`
	Attempt  uint64 `json:"attempt"`
	Epoch    uint64 `json:"epoch"`
	ClaimKey string `json:"claim_key"`
	Tier     string `json:"tier,omitempty"`
	Deduped  bool   `json:"deduped,omitempty"`
}

// TransitionEvent is the payload for node.transition.
type TransitionEvent struct {
	NodeID string `json:"node_id"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// ScaleEvent is the payload for scale.decision.
type ScaleEvent struct {
	decision.Decision
	LaneTarget     int `json:"lane_target"`
	PreviousTarget int `json:"previous_target"`
}
