package lease

import (
	"strings"
	"time"
)

// Outcome names the result of one acquire-or-renew round.
type Outcome string

const (
	OutcomeAcquired Outcome = "acquired"
	OutcomeRenewed  Outcome = "renewed"
	OutcomeFollower Outcome = "follower"
	OutcomeObserver Outcome = "observer_mode"
)

// Config configures the lease manager.
//
// Backend values:
//   - "file": single JSON record guarded by an OS advisory lock
//
// Any other backend name is accepted but not implemented: the manager
// degrades to observer mode unless FallbackToFile routes calls to the
// file backend transparently.
type Config struct {
	Backend        string
	Path           string
	NodeID         string
	TTL            time.Duration
	FallbackToFile bool
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = "file"
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	return c
}

// Record is the lease document. Exactly one exists per lease file.
//
// Epoch never decreases. It increases by exactly one each time a
// different node takes over an expired lease, and is unchanged across
// renewals by the current holder.
type Record struct {
	LeaderID       string    `json:"leader_id"`
	Epoch          uint64    `json:"epoch"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
	TTLSec         float64   `json:"ttl_sec"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot is the discriminated result of AcquireOrRenew. Expected
// branches (follower, observer mode) are outcomes, not errors.
type Snapshot struct {
	OK        bool      `json:"ok"`
	IsLeader  bool      `json:"is_leader"`
	Outcome   Outcome   `json:"outcome"`
	LeaderID  string    `json:"leader_id,omitempty"`
	Epoch     uint64    `json:"epoch"`
	ExpiresAt time.Time `json:"expires_at"`

	// Set when the configured backend is not implemented.
	ObserverMode     bool   `json:"observer_mode,omitempty"`
	RequestedBackend string `json:"requested_backend,omitempty"`
	FallbackBackend  string `json:"fallback_backend,omitempty"`
}
