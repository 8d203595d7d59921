package audit

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrDisabled = errors.New("audit disabled")

// Config configures the audit sink.
//
// Driver values:
//   - "file": dependency-free append-only JSON Lines file
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", auditing is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Event records one coordination decision.
// Keep it compact and schema-stable.
type Event struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	NodeID   string    `json:"node_id"`
	Epoch    uint64    `json:"epoch"`
	Subject  string    `json:"subject,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}

// Validate checks the event shape before it is persisted.
func (e Event) Validate() error {
	if e.Kind == "" {
		return errors.New("audit event: kind is required")
	}
	if e.NodeID == "" {
		return errors.New("audit event: node_id is required")
	}
	if e.MetaJSON != "" && !json.Valid([]byte(e.MetaJSON)) {
		return errors.New("audit event: meta is not valid JSON")
	}
	return nil
}
