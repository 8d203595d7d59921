package lease

import (
	"context"
	"strings"
	"time"

	logx "swarmd/pkg/logx"
)

// Store is the capability a coordination backend provides.
type Store interface {
	AcquireOrRenew(ctx context.Context, nodeID string, ttl time.Duration) (Snapshot, error)
}

// Manager binds one configured backend to the node identity using it.
type Manager struct {
	cfg   Config
	log   logx.Logger
	store Store

	requested string
	fallback  string
}

// Open initializes the configured coordination backend.
//
// An unimplemented backend is not an error: the manager comes up in
// observer mode (or on the file backend when FallbackToFile is set) so
// a misconfigured process can still run advisory-only.
func Open(cfg Config, log logx.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{cfg: cfg, log: log, requested: cfg.Backend}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "file":
		st, err := openFile(cfg.Path, log)
		if err != nil {
			return nil, err
		}
		m.store = st
	default:
		if cfg.FallbackToFile {
			st, err := openFile(cfg.Path, log)
			if err != nil {
				return nil, err
			}
			m.store = st
			m.fallback = "file"
			log.Warn("lease backend not implemented, falling back to file",
				logx.String("requested", cfg.Backend))
		} else {
			log.Warn("lease backend not implemented, running in observer mode",
				logx.String("requested", cfg.Backend))
		}
	}
	return m, nil
}

// NodeID returns the identity this manager acquires leases as.
func (m *Manager) NodeID() string { return m.cfg.NodeID }

// TTL returns the configured lease duration.
func (m *Manager) TTL() time.Duration { return m.cfg.TTL }

// AcquireOrRenew runs one leadership round for the configured node.
//
// Only I/O failures on the lease file return a non-nil error; every
// expected branch is reported through the snapshot.
func (m *Manager) AcquireOrRenew(ctx context.Context) (Snapshot, error) {
	if m.store == nil {
		return Snapshot{
			Outcome:          OutcomeObserver,
			ObserverMode:     true,
			RequestedBackend: m.requested,
		}, nil
	}
	snap, err := m.store.AcquireOrRenew(ctx, m.cfg.NodeID, m.cfg.TTL)
	if err != nil {
		return Snapshot{}, err
	}
	if m.fallback != "" {
		snap.RequestedBackend = m.requested
		snap.FallbackBackend = m.fallback
	}
	return snap, nil
}
