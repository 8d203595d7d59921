package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	logx "swarmd/pkg/logx"
)

// fileStore keeps the lease as one small JSON document, with the
// read-modify-write guarded by flock(2) on a sibling lock file so two
// processes racing on an expired lease cannot both win. The loser
// observes the winner's fresh record on its next attempt.
type fileStore struct {
	log      logx.Logger
	path     string
	lockPath string
}

func openFile(path string, log logx.Logger) (*fileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("lease.path is required for file backend")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, lockPath: path + ".lock"}, nil
}

// withLock runs fn under an exclusive advisory lock. The lock is
// released on every exit path, including panics inside fn.
func (s *fileStore) withLock(ctx context.Context, fn func(now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("flock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	return fn(time.Now())
}

func (s *fileStore) AcquireOrRenew(ctx context.Context, nodeID string, ttl time.Duration) (Snapshot, error) {
	var snap Snapshot
	err := s.withLock(ctx, func(now time.Time) error {
		rec, found := s.read()
		expired := !found || !rec.LeaseExpiresAt.After(now)

		switch {
		case expired:
			next := Record{
				LeaderID:       nodeID,
				Epoch:          rec.Epoch,
				LeaseExpiresAt: now.Add(ttl),
				TTLSec:         ttl.Seconds(),
				UpdatedAt:      now,
			}
			// The fencing epoch moves only when leadership changes hands.
			if rec.LeaderID != nodeID {
				next.Epoch = rec.Epoch + 1
			}
			if err := s.write(next); err != nil {
				return err
			}
			snap = Snapshot{
				OK: true, IsLeader: true, Outcome: OutcomeAcquired,
				LeaderID: nodeID, Epoch: next.Epoch, ExpiresAt: next.LeaseExpiresAt,
			}

		case rec.LeaderID == nodeID:
			rec.LeaseExpiresAt = now.Add(ttl)
			rec.TTLSec = ttl.Seconds()
			rec.UpdatedAt = now
			if err := s.write(rec); err != nil {
				return err
			}
			snap = Snapshot{
				OK: true, IsLeader: true, Outcome: OutcomeRenewed,
				LeaderID: nodeID, Epoch: rec.Epoch, ExpiresAt: rec.LeaseExpiresAt,
			}

		default:
			snap = Snapshot{
				OK: true, IsLeader: false, Outcome: OutcomeFollower,
				LeaderID: rec.LeaderID, Epoch: rec.Epoch, ExpiresAt: rec.LeaseExpiresAt,
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// read loads the current record. A missing or unparseable file is an
// absent lease (fail-open to reacquisition), never an error.
func (s *fileStore) read() (Record, bool) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		s.log.Warn("lease file unparseable, treating as absent",
			logx.String("path", s.path), logx.Err(err))
		return Record{}, false
	}
	return rec, true
}

func (s *fileStore) write(rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
