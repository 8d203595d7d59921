package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StateStore is the repository holding per-node scheduling state.
//
// Ownership: the process holding the current lease epoch is the single
// mutator. Implementations only guard in-process access; cross-process
// correctness rests on callers checking lease validity before writing.
type StateStore interface {
	Get(id string) (NodeState, bool)
	Put(id string, st NodeState) error
	Len() int
	Snapshot() map[string]NodeState
}

// MemoryStore keeps all node state in memory. It is the default for a
// single-process run and for tests.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]NodeState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: map[string]NodeState{}}
}

func (s *MemoryStore) Get(id string) (NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[id]
	return st, ok
}

func (s *MemoryStore) Put(id string, st NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = st
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *MemoryStore) Snapshot() map[string]NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]NodeState, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

// FileStore persists node state as one JSON document keyed by node id.
// Every Put rewrites the document atomically (temp file + rename), so a
// crash mid-write never leaves a torn file behind.
type FileStore struct {
	mu   sync.Mutex
	path string
	m    map[string]NodeState
}

// OpenFileStore loads existing state from path, or starts empty when the
// file does not exist yet. An unparseable file is an error: unlike the
// lease record, dropping task bookkeeping silently would re-run work.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &FileStore{path: path, m: map[string]NodeState{}}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &s.m); err != nil {
		return nil, fmt.Errorf("dag state file %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get(id string) (NodeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[id]
	return st, ok
}

func (s *FileStore) Put(id string, st NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.m[id]
	s.m[id] = st
	if err := s.flushLocked(); err != nil {
		// Keep the in-memory map consistent with what is on disk.
		if had {
			s.m[id] = prev
		} else {
			delete(s.m, id)
		}
		return err
	}
	return nil
}

func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *FileStore) Snapshot() map[string]NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]NodeState, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

func (s *FileStore) flushLocked() error {
	b, err := json.MarshalIndent(s.m, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
