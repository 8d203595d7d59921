package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "swarmd/pkg/logx"
)

// fileSink appends one JSON object per line to <prefix>.audit.jsonl.
// Lines are never rewritten; rotation is the operator's problem.
type fileSink struct {
	log logx.Logger

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Sink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("audit: path required for file driver")
	}
	name := auditFilePath(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("audit trail opened", logx.String("path", name))
	return &fileSink{log: log, f: f}, nil
}

// auditFilePath swaps the configured extension for ".audit.jsonl", so
// "data/swarm.db" and "data/swarm.log" both land in "data/swarm.audit.jsonl".
func auditFilePath(path string) string {
	path = strings.TrimSpace(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(filepath.Dir(path), base+".audit.jsonl")
}

func (s *fileSink) Append(ctx context.Context, e Event) error {
	_ = ctx
	if err := e.Validate(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("audit trail closed")
	}
	return json.NewEncoder(s.f).Encode(e)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
