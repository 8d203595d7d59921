package swarm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"swarmd/internal/decision"
	logx "swarmd/pkg/logx"
)

// TableSource owns the scaling decision table: the built-in default when
// no path is configured, an external JSON table otherwise, with hot
// reload on file changes. A table that fails to parse never replaces a
// working one.
type TableSource struct {
	path string
	log  logx.Logger

	mu  sync.RWMutex
	cur *decision.Table
}

// LoadTable reads the table at path. An empty path, a missing file or a
// malformed table all yield the built-in default; only the load result
// differs in what gets logged.
func LoadTable(path string, log logx.Logger) *TableSource {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &TableSource{path: strings.TrimSpace(path), log: log, cur: decision.Default()}
	if s.path == "" {
		return s
	}
	tbl, err := readTable(s.path)
	if err != nil {
		log.Warn("decision table unusable, using built-in default",
			logx.String("path", s.path), logx.Any("err", err))
		return s
	}
	s.cur = tbl
	log.Info("decision table loaded",
		logx.String("path", s.path), logx.String("version", tbl.Version), logx.Int("rules", len(tbl.Rules)))
	return s
}

func readTable(path string) (*decision.Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decision.Parse(b)
}

// Current returns the active table. Never nil.
func (s *TableSource) Current() *decision.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Reload re-reads the configured path. On any failure the previously
// active table stays in effect and the error is returned.
func (s *TableSource) Reload() error {
	if s.path == "" {
		return nil
	}
	tbl, err := readTable(s.path)
	if err != nil {
		s.log.Warn("decision table reload failed, keeping previous",
			logx.String("path", s.path), logx.Any("err", err))
		return err
	}
	s.mu.Lock()
	s.cur = tbl
	s.mu.Unlock()
	s.log.Info("decision table reloaded",
		logx.String("version", tbl.Version), logx.Int("rules", len(tbl.Rules)))
	return nil
}

// Watch hot-reloads the table whenever its file changes, until ctx is
// done. The parent directory is watched so atomic replace-by-rename is
// seen; events are debounced to ride out partial writes. A broken
// watcher is recreated with a small backoff.
func (s *TableSource) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() { _ = s.Reload() })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
		}
		if err != nil {
			if w != nil {
				_ = w.Close()
			}
			s.log.Warn("decision table watch init failed",
				logx.String("dir", dir), logx.Any("err", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					debounce()
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				s.log.Warn("decision table watch error", logx.Any("err", werr))
			}
		}
		_ = w.Close()
		s.log.Warn("decision table watcher stopped, restarting", logx.String("dir", dir))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}
