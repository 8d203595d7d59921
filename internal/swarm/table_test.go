package swarm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"swarmd/internal/decision"
	logx "swarmd/pkg/logx"
)

const tableV1 = `{
  "version": "v1",
  "rules": [
    {"rule_id": "r1", "conditions": {"failed_count": {"gt": 0}}, "output": {"action": "scale_down", "reason": "failures", "target_delta": -1}}
  ],
  "default_output": {"action": "hold", "reason": "stable", "target_delta": 0}
}`

const tableV2 = `{
  "version": "v2",
  "rules": [
    {"rule_id": "r1", "conditions": {"failed_count": {"gt": 5}}, "output": {"action": "scale_down", "reason": "failures", "target_delta": -2}}
  ],
  "default_output": {"action": "hold", "reason": "stable", "target_delta": 0}
}`

func writeTable(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write table: %v", err)
	}
}

func TestLoadTableEmptyPathUsesDefault(t *testing.T) {
	t.Parallel()
	src := LoadTable("", logx.Nop())
	if got := src.Current().Version; got != decision.DefaultTableVersion {
		t.Fatalf("Version = %s, want %s", got, decision.DefaultTableVersion)
	}
	if err := src.Reload(); err != nil {
		t.Fatalf("Reload on empty path = %v, want nil", err)
	}
}

func TestLoadTableMissingFileFallsBack(t *testing.T) {
	t.Parallel()
	src := LoadTable(filepath.Join(t.TempDir(), "absent.json"), logx.Nop())
	if got := src.Current().Version; got != decision.DefaultTableVersion {
		t.Fatalf("Version = %s, want %s", got, decision.DefaultTableVersion)
	}
}

func TestLoadTableMalformedFallsBack(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "table.json")
	writeTable(t, path, `{"version": "bad", "rules": 42}`)
	src := LoadTable(path, logx.Nop())
	if got := src.Current().Version; got != decision.DefaultTableVersion {
		t.Fatalf("Version = %s, want %s", got, decision.DefaultTableVersion)
	}
}

func TestLoadTableValid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "table.json")
	writeTable(t, path, tableV1)
	src := LoadTable(path, logx.Nop())
	tbl := src.Current()
	if tbl.Version != "v1" {
		t.Fatalf("Version = %s, want v1", tbl.Version)
	}
	if len(tbl.Rules) != 1 {
		t.Fatalf("len(Rules) = %d, want 1", len(tbl.Rules))
	}
}

func TestReloadKeepsPreviousOnBadParse(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "table.json")
	writeTable(t, path, tableV1)
	src := LoadTable(path, logx.Nop())

	writeTable(t, path, `not json at all`)
	if err := src.Reload(); err == nil {
		t.Fatal("Reload on malformed table = nil, want error")
	}
	if got := src.Current().Version; got != "v1" {
		t.Fatalf("Version after failed reload = %s, want v1", got)
	}

	writeTable(t, path, tableV2)
	if err := src.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if got := src.Current().Version; got != "v2" {
		t.Fatalf("Version after reload = %s, want v2", got)
	}
}

func TestWatchPicksUpChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "table.json")
	writeTable(t, path, tableV1)
	src := LoadTable(path, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Watch(ctx)
	}()

	// Give the watcher a moment to arm before rewriting.
	time.Sleep(100 * time.Millisecond)
	writeTable(t, path, tableV2)

	deadline := time.Now().Add(5 * time.Second)
	for src.Current().Version != "v2" {
		if time.Now().After(deadline) {
			t.Fatal("table was not reloaded after file change")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancellation")
	}
}
