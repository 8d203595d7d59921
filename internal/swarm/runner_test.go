package swarm

import (
	"context"
	"os/exec"
	"testing"

	"swarmd/internal/rpa"
	logx "swarmd/pkg/logx"
)

func TestExecRunnerEmptyCommandIsPermanent(t *testing.T) {
	t.Parallel()
	run := ExecRunner(logx.Nop())
	err := run(context.Background(), rpa.Job{ID: "j1", Command: "   "})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
	if !rpa.IsNoRetry(err) {
		t.Fatalf("err = %v, want no-retry", err)
	}
}

func TestExecRunnerMissingBinaryIsPermanent(t *testing.T) {
	t.Parallel()
	run := ExecRunner(logx.Nop())
	err := run(context.Background(), rpa.Job{ID: "j1", Command: "swarmd-no-such-binary-xyz --flag"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if !rpa.IsNoRetry(err) {
		t.Fatalf("err = %v, want no-retry", err)
	}
}

func TestExecRunnerRunsCommand(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("no 'true' binary on PATH")
	}
	run := ExecRunner(logx.Nop())
	if err := run(context.Background(), rpa.Job{ID: "j1", Command: "true"}); err != nil {
		t.Fatalf("run = %v, want nil", err)
	}
}

func TestExecRunnerNonZeroExitIsTransient(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("no 'false' binary on PATH")
	}
	run := ExecRunner(logx.Nop())
	err := run(context.Background(), rpa.Job{ID: "j1", Command: "false"})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if rpa.IsNoRetry(err) {
		t.Fatalf("err = %v, want retryable", err)
	}
}

func TestFirstLine(t *testing.T) {
	t.Parallel()
	if got := firstLine("  boom\nsecond"); got != "boom" {
		t.Fatalf("firstLine = %q, want %q", got, "boom")
	}
	if got := firstLine("\n\n"); got != "" {
		t.Fatalf("firstLine = %q, want empty", got)
	}
}
