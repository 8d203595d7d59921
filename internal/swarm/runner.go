package swarm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"swarmd/internal/rpa"
	logx "swarmd/pkg/logx"
)

// ExecRunner returns the default job runner: the job command is split on
// whitespace and executed directly, no shell involved. An empty command
// or a binary that cannot be found is a permanent failure; a non-zero
// exit is transient and left to the scheduler's retry policy.
func ExecRunner(log logx.Logger) rpa.Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context, job rpa.Job) error {
		argv := strings.Fields(job.Command)
		if len(argv) == 0 {
			return rpa.NoRetry(fmt.Errorf("job %s: empty command", job.ID))
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		log.Debug("exec", logx.String("job", job.ID), logx.String("cmd", argv[0]), logx.Int("args", len(argv)-1))
		err := cmd.Run()
		if err == nil {
			return nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return rpa.NoRetry(fmt.Errorf("%s: %w", argv[0], err))
		}
		if msg := firstLine(out.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
