package audit

import (
	"context"
	"fmt"
	"strings"

	logx "swarmd/pkg/logx"
)

// Sink is the append interface coordination decisions are written to.
// A nil Sink means auditing is off; callers skip the write.
type Sink interface {
	Append(ctx context.Context, e Event) error
	Close() error
}

// Open builds the sink named by cfg.Driver.
func Open(cfg Config, log logx.Logger) (Sink, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("audit: unknown driver %q", driver)
	}
}
