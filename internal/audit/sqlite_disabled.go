//go:build !sqlite
// +build !sqlite

package audit

import (
	"errors"

	logx "swarmd/pkg/logx"
)

func openSQLite(Config, logx.Logger) (Sink, error) {
	return nil, errors.New("audit: sqlite driver not built in (rebuild with -tags sqlite)")
}
