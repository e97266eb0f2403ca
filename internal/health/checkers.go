package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DatabaseChecker pings the database with a short deadline.
func DatabaseChecker(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// HeadSource reports the latest known block number.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// ChainChecker verifies the escrow chain endpoint answers and reports
// its head block. A node that answers but serves a stale head is still
// healthy here; lag is surfaced through the watcher's metrics instead.
func ChainChecker(src HeadSource) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		head, err := src.BlockNumber(ctx)
		if err != nil {
			return Status{Name: "chain", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "chain", Healthy: true, Detail: fmt.Sprintf("head=%d", head)}
	}
}

// SweeperChecker reports whether a background sweeper is running.
type runnable interface{ Running() bool }

func SweeperChecker(name string, r runnable) Checker {
	return func(ctx context.Context) Status {
		if !r.Running() {
			return Status{Name: name, Healthy: false, Detail: "not running"}
		}
		return Status{Name: name, Healthy: true}
	}
}
