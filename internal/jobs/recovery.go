package jobs

import (
	"context"
	"log/slog"

	"github.com/cklxx/tunehub/internal/store"
)

const interruptedReason = "interrupted by server restart before completion"

// RunRecoverySweep reconciles job records left behind by a previous process
// instance. Every record still marked running necessarily has no attached
// runner after a restart, so it is moved to failed with an explanatory
// error. Pending and terminal records are left untouched as no resumption
// is attempted: inputs and checkpoints are not guaranteed resumable.
func RunRecoverySweep(ctx context.Context, st store.Store) (int64, error) {
	n, err := st.FailRunningJobs(ctx, interruptedReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Warn("recovery sweep failed interrupted jobs", "count", n)
	}
	return n, nil
}
