package progress

import (
	"context"
	"time"
)

// TickInterval is the progress widget's render cadence.
const TickInterval = time.Second

// Run drives Tick once per TickInterval until ctx is cancelled. It
// renders one final frame before returning so the last observed state
// is always visible.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Tick()
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}
