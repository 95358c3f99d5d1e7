package orchestrator

import (
	"context"

	"github.com/valpere/batchtran/internal"
)

// Run is the handle of a submitted job.
type Run struct {
	ID     string
	TaskID string

	cancel context.CancelFunc
	agg    *aggregator
}

// Cancel drops every queued item of the job. Items already started run to
// completion. Cancel after completion is a no-op.
func (r *Run) Cancel() { r.cancel() }

// Done is closed once the job has finished.
func (r *Run) Done() <-chan struct{} { return r.agg.done }

// Progress returns a snapshot of the job's counters.
func (r *Run) Progress() internal.Progress { return r.agg.progress() }

// Wait blocks until the job finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (internal.Summary, error) {
	select {
	case <-r.agg.done:
		return r.agg.result(), nil
	case <-ctx.Done():
		return internal.Summary{}, ctx.Err()
	}
}
