package pipeline

import (
	"context"
	"time"

	"github.com/etm-sa/landylocal/core/infra/logging"
)

// Reconciler sweeps for jobs stuck in a non-terminal status. A worker crash
// between ack and completion leaves a job orphaned; the sweep fails it so
// stream viewers get a terminal event instead of waiting forever.
type Reconciler struct {
	store      Store
	events     EventBus
	interval   time.Duration
	staleAfter time.Duration
}

// NewReconciler builds a sweep with the given tick interval and staleness
// threshold. The threshold should comfortably exceed the per-task timeout.
func NewReconciler(store Store, events EventBus, interval, staleAfter time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Reconciler{store: store, events: events, interval: interval, staleAfter: staleAfter}
}

// Run ticks until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.staleAfter)
	jobs, err := r.store.ListStaleJobs(ctx, cutoff)
	if err != nil {
		logging.Error("reconciler", "list stale jobs", "error", err)
		return
	}
	for _, job := range jobs {
		reason := "Pipeline stalled: no progress for " + r.staleAfter.String()
		if err := r.store.SetFailed(ctx, job.ID, reason); err != nil {
			logging.Error("reconciler", "fail stale job", "job", job.ID, "error", err)
			continue
		}
		if r.events != nil {
			if err := r.events.PublishEvent(job.ID, Event{
				Status:  StatusFailed,
				Message: "❌ " + reason,
			}); err != nil {
				logging.Error("reconciler", "publish stale event", "job", job.ID, "error", err)
			}
		}
		logging.Info("reconciler", "failed stale job", "job", job.ID, "last_status", string(job.Status))
	}
}
