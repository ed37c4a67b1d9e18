// Package cleanup maintains worker instance liveness. Each relay process
// registers itself, refreshes its heartbeat periodically and purges rows of
// instances that stopped heartbeating, so operators can see which relays are
// alive in a multi-instance deployment.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/chatbridge/store"
)

type Runner struct {
	store      *store.Store
	interval   time.Duration
	staleAfter time.Duration
	instance   *store.Instance
}

// NewRunner creates an instance liveness runner. staleAfter controls when a
// silent instance is considered dead and purged.
func NewRunner(st *store.Store, staleAfter time.Duration) *Runner {
	return &Runner{
		store:      st,
		interval:   time.Minute,
		staleAfter: staleAfter,
	}
}

// InstanceID returns this process's registered instance id, or empty before
// Run has registered it.
func (r *Runner) InstanceID() string {
	if r.instance == nil {
		return ""
	}
	return r.instance.ID
}

// Run starts the background task. It registers this instance, then beats and
// purges on every tick until ctx is canceled, deregistering on the way out.
func (r *Runner) Run(ctx context.Context) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	instance, err := r.store.RegisterInstance(ctx, uuid.NewString(), hostname)
	if err != nil {
		slog.Error("failed to register worker instance", "error", err)
		return
	}
	r.instance = instance
	slog.Info("worker instance registered", "id", instance.ID, "hostname", hostname)

	// Purge once on startup so leftovers from a crashed run disappear quickly.
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			r.deregister()
			slog.Info("cleanup runner stopped")
			return
		}
	}
}

// RunOnce performs one heartbeat and purge cycle (for manual trigger).
func (r *Runner) RunOnce(ctx context.Context) {
	r.tick(ctx)
}

func (r *Runner) tick(ctx context.Context) {
	if r.instance != nil {
		if err := r.store.HeartbeatInstance(ctx, r.instance); err != nil {
			slog.Error("failed to refresh instance heartbeat", "id", r.instance.ID, "error", err)
		}
	}

	purged, err := r.store.PurgeStaleInstances(ctx, r.staleAfter)
	if err != nil {
		slog.Error("failed to purge stale instances", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("purged stale worker instances", "count", purged)
	}
}

func (r *Runner) deregister() {
	// The parent context is already canceled at this point.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.DeregisterInstance(ctx, r.instance.ID); err != nil {
		slog.Error("failed to deregister worker instance", "id", r.instance.ID, "error", err)
	}
}
