// Package sweeper runs the retention loop: tasks that never reached
// processing are expired after the retention window, and artifacts of old
// terminal tasks are reclaimed from object storage. Expiry happens only
// here — upload URL expiry never transitions a task.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/probelab/dataprobe/internal/objectstore"
	"github.com/probelab/dataprobe/internal/store"
	"github.com/probelab/dataprobe/pkg/models"
)

// Sweeper owns the periodic retention pass.
type Sweeper struct {
	store    store.Store
	objects  objectstore.Store
	window   time.Duration
	interval time.Duration
}

// New creates a Sweeper. window is how long a task may sit before expiry or
// artifact reclamation; interval is how often the pass runs.
func New(s store.Store, objects objectstore.Store, window, interval time.Duration) *Sweeper {
	return &Sweeper{store: s, objects: objects, window: window, interval: interval}
}

// Run executes sweep passes until the context is canceled. Intended to be
// launched as a goroutine at startup.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("retention sweeper started", "window", s.window, "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass. Each candidate is handled independently; one
// failure never stops the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.window)
	s.expireStale(ctx, cutoff)
	s.reclaimArtifacts(ctx, cutoff)
}

// expireStale moves tasks stuck in created or uploading past the cutoff to
// expired. The compare-and-swap update makes the sweep safe against a
// concurrent trigger: if the task moved on, the expiry simply loses.
func (s *Sweeper) expireStale(ctx context.Context, cutoff time.Time) {
	candidates, err := s.store.ListExpiryCandidates(ctx, cutoff)
	if err != nil {
		slog.Error("list expiry candidates failed", "error", err)
		return
	}

	expired := 0
	for _, task := range candidates {
		err := s.store.UpdateTaskStatus(ctx, task.ID, task.Status, models.TaskStatusExpired)
		if errors.Is(err, store.ErrInvalidTransition) {
			// Lost the race to a trigger; leave the task alone.
			continue
		}
		if err != nil {
			slog.Error("expire task failed", "task_id", task.ID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		slog.Info("expired stale tasks", "count", expired)
	}
}

// reclaimArtifacts deletes stored inputs and outputs of terminal tasks past
// the cutoff. Task rows are kept for history; only object storage is freed.
func (s *Sweeper) reclaimArtifacts(ctx context.Context, cutoff time.Time) {
	tasks, err := s.store.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		slog.Error("list terminal tasks failed", "error", err)
		return
	}

	reclaimed := 0
	for _, task := range tasks {
		prefix := objectstore.TaskPrefix(task.UserID, task.ID)
		if err := s.objects.RemovePrefix(ctx, prefix); err != nil {
			slog.Error("reclaim artifacts failed", "task_id", task.ID, "error", err)
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 {
		slog.Info("reclaimed task artifacts", "count", reclaimed)
	}
}
