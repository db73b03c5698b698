// Package reconcile re-drives bracket progression for tandas that finished
// while the competition flow was unavailable.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/storage"
	"github.com/terra-clan/tanda-engine/internal/tanda"
)

// Finisher force-finishes a tanda through its live player
type Finisher interface {
	Finish(ctx context.Context, key models.TandaKey) (*models.Tanda, error)
}

// Reconciler periodically finalizes finished tandas not yet processed by the
// flow, and finishes tandas stuck in waiting_scores with every vote in.
type Reconciler struct {
	store    storage.Repository
	flow     tanda.Finalizer
	players  Finisher
	interval time.Duration
	batch    int
	pool     pond.Pool
	logger   *slog.Logger
}

// Config holds reconciler settings
type Config struct {
	Interval time.Duration
	Workers  int
	Batch    int
	// Players finishes fully voted tandas. The sweep is skipped when nil.
	Players Finisher
}

// NewReconciler creates a reconciler backed by a bounded worker pool
func NewReconciler(store storage.Repository, flow tanda.Finalizer, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		store:    store,
		flow:     flow,
		players:  cfg.Players,
		interval: cfg.Interval,
		batch:    cfg.Batch,
		pool:     pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.Batch)),
		logger:   logger,
	}
}

// Start begins the reconcile loop in a goroutine
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop waits for in-flight work and releases the pool
func (r *Reconciler) Stop() {
	r.pool.StopAndWait()
}

func (r *Reconciler) run(ctx context.Context) {
	r.logger.Info("reconcile worker started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on start
	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce finalizes one batch of pending tandas and returns how many succeeded
func (r *Reconciler) RunOnce(ctx context.Context) int {
	r.logger.Debug("running reconcile cycle")

	r.finishVoted(ctx)

	pending, err := r.store.ListUnprocessedFinished(ctx, r.batch)
	if err != nil {
		r.logger.Error("failed to list unprocessed tandas", "error", err)
		return 0
	}
	if len(pending) == 0 {
		r.logger.Debug("no unprocessed tandas found")
		return 0
	}

	r.logger.Info("found unprocessed tandas", "count", len(pending))

	var done atomic.Int32
	group := r.pool.NewGroupContext(ctx)
	for _, t := range pending {
		t := t
		group.Submit(func() {
			if _, err := r.flow.FinalizeTandaAndCheckTransitions(ctx, t.EventID, t.LiveCompetitionID, t.Index); err != nil {
				r.logger.Error("failed to finalize tanda",
					"error", err,
					"tanda_id", t.ID,
					"live_competition_id", t.LiveCompetitionID,
				)
				return
			}
			done.Add(1)
			r.logger.Info("tanda finalized by reconciler", "tanda_id", t.ID, "index", t.Index)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("reconcile cycle interrupted", "error", err)
	}
	return int(done.Load())
}

// finishVoted finishes waiting_scores tandas whose quorum was met but whose
// auto-finish never landed
func (r *Reconciler) finishVoted(ctx context.Context) int {
	if r.players == nil {
		return 0
	}

	waiting, err := r.store.ListTandasByStatus(ctx, models.TandaWaitingScores)
	if err != nil {
		r.logger.Error("failed to list waiting tandas", "error", err)
		return 0
	}

	var done atomic.Int32
	group := r.pool.NewGroupContext(ctx)
	for _, t := range waiting {
		if !tanda.AllJudgesVoted(t) {
			continue
		}
		key := t.Key()
		group.Submit(func() {
			if _, err := r.players.Finish(ctx, key); err != nil {
				r.logger.Error("failed to finish voted tanda", "error", err, "tanda_id", key.TandaID)
				return
			}
			done.Add(1)
			r.logger.Info("voted tanda finished by reconciler", "tanda_id", key.TandaID)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("finish sweep interrupted", "error", err)
	}
	return int(done.Load())
}
