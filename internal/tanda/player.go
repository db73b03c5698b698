// Package tanda drives the live lifecycle of a single tanda: clock,
// status transitions, judge quorum and the hand-off to the competition flow.
package tanda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/notify"
	"github.com/terra-clan/tanda-engine/internal/storage"
)

// Player controls one tanda. Operations are serialised per player and every
// state change is confirmed by the repository before it is visible through
// Snapshot.
type Player struct {
	key         models.TandaKey
	store       storage.Repository
	flow        Finalizer
	minScore    int
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
	onFinished  func(*models.Tanda)

	mu           sync.Mutex
	snapshot     *models.Tanda
	quorumSeen   bool
	autoRetries  int
	finishedSeen bool

	watchMu     sync.Mutex
	unsubscribe func()
	closed      atomic.Bool
}

// Option configures a Player
type Option func(*Player)

// WithMinimumScore overrides the score written for missing votes on finish
func WithMinimumScore(score int) Option {
	return func(p *Player) {
		p.minScore = score
	}
}

// WithLogger sets the player logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) {
		p.logger = logger
	}
}

// WithMaxAttempts bounds the retries of a status write that lost a race
func WithMaxAttempts(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base backoff between auto-finish attempts after a failed write
func WithRetryDelay(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.retryDelay = d
		}
	}
}

// WithOnFinished registers a hook run asynchronously, once, when the player
// sees the tanda finished. That is either its own finish or a write by
// another player.
func WithOnFinished(fn func(*models.Tanda)) Option {
	return func(p *Player) {
		p.onFinished = fn
	}
}

// NewPlayer creates a player for key. flow may be nil, in which case finishing
// does not trigger bracket progression.
func NewPlayer(key models.TandaKey, store storage.Repository, flow Finalizer, opts ...Option) *Player {
	p := &Player{
		key:         key,
		store:       store,
		flow:        flow,
		minScore:    DefaultMinimumScore,
		maxAttempts: 3,
		retryDelay:  time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("tanda_id", key.TandaID, "live_competition_id", key.LiveCompetitionID)
	return p
}

// Key returns the tanda this player controls
func (p *Player) Key() models.TandaKey {
	return p.key
}

// Snapshot returns the last state confirmed by the repository, or nil before the first read
func (p *Player) Snapshot() *models.Tanda {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot.Clone()
}

// Refresh re-reads the tanda from the repository
func (p *Player) Refresh(ctx context.Context) (*models.Tanda, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Play starts a stopped tanda or resumes a paused one
func (p *Player) Play(ctx context.Context) (*models.Tanda, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, applied, err := p.transition(ctx, "play", func(ctx context.Context, t *models.Tanda) (*storage.TandaUpdate, error) {
		switch t.Status {
		case models.TandaStopped:
			// Written first so a retry after a failed status write stays consistent
			if err := p.store.SetCurrentTandaIndex(ctx, t.EventID, t.LiveCompetitionID, t.Index); err != nil {
				return nil, fmt.Errorf("failed to set current tanda index: %w", err)
			}
			return &storage.TandaUpdate{Status: statusPtr(models.TandaPlaying), StampStart: true}, nil
		case models.TandaPaused:
			return &storage.TandaUpdate{
				Status:       statusPtr(models.TandaPlaying),
				FoldPause:    true,
				StampResumed: true,
			}, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if applied {
		p.logger.Info("tanda playing", "index", t.Index, "total_paused_duration", t.TotalPausedDuration)
	}
	return t.Clone(), nil
}

// Pause holds the clock of a playing tanda
func (p *Player) Pause(ctx context.Context) (*models.Tanda, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, applied, err := p.transition(ctx, "pause", func(ctx context.Context, t *models.Tanda) (*storage.TandaUpdate, error) {
		if t.Status != models.TandaPlaying {
			return nil, nil
		}
		return &storage.TandaUpdate{Status: statusPtr(models.TandaPaused), StampPaused: true}, nil
	})
	if err != nil {
		return nil, err
	}
	if applied {
		p.logger.Info("tanda paused")
	}
	return t.Clone(), nil
}

// OpenVoting lets judges close the tanda by completing their scores
func (p *Player) OpenVoting(ctx context.Context) (*models.Tanda, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, applied, err := p.transition(ctx, "open voting on", func(ctx context.Context, t *models.Tanda) (*storage.TandaUpdate, error) {
		if t.Status != models.TandaPlaying {
			return nil, nil
		}
		return &storage.TandaUpdate{Status: statusPtr(models.TandaWaitingScores)}, nil
	})
	if err != nil {
		return nil, err
	}
	if applied {
		p.logger.Info("tanda voting opened")
	}
	return t.Clone(), nil
}

// Finish closes the tanda, backfilling missing votes with the minimum score,
// and hands it to the competition flow. Finishing a finished tanda is a no-op.
func (p *Player) Finish(ctx context.Context) (*models.Tanda, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := p.finishLocked(ctx)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (p *Player) finishLocked(ctx context.Context) (*models.Tanda, error) {
	current, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return current, nil
	}

	if !AllJudgesVoted(current) {
		filled := 0
		updated, err := p.store.MutateTanda(ctx, p.key, func(t *models.Tanda, now time.Time) error {
			if t.Status.IsTerminal() {
				return nil
			}
			filled = BackfillMinimumScores(t, p.minScore, now)
			return nil
		})
		if err != nil {
			p.logger.Error("failed to backfill minimum scores", "error", err)
			return nil, fmt.Errorf("failed to backfill minimum scores: %w", err)
		}
		p.snapshot = updated
		p.logger.Info("minimum scores backfilled", "records", filled, "score", p.minScore)
	}

	t, applied, err := p.transition(ctx, "finish", func(ctx context.Context, t *models.Tanda) (*storage.TandaUpdate, error) {
		if t.Status.IsTerminal() {
			return nil, nil
		}
		upd := &storage.TandaUpdate{Status: statusPtr(models.TandaFinished), StampEnd: true}
		if t.Status == models.TandaPaused {
			upd.FoldPause = true
		}
		return upd, nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return t, nil
	}

	p.logger.Info("tanda finished", "index", t.Index)
	p.finalize(ctx, t)
	p.markFinished(t)
	return t, nil
}

// markFinished runs the onFinished hook the first time the tanda is seen
// finished. Callers hold p.mu.
func (p *Player) markFinished(t *models.Tanda) {
	if p.finishedSeen {
		return
	}
	p.finishedSeen = true
	if p.onFinished != nil {
		go p.onFinished(t.Clone())
	}
}

// finalize runs the competition flow; the finished tanda stays finished on failure
func (p *Player) finalize(ctx context.Context, t *models.Tanda) {
	if p.flow == nil {
		return
	}
	lc, err := p.flow.FinalizeTandaAndCheckTransitions(ctx, t.EventID, t.LiveCompetitionID, t.Index)
	if err != nil {
		p.logger.Error("competition flow failed after finish", "index", t.Index, "error", err)
		return
	}
	if lc != nil {
		p.logger.Info("competition flow applied",
			"phase", lc.CurrentPhase,
			"completed_tandas", lc.CompletedTandas,
			"total_tandas", lc.TotalTandas,
			"is_finished", lc.IsFinished,
		)
	}
}

// Watch subscribes to changes of the tanda and auto-finishes it when the
// quorum newly passes while voting is open. The current state is evaluated
// once before Watch returns.
func (p *Player) Watch(ctx context.Context, sub notify.Subscriber) error {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()

	if p.unsubscribe != nil {
		return nil
	}

	unsubscribe, err := sub.Subscribe(ctx, p.key, func() { p.handleChange(ctx) })
	if err != nil {
		p.logger.Error("failed to subscribe to tanda changes", "error", err)
		return fmt.Errorf("failed to subscribe to tanda: %w", err)
	}
	p.unsubscribe = unsubscribe

	p.handleChange(ctx)
	return nil
}

// Close stops watching the tanda and cancels pending auto-finish retries
func (p *Player) Close() {
	p.closed.Store(true)

	p.watchMu.Lock()
	defer p.watchMu.Unlock()

	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func (p *Player) handleChange(ctx context.Context) {
	if p.closed.Load() || ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := p.load(ctx)
	if err != nil {
		p.logger.Warn("failed to read tanda after change", "error", err)
		return
	}

	if t.Status.IsTerminal() {
		// Finished here or by another writer
		p.markFinished(t)
		return
	}

	ready := t.Status == models.TandaWaitingScores && AllJudgesVoted(t)
	if !ready {
		p.quorumSeen = false
		p.autoRetries = 0
		return
	}
	if p.quorumSeen {
		return
	}
	p.quorumSeen = true

	p.logger.Info("all judges voted, finishing tanda")
	if _, err := p.finishLocked(ctx); err != nil {
		p.quorumSeen = false
		p.logger.Error("auto-finish failed", "error", err, "attempt", p.autoRetries+1)
		p.scheduleRetry(ctx)
		return
	}
	p.autoRetries = 0
}

// scheduleRetry re-evaluates the tanda after a failed auto-finish. No more
// votes will arrive once quorum is met, so nothing else would wake the player.
// Past maxAttempts the reconciler sweep takes over. Callers hold p.mu.
func (p *Player) scheduleRetry(ctx context.Context) {
	if p.autoRetries >= p.maxAttempts {
		p.logger.Warn("auto-finish retries exhausted", "attempts", p.autoRetries)
		return
	}
	p.autoRetries++
	delay := p.retryDelay * time.Duration(p.autoRetries)
	time.AfterFunc(delay, func() { p.handleChange(ctx) })
}

type decideFunc func(ctx context.Context, t *models.Tanda) (*storage.TandaUpdate, error)

// transition reads the tanda, asks decide for a status write and applies it
// guarded by the status it was decided on. A lost race re-reads and decides
// again. A nil update means the operation does not apply to the current status.
func (p *Player) transition(ctx context.Context, op string, decide decideFunc) (*models.Tanda, bool, error) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		current, err := p.load(ctx)
		if err != nil {
			return nil, false, err
		}

		upd, err := decide(ctx, current)
		if err != nil {
			p.logger.Error("failed to "+op+" tanda", "error", err)
			return nil, false, err
		}
		if upd == nil {
			p.logger.Debug("tanda operation ignored", "op", op, "status", current.Status)
			return current, false, nil
		}

		expect := current.Status
		upd.ExpectStatus = &expect

		updated, err := p.store.UpdateTanda(ctx, p.key, *upd)
		if errors.Is(err, storage.ErrStatusConflict) {
			p.logger.Debug("tanda status changed concurrently, retrying", "op", op, "attempt", attempt+1)
			continue
		}
		if err != nil {
			p.logger.Error("failed to "+op+" tanda", "error", err)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, false, ErrTandaNotFound
			}
			return nil, false, fmt.Errorf("failed to %s tanda: %w", op, err)
		}

		p.snapshot = updated
		return updated, true, nil
	}
	return nil, false, fmt.Errorf("failed to %s tanda: %w", op, storage.ErrStatusConflict)
}

func (p *Player) load(ctx context.Context) (*models.Tanda, error) {
	t, err := p.store.GetTanda(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read tanda: %w", err)
	}
	if t == nil {
		return nil, ErrTandaNotFound
	}
	p.snapshot = t
	return t, nil
}

func statusPtr(s models.TandaStatus) *models.TandaStatus {
	return &s
}
