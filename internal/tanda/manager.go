package tanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/notify"
	"github.com/terra-clan/tanda-engine/internal/storage"
)

// Manager keeps one watching Player per live tanda
type Manager struct {
	store   storage.Repository
	sub     notify.Subscriber
	flow    Finalizer
	opts    []Option
	players *xsync.Map[string, *Player]
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a player manager. Players watch sub until Close.
func NewManager(store storage.Repository, sub notify.Subscriber, flow Finalizer, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		sub:     sub,
		flow:    flow,
		opts:    opts,
		players: xsync.NewMap[string, *Player](),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Player returns the player for key, starting a watch on first use.
// Finished tandas get a detached player that is not cached.
func (m *Manager) Player(ctx context.Context, key models.TandaKey) (*Player, error) {
	if p, ok := m.players.Load(key.String()); ok {
		return p, nil
	}

	t, err := m.store.GetTanda(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get tanda: %w", err)
	}
	if t == nil {
		return nil, ErrTandaNotFound
	}
	if t.Status.IsTerminal() {
		return m.newPlayer(key), nil
	}

	created := false
	p, _ := m.players.Compute(key.String(), func(old *Player, loaded bool) (*Player, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}
		created = true
		return m.newPlayer(key), xsync.UpdateOp
	})

	if created {
		if err := p.Watch(m.ctx, m.sub); err != nil {
			m.players.Delete(key.String())
			return nil, err
		}
		m.logger.Debug("tanda player started", "tanda", key.String())
	}
	return p, nil
}

func (m *Manager) newPlayer(key models.TandaKey) *Player {
	opts := append([]Option{WithLogger(m.logger)}, m.opts...)
	opts = append(opts, WithOnFinished(func(t *models.Tanda) { m.evict(t.Key()) }))
	return NewPlayer(key, m.store, m.flow, opts...)
}

func (m *Manager) evict(key models.TandaKey) {
	if p, ok := m.players.LoadAndDelete(key.String()); ok {
		p.Close()
		m.logger.Debug("tanda player stopped", "tanda", key.String())
	}
}

// Finish force-finishes the tanda through its player
func (m *Manager) Finish(ctx context.Context, key models.TandaKey) (*models.Tanda, error) {
	p, err := m.Player(ctx, key)
	if err != nil {
		return nil, err
	}
	return p.Finish(ctx)
}

// Resume starts watching every tanda left open by a previous process
func (m *Manager) Resume(ctx context.Context) error {
	open, err := m.store.ListTandasByStatus(ctx,
		models.TandaPlaying, models.TandaPaused, models.TandaWaitingScores)
	if err != nil {
		return fmt.Errorf("failed to list open tandas: %w", err)
	}

	for _, t := range open {
		if _, err := m.Player(ctx, t.Key()); err != nil {
			m.logger.Error("failed to resume tanda player", "tanda_id", t.ID, "error", err)
		}
	}
	m.logger.Info("tanda players resumed", "count", len(open))
	return nil
}

// Active returns the number of watched tandas
func (m *Manager) Active() int {
	return m.players.Size()
}

// Close stops every player
func (m *Manager) Close() {
	m.cancel()
	m.players.Range(func(k string, p *Player) bool {
		p.Close()
		m.players.Delete(k)
		return true
	})
}
