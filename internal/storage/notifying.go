package storage

import (
	"context"
	"log/slog"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// Publisher is the subset of a notifier the repository decorator needs
type Publisher interface {
	Publish(ctx context.Context, key models.TandaKey) error
}

// NotifyingRepository publishes a change signal after every successful tanda
// write. Publishing is best-effort: a failed publish is logged, never returned.
type NotifyingRepository struct {
	Repository
	pub    Publisher
	logger *slog.Logger
}

// NewNotifying wraps repo so that writes are announced on pub
func NewNotifying(repo Repository, pub Publisher, logger *slog.Logger) *NotifyingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyingRepository{Repository: repo, pub: pub, logger: logger}
}

func (r *NotifyingRepository) publish(ctx context.Context, key models.TandaKey) {
	if err := r.pub.Publish(ctx, key); err != nil {
		r.logger.Warn("failed to publish tanda change", "tanda", key.String(), "error", err)
	}
}

func (r *NotifyingRepository) CreateLiveCompetition(ctx context.Context, lc *models.LiveCompetition, tandas []*models.Tanda) error {
	if err := r.Repository.CreateLiveCompetition(ctx, lc, tandas); err != nil {
		return err
	}
	for _, t := range tandas {
		r.publish(ctx, t.Key())
	}
	return nil
}

func (r *NotifyingRepository) ApplyTransition(ctx context.Context, eventID, id string, fn TransitionFunc) error {
	var changed []models.TandaKey
	err := r.Repository.ApplyTransition(ctx, eventID, id, func(tr *Transition) error {
		if err := fn(tr); err != nil {
			return err
		}
		changed = changed[:0]
		for _, t := range tr.Tandas {
			if tr.Touched(t.ID) {
				changed = append(changed, t.Key())
			}
		}
		for _, t := range tr.NewTandas {
			changed = append(changed, t.Key())
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range changed {
		r.publish(ctx, key)
	}
	return nil
}

func (r *NotifyingRepository) UpdateTanda(ctx context.Context, key models.TandaKey, upd TandaUpdate) (*models.Tanda, error) {
	t, err := r.Repository.UpdateTanda(ctx, key, upd)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, key)
	return t, nil
}

func (r *NotifyingRepository) MutateTanda(ctx context.Context, key models.TandaKey, fn MutateFunc) (*models.Tanda, error) {
	t, err := r.Repository.MutateTanda(ctx, key, fn)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, key)
	return t, nil
}
