package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/tanda-engine/internal/models"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, key models.TandaKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key.TandaID)
	return p.err
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func TestNotifyingPublishesAfterWrites(t *testing.T) {
	repo, key, _ := seed(t)
	pub := &recordingPublisher{}
	store := NewNotifying(repo, pub, nil)
	ctx := context.Background()

	_, err := store.UpdateTanda(ctx, key, TandaUpdate{Status: status(models.TandaPlaying)})
	require.NoError(t, err)
	_, err = store.MutateTanda(ctx, key, func(*models.Tanda, time.Time) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1", "t-1"}, pub.published())

	// Failed writes publish nothing
	_, err = store.UpdateTanda(ctx, key, TandaUpdate{ExpectStatus: status(models.TandaStopped)})
	assert.ErrorIs(t, err, ErrStatusConflict)
	_, err = store.MutateTanda(ctx, key, func(*models.Tanda, time.Time) error { return errors.New("no") })
	require.Error(t, err)
	assert.Len(t, pub.published(), 2)
}

func TestNotifyingApplyTransitionPublishesTouchedAndNew(t *testing.T) {
	repo, _, _ := seed(t)
	pub := &recordingPublisher{}
	store := NewNotifying(repo, pub, nil)

	err := store.ApplyTransition(context.Background(), "ev-1", "lc-1", func(tr *Transition) error {
		tr.Touch(tr.Tandas[0])
		tr.NewTandas = []*models.Tanda{{ID: "t-2", EventID: "ev-1", LiveCompetitionID: "lc-1"}}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1", "t-2"}, pub.published())
}

func TestNotifyingIgnoresPublishErrors(t *testing.T) {
	repo, key, _ := seed(t)
	store := NewNotifying(repo, &recordingPublisher{err: errors.New("broker down")}, nil)

	got, err := store.UpdateTanda(context.Background(), key, TandaUpdate{Status: status(models.TandaPlaying)})
	require.NoError(t, err)
	assert.Equal(t, models.TandaPlaying, got.Status)
}
