package tanda

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/storage"
)

func TestManagerReusesAndEvictsPlayers(t *testing.T) {
	f := newFixture(t, newTanda(models.TandaStopped, block(0, []string{"j1"}, "p1")))
	m := NewManager(f.store, f.hub, f.flow, nil)
	t.Cleanup(m.Close)
	ctx := context.Background()

	p1, err := m.Player(ctx, f.key)
	require.NoError(t, err)
	p2, err := m.Player(ctx, f.key)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, m.Active())
	assert.Equal(t, 1, f.hub.Subscribers(f.key))

	_, err = p1.Play(ctx)
	require.NoError(t, err)
	_, err = p1.Finish(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.hub.Subscribers(f.key) == 0 }, time.Second, 5*time.Millisecond)

	// finished tandas get a detached player
	p3, err := m.Player(ctx, f.key)
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
	assert.Equal(t, 0, m.Active())
}

func TestManagerEvictsTandaFinishedElsewhere(t *testing.T) {
	f := newFixture(t, newTanda(models.TandaStopped, block(0, []string{"j1"}, "p1")))
	replicaA := NewManager(f.store, f.hub, f.flow, nil)
	t.Cleanup(replicaA.Close)
	replicaB := NewManager(f.store, f.hub, f.flow, nil)
	t.Cleanup(replicaB.Close)
	ctx := context.Background()

	_, err := replicaA.Player(ctx, f.key)
	require.NoError(t, err)
	require.Equal(t, 1, replicaA.Active())

	pb, err := replicaB.Player(ctx, f.key)
	require.NoError(t, err)
	_, err = pb.Play(ctx)
	require.NoError(t, err)
	_, err = replicaB.Finish(ctx, f.key)
	require.NoError(t, err)

	assert.Equal(t, models.TandaFinished, f.stored(t).Status)
	assert.Eventually(t, func() bool { return replicaA.Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return replicaB.Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.hub.Subscribers(f.key) == 0 }, time.Second, 5*time.Millisecond)
}

func TestManagerEvictsTandaFinishedBeforeWatch(t *testing.T) {
	f := newFixture(t, newTanda(models.TandaWaitingScores, block(0, []string{"j1"}, "p1")))
	m := NewManager(f.store, f.hub, f.flow, nil)
	t.Cleanup(m.Close)
	ctx := context.Background()

	// the tanda is finished between the manager's read and its first watch
	racing := &finishOnceStore{Repository: f.store, finish: func() {
		_, err := NewPlayer(f.key, f.store, f.flow).Finish(ctx)
		require.NoError(t, err)
	}}
	m.store = racing

	_, err := m.Player(ctx, f.key)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.hub.Subscribers(f.key) == 0 }, time.Second, 5*time.Millisecond)
}

// finishOnceStore runs finish right after the first read
type finishOnceStore struct {
	storage.Repository
	once   sync.Once
	finish func()
}

func (s *finishOnceStore) GetTanda(ctx context.Context, key models.TandaKey) (*models.Tanda, error) {
	t, err := s.Repository.GetTanda(ctx, key)
	s.once.Do(s.finish)
	return t, err
}

func TestManagerUnknownTanda(t *testing.T) {
	f := newFixture(t, newTanda(models.TandaStopped))
	m := NewManager(f.store, f.hub, f.flow, nil)
	t.Cleanup(m.Close)

	_, err := m.Player(context.Background(), models.TandaKey{EventID: "ev-1", LiveCompetitionID: "lc-1", TandaID: "ghost"})
	assert.ErrorIs(t, err, ErrTandaNotFound)
}

func TestManagerResume(t *testing.T) {
	f := newFixture(t, newTanda(models.TandaWaitingScores, block(0, []string{"j1"}, "p1")))
	other := newTanda(models.TandaFinished)
	other.ID = "t-2"
	other.Index = 1
	f.repo.PutTanda(other)

	m := NewManager(f.store, f.hub, f.flow, nil)
	t.Cleanup(m.Close)
	require.NoError(t, m.Resume(context.Background()))
	assert.Equal(t, 1, m.Active())

	_, err := NewScorer(f.store, nil).Submit(context.Background(), f.key,
		models.SubmitScoreRequest{ParticipantID: "p1", JudgeID: "j1", Score: intPtr(3)})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.stored(t).Status == models.TandaFinished }, 2*time.Second, 10*time.Millisecond)
}
