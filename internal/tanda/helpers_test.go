package tanda

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/notify"
	"github.com/terra-clan/tanda-engine/internal/storage"
)

var t0 = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFlow struct {
	calls   atomic.Int32
	indexes chan int
	err     error
}

func newFakeFlow() *fakeFlow {
	return &fakeFlow{indexes: make(chan int, 16)}
}

func (f *fakeFlow) FinalizeTandaAndCheckTransitions(ctx context.Context, eventID, lcID string, index int) (*models.LiveCompetition, error) {
	f.calls.Add(1)
	f.indexes <- index
	if f.err != nil {
		return nil, f.err
	}
	return &models.LiveCompetition{ID: lcID, EventID: eventID}, nil
}

type fixture struct {
	repo   *storage.MemoryRepository
	store  storage.Repository
	hub    *notify.Hub
	clock  *fakeClock
	flow   *fakeFlow
	player *Player
	key    models.TandaKey
}

func newFixture(t *testing.T, tanda *models.Tanda, opts ...Option) *fixture {
	t.Helper()

	repo := storage.NewMemoryRepository()
	clock := &fakeClock{now: t0}
	repo.SetClock(clock.Now)
	repo.PutLiveCompetition(&models.LiveCompetition{
		ID:                tanda.LiveCompetitionID,
		EventID:           tanda.EventID,
		CurrentTandaIndex: -1,
		TotalTandas:       1,
		CurrentPhase:      tanda.Phase,
	})
	repo.PutTanda(tanda)

	hub := notify.NewHub()
	t.Cleanup(func() { _ = hub.Close() })

	store := storage.NewNotifying(repo, hub, nil)
	flow := newFakeFlow()

	return &fixture{
		repo:   repo,
		store:  store,
		hub:    hub,
		clock:  clock,
		flow:   flow,
		player: NewPlayer(tanda.Key(), store, flow, opts...),
		key:    tanda.Key(),
	}
}

func (f *fixture) stored(t *testing.T) *models.Tanda {
	t.Helper()
	tanda, err := f.repo.GetTanda(context.Background(), f.key)
	require.NoError(t, err)
	require.NotNil(t, tanda)
	return tanda
}

func newTanda(status models.TandaStatus, blocks ...models.Block) *models.Tanda {
	return &models.Tanda{
		ID:                "t-1",
		Index:             0,
		EventID:           "ev-1",
		LiveCompetitionID: "lc-1",
		Phase:             models.PhaseEliminatoria,
		Status:            status,
		Blocks:            blocks,
	}
}

func block(index int, judges []string, participants ...string) models.Block {
	b := models.Block{BlockIndex: index, JudgeIDs: judges}
	for _, id := range participants {
		b.Participants = append(b.Participants, models.TandaParticipant{ParticipantID: id})
	}
	return b
}

func vote(b *models.Block, participantID, judgeID string, score int) {
	b.Participant(participantID).SetScore(judgeID, score, t0)
}

func intPtr(v int) *int {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
