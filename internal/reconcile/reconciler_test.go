package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/storage"
)

type recordingFlow struct {
	mu    sync.Mutex
	calls []int
	fail  map[int]bool
	repo  *storage.MemoryRepository
}

func (f *recordingFlow) FinalizeTandaAndCheckTransitions(ctx context.Context, eventID, lcID string, index int) (*models.LiveCompetition, error) {
	f.mu.Lock()
	f.calls = append(f.calls, index)
	f.mu.Unlock()

	if f.fail[index] {
		return nil, errors.New("flow unavailable")
	}
	t, _ := f.repo.GetTandaByIndex(ctx, eventID, lcID, index)
	t.FlowProcessed = true
	f.repo.PutTanda(t)
	return &models.LiveCompetition{ID: lcID}, nil
}

func seed(repo *storage.MemoryRepository, index int, status models.TandaStatus, processed bool) {
	repo.PutTanda(&models.Tanda{
		ID:                "t" + string(rune('a'+index)),
		Index:             index,
		EventID:           "ev",
		LiveCompetitionID: "lc",
		Status:            status,
		FlowProcessed:     processed,
	})
}

func TestRunOnceFinalizesPendingTandas(t *testing.T) {
	repo := storage.NewMemoryRepository()
	seed(repo, 0, models.TandaFinished, true)
	seed(repo, 1, models.TandaFinished, false)
	seed(repo, 2, models.TandaFinished, false)
	seed(repo, 3, models.TandaWaitingScores, false)

	flow := &recordingFlow{repo: repo, fail: map[int]bool{2: true}}
	r := NewReconciler(repo, flow, Config{Workers: 2}, nil)
	defer r.Stop()

	assert.Equal(t, 1, r.RunOnce(context.Background()))
	assert.ElementsMatch(t, []int{1, 2}, flow.calls)

	// the failed tanda is retried on the next cycle
	flow.fail = nil
	flow.calls = nil
	assert.Equal(t, 1, r.RunOnce(context.Background()))
	assert.Equal(t, []int{2}, flow.calls)

	assert.Zero(t, r.RunOnce(context.Background()))
}

type recordingFinisher struct {
	mu   sync.Mutex
	keys []string
}

func (f *recordingFinisher) Finish(ctx context.Context, key models.TandaKey) (*models.Tanda, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key.TandaID)
	return &models.Tanda{ID: key.TandaID, Status: models.TandaFinished}, nil
}

func TestRunOnceFinishesVotedWaitingTandas(t *testing.T) {
	repo := storage.NewMemoryRepository()
	// no blocks, so the quorum is met
	seed(repo, 0, models.TandaWaitingScores, false)
	repo.PutTanda(&models.Tanda{
		ID:                "pending-vote",
		Index:             1,
		EventID:           "ev",
		LiveCompetitionID: "lc",
		Status:            models.TandaWaitingScores,
		Blocks: []models.Block{{
			BlockIndex:   0,
			JudgeIDs:     []string{"j1"},
			Participants: []models.TandaParticipant{{ParticipantID: "p1"}},
		}},
	})
	seed(repo, 2, models.TandaPlaying, false)

	finisher := &recordingFinisher{}
	r := NewReconciler(repo, &recordingFlow{repo: repo}, Config{Workers: 2, Players: finisher}, nil)
	defer r.Stop()

	r.RunOnce(context.Background())
	assert.Equal(t, []string{"ta"}, finisher.keys)
}

func TestStartRunsImmediately(t *testing.T) {
	repo := storage.NewMemoryRepository()
	seed(repo, 0, models.TandaFinished, false)
	flow := &recordingFlow{repo: repo}

	r := NewReconciler(repo, flow, Config{Interval: time.Hour}, nil)
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	assert.Eventually(t, func() bool {
		pending, _ := repo.ListUnprocessedFinished(context.Background(), 0)
		return len(pending) == 0
	}, time.Second, 10*time.Millisecond)
}
