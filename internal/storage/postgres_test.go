package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// Set TANDA_TEST_DATABASE_DSN to run these against a disposable database
const testDSNEnv = "TANDA_TEST_DATABASE_DSN"

func newPostgresTestRepo(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	ctx := context.Background()
	require.NoError(t, MigrateFromDSN(ctx, dsn, ""))

	repo, err := NewPostgresRepository(ctx, PostgresConfig{DSN: dsn, MaxOpenConns: 4, MaxIdleConns: 1, MaxLifetime: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// seedCompetition creates a competition with n stopped tandas under a fresh event
func seedCompetition(t *testing.T, repo *PostgresRepository, n int) (*models.LiveCompetition, []*models.Tanda) {
	t.Helper()

	eventID := "ev-" + uuid.NewString()
	lc := &models.LiveCompetition{
		ID:                "lc-1",
		EventID:           eventID,
		Level:             "senior",
		CurrentTandaIndex: -1,
		TotalTandas:       n,
		CurrentPhase:      models.PhaseEliminatoria,
		Settings:          models.CompetitionSettings{Format: models.FormatPuntaje, JudgeIDs: []string{"j1"}},
	}
	var tandas []*models.Tanda
	for i := 0; i < n; i++ {
		tandas = append(tandas, &models.Tanda{
			ID:                uuid.NewString(),
			Index:             i,
			EventID:           eventID,
			LiveCompetitionID: lc.ID,
			Phase:             models.PhaseEliminatoria,
			Status:            models.TandaStopped,
			Blocks: []models.Block{{
				BlockIndex:   0,
				JudgeIDs:     []string{"j1"},
				Participants: []models.TandaParticipant{{ParticipantID: "p1"}, {ParticipantID: "p2"}},
			}},
		})
	}
	require.NoError(t, repo.CreateLiveCompetition(context.Background(), lc, tandas))
	return lc, tandas
}

func TestPostgresCreateAndRead(t *testing.T) {
	repo := newPostgresTestRepo(t)
	ctx := context.Background()
	lc, tandas := seedCompetition(t, repo, 2)

	got, err := repo.GetLiveCompetition(ctx, lc.EventID, lc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, -1, got.CurrentTandaIndex)
	assert.Equal(t, []string{"j1"}, got.Settings.JudgeIDs)

	second, err := repo.GetTandaByIndex(ctx, lc.EventID, lc.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, tandas[1].ID, second.ID)
	assert.Len(t, second.Blocks[0].Participants, 2)

	missing, err := repo.GetTanda(ctx, models.TandaKey{EventID: lc.EventID, LiveCompetitionID: lc.ID, TandaID: "ghost"})
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.SetCurrentTandaIndex(ctx, lc.EventID, lc.ID, 0))
	got, err = repo.GetLiveCompetition(ctx, lc.EventID, lc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentTandaIndex)
}

func TestPostgresUpdateTandaCompareAndSwap(t *testing.T) {
	repo := newPostgresTestRepo(t)
	ctx := context.Background()
	_, tandas := seedCompetition(t, repo, 1)
	key := tandas[0].Key()

	played, err := repo.UpdateTanda(ctx, key, TandaUpdate{
		Status: status(models.TandaPlaying), ExpectStatus: status(models.TandaStopped), StampStart: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TandaPlaying, played.Status)
	require.NotNil(t, played.StartTime)

	// a writer that decided on the stale status loses
	_, err = repo.UpdateTanda(ctx, key, TandaUpdate{
		Status: status(models.TandaPlaying), ExpectStatus: status(models.TandaStopped), StampStart: true,
	})
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = repo.UpdateTanda(ctx, models.TandaKey{EventID: key.EventID, LiveCompetitionID: key.LiveCompetitionID, TandaID: "ghost"},
		TandaUpdate{Status: status(models.TandaPlaying)})
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := repo.GetTanda(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, played.StartTime.Unix(), stored.StartTime.Unix())
}

func TestPostgresPauseFold(t *testing.T) {
	repo := newPostgresTestRepo(t)
	ctx := context.Background()
	_, tandas := seedCompetition(t, repo, 1)
	key := tandas[0].Key()

	_, err := repo.UpdateTanda(ctx, key, TandaUpdate{Status: status(models.TandaPlaying), StampStart: true})
	require.NoError(t, err)
	paused, err := repo.UpdateTanda(ctx, key, TandaUpdate{
		Status: status(models.TandaPaused), ExpectStatus: status(models.TandaPlaying), StampPaused: true,
	})
	require.NoError(t, err)
	require.NotNil(t, paused.PausedAt)
	assert.Zero(t, paused.TotalPausedDuration)

	time.Sleep(50 * time.Millisecond)

	resumed, err := repo.UpdateTanda(ctx, key, TandaUpdate{
		Status: status(models.TandaPlaying), ExpectStatus: status(models.TandaPaused), StampResumed: true, FoldPause: true,
	})
	require.NoError(t, err)
	assert.Greater(t, resumed.TotalPausedDuration, 0.0)
	assert.Less(t, resumed.TotalPausedDuration, 10.0)
	require.NotNil(t, resumed.ResumedAt)
}

func TestPostgresMutateTanda(t *testing.T) {
	repo := newPostgresTestRepo(t)
	ctx := context.Background()
	_, tandas := seedCompetition(t, repo, 1)
	key := tandas[0].Key()

	updated, err := repo.MutateTanda(ctx, key, func(t *models.Tanda, now time.Time) error {
		t.Blocks[0].Participant("p1").SetScore("j1", 4, now)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Blocks[0].Participant("p1").SumScores())

	stored, err := repo.GetTanda(ctx, key)
	require.NoError(t, err)
	rec, ok := stored.Blocks[0].Participant("p1").ScoreBy("j1")
	require.True(t, ok)
	require.NotNil(t, rec.Score)
	assert.Equal(t, 4, *rec.Score)

	// an aborted mutation writes nothing
	_, err = repo.MutateTanda(ctx, key, func(t *models.Tanda, now time.Time) error {
		t.Blocks[0].Participant("p2").SetScore("j1", 5, now)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	stored, err = repo.GetTanda(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, stored.Blocks[0].Participant("p2").SumScores())
}

func TestPostgresApplyTransition(t *testing.T) {
	repo := newPostgresTestRepo(t)
	ctx := context.Background()
	lc, tandas := seedCompetition(t, repo, 1)

	_, err := repo.UpdateTanda(ctx, tandas[0].Key(), TandaUpdate{Status: status(models.TandaFinished), StampEnd: true})
	require.NoError(t, err)

	pending, err := repo.ListUnprocessedFinished(ctx, 10000)
	require.NoError(t, err)
	assert.Contains(t, tandaIDs(pending), tandas[0].ID)

	nextID := uuid.NewString()
	err = repo.ApplyTransition(ctx, lc.EventID, lc.ID, func(tr *Transition) error {
		require.Len(t, tr.Tandas, 1)
		assert.False(t, tr.Now.IsZero())

		tr.Tandas[0].FlowProcessed = true
		tr.Tandas[0].BlockWinners = map[int]string{0: "p1"}
		tr.Touch(tr.Tandas[0])

		tr.Competition.CompletedTandas = 1
		tr.Competition.TotalTandas = 2
		tr.Competition.CurrentPhase = models.PhaseFinal
		tr.NewTandas = append(tr.NewTandas, &models.Tanda{
			ID:                nextID,
			Index:             1,
			EventID:           lc.EventID,
			LiveCompetitionID: lc.ID,
			Phase:             models.PhaseFinal,
			Status:            models.TandaStopped,
			Blocks:            []models.Block{},
		})
		return nil
	})
	require.NoError(t, err)

	got, err := repo.GetLiveCompetition(ctx, lc.EventID, lc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletedTandas)
	assert.Equal(t, models.PhaseFinal, got.CurrentPhase)

	all, err := repo.ListTandas(ctx, lc.EventID, lc.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].FlowProcessed)
	assert.Equal(t, "p1", all[0].BlockWinners[0])
	assert.Equal(t, nextID, all[1].ID)

	pending, err = repo.ListUnprocessedFinished(ctx, 10000)
	require.NoError(t, err)
	assert.NotContains(t, tandaIDs(pending), tandas[0].ID)

	// a failing transition rolls back
	err = repo.ApplyTransition(ctx, lc.EventID, lc.ID, func(tr *Transition) error {
		tr.Competition.IsFinished = true
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	got, err = repo.GetLiveCompetition(ctx, lc.EventID, lc.ID)
	require.NoError(t, err)
	assert.False(t, got.IsFinished)

	assert.ErrorIs(t, repo.ApplyTransition(ctx, lc.EventID, "ghost", func(*Transition) error { return nil }), ErrNotFound)
}

func tandaIDs(tandas []*models.Tanda) []string {
	ids := make([]string, 0, len(tandas))
	for _, t := range tandas {
		ids = append(ids, t.ID)
	}
	return ids
}
