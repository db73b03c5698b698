package bracket

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/tanda-engine/internal/models"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%d", i+1)
	}
	return out
}

func TestBuild(t *testing.T) {
	settings := models.CompetitionSettings{
		ParticipantsPerBlock: 3,
		BlocksPerTanda:       2,
		JudgesPerBlock:       2,
		JudgeIDs:             []string{"j1", "j2", "j3"},
	}

	tandas := Build("ev", "lc", models.PhaseEliminatoria, ids(10), settings, 4)
	require.Len(t, tandas, 2)

	assert.Equal(t, 4, tandas[0].Index)
	assert.Equal(t, 5, tandas[1].Index)
	assert.NotEqual(t, tandas[0].ID, tandas[1].ID)

	first := tandas[0]
	assert.Equal(t, models.TandaStopped, first.Status)
	assert.Equal(t, models.PhaseEliminatoria, first.Phase)
	assert.Equal(t, "lc", first.LiveCompetitionID)
	require.Len(t, first.Blocks, 2)
	assert.Equal(t, 0, first.Blocks[0].BlockIndex)
	assert.Equal(t, 1, first.Blocks[1].BlockIndex)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5", "p6"}, first.ParticipantIDs())

	assert.Equal(t, []string{"j1", "j2"}, first.Blocks[0].JudgeIDs)
	assert.Equal(t, []string{"j3", "j1"}, first.Blocks[1].JudgeIDs)

	second := tandas[1]
	require.Len(t, second.Blocks, 2)
	require.Len(t, second.Blocks[1].Participants, 1)
	assert.Equal(t, "p10", second.Blocks[1].Participants[0].ParticipantID)
	assert.Equal(t, []string{"j2", "j3"}, second.Blocks[0].JudgeIDs)
}

func TestBuildDefaults(t *testing.T) {
	settings := models.CompetitionSettings{JudgeIDs: []string{"j1", "j2"}}

	tandas := Build("ev", "lc", models.PhaseFinal, ids(4), settings, 0)
	require.Len(t, tandas, 1)
	require.Len(t, tandas[0].Blocks, 1)
	assert.Len(t, tandas[0].Blocks[0].Participants, 4)
	assert.Equal(t, []string{"j1", "j2"}, tandas[0].Blocks[0].JudgeIDs)

	assert.Nil(t, Build("ev", "lc", models.PhaseFinal, nil, settings, 0))
}

func scored(index int, blocks ...map[string]int) *models.Tanda {
	t := &models.Tanda{ID: fmt.Sprintf("t%d", index), Index: index}
	for bi, b := range blocks {
		blk := models.Block{BlockIndex: bi}
		for _, id := range sortedKeys(b) {
			total := b[id]
			blk.Participants = append(blk.Participants, models.TandaParticipant{ParticipantID: id, TotalScore: &total})
		}
		t.Blocks = append(t.Blocks, blk)
	}
	return t
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestRank(t *testing.T) {
	tandas := []*models.Tanda{
		scored(1, map[string]int{"c": 7, "d": 9}),
		scored(0, map[string]int{"a": 7, "b": 3}),
	}

	got := Rank(tandas)
	require.Len(t, got, 4)
	assert.Equal(t, Standing{ParticipantID: "d", Total: 9, Position: 1}, got[0])
	assert.Equal(t, "a", got[1].ParticipantID, "tie resolved by first appearance")
	assert.Equal(t, "c", got[2].ParticipantID)
	assert.Equal(t, Standing{ParticipantID: "b", Total: 3, Position: 4}, got[3])
}

func TestScoreFallsBackToVotes(t *testing.T) {
	p := models.TandaParticipant{ParticipantID: "a"}
	p.Scores = []models.ScoreRecord{{JudgeID: "j1", Score: intPtr(4)}, {JudgeID: "j2", Score: intPtr(5)}, {JudgeID: "j3"}}
	assert.Equal(t, 9, Score(&p))
}

func TestBlockWinner(t *testing.T) {
	b := scored(0, map[string]int{"a": 5, "b": 8, "c": 8}).Blocks[0]
	winner, ok := BlockWinner(&b)
	assert.True(t, ok)
	assert.Equal(t, "b", winner)

	_, ok = BlockWinner(&models.Block{})
	assert.False(t, ok)
}

func TestQualifiersPuntaje(t *testing.T) {
	settings := models.CompetitionSettings{Format: models.FormatPuntaje, SemifinalThreshold: 3, FinalParticipantsCount: 2}
	tandas := []*models.Tanda{scored(0, map[string]int{"a": 4, "b": 9, "c": 6, "d": 1})}

	assert.Equal(t, []string{"b", "c", "a"}, Qualifiers(models.PhaseSemifinal, tandas, settings))
	assert.Equal(t, []string{"b", "c"}, Qualifiers(models.PhaseFinal, tandas, settings))

	settings.SemifinalThreshold = 0
	assert.Len(t, Qualifiers(models.PhaseSemifinal, tandas, settings), 4, "no threshold keeps everyone")
}

func TestQualifiersSeriado(t *testing.T) {
	settings := models.CompetitionSettings{Format: models.FormatSeriado, SemifinalThreshold: 4}
	first := scored(0, map[string]int{"a": 4, "b": 9}, map[string]int{"c": 6, "d": 1})
	first.BlockWinners = map[int]string{0: "b", 1: "c"}
	second := scored(1, map[string]int{"e": 8, "f": 2})

	got := Qualifiers(models.PhaseSemifinal, []*models.Tanda{second, first}, settings)
	assert.Equal(t, []string{"b", "c", "e", "a"}, got)

	settings.SemifinalThreshold = 1
	assert.Equal(t, []string{"b", "c", "e"}, Qualifiers(models.PhaseSemifinal, []*models.Tanda{first, second}, settings),
		"every block winner advances")
}

func intPtr(v int) *int {
	return &v
}
