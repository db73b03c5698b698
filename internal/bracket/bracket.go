// Package bracket generates tandas for a phase and picks who moves on.
package bracket

import (
	"sort"

	"github.com/google/uuid"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// Standing is a participant's aggregate over a set of tandas
type Standing struct {
	ParticipantID string `json:"participant_id"`
	Total         int    `json:"total"`
	Position      int    `json:"position"`
}

// Build splits participantIDs into blocks and tandas for phase. Tandas are
// indexed from startIndex and judges are assigned round-robin from the pool.
func Build(eventID, liveCompetitionID string, phase models.Phase, participantIDs []string, settings models.CompetitionSettings, startIndex int) []*models.Tanda {
	if len(participantIDs) == 0 {
		return nil
	}

	perBlock := settings.ParticipantsPerBlock
	if perBlock <= 0 {
		perBlock = len(participantIDs)
	}
	perTanda := settings.BlocksPerTanda
	if perTanda <= 0 {
		perTanda = 1
	}

	var blocks []models.Block
	for i := 0; i < len(participantIDs); i += perBlock {
		end := min(i+perBlock, len(participantIDs))
		b := models.Block{JudgeIDs: assignJudges(settings, len(blocks))}
		for _, id := range participantIDs[i:end] {
			b.Participants = append(b.Participants, models.TandaParticipant{
				ParticipantID: id,
				Scores:        []models.ScoreRecord{},
			})
		}
		blocks = append(blocks, b)
	}

	var tandas []*models.Tanda
	for i := 0; i < len(blocks); i += perTanda {
		end := min(i+perTanda, len(blocks))
		t := &models.Tanda{
			ID:                uuid.NewString(),
			Index:             startIndex + len(tandas),
			EventID:           eventID,
			LiveCompetitionID: liveCompetitionID,
			Phase:             phase,
			Status:            models.TandaStopped,
		}
		for j, b := range blocks[i:end] {
			b.BlockIndex = j
			t.Blocks = append(t.Blocks, b)
		}
		tandas = append(tandas, t)
	}
	return tandas
}

func assignJudges(settings models.CompetitionSettings, blockNumber int) []string {
	pool := settings.JudgeIDs
	n := settings.JudgesPerBlock
	if n <= 0 || n >= len(pool) {
		return append([]string{}, pool...)
	}

	judges := make([]string, 0, n)
	for i := 0; i < n; i++ {
		judges = append(judges, pool[(blockNumber*n+i)%len(pool)])
	}
	return judges
}

// Score returns the participant's total, preferring the stored total when set
func Score(p *models.TandaParticipant) int {
	if p.TotalScore != nil {
		return *p.TotalScore
	}
	return p.SumScores()
}

// BlockWinner returns the best scored participant of b. Ties go to the
// participant listed first.
func BlockWinner(b *models.Block) (string, bool) {
	best, winner := -1, ""
	for i := range b.Participants {
		if s := Score(&b.Participants[i]); s > best {
			best, winner = s, b.Participants[i].ParticipantID
		}
	}
	return winner, winner != ""
}

// Rank orders participants across tandas by total, highest first. Ties keep
// the order in which participants first appear.
func Rank(tandas []*models.Tanda) []Standing {
	ordered := append([]*models.Tanda(nil), tandas...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	totals := make(map[string]int)
	var order []string
	for _, t := range ordered {
		for bi := range t.Blocks {
			for pi := range t.Blocks[bi].Participants {
				p := &t.Blocks[bi].Participants[pi]
				if _, seen := totals[p.ParticipantID]; !seen {
					order = append(order, p.ParticipantID)
				}
				totals[p.ParticipantID] += Score(p)
			}
		}
	}

	standings := make([]Standing, len(order))
	for i, id := range order {
		standings[i] = Standing{ParticipantID: id, Total: totals[id]}
	}
	sort.SliceStable(standings, func(i, j int) bool { return standings[i].Total > standings[j].Total })
	for i := range standings {
		standings[i].Position = i + 1
	}
	return standings
}

// Target returns how many participants the given phase takes, 0 for no cut
func Target(phase models.Phase, settings models.CompetitionSettings) int {
	switch phase {
	case models.PhaseSemifinal:
		return settings.SemifinalThreshold
	case models.PhaseFinal:
		return settings.FinalParticipantsCount
	}
	return 0
}

// Qualifiers picks the participants of tandas that move on to phase.
// Seriado advances every block winner, topped up with the best runners-up
// when the phase target is larger. Other formats take the top of the ranking.
func Qualifiers(phase models.Phase, tandas []*models.Tanda, settings models.CompetitionSettings) []string {
	standings := Rank(tandas)
	target := Target(phase, settings)

	if settings.Format != models.FormatSeriado {
		if target <= 0 || target > len(standings) {
			target = len(standings)
		}
		ids := make([]string, 0, target)
		for _, s := range standings[:target] {
			ids = append(ids, s.ParticipantID)
		}
		return ids
	}

	ordered := append([]*models.Tanda(nil), tandas...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	picked := make(map[string]bool)
	var ids []string
	for _, t := range ordered {
		for bi := range t.Blocks {
			winner, ok := t.BlockWinners[t.Blocks[bi].BlockIndex]
			if !ok {
				winner, ok = BlockWinner(&t.Blocks[bi])
			}
			if ok && !picked[winner] {
				picked[winner] = true
				ids = append(ids, winner)
			}
		}
	}

	for _, s := range standings {
		if len(ids) >= target {
			break
		}
		if !picked[s.ParticipantID] {
			picked[s.ParticipantID] = true
			ids = append(ids, s.ParticipantID)
		}
	}
	return ids
}
