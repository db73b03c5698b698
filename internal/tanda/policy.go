package tanda

import (
	"time"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// DefaultMinimumScore is written for every judge who has not voted when a tanda
// is forced to finish.
// 3 is the federation's default for missing votes; TANDA_MINIMUM_SCORE overrides it.
const DefaultMinimumScore = 3

// BlockVoted reports whether every judge of the block has a numeric score for
// every participant. A block without judges is satisfied.
func BlockVoted(b *models.Block) bool {
	for _, judgeID := range b.JudgeIDs {
		if !judgeDone(b, judgeID) {
			return false
		}
	}
	return true
}

// AllJudgesVoted is the quorum check over a tanda snapshot
func AllJudgesVoted(t *models.Tanda) bool {
	if t == nil {
		return false
	}
	for i := range t.Blocks {
		if !BlockVoted(&t.Blocks[i]) {
			return false
		}
	}
	return true
}

// VotingProgress returns the share of (block, judge) pairs where the judge has
// scored every participant of the block. A tanda with no pairs reports 1.
func VotingProgress(t *models.Tanda) float64 {
	if t == nil {
		return 0
	}
	total, done := 0, 0
	for i := range t.Blocks {
		b := &t.Blocks[i]
		for _, judgeID := range b.JudgeIDs {
			total++
			if judgeDone(b, judgeID) {
				done++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(done) / float64(total)
}

func judgeDone(b *models.Block, judgeID string) bool {
	for i := range b.Participants {
		rec, ok := b.Participants[i].ScoreBy(judgeID)
		if !ok || !rec.HasScore() {
			return false
		}
	}
	return true
}

// BackfillMinimumScores gives every missing (judge, participant) vote the
// minimum score, stamped at. Existing votes are left untouched. It returns the
// number of records written.
func BackfillMinimumScores(t *models.Tanda, score int, at time.Time) int {
	filled := 0
	for bi := range t.Blocks {
		b := &t.Blocks[bi]
		for pi := range b.Participants {
			p := &b.Participants[pi]
			for _, judgeID := range b.JudgeIDs {
				rec, ok := p.ScoreBy(judgeID)
				if ok && rec.HasScore() {
					continue
				}
				p.SetScore(judgeID, score, at)
				filled++
			}
		}
	}
	return filled
}

// Elapsed returns the dancing time of a tanda: now - start - paused, never
// negative. The value is frozen at paused_at while paused and at end_time once
// finished.
func Elapsed(t *models.Tanda, now time.Time) time.Duration {
	if t == nil || t.StartTime == nil || t.Status == models.TandaStopped {
		return 0
	}

	ref := now
	switch t.Status {
	case models.TandaPaused:
		if t.PausedAt != nil {
			ref = *t.PausedAt
		}
	case models.TandaFinished:
		if t.EndTime != nil {
			ref = *t.EndTime
		}
	}

	paused := time.Duration(t.TotalPausedDuration * float64(time.Second))
	elapsed := ref.Sub(*t.StartTime) - paused
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// View builds the observer representation of a snapshot
func View(t *models.Tanda, now time.Time) models.TandaView {
	return models.TandaView{
		Tanda:          t,
		ElapsedSeconds: Elapsed(t, now).Seconds(),
		VotingProgress: VotingProgress(t),
		AllJudgesVoted: AllJudgesVoted(t),
	}
}
