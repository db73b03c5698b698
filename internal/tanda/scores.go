package tanda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/storage"
)

// Scorer records judge votes. Each vote is a locked read-modify-write of the
// tanda blocks so concurrent judges never overwrite each other.
type Scorer struct {
	store  storage.Repository
	logger *slog.Logger
}

// NewScorer creates a Scorer
func NewScorer(store storage.Repository, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{store: store, logger: logger}
}

// Submit records req against the tanda at key. Votes are accepted while the
// tanda is playing, paused or waiting for scores. A judge voting again for the
// same participant replaces the previous vote.
func (s *Scorer) Submit(ctx context.Context, key models.TandaKey, req models.SubmitScoreRequest) (*models.Tanda, error) {
	if req.Score == nil || !models.ValidScore(*req.Score) {
		return nil, ErrInvalidScore
	}

	t, err := s.store.MutateTanda(ctx, key, func(t *models.Tanda, now time.Time) error {
		if t.Status == models.TandaStopped || t.Status.IsTerminal() {
			return ErrVotingClosed
		}
		b := t.Block(req.BlockIndex)
		if b == nil {
			return ErrBlockNotFound
		}
		if !b.HasJudge(req.JudgeID) {
			return ErrJudgeNotOnBlock
		}
		p := b.Participant(req.ParticipantID)
		if p == nil {
			return ErrParticipantNotOnBlock
		}
		p.SetScore(req.JudgeID, *req.Score, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTandaNotFound
		}
		if isScoreRejection(err) {
			return nil, err
		}
		s.logger.Error("failed to record score", "tanda_id", key.TandaID, "judge_id", req.JudgeID, "error", err)
		return nil, fmt.Errorf("failed to record score: %w", err)
	}

	s.logger.Info("score recorded",
		"tanda_id", key.TandaID,
		"block_index", req.BlockIndex,
		"participant_id", req.ParticipantID,
		"judge_id", req.JudgeID,
		"score", *req.Score,
	)
	return t, nil
}

func isScoreRejection(err error) bool {
	return errors.Is(err, ErrVotingClosed) ||
		errors.Is(err, ErrBlockNotFound) ||
		errors.Is(err, ErrJudgeNotOnBlock) ||
		errors.Is(err, ErrParticipantNotOnBlock)
}
