package tanda

import (
	"context"
	"errors"

	"github.com/terra-clan/tanda-engine/internal/models"
)

var (
	ErrTandaNotFound         = errors.New("tanda not found")
	ErrInvalidScore          = errors.New("score must be an integer between 0 and 5")
	ErrVotingClosed          = errors.New("tanda is not accepting scores")
	ErrBlockNotFound         = errors.New("block not found in tanda")
	ErrJudgeNotOnBlock       = errors.New("judge is not assigned to this block")
	ErrParticipantNotOnBlock = errors.New("participant is not in this block")
)

// Finalizer is the competition flow entry point called once a tanda finishes.
// Implementations must be idempotent per finished tanda.
type Finalizer interface {
	FinalizeTandaAndCheckTransitions(ctx context.Context, eventID, liveCompetitionID string, tandaIndex int) (*models.LiveCompetition, error)
}
