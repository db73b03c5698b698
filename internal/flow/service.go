// Package flow advances a live competition as its tandas finish.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/terra-clan/tanda-engine/internal/bracket"
	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/profiles"
	"github.com/terra-clan/tanda-engine/internal/storage"
)

var (
	ErrTandaNotFinished    = errors.New("tanda is not finished")
	ErrTandaNotFound       = errors.New("tanda not found in live competition")
	ErrCompetitionNotFound = errors.New("live competition not found")
	ErrProfileNotFound     = errors.New("competition profile not found")
	ErrInvalidRequest      = errors.New("invalid competition request")

	errAlreadyProcessed = errors.New("tanda already processed")
)

// Service owns bracket progression of live competitions
type Service struct {
	store    storage.Repository
	profiles *profiles.Loader
	logger   *slog.Logger
}

// NewService creates a flow service. profiles may be nil when every request
// carries its own settings.
func NewService(store storage.Repository, profiles *profiles.Loader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, profiles: profiles, logger: logger}
}

// FinalizeTandaAndCheckTransitions records the result of the finished tanda at
// tandaIndex and advances the competition when its phase is complete. Calling
// it again for an already processed tanda changes nothing.
func (s *Service) FinalizeTandaAndCheckTransitions(ctx context.Context, eventID, liveCompetitionID string, tandaIndex int) (*models.LiveCompetition, error) {
	var (
		result    *models.LiveCompetition
		fromPhase models.Phase
		generated int
	)

	err := s.store.ApplyTransition(ctx, eventID, liveCompetitionID, func(tr *storage.Transition) error {
		lc := tr.Competition
		fromPhase = lc.CurrentPhase

		var target *models.Tanda
		for _, t := range tr.Tandas {
			if t.Index == tandaIndex {
				target = t
				break
			}
		}
		if target == nil {
			return ErrTandaNotFound
		}
		if target.Status != models.TandaFinished {
			return ErrTandaNotFinished
		}
		if target.FlowProcessed {
			result = lc.Clone()
			return errAlreadyProcessed
		}

		recordResults(target, lc.Settings.Format)
		target.FlowProcessed = true
		tr.Touch(target)
		lc.CompletedTandas++

		if phaseComplete(tr.Tandas, lc.CurrentPhase) {
			generated = s.advance(tr)
		}
		result = lc.Clone()
		return nil
	})

	switch {
	case errors.Is(err, errAlreadyProcessed):
		s.logger.Debug("tanda already processed by flow", "live_competition_id", liveCompetitionID, "index", tandaIndex)
		return result, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrCompetitionNotFound
	case errors.Is(err, ErrTandaNotFound), errors.Is(err, ErrTandaNotFinished):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to apply competition transition: %w", err)
	}

	s.logger.Info("tanda results recorded",
		"live_competition_id", liveCompetitionID,
		"index", tandaIndex,
		"completed_tandas", result.CompletedTandas,
		"total_tandas", result.TotalTandas,
	)
	if result.IsFinished {
		s.logger.Info("live competition finished", "live_competition_id", liveCompetitionID)
	} else if result.CurrentPhase != fromPhase {
		s.logger.Info("live competition advanced",
			"live_competition_id", liveCompetitionID,
			"from", fromPhase,
			"to", result.CurrentPhase,
			"tandas", generated,
		)
	}
	return result, nil
}

// recordResults stores each participant total and, for Seriado, the block winners
func recordResults(t *models.Tanda, format models.CompetitionFormat) {
	if format == models.FormatSeriado && t.BlockWinners == nil {
		t.BlockWinners = make(map[int]string, len(t.Blocks))
	}
	for bi := range t.Blocks {
		b := &t.Blocks[bi]
		for pi := range b.Participants {
			total := b.Participants[pi].SumScores()
			b.Participants[pi].TotalScore = &total
		}
		if format == models.FormatSeriado {
			if winner, ok := bracket.BlockWinner(b); ok {
				t.BlockWinners[b.BlockIndex] = winner
			}
		}
	}
}

func phaseComplete(tandas []*models.Tanda, phase models.Phase) bool {
	for _, t := range tandas {
		if t.Phase == phase && !t.FlowProcessed {
			return false
		}
	}
	return true
}

// advance moves the competition past its completed phase and returns the
// number of tandas generated for the next one
func (s *Service) advance(tr *storage.Transition) int {
	lc := tr.Competition

	next, ok := lc.CurrentPhase.Next()
	if !ok {
		s.finish(tr)
		return 0
	}

	var phaseTandas []*models.Tanda
	maxIndex := -1
	for _, t := range tr.Tandas {
		if t.Phase == lc.CurrentPhase {
			phaseTandas = append(phaseTandas, t)
		}
		maxIndex = max(maxIndex, t.Index)
	}

	qualifiers := bracket.Qualifiers(next, phaseTandas, lc.Settings)
	if next == models.PhaseSemifinal && lc.Settings.FinalParticipantsCount > 0 &&
		len(qualifiers) <= lc.Settings.FinalParticipantsCount {
		next = models.PhaseFinal
	}
	if len(qualifiers) == 0 {
		s.finish(tr)
		return 0
	}

	tandas := bracket.Build(lc.EventID, lc.ID, next, qualifiers, lc.Settings, maxIndex+1)
	tr.NewTandas = append(tr.NewTandas, tandas...)
	lc.TotalTandas += len(tandas)
	lc.CurrentPhase = next
	return len(tandas)
}

func (s *Service) finish(tr *storage.Transition) {
	now := tr.Now
	tr.Competition.IsFinished = true
	tr.Competition.RealEndTime = &now
}

// CreateLiveCompetition generates the Eliminatoria bracket for req and persists it
func (s *Service) CreateLiveCompetition(ctx context.Context, eventID string, req models.CreateCompetitionRequest) (*models.CompetitionView, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidRequest)
	}
	if len(req.ParticipantIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one participant is required", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(req.ParticipantIDs))
	for _, id := range req.ParticipantIDs {
		if id == "" || seen[id] {
			return nil, fmt.Errorf("%w: participant ids must be unique and non-empty", ErrInvalidRequest)
		}
		seen[id] = true
	}

	settings, err := s.resolveSettings(req)
	if err != nil {
		return nil, err
	}

	lc := &models.LiveCompetition{
		ID:           uuid.NewString(),
		EventID:      eventID,
		Level:        req.Level,
		Category:     req.Category,
		Gender:       req.Gender,
		CurrentPhase: models.PhaseEliminatoria,
		Settings:     settings,
	}
	tandas := bracket.Build(eventID, lc.ID, models.PhaseEliminatoria, req.ParticipantIDs, settings, 0)
	lc.TotalTandas = len(tandas)

	if err := s.store.CreateLiveCompetition(ctx, lc, tandas); err != nil {
		s.logger.Error("failed to create live competition", "event_id", eventID, "error", err)
		return nil, fmt.Errorf("failed to create live competition: %w", err)
	}

	s.logger.Info("live competition created",
		"event_id", eventID,
		"live_competition_id", lc.ID,
		"participants", len(req.ParticipantIDs),
		"tandas", len(tandas),
		"format", settings.Format,
	)

	return s.Competition(ctx, eventID, lc.ID)
}

// Competition returns a live competition with its tandas in index order
func (s *Service) Competition(ctx context.Context, eventID, liveCompetitionID string) (*models.CompetitionView, error) {
	lc, err := s.store.GetLiveCompetition(ctx, eventID, liveCompetitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get live competition: %w", err)
	}
	if lc == nil {
		return nil, ErrCompetitionNotFound
	}
	tandas, err := s.store.ListTandas(ctx, eventID, liveCompetitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tandas: %w", err)
	}
	return &models.CompetitionView{Competition: lc, Tandas: tandas}, nil
}

func (s *Service) resolveSettings(req models.CreateCompetitionRequest) (models.CompetitionSettings, error) {
	var settings models.CompetitionSettings
	switch {
	case req.Settings != nil:
		settings = *req.Settings
		settings.JudgeIDs = append([]string(nil), req.Settings.JudgeIDs...)
	case req.Profile != "":
		if s.profiles == nil {
			return settings, ErrProfileNotFound
		}
		p := s.profiles.Get(req.Profile)
		if p == nil {
			return settings, fmt.Errorf("%w: %s", ErrProfileNotFound, req.Profile)
		}
		settings = p.Settings
		settings.JudgeIDs = append([]string(nil), p.Settings.JudgeIDs...)
	}

	profiles.ApplyDefaults(&settings)
	if err := profiles.Validate(settings); err != nil {
		return settings, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return settings, nil
}
