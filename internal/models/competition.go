package models

import (
	"time"
)

// CompetitionFormat decides how qualifiers are picked between phases
type CompetitionFormat string

const (
	FormatPuntaje CompetitionFormat = "Puntaje" // Ranked by total score
	FormatSeriado CompetitionFormat = "Seriado" // Block winners advance
)

// CompetitionSettings is the bracket configuration consumed by the flow service
type CompetitionSettings struct {
	Format                 CompetitionFormat `json:"format" yaml:"format"`
	ParticipantsPerBlock   int               `json:"participants_per_block" yaml:"participants_per_block"`
	BlocksPerTanda         int               `json:"blocks_per_tanda" yaml:"blocks_per_tanda"`
	JudgesPerBlock         int               `json:"judges_per_block" yaml:"judges_per_block"`
	JudgeIDs               []string          `json:"judge_ids" yaml:"judge_ids"`
	SemifinalThreshold     int               `json:"semifinal_threshold" yaml:"semifinal_threshold"`
	FinalParticipantsCount int               `json:"final_participants_count" yaml:"final_participants_count"`
}

// LiveCompetition is the bracket for one (level, category, gender) combination
type LiveCompetition struct {
	ID                string              `json:"id"`
	EventID           string              `json:"event_id"`
	Level             string              `json:"level"`
	Category          string              `json:"category"`
	Gender            string              `json:"gender"`
	CurrentTandaIndex int                 `json:"current_tanda_index"`
	CompletedTandas   int                 `json:"completed_tandas"`
	TotalTandas       int                 `json:"total_tandas"`
	CurrentPhase      Phase               `json:"current_phase"`
	IsFinished        bool                `json:"is_finished"`
	RealEndTime       *time.Time          `json:"real_end_time,omitempty"`
	Settings          CompetitionSettings `json:"settings"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Clone returns a deep copy
func (lc *LiveCompetition) Clone() *LiveCompetition {
	if lc == nil {
		return nil
	}
	c := *lc
	c.RealEndTime = cloneTime(lc.RealEndTime)
	c.Settings.JudgeIDs = append([]string(nil), lc.Settings.JudgeIDs...)
	return &c
}

// CreateCompetitionRequest creates a live competition with its Eliminatoria bracket
type CreateCompetitionRequest struct {
	Level          string               `json:"level"`
	Category       string               `json:"category"`
	Gender         string               `json:"gender"`
	Profile        string               `json:"profile,omitempty"`
	Settings       *CompetitionSettings `json:"settings,omitempty"`
	ParticipantIDs []string             `json:"participant_ids"`
}

// CompetitionView bundles a live competition with its tandas
type CompetitionView struct {
	Competition *LiveCompetition `json:"competition"`
	Tandas      []*Tanda         `json:"tandas,omitempty"`
}
