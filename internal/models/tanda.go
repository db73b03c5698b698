package models

import (
	"time"
)

// TandaStatus represents the lifecycle state of a tanda
type TandaStatus string

const (
	TandaStopped       TandaStatus = "stopped"        // Created, clock not started
	TandaPlaying       TandaStatus = "playing"        // Dancers on the floor, clock running
	TandaPaused        TandaStatus = "paused"         // Clock held
	TandaWaitingScores TandaStatus = "waiting_scores" // Voting open, clock still running
	TandaFinished      TandaStatus = "finished"       // Terminal
)

// IsTerminal returns true if no transition leaves the status
func (s TandaStatus) IsTerminal() bool {
	return s == TandaFinished
}

// IsClockRunning returns true while the elapsed clock advances
func (s TandaStatus) IsClockRunning() bool {
	return s == TandaPlaying || s == TandaWaitingScores
}

// Valid reports whether s is a known status
func (s TandaStatus) Valid() bool {
	switch s {
	case TandaStopped, TandaPlaying, TandaPaused, TandaWaitingScores, TandaFinished:
		return true
	}
	return false
}

// Phase is the competition stage a tanda belongs to
type Phase string

const (
	PhaseEliminatoria Phase = "Eliminatoria"
	PhaseSemifinal    Phase = "Semifinal"
	PhaseFinal        Phase = "Final"
)

// Next returns the phase that follows p, or false from Final
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseEliminatoria:
		return PhaseSemifinal, true
	case PhaseSemifinal:
		return PhaseFinal, true
	}
	return "", false
}

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	return p == PhaseEliminatoria || p == PhaseSemifinal || p == PhaseFinal
}

const (
	MinScore = 0
	MaxScore = 5
)

// ValidScore reports whether v is on the judging scale
func ValidScore(v int) bool {
	return v >= MinScore && v <= MaxScore
}

// ScoreRecord is one judge's vote for one participant
type ScoreRecord struct {
	JudgeID   string     `json:"judge_id"`
	Score     *int       `json:"score"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// HasScore returns true once the judge has voted
func (r ScoreRecord) HasScore() bool {
	return r.Score != nil
}

// TandaParticipant is a participant slot inside a block
type TandaParticipant struct {
	ParticipantID string        `json:"participant_id"`
	Scores        []ScoreRecord `json:"scores"`
	TotalScore    *int          `json:"total_score,omitempty"`
}

// ScoreBy returns the record left by judgeID, if any
func (p *TandaParticipant) ScoreBy(judgeID string) (ScoreRecord, bool) {
	for _, s := range p.Scores {
		if s.JudgeID == judgeID {
			return s, true
		}
	}
	return ScoreRecord{}, false
}

// SetScore records a vote for judgeID, replacing any previous slot for the same judge
func (p *TandaParticipant) SetScore(judgeID string, score int, at time.Time) {
	v := score
	ts := at
	for i := range p.Scores {
		if p.Scores[i].JudgeID == judgeID {
			p.Scores[i].Score = &v
			p.Scores[i].Timestamp = &ts
			return
		}
	}
	p.Scores = append(p.Scores, ScoreRecord{JudgeID: judgeID, Score: &v, Timestamp: &ts})
}

// SumScores adds up every numeric vote
func (p *TandaParticipant) SumScores() int {
	total := 0
	for _, s := range p.Scores {
		if s.Score != nil {
			total += *s.Score
		}
	}
	return total
}

// Block is a group of participants dancing at the same time before its own judges
type Block struct {
	BlockIndex   int                `json:"block_index"`
	Participants []TandaParticipant `json:"participants"`
	JudgeIDs     []string           `json:"judge_ids"`
}

// HasJudge returns true if judgeID is on the block's panel
func (b *Block) HasJudge(judgeID string) bool {
	for _, id := range b.JudgeIDs {
		if id == judgeID {
			return true
		}
	}
	return false
}

// Participant returns a pointer to the slot for participantID
func (b *Block) Participant(participantID string) *TandaParticipant {
	for i := range b.Participants {
		if b.Participants[i].ParticipantID == participantID {
			return &b.Participants[i]
		}
	}
	return nil
}

// TandaKey addresses a single tanda document
type TandaKey struct {
	EventID           string `json:"event_id"`
	LiveCompetitionID string `json:"live_competition_id"`
	TandaID           string `json:"tanda_id"`
}

func (k TandaKey) String() string {
	return k.EventID + "/" + k.LiveCompetitionID + "/" + k.TandaID
}

// Tanda is a timed heat made of one or more blocks
type Tanda struct {
	ID                  string         `json:"id"`
	Index               int            `json:"index"`
	EventID             string         `json:"event_id"`
	LiveCompetitionID   string         `json:"live_competition_id"`
	Phase               Phase          `json:"phase"`
	Blocks              []Block        `json:"blocks"`
	Status              TandaStatus    `json:"status"`
	StartTime           *time.Time     `json:"start_time,omitempty"`
	EndTime             *time.Time     `json:"end_time,omitempty"`
	PausedAt            *time.Time     `json:"paused_at,omitempty"`
	ResumedAt           *time.Time     `json:"resumed_at,omitempty"`
	TotalPausedDuration float64        `json:"total_paused_duration"` // seconds
	BlockWinners        map[int]string `json:"block_winners,omitempty"`
	FlowProcessed       bool           `json:"flow_processed"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Key returns the document address of the tanda
func (t *Tanda) Key() TandaKey {
	return TandaKey{
		EventID:           t.EventID,
		LiveCompetitionID: t.LiveCompetitionID,
		TandaID:           t.ID,
	}
}

// Block returns a pointer to the block at blockIndex
func (t *Tanda) Block(blockIndex int) *Block {
	for i := range t.Blocks {
		if t.Blocks[i].BlockIndex == blockIndex {
			return &t.Blocks[i]
		}
	}
	return nil
}

// ParticipantIDs lists every participant across blocks in block order
func (t *Tanda) ParticipantIDs() []string {
	var ids []string
	for _, b := range t.Blocks {
		for _, p := range b.Participants {
			ids = append(ids, p.ParticipantID)
		}
	}
	return ids
}

// Clone returns a deep copy
func (t *Tanda) Clone() *Tanda {
	if t == nil {
		return nil
	}
	c := *t
	c.StartTime = cloneTime(t.StartTime)
	c.EndTime = cloneTime(t.EndTime)
	c.PausedAt = cloneTime(t.PausedAt)
	c.ResumedAt = cloneTime(t.ResumedAt)

	c.Blocks = make([]Block, len(t.Blocks))
	for i, b := range t.Blocks {
		nb := Block{
			BlockIndex:   b.BlockIndex,
			JudgeIDs:     append([]string(nil), b.JudgeIDs...),
			Participants: make([]TandaParticipant, len(b.Participants)),
		}
		for j, p := range b.Participants {
			np := TandaParticipant{
				ParticipantID: p.ParticipantID,
				Scores:        make([]ScoreRecord, len(p.Scores)),
				TotalScore:    cloneInt(p.TotalScore),
			}
			for k, s := range p.Scores {
				np.Scores[k] = ScoreRecord{
					JudgeID:   s.JudgeID,
					Score:     cloneInt(s.Score),
					Timestamp: cloneTime(s.Timestamp),
				}
			}
			nb.Participants[j] = np
		}
		c.Blocks[i] = nb
	}

	if t.BlockWinners != nil {
		c.BlockWinners = make(map[int]string, len(t.BlockWinners))
		for k, v := range t.BlockWinners {
			c.BlockWinners[k] = v
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

// SubmitScoreRequest is a judge's vote
type SubmitScoreRequest struct {
	BlockIndex    int    `json:"block_index"`
	ParticipantID string `json:"participant_id"`
	JudgeID       string `json:"judge_id"`
	Score         *int   `json:"score"`
}

// TandaView is a tanda snapshot plus the values observers derive from it
type TandaView struct {
	Tanda          *Tanda  `json:"tanda"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	VotingProgress float64 `json:"voting_progress"`
	AllJudgesVoted bool    `json:"all_judges_voted"`
}
