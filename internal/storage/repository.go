package storage

import (
	"context"
	"errors"
	"time"

	"github.com/terra-clan/tanda-engine/internal/models"
)

var (
	// ErrNotFound is returned by mutating operations when the target row is missing
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict is returned when TandaUpdate.ExpectStatus does not match
	ErrStatusConflict = errors.New("tanda status changed concurrently")
)

// TandaUpdate is a partial update of a tanda's status and timing fields.
// Stamp* fields are resolved to the persistence clock at write time.
type TandaUpdate struct {
	Status       *models.TandaStatus
	ExpectStatus *models.TandaStatus
	StampStart   bool
	StampEnd     bool
	StampPaused  bool
	StampResumed bool
	// FoldPause adds (now - paused_at) to total_paused_duration
	FoldPause bool
}

// MutateFunc edits the blocks of a locked tanda. now is the persistence clock.
// Returning an error aborts the write.
type MutateFunc func(t *models.Tanda, now time.Time) error

// Transition is the locked state handed to ApplyTransition
type Transition struct {
	Competition *models.LiveCompetition
	Tandas      []*models.Tanda
	Now         time.Time

	touched   map[string]bool
	NewTandas []*models.Tanda
}

// Touch marks a tanda as modified so ApplyTransition persists it
func (tr *Transition) Touch(t *models.Tanda) {
	if tr.touched == nil {
		tr.touched = make(map[string]bool)
	}
	tr.touched[t.ID] = true
}

// Touched reports whether the tanda was marked for persistence
func (tr *Transition) Touched(id string) bool {
	return tr.touched[id]
}

// TransitionFunc mutates a locked live competition aggregate
type TransitionFunc func(tr *Transition) error

// Repository defines the interface for competition persistence
type Repository interface {
	// Live competitions
	CreateLiveCompetition(ctx context.Context, lc *models.LiveCompetition, tandas []*models.Tanda) error
	GetLiveCompetition(ctx context.Context, eventID, id string) (*models.LiveCompetition, error)
	ListLiveCompetitions(ctx context.Context, eventID string) ([]*models.LiveCompetition, error)
	SetCurrentTandaIndex(ctx context.Context, eventID, id string, index int) error
	ApplyTransition(ctx context.Context, eventID, id string, fn TransitionFunc) error

	// Tandas
	GetTanda(ctx context.Context, key models.TandaKey) (*models.Tanda, error)
	GetTandaByIndex(ctx context.Context, eventID, liveCompetitionID string, index int) (*models.Tanda, error)
	ListTandas(ctx context.Context, eventID, liveCompetitionID string) ([]*models.Tanda, error)
	ListTandasByStatus(ctx context.Context, statuses ...models.TandaStatus) ([]*models.Tanda, error)
	ListUnprocessedFinished(ctx context.Context, limit int) ([]*models.Tanda, error)
	UpdateTanda(ctx context.Context, key models.TandaKey, upd TandaUpdate) (*models.Tanda, error)
	MutateTanda(ctx context.Context, key models.TandaKey, fn MutateFunc) (*models.Tanda, error)

	// API Clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
