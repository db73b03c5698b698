package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// MemoryRepository implements Repository in process memory. It backs
// STORAGE_BACKEND=memory and the package tests.
type MemoryRepository struct {
	mu           sync.Mutex
	competitions map[string]*models.LiveCompetition // eventID/id
	tandas       map[string]*models.Tanda           // TandaKey.String()
	clients      map[string]*models.ApiClient
	now          func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		competitions: make(map[string]*models.LiveCompetition),
		tandas:       make(map[string]*models.Tanda),
		clients:      make(map[string]*models.ApiClient),
		now:          time.Now,
	}
}

// SetClock replaces the clock used for server timestamps
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// AddClient registers an API client
func (r *MemoryRepository) AddClient(c *models.ApiClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.clients[c.ApiKey] = &cp
}

// PutTanda stores a tanda as-is, replacing any previous version
func (r *MemoryRepository) PutTanda(t *models.Tanda) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tandas[t.Key().String()] = t.Clone()
}

// PutLiveCompetition stores a live competition as-is
func (r *MemoryRepository) PutLiveCompetition(lc *models.LiveCompetition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.competitions[competitionKey(lc.EventID, lc.ID)] = lc.Clone()
}

func competitionKey(eventID, id string) string {
	return eventID + "/" + id
}

func (r *MemoryRepository) CreateLiveCompetition(ctx context.Context, lc *models.LiveCompetition, tandas []*models.Tanda) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	stored := lc.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.competitions[competitionKey(lc.EventID, lc.ID)] = stored

	for _, t := range tandas {
		c := t.Clone()
		c.CreatedAt = now
		c.UpdatedAt = now
		r.tandas[c.Key().String()] = c
	}
	return nil
}

func (r *MemoryRepository) GetLiveCompetition(ctx context.Context, eventID, id string) (*models.LiveCompetition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.competitions[competitionKey(eventID, id)].Clone(), nil
}

func (r *MemoryRepository) ListLiveCompetitions(ctx context.Context, eventID string) ([]*models.LiveCompetition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.LiveCompetition
	for _, lc := range r.competitions {
		if lc.EventID == eventID {
			result = append(result, lc.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *MemoryRepository) SetCurrentTandaIndex(ctx context.Context, eventID, id string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.competitions[competitionKey(eventID, id)]
	if !ok {
		return ErrNotFound
	}
	lc.CurrentTandaIndex = index
	lc.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) ApplyTransition(ctx context.Context, eventID, id string, fn TransitionFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.competitions[competitionKey(eventID, id)]
	if !ok {
		return ErrNotFound
	}

	tr := &Transition{
		Competition: lc.Clone(),
		Tandas:      r.listLocked(eventID, id),
		Now:         r.now(),
	}
	if err := fn(tr); err != nil {
		return err
	}

	tr.Competition.UpdatedAt = tr.Now
	r.competitions[competitionKey(eventID, id)] = tr.Competition.Clone()
	for _, t := range tr.Tandas {
		if tr.Touched(t.ID) {
			c := t.Clone()
			c.UpdatedAt = tr.Now
			r.tandas[c.Key().String()] = c
		}
	}
	for _, t := range tr.NewTandas {
		c := t.Clone()
		c.CreatedAt = tr.Now
		c.UpdatedAt = tr.Now
		r.tandas[c.Key().String()] = c
	}
	return nil
}

func (r *MemoryRepository) GetTanda(ctx context.Context, key models.TandaKey) (*models.Tanda, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tandas[key.String()].Clone(), nil
}

func (r *MemoryRepository) GetTandaByIndex(ctx context.Context, eventID, liveCompetitionID string, index int) (*models.Tanda, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tandas {
		if t.EventID == eventID && t.LiveCompetitionID == liveCompetitionID && t.Index == index {
			return t.Clone(), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListTandas(ctx context.Context, eventID, liveCompetitionID string) ([]*models.Tanda, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(eventID, liveCompetitionID), nil
}

func (r *MemoryRepository) listLocked(eventID, liveCompetitionID string) []*models.Tanda {
	var result []*models.Tanda
	for _, t := range r.tandas {
		if t.EventID == eventID && t.LiveCompetitionID == liveCompetitionID {
			result = append(result, t.Clone())
		}
	}
	sortByIndex(result)
	return result
}

func (r *MemoryRepository) ListTandasByStatus(ctx context.Context, statuses ...models.TandaStatus) ([]*models.Tanda, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.Tanda
	for _, t := range r.tandas {
		for _, s := range statuses {
			if t.Status == s {
				result = append(result, t.Clone())
				break
			}
		}
	}
	sortByIndex(result)
	return result, nil
}

func (r *MemoryRepository) ListUnprocessedFinished(ctx context.Context, limit int) ([]*models.Tanda, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.Tanda
	for _, t := range r.tandas {
		if t.Status == models.TandaFinished && !t.FlowProcessed {
			result = append(result, t.Clone())
		}
	}
	sortByIndex(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) UpdateTanda(ctx context.Context, key models.TandaKey, upd TandaUpdate) (*models.Tanda, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tandas[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.ExpectStatus != nil && t.Status != *upd.ExpectStatus {
		return nil, ErrStatusConflict
	}

	now := r.now()
	if upd.FoldPause && t.PausedAt != nil {
		if d := now.Sub(*t.PausedAt).Seconds(); d > 0 {
			t.TotalPausedDuration += d
		}
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.StampStart {
		t.StartTime = timePtr(now)
	}
	if upd.StampEnd {
		t.EndTime = timePtr(now)
	}
	if upd.StampPaused {
		t.PausedAt = timePtr(now)
	}
	if upd.StampResumed {
		t.ResumedAt = timePtr(now)
	}
	t.UpdatedAt = now

	return t.Clone(), nil
}

func (r *MemoryRepository) MutateTanda(ctx context.Context, key models.TandaKey, fn MutateFunc) (*models.Tanda, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tandas[key.String()]
	if !ok {
		return nil, ErrNotFound
	}

	working := t.Clone()
	now := r.now()
	if err := fn(working, now); err != nil {
		return nil, err
	}

	// Only blocks are owned by MutateTanda
	t.Blocks = working.Clone().Blocks
	t.UpdatedAt = now
	return t.Clone(), nil
}

func (r *MemoryRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[apiKey]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[apiKey]; ok {
		c.LastUsedAt = timePtr(r.now())
	}
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

func sortByIndex(tandas []*models.Tanda) {
	sort.Slice(tandas, func(i, j int) bool { return tandas[i].Index < tandas[j].Index })
}

func timePtr(t time.Time) *time.Time {
	return &t
}
