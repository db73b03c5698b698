package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Live competitions ---

const competitionColumns = `id, event_id, level, category, gender, current_tanda_index, completed_tandas,
	total_tandas, current_phase, is_finished, real_end_time, settings, created_at, updated_at`

// CreateLiveCompetition inserts a live competition and its initial tandas in one transaction
func (r *PostgresRepository) CreateLiveCompetition(ctx context.Context, lc *models.LiveCompetition, tandas []*models.Tanda) error {
	settingsJSON, err := json.Marshal(lc.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO live_competitions (id, event_id, level, category, gender, current_tanda_index,
			completed_tandas, total_tandas, current_phase, is_finished, real_end_time, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.Exec(ctx, query,
		lc.ID,
		lc.EventID,
		lc.Level,
		lc.Category,
		lc.Gender,
		lc.CurrentTandaIndex,
		lc.CompletedTandas,
		lc.TotalTandas,
		string(lc.CurrentPhase),
		lc.IsFinished,
		nullTime(lc.RealEndTime),
		settingsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create live competition: %w", err)
	}

	for _, t := range tandas {
		if err := insertTanda(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit live competition: %w", err)
	}
	return nil
}

// GetLiveCompetition retrieves a live competition, nil if missing
func (r *PostgresRepository) GetLiveCompetition(ctx context.Context, eventID, id string) (*models.LiveCompetition, error) {
	query := `SELECT ` + competitionColumns + ` FROM live_competitions WHERE event_id = $1 AND id = $2`

	lc, err := scanCompetition(r.pool.QueryRow(ctx, query, eventID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get live competition: %w", err)
	}
	return lc, nil
}

// ListLiveCompetitions lists the live competitions of an event
func (r *PostgresRepository) ListLiveCompetitions(ctx context.Context, eventID string) ([]*models.LiveCompetition, error) {
	query := `SELECT ` + competitionColumns + ` FROM live_competitions WHERE event_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list live competitions: %w", err)
	}
	defer rows.Close()

	var result []*models.LiveCompetition
	for rows.Next() {
		lc, err := scanCompetition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan live competition: %w", err)
		}
		result = append(result, lc)
	}
	return result, rows.Err()
}

// SetCurrentTandaIndex records which tanda is on the floor
func (r *PostgresRepository) SetCurrentTandaIndex(ctx context.Context, eventID, id string, index int) error {
	query := `UPDATE live_competitions SET current_tanda_index = $3, updated_at = NOW() WHERE event_id = $1 AND id = $2`

	tag, err := r.pool.Exec(ctx, query, eventID, id, index)
	if err != nil {
		return fmt.Errorf("failed to set current tanda index: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyTransition locks the live competition and all its tandas, hands them to
// fn and persists the competition, the touched tandas and any new tandas.
func (r *PostgresRepository) ApplyTransition(ctx context.Context, eventID, id string, fn TransitionFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var now time.Time
	query := `SELECT ` + competitionColumns + `, NOW() FROM live_competitions WHERE event_id = $1 AND id = $2 FOR UPDATE`
	lc, err := scanCompetition(tx.QueryRow(ctx, query, eventID, id), &now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock live competition: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT `+tandaColumns+` FROM tandas
		WHERE event_id = $1 AND live_competition_id = $2 ORDER BY idx FOR UPDATE`, eventID, id)
	if err != nil {
		return fmt.Errorf("failed to lock tandas: %w", err)
	}
	var tandas []*models.Tanda
	for rows.Next() {
		t, err := scanTanda(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan tanda: %w", err)
		}
		tandas = append(tandas, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read tandas: %w", err)
	}

	tr := &Transition{Competition: lc, Tandas: tandas, Now: now}
	if err := fn(tr); err != nil {
		return err
	}

	c := tr.Competition
	_, err = tx.Exec(ctx, `
		UPDATE live_competitions
		SET current_tanda_index = $3, completed_tandas = $4, total_tandas = $5, current_phase = $6,
			is_finished = $7, real_end_time = $8, updated_at = NOW()
		WHERE event_id = $1 AND id = $2
	`, eventID, id, c.CurrentTandaIndex, c.CompletedTandas, c.TotalTandas, string(c.CurrentPhase), c.IsFinished, nullTime(c.RealEndTime))
	if err != nil {
		return fmt.Errorf("failed to update live competition: %w", err)
	}

	for _, t := range tr.Tandas {
		if !tr.Touched(t.ID) {
			continue
		}
		blocksJSON, winnersJSON, err := marshalTandaDocs(t)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE tandas SET blocks = $4, block_winners = $5, flow_processed = $6, updated_at = NOW()
			WHERE event_id = $1 AND live_competition_id = $2 AND id = $3
		`, t.EventID, t.LiveCompetitionID, t.ID, blocksJSON, winnersJSON, t.FlowProcessed)
		if err != nil {
			return fmt.Errorf("failed to update tanda %s: %w", t.ID, err)
		}
	}

	for _, t := range tr.NewTandas {
		if err := insertTanda(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

func scanCompetition(row rowScanner, extra ...any) (*models.LiveCompetition, error) {
	var lc models.LiveCompetition
	var phase string
	var realEnd sql.NullTime
	var settingsJSON []byte

	dest := []any{
		&lc.ID,
		&lc.EventID,
		&lc.Level,
		&lc.Category,
		&lc.Gender,
		&lc.CurrentTandaIndex,
		&lc.CompletedTandas,
		&lc.TotalTandas,
		&phase,
		&lc.IsFinished,
		&realEnd,
		&settingsJSON,
		&lc.CreatedAt,
		&lc.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	lc.CurrentPhase = models.Phase(phase)
	if realEnd.Valid {
		lc.RealEndTime = &realEnd.Time
	}
	if settingsJSON != nil {
		if err := json.Unmarshal(settingsJSON, &lc.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return &lc, nil
}

// --- Tandas ---

const tandaColumns = `id, event_id, live_competition_id, idx, phase, blocks, status, start_time, end_time,
	paused_at, resumed_at, total_paused_duration, block_winners, flow_processed, created_at, updated_at`

func insertTanda(ctx context.Context, tx pgx.Tx, t *models.Tanda) error {
	blocksJSON, winnersJSON, err := marshalTandaDocs(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tandas (id, event_id, live_competition_id, idx, phase, blocks, status, start_time, end_time,
			paused_at, resumed_at, total_paused_duration, block_winners, flow_processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = tx.Exec(ctx, query,
		t.ID,
		t.EventID,
		t.LiveCompetitionID,
		t.Index,
		string(t.Phase),
		blocksJSON,
		string(t.Status),
		nullTime(t.StartTime),
		nullTime(t.EndTime),
		nullTime(t.PausedAt),
		nullTime(t.ResumedAt),
		t.TotalPausedDuration,
		winnersJSON,
		t.FlowProcessed,
	)
	if err != nil {
		return fmt.Errorf("failed to create tanda %s: %w", t.ID, err)
	}
	return nil
}

func marshalTandaDocs(t *models.Tanda) ([]byte, []byte, error) {
	blocksJSON, err := json.Marshal(t.Blocks)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal blocks: %w", err)
	}

	var winnersJSON []byte
	if t.BlockWinners != nil {
		winnersJSON, err = json.Marshal(t.BlockWinners)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal block winners: %w", err)
		}
	}
	return blocksJSON, winnersJSON, nil
}

// GetTanda retrieves a tanda, nil if missing
func (r *PostgresRepository) GetTanda(ctx context.Context, key models.TandaKey) (*models.Tanda, error) {
	query := `SELECT ` + tandaColumns + ` FROM tandas WHERE event_id = $1 AND live_competition_id = $2 AND id = $3`

	t, err := scanTanda(r.pool.QueryRow(ctx, query, key.EventID, key.LiveCompetitionID, key.TandaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tanda: %w", err)
	}
	return t, nil
}

// GetTandaByIndex retrieves a tanda by its position in the live competition, nil if missing
func (r *PostgresRepository) GetTandaByIndex(ctx context.Context, eventID, liveCompetitionID string, index int) (*models.Tanda, error) {
	query := `SELECT ` + tandaColumns + ` FROM tandas WHERE event_id = $1 AND live_competition_id = $2 AND idx = $3`

	t, err := scanTanda(r.pool.QueryRow(ctx, query, eventID, liveCompetitionID, index))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tanda by index: %w", err)
	}
	return t, nil
}

// ListTandas lists the tandas of a live competition in order
func (r *PostgresRepository) ListTandas(ctx context.Context, eventID, liveCompetitionID string) ([]*models.Tanda, error) {
	query := `SELECT ` + tandaColumns + ` FROM tandas WHERE event_id = $1 AND live_competition_id = $2 ORDER BY idx`
	return r.queryTandas(ctx, query, eventID, liveCompetitionID)
}

// ListTandasByStatus lists tandas in any of the given statuses
func (r *PostgresRepository) ListTandasByStatus(ctx context.Context, statuses ...models.TandaStatus) ([]*models.Tanda, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	query := `SELECT ` + tandaColumns + ` FROM tandas WHERE status = ANY($1) ORDER BY event_id, live_competition_id, idx`
	return r.queryTandas(ctx, query, values)
}

// ListUnprocessedFinished lists finished tandas the flow service has not consumed yet
func (r *PostgresRepository) ListUnprocessedFinished(ctx context.Context, limit int) ([]*models.Tanda, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + tandaColumns + ` FROM tandas
		WHERE status = 'finished' AND flow_processed = FALSE
		ORDER BY end_time NULLS FIRST
		LIMIT $1`
	return r.queryTandas(ctx, query, limit)
}

func (r *PostgresRepository) queryTandas(ctx context.Context, query string, args ...any) ([]*models.Tanda, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tandas: %w", err)
	}
	defer rows.Close()

	var result []*models.Tanda
	for rows.Next() {
		t, err := scanTanda(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tanda: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// UpdateTanda applies a partial status/timing update. Timestamps come from the
// database clock, and the pause fold reads paused_at before it is overwritten.
func (r *PostgresRepository) UpdateTanda(ctx context.Context, key models.TandaKey, upd TandaUpdate) (*models.Tanda, error) {
	var status, expect *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	if upd.ExpectStatus != nil {
		s := string(*upd.ExpectStatus)
		expect = &s
	}

	query := `
		UPDATE tandas SET
			total_paused_duration = CASE
				WHEN $4 AND paused_at IS NOT NULL
				THEN total_paused_duration + GREATEST(EXTRACT(EPOCH FROM (NOW() - paused_at))::double precision, 0)
				ELSE total_paused_duration END,
			status = COALESCE($5::text, status),
			start_time = CASE WHEN $6 THEN NOW() ELSE start_time END,
			end_time = CASE WHEN $7 THEN NOW() ELSE end_time END,
			paused_at = CASE WHEN $8 THEN NOW() ELSE paused_at END,
			resumed_at = CASE WHEN $9 THEN NOW() ELSE resumed_at END,
			updated_at = NOW()
		WHERE event_id = $1 AND live_competition_id = $2 AND id = $3
			AND ($10::text IS NULL OR status = $10::text)
		RETURNING ` + tandaColumns

	t, err := scanTanda(r.pool.QueryRow(ctx, query,
		key.EventID,
		key.LiveCompetitionID,
		key.TandaID,
		upd.FoldPause,
		status,
		upd.StampStart,
		upd.StampEnd,
		upd.StampPaused,
		upd.StampResumed,
		expect,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update tanda: %w", err)
	}

	existing, err := r.GetTanda(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	return nil, ErrStatusConflict
}

// MutateTanda runs fn against a row-locked tanda and writes back its blocks
func (r *PostgresRepository) MutateTanda(ctx context.Context, key models.TandaKey, fn MutateFunc) (*models.Tanda, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var now time.Time
	query := `SELECT ` + tandaColumns + `, NOW() FROM tandas
		WHERE event_id = $1 AND live_competition_id = $2 AND id = $3 FOR UPDATE`
	t, err := scanTanda(tx.QueryRow(ctx, query, key.EventID, key.LiveCompetitionID, key.TandaID), &now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock tanda: %w", err)
	}

	if err := fn(t, now); err != nil {
		return nil, err
	}

	blocksJSON, err := json.Marshal(t.Blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blocks: %w", err)
	}

	updated, err := scanTanda(tx.QueryRow(ctx, `
		UPDATE tandas SET blocks = $4, updated_at = NOW()
		WHERE event_id = $1 AND live_competition_id = $2 AND id = $3
		RETURNING `+tandaColumns, key.EventID, key.LiveCompetitionID, key.TandaID, blocksJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to write tanda blocks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit tanda blocks: %w", err)
	}
	return updated, nil
}

func scanTanda(row rowScanner, extra ...any) (*models.Tanda, error) {
	var t models.Tanda
	var phase, status string
	var startTime, endTime, pausedAt, resumedAt sql.NullTime
	var blocksJSON, winnersJSON []byte

	dest := []any{
		&t.ID,
		&t.EventID,
		&t.LiveCompetitionID,
		&t.Index,
		&phase,
		&blocksJSON,
		&status,
		&startTime,
		&endTime,
		&pausedAt,
		&resumedAt,
		&t.TotalPausedDuration,
		&winnersJSON,
		&t.FlowProcessed,
		&t.CreatedAt,
		&t.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	t.Phase = models.Phase(phase)
	t.Status = models.TandaStatus(status)
	if startTime.Valid {
		t.StartTime = &startTime.Time
	}
	if endTime.Valid {
		t.EndTime = &endTime.Time
	}
	if pausedAt.Valid {
		t.PausedAt = &pausedAt.Time
	}
	if resumedAt.Valid {
		t.ResumedAt = &resumedAt.Time
	}

	if err := json.Unmarshal(blocksJSON, &t.Blocks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blocks: %w", err)
	}
	if winnersJSON != nil {
		if err := json.Unmarshal(winnersJSON, &t.BlockWinners); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block winners: %w", err)
		}
	}
	return &t, nil
}

// --- API Clients ---

// GetClientByApiKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}
	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &client.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
