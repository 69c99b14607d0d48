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

	"github.com/terra-clan/assessment-engine/internal/models"
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

	// Set pool configuration
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 10
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 2
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

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the connection pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
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

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// --- Definitions ---

const definitionColumns = `id, code, name, version, description, type, questions, status, yaml_config, created_at, updated_at, activated_at`

// CreateDefinition inserts a new questionnaire definition
func (r *PostgresRepository) CreateDefinition(ctx context.Context, def *models.QuestionnaireDefinition) error {
	questionsJSON, err := json.Marshal(def.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	query := `
		INSERT INTO questionnaire_definitions (` + definitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.pool.Exec(ctx, query,
		def.ID,
		def.Code,
		def.Name,
		def.Version,
		nullString(def.Description),
		def.Type,
		questionsJSON,
		string(def.Status),
		def.YAMLConfig,
		def.CreatedAt,
		def.UpdatedAt,
		nullTime(def.ActivatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create definition: %w", err)
	}

	return nil
}

// UpdateDefinition overwrites a questionnaire definition
func (r *PostgresRepository) UpdateDefinition(ctx context.Context, def *models.QuestionnaireDefinition) error {
	questionsJSON, err := json.Marshal(def.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	query := `
		UPDATE questionnaire_definitions
		SET code = $2, name = $3, version = $4, description = $5, type = $6, questions = $7,
			status = $8, yaml_config = $9, updated_at = $10, activated_at = $11
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		def.ID,
		def.Code,
		def.Name,
		def.Version,
		nullString(def.Description),
		def.Type,
		questionsJSON,
		string(def.Status),
		def.YAMLConfig,
		def.UpdatedAt,
		nullTime(def.ActivatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("definition %s not found", def.ID)
	}

	return nil
}

// GetDefinition retrieves a definition by ID
func (r *PostgresRepository) GetDefinition(ctx context.Context, id string) (*models.QuestionnaireDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM questionnaire_definitions WHERE id = $1`
	return r.getDefinition(ctx, query, id)
}

// GetDefinitionByCode retrieves a definition by its unique code
func (r *PostgresRepository) GetDefinitionByCode(ctx context.Context, code string) (*models.QuestionnaireDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM questionnaire_definitions WHERE code = $1`
	return r.getDefinition(ctx, query, code)
}

func (r *PostgresRepository) getDefinition(ctx context.Context, query string, arg string) (*models.QuestionnaireDefinition, error) {
	def, err := scanDefinition(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// ListDefinitions lists definitions with optional type and status filters
func (r *PostgresRepository) ListDefinitions(ctx context.Context, filters models.DefinitionFilters) ([]*models.QuestionnaireDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM questionnaire_definitions WHERE 1=1`
	args := make([]interface{}, 0)
	argNum := 1

	if filters.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, filters.Type)
		argNum++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filters.Status))
		argNum++
	}

	query += " ORDER BY code ASC"
	query, args = paginate(query, args, argNum, filters.Limit, filters.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*models.QuestionnaireDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return defs, nil
}

func scanDefinition(row rowScanner) (*models.QuestionnaireDefinition, error) {
	var def models.QuestionnaireDefinition
	var description sql.NullString
	var status string
	var questionsJSON []byte
	var activatedAt sql.NullTime

	err := row.Scan(
		&def.ID,
		&def.Code,
		&def.Name,
		&def.Version,
		&description,
		&def.Type,
		&questionsJSON,
		&status,
		&def.YAMLConfig,
		&def.CreatedAt,
		&def.UpdatedAt,
		&activatedAt,
	)
	if err != nil {
		return nil, err
	}

	def.Description = description.String
	if activatedAt.Valid {
		def.ActivatedAt = &activatedAt.Time
	}
	def.Status = models.DefinitionStatus(status)

	if err := json.Unmarshal(questionsJSON, &def.Questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions: %w", err)
	}

	return &def, nil
}

// --- Sessions ---

const sessionColumns = `id, subject_id, status, current_step_index, step_responses, step_scores, final_conclusion, started_at, completed_at, updated_at`

// CreateSession inserts a new assessment session
func (r *PostgresRepository) CreateSession(ctx context.Context, s *models.AssessmentSession) error {
	args, err := sessionArgs(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO assessment_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*models.AssessmentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM assessment_sessions WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// UpdateSession locks the session row, applies fn and writes the session
// together with any result fn produced, all in one transaction.
func (r *PostgresRepository) UpdateSession(ctx context.Context, id string, fn SessionMutation) (*models.AssessmentSession, error) {
	var updated *models.AssessmentSession

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + sessionColumns + ` FROM assessment_sessions WHERE id = $1 FOR UPDATE`

		s, err := scanSession(tx.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}

		result, err := fn(s)
		if err != nil {
			return err
		}

		args, err := sessionArgs(s)
		if err != nil {
			return err
		}
		update := `
			UPDATE assessment_sessions
			SET subject_id = $2, status = $3, current_step_index = $4, step_responses = $5, step_scores = $6,
				final_conclusion = $7, started_at = $8, completed_at = $9, updated_at = $10
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, update, args...); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		if result != nil {
			if err := insertResult(ctx, tx, result); err != nil {
				return err
			}
		}

		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ListStaleSessions returns in-progress sessions untouched since the given time
func (r *PostgresRepository) ListStaleSessions(ctx context.Context, inactiveSince time.Time, limit int) ([]*models.AssessmentSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM assessment_sessions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`
	args := []interface{}{string(models.SessionInProgress), inactiveSince}
	query, args = paginate(query, args, 3, limit, 0)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.AssessmentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func sessionArgs(s *models.AssessmentSession) ([]interface{}, error) {
	responsesJSON, err := json.Marshal(s.StepResponses)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step responses: %w", err)
	}

	scoresJSON, err := json.Marshal(s.StepScores)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step scores: %w", err)
	}

	var conclusionJSON []byte
	if s.FinalConclusion != nil {
		conclusionJSON, err = json.Marshal(s.FinalConclusion)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conclusion: %w", err)
		}
	}

	return []interface{}{
		s.ID,
		s.SubjectID,
		string(s.Status),
		s.CurrentStepIndex,
		responsesJSON,
		scoresJSON,
		conclusionJSON,
		s.StartedAt,
		nullTime(s.CompletedAt),
		s.UpdatedAt,
	}, nil
}

func scanSession(row rowScanner) (*models.AssessmentSession, error) {
	var s models.AssessmentSession
	var status string
	var responsesJSON, scoresJSON, conclusionJSON []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&s.ID,
		&s.SubjectID,
		&status,
		&s.CurrentStepIndex,
		&responsesJSON,
		&scoresJSON,
		&conclusionJSON,
		&s.StartedAt,
		&completedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.SessionStatus(status)

	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}

	if err := json.Unmarshal(responsesJSON, &s.StepResponses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step responses: %w", err)
	}

	if err := json.Unmarshal(scoresJSON, &s.StepScores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step scores: %w", err)
	}

	if conclusionJSON != nil {
		s.FinalConclusion = &models.Conclusion{}
		if err := json.Unmarshal(conclusionJSON, s.FinalConclusion); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conclusion: %w", err)
		}
	}

	return &s, nil
}

// --- Results ---

const resultColumns = `id, subject_id, definition_id, questionnaire_type, selected_options, duration_ms, started_at, completed_at, analysis, conclusion_summary, session_id, created_at`

// CreateResult inserts a standalone scale result
func (r *PostgresRepository) CreateResult(ctx context.Context, res *models.ScaleResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertResult(ctx, tx, res); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertResult(ctx context.Context, tx pgx.Tx, res *models.ScaleResult) error {
	selectedJSON, err := json.Marshal(res.SelectedOptions)
	if err != nil {
		return fmt.Errorf("failed to marshal selected options: %w", err)
	}

	analysisJSON, err := json.Marshal(res.Analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	var sessionID sql.NullString
	if res.SessionID != nil {
		sessionID = nullString(*res.SessionID)
	}

	query := `
		INSERT INTO scale_results (` + resultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = tx.Exec(ctx, query,
		res.ID,
		res.SubjectID,
		res.DefinitionID,
		res.QuestionnaireType,
		selectedJSON,
		res.DurationMs,
		res.StartedAt,
		res.CompletedAt,
		analysisJSON,
		res.ConclusionSummary,
		sessionID,
		res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create result: %w", err)
	}

	return nil
}

// GetResult retrieves a scale result by ID
func (r *PostgresRepository) GetResult(ctx context.Context, id string) (*models.ScaleResult, error) {
	query := `SELECT ` + resultColumns + ` FROM scale_results WHERE id = $1`

	res, err := scanResult(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

// ListResults lists results newest first
func (r *PostgresRepository) ListResults(ctx context.Context, filters models.ResultFilters) ([]*models.ScaleResult, error) {
	query := `SELECT ` + resultColumns + ` FROM scale_results WHERE 1=1`
	args := make([]interface{}, 0)
	argNum := 1

	if filters.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", argNum)
		args = append(args, filters.SubjectID)
		argNum++
	}

	if filters.QuestionnaireType != "" {
		query += fmt.Sprintf(" AND questionnaire_type = $%d", argNum)
		args = append(args, filters.QuestionnaireType)
		argNum++
	}

	query += " ORDER BY created_at DESC, id DESC"
	query, args = paginate(query, args, argNum, filters.Limit, filters.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*models.ScaleResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

func scanResult(row rowScanner) (*models.ScaleResult, error) {
	var res models.ScaleResult
	var selectedJSON, analysisJSON []byte
	var sessionID sql.NullString

	err := row.Scan(
		&res.ID,
		&res.SubjectID,
		&res.DefinitionID,
		&res.QuestionnaireType,
		&selectedJSON,
		&res.DurationMs,
		&res.StartedAt,
		&res.CompletedAt,
		&analysisJSON,
		&res.ConclusionSummary,
		&sessionID,
		&res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		res.SessionID = &sessionID.String
	}

	if err := json.Unmarshal(selectedJSON, &res.SelectedOptions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal selected options: %w", err)
	}

	if err := json.Unmarshal(analysisJSON, &res.Analysis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}

	return &res, nil
}

// --- Profiles ---

// GetProfile retrieves a subject profile
func (r *PostgresRepository) GetProfile(ctx context.Context, subjectID string) (*models.SubjectProfile, error) {
	query := `
		SELECT subject_id, education, age, gender, updated_at
		FROM subject_profiles
		WHERE subject_id = $1
	`

	var p models.SubjectProfile
	var education, gender sql.NullString
	var age sql.NullInt32

	err := r.pool.QueryRow(ctx, query, subjectID).Scan(
		&p.SubjectID,
		&education,
		&age,
		&gender,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	p.Education = education.String
	p.Gender = gender.String
	p.Age = int(age.Int32)

	return &p, nil
}

// UpsertProfile creates or replaces a subject profile
func (r *PostgresRepository) UpsertProfile(ctx context.Context, p *models.SubjectProfile) error {
	query := `
		INSERT INTO subject_profiles (subject_id, education, age, gender, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) DO UPDATE
		SET education = EXCLUDED.education, age = EXCLUDED.age, gender = EXCLUDED.gender, updated_at = EXCLUDED.updated_at
	`

	var age sql.NullInt32
	if p.Age > 0 {
		age = sql.NullInt32{Int32: int32(p.Age), Valid: true}
	}

	_, err := r.pool.Exec(ctx, query,
		p.SubjectID,
		nullString(p.Education),
		age,
		nullString(p.Gender),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	return nil
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
			return nil, nil // Not found
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
	query := `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`

	if _, err := r.pool.Exec(ctx, query, apiKey); err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}

	return nil
}

// Helper functions

func paginate(query string, args []interface{}, argNum, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, limit)
		argNum++
	}

	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, offset)
	}

	return query, args
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
