// Package flow drives adaptive assessment sessions: it scores each
// submission, records it, decides what the subject answers next and
// synthesizes the conclusion once nothing is pending.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/assessment-engine/internal/conclusion"
	"github.com/terra-clan/assessment-engine/internal/definitions"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/scoring"
	"github.com/terra-clan/assessment-engine/internal/services"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

// timeNow is swapped in tests
var timeNow = time.Now

// Common errors
var (
	ErrInvalidRequest            = errors.New("invalid assessment request")
	ErrSessionNotFound           = errors.New("assessment session not found")
	ErrSessionNotOwned           = errors.New("assessment session belongs to another subject")
	ErrSessionAlreadyTerminal    = errors.New("assessment session is already finished")
	ErrDuplicateSubmission       = errors.New("questionnaire already answered in this session")
	ErrQuestionnaireNotRequired  = errors.New("questionnaire is not required at this step")
	ErrNoApplicableQuestionnaire = errors.New("no active questionnaire definition available")
	ErrResultNotFound            = errors.New("scale result not found")
)

// minSecondsPerQuestion flags standalone submissions answered implausibly fast
const minSecondsPerQuestion = 2

const defaultLockWait = 5 * time.Second

// Engine defines the assessment operations exposed to the API layer
type Engine interface {
	Start(ctx context.Context, subjectID string) (*StartResult, error)
	SubmitAnswer(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Abandon(ctx context.Context, sessionID, subjectID string) (*models.AssessmentSession, error)
	GetSessionResult(ctx context.Context, sessionID, subjectID string) (*SessionResult, error)
	ScoreStandalone(ctx context.Context, req StandaloneRequest) (*models.ScaleResult, error)
	ListResults(ctx context.Context, subjectID string, limit, offset int) ([]*models.ScaleResult, error)
	GetResult(ctx context.Context, id, subjectID string) (*models.ScaleResult, error)
	GetStale(ctx context.Context, inactiveSince time.Time, limit int) ([]*models.AssessmentSession, error)
	Expire(ctx context.Context, sessionID string, inactiveSince time.Time) (bool, error)
}

// Store is the persistence the orchestrator needs
type Store interface {
	CreateSession(ctx context.Context, s *models.AssessmentSession) error
	GetSession(ctx context.Context, id string) (*models.AssessmentSession, error)
	UpdateSession(ctx context.Context, id string, fn storage.SessionMutation) (*models.AssessmentSession, error)
	ListStaleSessions(ctx context.Context, inactiveSince time.Time, limit int) ([]*models.AssessmentSession, error)
	CreateResult(ctx context.Context, r *models.ScaleResult) error
	GetResult(ctx context.Context, id string) (*models.ScaleResult, error)
	ListResults(ctx context.Context, filters models.ResultFilters) ([]*models.ScaleResult, error)
}

// DefinitionSource resolves questionnaire definitions
type DefinitionSource interface {
	Get(ctx context.Context, id string) (*models.QuestionnaireDefinition, error)
	LatestActive(ctx context.Context, questionnaireType string) (*models.QuestionnaireDefinition, error)
}

// ProfileProvider returns subject demographics, or nil, nil when unknown
type ProfileProvider interface {
	GetProfile(ctx context.Context, subjectID string) (*models.SubjectProfile, error)
}

// StartResult is returned when a session is opened
type StartResult struct {
	Session           *models.AssessmentSession       `json:"session"`
	NextQuestionnaire *models.QuestionnaireDefinition `json:"next_questionnaire"`
	TotalStagesHint   int                             `json:"total_stages_hint"`
}

// SubmitRequest carries one questionnaire submission within a session.
// DefinitionID is the NextQuestionnaire the subject answered; without it
// the latest active definition of the type is used.
type SubmitRequest struct {
	SessionID         string    `json:"session_id"`
	SubjectID         string    `json:"subject_id"`
	QuestionnaireType string    `json:"questionnaire_type"`
	DefinitionID      string    `json:"definition_id,omitempty"`
	SelectedOptions   []int     `json:"selected_options"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
}

// SubmitResult tells the caller what happened and what comes next.
// Exactly one of NextQuestionnaire and Conclusion is set.
type SubmitResult struct {
	Session           *models.AssessmentSession       `json:"session"`
	Result            *models.ScaleResult             `json:"result"`
	Analysis          models.AnalysisResult           `json:"analysis"`
	PendingTypes      []string                        `json:"pending_types"`
	NextQuestionnaire *models.QuestionnaireDefinition `json:"next_questionnaire,omitempty"`
	Conclusion        *models.Conclusion              `json:"conclusion,omitempty"`
	Completed         bool                            `json:"completed"`
}

// StandaloneRequest scores one questionnaire outside any session.
// DefinitionID is optional; without it the latest active definition of
// QuestionnaireType is used.
type StandaloneRequest struct {
	SubjectID         string    `json:"subject_id"`
	QuestionnaireType string    `json:"questionnaire_type"`
	DefinitionID      string    `json:"definition_id,omitempty"`
	SelectedOptions   []int     `json:"selected_options"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
}

// StepSummary is the compact view of one recorded step
type StepSummary struct {
	QuestionnaireType string    `json:"questionnaire_type"`
	DefinitionID      string    `json:"definition_id"`
	Score             float64   `json:"score"`
	Level             string    `json:"level"`
	IsAbnormal        bool      `json:"is_abnormal"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// SessionResult is the read model of a session
type SessionResult struct {
	SessionID    string               `json:"session_id"`
	SubjectID    string               `json:"subject_id"`
	Status       models.SessionStatus `json:"status"`
	Steps        []StepSummary        `json:"steps"`
	PendingTypes []string             `json:"pending_types"`
	Conclusion   *models.Conclusion   `json:"conclusion,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
}

// Orchestrator implements Engine
type Orchestrator struct {
	store       Store
	definitions DefinitionSource
	profiles    ProfileProvider
	registry    *scoring.Registry
	locker      services.SessionLocker
	lockWait    time.Duration
}

// NewOrchestrator creates a new Orchestrator. A nil locker falls back to
// an in-process lock, which is only safe with a single instance.
func NewOrchestrator(
	store Store,
	defs DefinitionSource,
	profiles ProfileProvider,
	registry *scoring.Registry,
	locker services.SessionLocker,
) *Orchestrator {
	if locker == nil {
		locker = services.NewLocalLocker()
	}
	return &Orchestrator{
		store:       store,
		definitions: defs,
		profiles:    profiles,
		registry:    registry,
		locker:      locker,
		lockWait:    defaultLockWait,
	}
}

// Start opens a session whose first questionnaire is the screening
func (o *Orchestrator) Start(ctx context.Context, subjectID string) (*StartResult, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrInvalidRequest)
	}

	first, err := o.activeDefinition(ctx, scoring.TypeScreening)
	if err != nil {
		return nil, err
	}

	now := timeNow().UTC()
	s := &models.AssessmentSession{
		ID:            uuid.New().String(),
		SubjectID:     subjectID,
		Status:        models.SessionInProgress,
		StepResponses: []models.StepResponse{},
		StepScores:    []models.StepScore{},
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("assessment session started", "session_id", s.ID, "subject_id", subjectID, "first", first.Code)

	return &StartResult{
		Session:           s,
		NextQuestionnaire: first,
		TotalStagesHint:   TotalStagesHint,
	}, nil
}

// SubmitAnswer scores a submission and records it in the session. The
// session is left untouched on any error.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	qType := normalizeType(req.QuestionnaireType)
	if req.SessionID == "" || req.SubjectID == "" || qType == "" {
		return nil, fmt.Errorf("%w: session_id, subject_id and questionnaire_type are required", ErrInvalidRequest)
	}

	session, err := o.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if err := checkSubmission(session, req.SubjectID, qType); err != nil {
		return nil, err
	}

	def, err := o.presentedDefinition(ctx, req.DefinitionID, qType)
	if err != nil {
		return nil, err
	}
	profile, err := o.profiles.GetProfile(ctx, req.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subject profile: %w", err)
	}

	analysis, err := o.registry.Score(def, req.SelectedOptions, profile)
	if err != nil {
		return nil, err
	}

	// Definitions that may be needed next, resolved outside the transaction.
	projected := session.Clone()
	projected.AppendStep(def.ID, qType, req.SelectedOptions, analysis, timeNow().UTC())
	upcoming := make(map[string]*models.QuestionnaireDefinition)
	for _, t := range PendingTypes(projected.StepResponses) {
		next, err := o.activeDefinition(ctx, t)
		if err != nil {
			return nil, err
		}
		upcoming[t] = next
	}

	unlock, err := o.lock(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	startedAt, completedAt, durationMs := timing(req.StartedAt, req.CompletedAt)

	var (
		result  *models.ScaleResult
		pending []string
	)
	updated, err := o.store.UpdateSession(ctx, req.SessionID, func(s *models.AssessmentSession) (*models.ScaleResult, error) {
		if err := checkSubmission(s, req.SubjectID, qType); err != nil {
			return nil, err
		}

		now := timeNow().UTC()
		s.AppendStep(def.ID, qType, req.SelectedOptions, analysis, now)

		pending = PendingTypes(s.StepResponses)
		if len(pending) == 0 {
			c := conclusion.Synthesize(s.Analyses(), profile.EducationLabel())
			s.FinalConclusion = &c
			s.Status = models.SessionCompleted
			s.CompletedAt = &now
		} else if upcoming[pending[0]] == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoApplicableQuestionnaire, pending[0])
		}

		sessionID := s.ID
		result = &models.ScaleResult{
			ID:                uuid.New().String(),
			SubjectID:         s.SubjectID,
			DefinitionID:      def.ID,
			QuestionnaireType: qType,
			SelectedOptions:   append([]int(nil), req.SelectedOptions...),
			DurationMs:        durationMs,
			StartedAt:         startedAt,
			CompletedAt:       completedAt,
			Analysis:          analysis,
			ConclusionSummary: conclusion.Summary(analysis),
			SessionID:         &sessionID,
			CreatedAt:         now,
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrSessionNotFound
	}

	out := &SubmitResult{
		Session:      updated,
		Result:       result,
		Analysis:     analysis,
		PendingTypes: pending,
		Completed:    updated.Status == models.SessionCompleted,
	}
	if out.Completed {
		out.Conclusion = updated.FinalConclusion
		slog.Info("assessment session completed",
			"session_id", updated.ID,
			"subject_id", updated.SubjectID,
			"label", updated.FinalConclusion.Label,
			"risk_level", updated.FinalConclusion.RiskLevel,
		)
	} else {
		out.NextQuestionnaire = upcoming[pending[0]]
		slog.Info("assessment step recorded",
			"session_id", updated.ID,
			"type", qType,
			"score", analysis.Score,
			"abnormal", analysis.IsAbnormal,
			"next", pending[0],
		)
	}

	return out, nil
}

// Abandon ends an in-progress session without a conclusion
func (o *Orchestrator) Abandon(ctx context.Context, sessionID, subjectID string) (*models.AssessmentSession, error) {
	if sessionID == "" || subjectID == "" {
		return nil, fmt.Errorf("%w: session_id and subject_id are required", ErrInvalidRequest)
	}

	unlock, err := o.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := o.store.UpdateSession(ctx, sessionID, func(s *models.AssessmentSession) (*models.ScaleResult, error) {
		if s.SubjectID != subjectID {
			return nil, ErrSessionNotOwned
		}
		if s.IsTerminal() {
			return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyTerminal, s.Status)
		}
		s.Status = models.SessionAbandoned
		s.UpdatedAt = timeNow().UTC()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrSessionNotFound
	}

	slog.Info("assessment session abandoned", "session_id", sessionID, "subject_id", subjectID)
	return updated, nil
}

// GetSessionResult returns the progress or outcome of a session
func (o *Orchestrator) GetSessionResult(ctx context.Context, sessionID, subjectID string) (*SessionResult, error) {
	s, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if s.SubjectID != subjectID {
		return nil, ErrSessionNotOwned
	}

	res := &SessionResult{
		SessionID:    s.ID,
		SubjectID:    s.SubjectID,
		Status:       s.Status,
		Steps:        make([]StepSummary, 0, len(s.StepScores)),
		PendingTypes: []string{},
		Conclusion:   s.FinalConclusion,
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
	}
	for _, sc := range s.StepScores {
		res.Steps = append(res.Steps, StepSummary{
			QuestionnaireType: sc.QuestionnaireType,
			DefinitionID:      sc.DefinitionID,
			Score:             sc.Score,
			Level:             sc.Level,
			IsAbnormal:        sc.IsAbnormal,
			RecordedAt:        sc.RecordedAt,
		})
	}
	if !s.IsTerminal() {
		if pending := PendingTypes(s.StepResponses); pending != nil {
			res.PendingTypes = pending
		}
	}

	return res, nil
}

// ScoreStandalone scores one questionnaire and stores the result without a session
func (o *Orchestrator) ScoreStandalone(ctx context.Context, req StandaloneRequest) (*models.ScaleResult, error) {
	if req.SubjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrInvalidRequest)
	}

	var def *models.QuestionnaireDefinition
	switch {
	case req.DefinitionID != "":
		d, err := o.definitions.Get(ctx, req.DefinitionID)
		if errors.Is(err, definitions.ErrDefinitionNotFound) || (err == nil && !d.IsActive()) {
			return nil, fmt.Errorf("%w: definition %s", ErrNoApplicableQuestionnaire, req.DefinitionID)
		}
		if err != nil {
			return nil, err
		}
		if t := normalizeType(req.QuestionnaireType); t != "" && t != normalizeType(d.Type) {
			return nil, fmt.Errorf("%w: definition %s is of type %s", ErrInvalidRequest, d.ID, d.Type)
		}
		def = d
	case normalizeType(req.QuestionnaireType) != "":
		d, err := o.activeDefinition(ctx, normalizeType(req.QuestionnaireType))
		if err != nil {
			return nil, err
		}
		def = d
	default:
		return nil, fmt.Errorf("%w: questionnaire_type or definition_id is required", ErrInvalidRequest)
	}

	profile, err := o.profiles.GetProfile(ctx, req.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subject profile: %w", err)
	}

	analysis, err := o.registry.Score(def, req.SelectedOptions, profile)
	if err != nil {
		return nil, err
	}

	startedAt, completedAt, durationMs := timing(req.StartedAt, req.CompletedAt)
	if warnings := answerWarnings(def, req.SelectedOptions, durationMs); len(warnings) > 0 {
		md := make(map[string]interface{}, len(analysis.Metadata)+1)
		for k, v := range analysis.Metadata {
			md[k] = v
		}
		md["validation_warnings"] = warnings
		analysis.Metadata = md
		slog.Warn("standalone submission flagged", "subject_id", req.SubjectID, "type", def.Type, "warnings", warnings)
	}

	res := &models.ScaleResult{
		ID:                uuid.New().String(),
		SubjectID:         req.SubjectID,
		DefinitionID:      def.ID,
		QuestionnaireType: normalizeType(def.Type),
		SelectedOptions:   append([]int(nil), req.SelectedOptions...),
		DurationMs:        durationMs,
		StartedAt:         startedAt,
		CompletedAt:       completedAt,
		Analysis:          analysis,
		ConclusionSummary: conclusion.Summary(analysis),
		CreatedAt:         timeNow().UTC(),
	}
	if err := o.store.CreateResult(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}

	slog.Info("standalone result recorded", "result_id", res.ID, "subject_id", res.SubjectID, "type", res.QuestionnaireType, "score", analysis.Score)
	return res, nil
}

// ListResults returns a subject's result history, newest first
func (o *Orchestrator) ListResults(ctx context.Context, subjectID string, limit, offset int) ([]*models.ScaleResult, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrInvalidRequest)
	}
	results, err := o.store.ListResults(ctx, models.ResultFilters{
		SubjectID: subjectID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return results, nil
}

// GetResult returns one result. Results of other subjects read as not found.
func (o *Orchestrator) GetResult(ctx context.Context, id, subjectID string) (*models.ScaleResult, error) {
	r, err := o.store.GetResult(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	if r == nil || r.SubjectID != subjectID {
		return nil, ErrResultNotFound
	}
	return r, nil
}

// GetStale returns in-progress sessions with no activity since inactiveSince
func (o *Orchestrator) GetStale(ctx context.Context, inactiveSince time.Time, limit int) ([]*models.AssessmentSession, error) {
	return o.store.ListStaleSessions(ctx, inactiveSince, limit)
}

// Expire abandons a session on behalf of the system if it is still in
// progress and inactive since inactiveSince. It reports whether it did.
func (o *Orchestrator) Expire(ctx context.Context, sessionID string, inactiveSince time.Time) (bool, error) {
	unlock, err := o.lock(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer unlock()

	expired := false
	updated, err := o.store.UpdateSession(ctx, sessionID, func(s *models.AssessmentSession) (*models.ScaleResult, error) {
		if s.IsTerminal() || !s.UpdatedAt.Before(inactiveSince) {
			return nil, nil
		}
		s.Status = models.SessionAbandoned
		s.UpdatedAt = timeNow().UTC()
		expired = true
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	if updated == nil {
		return false, ErrSessionNotFound
	}
	return expired, nil
}

// checkSubmission applies the misuse checks in their reporting order
func checkSubmission(s *models.AssessmentSession, subjectID, qType string) error {
	if s.SubjectID != subjectID {
		return ErrSessionNotOwned
	}
	if s.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrSessionAlreadyTerminal, s.Status)
	}
	if s.HasAnswered(qType) {
		return fmt.Errorf("%w: %s", ErrDuplicateSubmission, qType)
	}
	if !contains(PendingTypes(s.StepResponses), qType) {
		return fmt.Errorf("%w: %s", ErrQuestionnaireNotRequired, qType)
	}
	return nil
}

func (o *Orchestrator) activeDefinition(ctx context.Context, qType string) (*models.QuestionnaireDefinition, error) {
	def, err := o.definitions.LatestActive(ctx, qType)
	if errors.Is(err, definitions.ErrDefinitionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoApplicableQuestionnaire, qType)
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

// presentedDefinition resolves the definition a submission is scored against.
// An explicit ID must name a definition of the submitted type that has been
// served; it stays valid after a newer version is activated or it is
// withdrawn. Without an ID the latest active definition is used.
func (o *Orchestrator) presentedDefinition(ctx context.Context, definitionID, qType string) (*models.QuestionnaireDefinition, error) {
	if definitionID == "" {
		return o.activeDefinition(ctx, qType)
	}

	def, err := o.definitions.Get(ctx, definitionID)
	if errors.Is(err, definitions.ErrDefinitionNotFound) {
		return nil, fmt.Errorf("%w: definition %s not found", ErrInvalidRequest, definitionID)
	}
	if err != nil {
		return nil, err
	}
	if normalizeType(def.Type) != qType {
		return nil, fmt.Errorf("%w: definition %s is of type %s, not %s", ErrInvalidRequest, def.ID, def.Type, qType)
	}
	if !def.IsFrozen() {
		return nil, fmt.Errorf("%w: definition %s has never been active", ErrInvalidRequest, def.ID)
	}
	return def, nil
}

func (o *Orchestrator) lock(ctx context.Context, sessionID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, o.lockWait)
	defer cancel()
	return o.locker.Lock(lockCtx, services.SessionLockKey(sessionID))
}

// timing fills missing timestamps with now and derives a non-negative duration
func timing(startedAt, completedAt time.Time) (time.Time, time.Time, int64) {
	now := timeNow().UTC()
	if completedAt.IsZero() {
		completedAt = now
	}
	if startedAt.IsZero() {
		startedAt = completedAt
	}
	d := completedAt.Sub(startedAt).Milliseconds()
	if d < 0 {
		d = 0
	}
	return startedAt.UTC(), completedAt.UTC(), d
}

// answerWarnings flags incomplete answer sets and implausibly fast completion
func answerWarnings(def *models.QuestionnaireDefinition, selected []int, durationMs int64) []string {
	var warnings []string
	n := len(def.Questions)
	if len(selected) != n {
		warnings = append(warnings, fmt.Sprintf("answered %d of %d questions", len(selected), n))
	}
	if n > 0 && durationMs < int64(n*minSecondsPerQuestion*1000) {
		warnings = append(warnings, fmt.Sprintf("completed in %.1fs, under %ds per question", float64(durationMs)/1000, minSecondsPerQuestion))
	}
	return warnings
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
