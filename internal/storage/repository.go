package storage

import (
	"context"
	"time"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// SessionMutation edits a locked copy of a session. A non-nil result is
// inserted in the same transaction; an error discards every change.
type SessionMutation func(s *models.AssessmentSession) (*models.ScaleResult, error)

// Repository defines the interface for assessment persistence.
// Getters return nil, nil when the record does not exist.
type Repository interface {
	// Definitions
	CreateDefinition(ctx context.Context, def *models.QuestionnaireDefinition) error
	UpdateDefinition(ctx context.Context, def *models.QuestionnaireDefinition) error
	GetDefinition(ctx context.Context, id string) (*models.QuestionnaireDefinition, error)
	GetDefinitionByCode(ctx context.Context, code string) (*models.QuestionnaireDefinition, error)
	ListDefinitions(ctx context.Context, filters models.DefinitionFilters) ([]*models.QuestionnaireDefinition, error)

	// Sessions
	CreateSession(ctx context.Context, s *models.AssessmentSession) error
	GetSession(ctx context.Context, id string) (*models.AssessmentSession, error)
	// UpdateSession applies fn under a row lock and returns the stored
	// session, or nil, nil when the session does not exist.
	UpdateSession(ctx context.Context, id string, fn SessionMutation) (*models.AssessmentSession, error)
	ListStaleSessions(ctx context.Context, inactiveSince time.Time, limit int) ([]*models.AssessmentSession, error)

	// Results
	CreateResult(ctx context.Context, r *models.ScaleResult) error
	GetResult(ctx context.Context, id string) (*models.ScaleResult, error)
	ListResults(ctx context.Context, filters models.ResultFilters) ([]*models.ScaleResult, error)

	// Profiles
	GetProfile(ctx context.Context, subjectID string) (*models.SubjectProfile, error)
	UpsertProfile(ctx context.Context, p *models.SubjectProfile) error

	// API Clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
