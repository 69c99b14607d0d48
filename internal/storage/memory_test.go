package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/assessment-engine/internal/models"
)

func newSession(id string, updated time.Time) *models.AssessmentSession {
	return &models.AssessmentSession{
		ID:        id,
		SubjectID: "subject-1",
		Status:    models.SessionInProgress,
		StartedAt: updated,
		UpdatedAt: updated,
	}
}

func TestMemoryUpdateSessionCommitsResultWithSession(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateSession(ctx, newSession("s1", time.Now())))

	sessionID := "s1"
	updated, err := repo.UpdateSession(ctx, "s1", func(s *models.AssessmentSession) (*models.ScaleResult, error) {
		s.AppendStep("d1", "scd_q9", []int{1}, models.AnalysisResult{Score: 1}, time.Now())
		return &models.ScaleResult{ID: "r1", SubjectID: s.SubjectID, SessionID: &sessionID}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CurrentStepIndex)

	stored, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, stored.StepResponses, 1)

	res, err := repo.GetResult(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "s1", *res.SessionID)
}

func TestMemoryUpdateSessionDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateSession(ctx, newSession("s1", time.Now())))

	boom := errors.New("boom")
	_, err := repo.UpdateSession(ctx, "s1", func(s *models.AssessmentSession) (*models.ScaleResult, error) {
		s.AppendStep("d1", "scd_q9", []int{1}, models.AnalysisResult{}, time.Now())
		s.Status = models.SessionCompleted
		return &models.ScaleResult{ID: "r1"}, boom
	})
	assert.ErrorIs(t, err, boom)

	stored, _ := repo.GetSession(ctx, "s1")
	assert.Empty(t, stored.StepResponses)
	assert.Equal(t, models.SessionInProgress, stored.Status)

	res, _ := repo.GetResult(ctx, "r1")
	assert.Nil(t, res)
}

func TestMemoryUpdateSessionMissing(t *testing.T) {
	repo := NewMemoryRepository()

	called := false
	s, err := repo.UpdateSession(context.Background(), "nope", func(*models.AssessmentSession) (*models.ScaleResult, error) {
		called = true
		return nil, nil
	})
	assert.NoError(t, err)
	assert.Nil(t, s)
	assert.False(t, called)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	def := &models.QuestionnaireDefinition{ID: "d1", Code: "scd", Type: "scd_q9",
		Questions: []models.Question{{ID: "1", Text: "q", Options: []models.Option{{Text: "a", Value: "0"}}}}}
	require.NoError(t, repo.CreateDefinition(ctx, def))

	got, _ := repo.GetDefinition(ctx, "d1")
	got.Questions[0].Text = "changed"

	again, _ := repo.GetDefinition(ctx, "d1")
	assert.Equal(t, "q", again.Questions[0].Text)

	assert.Error(t, repo.CreateDefinition(ctx, &models.QuestionnaireDefinition{ID: "d2", Code: "scd"}), "codes are unique")
}

func TestMemorySessionAnalysisIsCopied(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateSession(ctx, newSession("s1", time.Now())))

	analysis := models.AnalysisResult{
		Score:           6,
		Recommendations: []string{"see a specialist"},
		Metadata:        map[string]interface{}{"threshold": 5},
	}
	_, err := repo.UpdateSession(ctx, "s1", func(s *models.AssessmentSession) (*models.ScaleResult, error) {
		s.AppendStep("d1", "scd_q9", []int{1}, analysis, time.Now())
		return &models.ScaleResult{ID: "r1", Analysis: analysis}, nil
	})
	require.NoError(t, err)

	got, _ := repo.GetSession(ctx, "s1")
	got.StepResponses[0].Analysis.Recommendations[0] = "changed"
	got.StepResponses[0].Analysis.Metadata["threshold"] = 99
	got.StepScores[0].Recommendations[0] = "changed"

	res, _ := repo.GetResult(ctx, "r1")
	res.Analysis.Metadata["threshold"] = 99

	again, _ := repo.GetSession(ctx, "s1")
	assert.Equal(t, "see a specialist", again.StepResponses[0].Analysis.Recommendations[0])
	assert.Equal(t, 5, again.StepResponses[0].Analysis.Metadata["threshold"])
	assert.Equal(t, "see a specialist", again.StepScores[0].Recommendations[0])

	stored, _ := repo.GetResult(ctx, "r1")
	assert.Equal(t, 5, stored.Analysis.Metadata["threshold"])
}

func TestMemoryListDefinitionsFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateDefinition(ctx, &models.QuestionnaireDefinition{ID: "1", Code: "a", Type: "mmse", Status: models.DefinitionActive}))
	require.NoError(t, repo.CreateDefinition(ctx, &models.QuestionnaireDefinition{ID: "2", Code: "b", Type: "mmse", Status: models.DefinitionDraft}))
	require.NoError(t, repo.CreateDefinition(ctx, &models.QuestionnaireDefinition{ID: "3", Code: "c", Type: "moca", Status: models.DefinitionActive}))

	active, err := repo.ListDefinitions(ctx, models.DefinitionFilters{Type: "mmse", Status: models.DefinitionActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].Code)

	all, _ := repo.ListDefinitions(ctx, models.DefinitionFilters{Limit: 2, Offset: 1})
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Code)
}

func TestMemoryListStaleSessions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now()

	require.NoError(t, repo.CreateSession(ctx, newSession("old", now.Add(-5*time.Hour))))
	require.NoError(t, repo.CreateSession(ctx, newSession("fresh", now)))
	done := newSession("done", now.Add(-5*time.Hour))
	done.Status = models.SessionCompleted
	require.NoError(t, repo.CreateSession(ctx, done))

	stale, err := repo.ListStaleSessions(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestMemoryListResultsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateResult(ctx, &models.ScaleResult{ID: "r1", SubjectID: "u1", QuestionnaireType: "phq9", CreatedAt: base}))
	require.NoError(t, repo.CreateResult(ctx, &models.ScaleResult{ID: "r2", SubjectID: "u1", QuestionnaireType: "gad7", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, repo.CreateResult(ctx, &models.ScaleResult{ID: "r3", SubjectID: "u2", QuestionnaireType: "phq9", CreatedAt: base}))

	results, err := repo.ListResults(ctx, models.ResultFilters{SubjectID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "r2", results[0].ID)

	phq, _ := repo.ListResults(ctx, models.ResultFilters{QuestionnaireType: "phq9", Limit: 1})
	assert.Len(t, phq, 1)
}

func TestMemoryProfilesAndClients(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	p, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, repo.UpsertProfile(ctx, &models.SubjectProfile{SubjectID: "u1", Education: "primary"}))
	p, _ = repo.GetProfile(ctx, "u1")
	assert.Equal(t, "primary", p.Education)

	repo.AddClient(&models.ApiClient{ID: 1, ApiKey: "key-1", IsActive: true, Permissions: []string{"*"}})
	c, err := repo.GetClientByApiKey(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, c.HasPermission("results:read"))

	require.NoError(t, repo.UpdateClientLastUsed(ctx, "key-1"))
	c, _ = repo.GetClientByApiKey(ctx, "key-1")
	assert.NotNil(t, c.LastUsedAt)
}
