package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/assessment-engine/internal/config"
	"github.com/terra-clan/assessment-engine/internal/definitions"
	"github.com/terra-clan/assessment-engine/internal/flow"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/scoring"
	"github.com/terra-clan/assessment-engine/internal/services"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

const (
	adminKey   = "sk_test_admin_0001"
	readerKey  = "sk_test_reader_0001"
	subjectKey = "sk_test_subject_0001"
)

type testEnv struct {
	server *httptest.Server
	repo   *storage.MemoryRepository
	probes *services.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := storage.NewMemoryRepository()
	repo.AddClient(&models.ApiClient{ID: 1, Name: "admin", ApiKey: adminKey, IsActive: true, Permissions: []string{"*"}})
	repo.AddClient(&models.ApiClient{ID: 2, Name: "reader", ApiKey: readerKey, IsActive: true, Permissions: []string{"assessments:read", "definitions:*"}})
	repo.AddClient(&models.ApiClient{ID: 3, Name: "subject-app", ApiKey: subjectKey, IsActive: true,
		Permissions: []string{"assessments:*", "results:*", "subjects:write"},
		Metadata:    map[string]string{models.MetaSubjectScope: "subject-1"}})

	defs := definitions.NewService(repo)
	engine := flow.NewOrchestrator(repo, defs, repo, scoring.DefaultRegistry(), services.NewLocalLocker())
	probes := services.NewRegistry()

	srv := NewServer(config.ServerConfig{RequestTimeout: 5 * time.Second}, engine, defs, repo, probes)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, repo: repo, probes: probes}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, key string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// binaryMirror renders a YAML definition with n questions valued 0 and 1
func binaryMirror(typ string, n int) string {
	var b strings.Builder
	b.WriteString("name: " + typ + "\ncode: " + typ + "_v1\nversion: \"1.0\"\ntype: " + typ + "\nquestions:\n")
	for i := 1; i <= n; i++ {
		id := strconv.Itoa(i)
		b.WriteString("  - id: \"" + id + "\"\n    text: question " + id + "\n    options:\n")
		b.WriteString("      - {text: no, value: 0}\n      - {text: yes, value: 1}\n")
	}
	return b.String()
}

func (e *testEnv) activeDefinition(t *testing.T, typ string, n int) *models.QuestionnaireDefinition {
	t.Helper()

	status, env := e.do(t, http.MethodPut, "/api/v1/definitions", adminKey, map[string]interface{}{
		"yaml_config": binaryMirror(typ, n),
	})
	require.Equal(t, http.StatusCreated, status, "%+v", env.Error)

	var def models.QuestionnaireDefinition
	require.NoError(t, json.Unmarshal(env.Data, &def))

	status, env = e.do(t, http.MethodPost, "/api/v1/definitions/"+def.ID+"/activate", adminKey, nil)
	require.Equal(t, http.StatusOK, status, "%+v", env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &def))
	return &def
}

func ones(n, k int) []int {
	out := make([]int, n)
	for i := 0; i < k; i++ {
		out[i] = 1
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t)

	status, env := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	e.probes.Register(services.NewProbeFunc("redis", func(context.Context) error { return nil }))
	status, env = e.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"redis":"ok"`)

	e.probes.RegisterOptional(services.NewProbeFunc("definitions", func(context.Context) error { return errors.New("none active") }))
	status, env = e.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"status":"degraded"`)
	assert.Contains(t, string(env.Data), `"repository":"ok"`)

	e.probes.Register(services.NewProbeFunc("postgres", func(context.Context) error { return errors.New("down") }))
	status, env = e.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not_ready", env.Error.Code)
}

func TestAuthentication(t *testing.T) {
	e := newTestEnv(t)

	status, env := e.do(t, http.MethodGet, "/api/v1/definitions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	status, env = e.do(t, http.MethodGet, "/api/v1/definitions", "sk_wrong_key", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	status, _ = e.do(t, http.MethodGet, "/api/v1/definitions", readerKey, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = e.do(t, http.MethodPost, "/api/v1/assessments", readerKey, map[string]string{"subject_id": "s"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "permission_denied", env.Error.Code)
}

func TestSubjectScopedClient(t *testing.T) {
	e := newTestEnv(t)
	e.activeDefinition(t, scoring.TypeScreening, 9)

	status, env := e.do(t, http.MethodPost, "/api/v1/assessments", subjectKey, map[string]string{"subject_id": "subject-2"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "subject_forbidden", env.Error.Code)

	status, env = e.do(t, http.MethodPut, "/api/v1/subjects/subject-2/profile", subjectKey, map[string]string{"education": "primary"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "subject_forbidden", env.Error.Code)

	status, _ = e.do(t, http.MethodGet, "/api/v1/results?subject_id=subject-2", subjectKey, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, env = e.do(t, http.MethodPost, "/api/v1/assessments", subjectKey, map[string]string{"subject_id": "subject-1"})
	require.Equal(t, http.StatusCreated, status, "%+v", env.Error)

	status, _ = e.do(t, http.MethodGet, "/api/v1/results?subject_id=subject-1", subjectKey, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSubmitScoresShownDefinitionOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.activeDefinition(t, scoring.TypeScreening, 9)
	brief := e.activeDefinition(t, scoring.TypeBriefCognitive, 30)

	status, env := e.do(t, http.MethodPost, "/api/v1/assessments", adminKey, map[string]string{"subject_id": "subject-1"})
	require.Equal(t, http.StatusCreated, status, "%+v", env.Error)
	var start flow.StartResult
	require.NoError(t, json.Unmarshal(env.Data, &start))
	shown := start.NextQuestionnaire.ID

	// a reweighted revision goes live while the subject is answering
	revision := strings.NewReplacer("code: scd_q9_v1", "code: scd_q9_v2", `version: "1.0"`, `version: "2.0"`, "value: 1}", "value: 10}").
		Replace(binaryMirror(scoring.TypeScreening, 9))
	status, env = e.do(t, http.MethodPut, "/api/v1/definitions", adminKey, map[string]interface{}{
		"yaml_config": revision,
		"status":      "active",
	})
	require.Equal(t, http.StatusCreated, status, "%+v", env.Error)

	answer := func(definitionID string) (int, envelope) {
		return e.do(t, http.MethodPost, "/api/v1/assessments/"+start.Session.ID+"/answers", adminKey, map[string]interface{}{
			"subject_id":         "subject-1",
			"questionnaire_type": scoring.TypeScreening,
			"definition_id":      definitionID,
			"selected_options":   ones(9, 3),
		})
	}

	status, env = answer(brief.ID)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", env.Error.Code)

	status, env = answer(shown)
	require.Equal(t, http.StatusOK, status, "%+v", env.Error)
	var step flow.SubmitResult
	require.NoError(t, json.Unmarshal(env.Data, &step))
	assert.Equal(t, shown, step.Result.DefinitionID)
	assert.Equal(t, float64(3), step.Analysis.Score)
	assert.False(t, step.Analysis.IsAbnormal)
	assert.True(t, step.Completed)
}

func TestAssessmentLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.activeDefinition(t, scoring.TypeScreening, 9)
	e.activeDefinition(t, scoring.TypeBriefCognitive, 30)
	e.activeDefinition(t, scoring.TypeExtendedCognitive, 30)

	status, env := e.do(t, http.MethodPut, "/api/v1/subjects/subject-1/profile", adminKey, map[string]interface{}{
		"education": "secondary",
		"age":       68,
	})
	require.Equal(t, http.StatusOK, status)

	status, env = e.do(t, http.MethodPost, "/api/v1/assessments", adminKey, map[string]string{"subject_id": "subject-1"})
	require.Equal(t, http.StatusCreated, status, "%+v", env.Error)

	var start flow.StartResult
	require.NoError(t, json.Unmarshal(env.Data, &start))
	assert.Equal(t, scoring.TypeScreening, start.NextQuestionnaire.Type)
	sid := start.Session.ID

	submit := func(subject, typ string, n, k int) (int, envelope) {
		return e.do(t, http.MethodPost, "/api/v1/assessments/"+sid+"/answers", adminKey, map[string]interface{}{
			"subject_id":         subject,
			"questionnaire_type": typ,
			"selected_options":   ones(n, k),
		})
	}

	status, env = submit("subject-1", scoring.TypeScreening, 9, 8)
	require.Equal(t, http.StatusOK, status, "%+v", env.Error)
	var step flow.SubmitResult
	require.NoError(t, json.Unmarshal(env.Data, &step))
	assert.Equal(t, scoring.TypeBriefCognitive, step.NextQuestionnaire.Type)

	status, env = submit("subject-1", scoring.TypeScreening, 9, 8)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_submission", env.Error.Code)

	status, env = submit("subject-2", scoring.TypeBriefCognitive, 30, 22)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "session_not_owned", env.Error.Code)

	status, _ = submit("subject-1", scoring.TypeBriefCognitive, 30, 22)
	require.Equal(t, http.StatusOK, status)

	status, env = submit("subject-1", scoring.TypeExtendedCognitive, 30, 25)
	require.Equal(t, http.StatusOK, status)
	step = flow.SubmitResult{}
	require.NoError(t, json.Unmarshal(env.Data, &step))
	assert.True(t, step.Completed)
	require.NotNil(t, step.Conclusion)
	assert.Equal(t, "Probable impairment (brief-variant flagged)", step.Conclusion.Label)

	status, env = e.do(t, http.MethodGet, "/api/v1/assessments/"+sid+"?subject_id=subject-1", readerKey, nil)
	require.Equal(t, http.StatusOK, status)
	var summary flow.SessionResult
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, models.SessionCompleted, summary.Status)
	assert.Len(t, summary.Steps, 3)

	status, env = e.do(t, http.MethodPost, "/api/v1/assessments/"+sid+"/abandon", adminKey, map[string]string{"subject_id": "subject-1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "session_terminal", env.Error.Code)

	status, env = e.do(t, http.MethodGet, "/api/v1/results?subject_id=subject-1&limit=2", adminKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"total":2`)

	status, env = e.do(t, http.MethodGet, "/api/v1/assessments/missing?subject_id=subject-1", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "session_not_found", env.Error.Code)
}

func TestStartWithoutDefinitions(t *testing.T) {
	e := newTestEnv(t)

	status, env := e.do(t, http.MethodPost, "/api/v1/assessments", adminKey, map[string]string{"subject_id": "s"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "no_applicable_questionnaire", env.Error.Code)

	status, env = e.do(t, http.MethodPost, "/api/v1/assessments", adminKey, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", env.Error.Code)
}

func TestDefinitionEndpoints(t *testing.T) {
	e := newTestEnv(t)

	status, env := e.do(t, http.MethodPut, "/api/v1/definitions", adminKey, map[string]interface{}{
		"yaml_config": "name: broken\ncode: broken\ntype: gad7\n",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "malformed_definition", env.Error.Code)

	def := e.activeDefinition(t, scoring.TypeAnxiety, 7)

	edit := def.Clone()
	edit.Questions[0].Text = "changed"
	status, env = e.do(t, http.MethodPut, "/api/v1/definitions", adminKey, edit)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "definition_locked", env.Error.Code)

	status, env = e.do(t, http.MethodPost, "/api/v1/definitions/"+def.ID+"/duplicate", adminKey, map[string]string{"code": "gad7_v2", "version": "2.0"})
	require.Equal(t, http.StatusCreated, status, "%+v", env.Error)
	var cp models.QuestionnaireDefinition
	require.NoError(t, json.Unmarshal(env.Data, &cp))
	assert.Equal(t, models.DefinitionDraft, cp.Status)

	status, env = e.do(t, http.MethodGet, "/api/v1/definitions?type=gad7&status=active", readerKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"total":1`)

	status, env = e.do(t, http.MethodGet, "/api/v1/definitions/unknown", readerKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "definition_not_found", env.Error.Code)
}

func TestStandaloneScoring(t *testing.T) {
	e := newTestEnv(t)
	e.activeDefinition(t, scoring.TypeAnxiety, 7)
	e.activeDefinition(t, "mystery", 2)

	status, env := e.do(t, http.MethodPost, "/api/v1/results", adminKey, map[string]interface{}{
		"subject_id":         "subject-1",
		"questionnaire_type": "gad7",
		"selected_options":   ones(7, 6),
	})
	require.Equal(t, http.StatusCreated, status, "%+v", env.Error)
	var res models.ScaleResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Nil(t, res.SessionID)
	assert.Equal(t, float64(6), res.Analysis.Score)

	status, env = e.do(t, http.MethodGet, "/api/v1/results/"+res.ID+"?subject_id=subject-2", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "result_not_found", env.Error.Code)

	status, env = e.do(t, http.MethodPost, "/api/v1/results", adminKey, map[string]interface{}{
		"subject_id":         "subject-1",
		"questionnaire_type": "mystery",
		"selected_options":   []int{1, 1},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "unsupported_scale_type", env.Error.Code)
}
