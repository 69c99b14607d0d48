package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAssessment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/assessments", r.URL.Path)
		assert.Equal(t, "Bearer sk_key", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "subject-1", body["subject_id"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"data":{"session":{"id":"s1","subject_id":"subject-1","status":"in_progress"},"next_questionnaire":{"id":"d1","type":"scd_q9"},"total_stages_hint":2}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_key")
	res, err := c.StartAssessment(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", res.Session.ID)
	assert.Equal(t, "scd_q9", res.NextQuestionnaire.Type)
	assert.Equal(t, 2, res.TotalStagesHint)
}

func TestAPIErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "subject_id=subject-1", r.URL.RawQuery)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"error":{"code":"session_not_owned","message":"assessment session belongs to another subject"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_key")
	_, err := c.GetAssessment(context.Background(), "s1", "subject-1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "session_not_owned", apiErr.Code)
}

func TestListResultsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "subject-1", r.URL.Query().Get("subject_id"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("offset"))
		w.Write([]byte(`{"success":true,"data":{"results":[{"id":"r1","questionnaire_type":"gad7"}],"total":1}}`))
	}))
	defer srv.Close()

	results, err := NewClient(srv.URL, "").ListResults(context.Background(), "subject-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].ID)
}

func TestHealthNonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").Health(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}
