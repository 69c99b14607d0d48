package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOptionValueFloat(t *testing.T) {
	tests := []struct {
		in   OptionValue
		want float64
		ok   bool
	}{
		{"3", 3, true},
		{" 2.5 ", 2.5, true},
		{"-1", -1, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.in.Float()
		assert.Equal(t, tt.want, got, "value %q", tt.in)
		assert.Equal(t, tt.ok, ok, "value %q", tt.in)
	}
}

func TestOptionValueDecodesNumbersAndStrings(t *testing.T) {
	var q Question
	require.NoError(t, yaml.Unmarshal([]byte(`
id: 1
question: "Do you forget recent events?"
options:
  - text: "No"
    value: 0
  - text: "Sometimes"
    value: "1"
  - text: "Often"
    value: 2.5
`), &q))

	assert.Equal(t, "1", q.ID)
	assert.Equal(t, "Do you forget recent events?", q.Text, "question is an alias for text")
	require.Len(t, q.Options, 3)
	assert.Equal(t, OptionValue("0"), q.Options[0].Value)
	assert.Equal(t, OptionValue("1"), q.Options[1].Value)
	assert.Equal(t, 2.5, q.MaxValue())

	var fromJSON Option
	require.NoError(t, json.Unmarshal([]byte(`{"text":"x","value":4}`), &fromJSON))
	assert.Equal(t, OptionValue("4"), fromJSON.Value)
	require.NoError(t, json.Unmarshal([]byte(`{"text":"x","value":"4"}`), &fromJSON))
	assert.Equal(t, OptionValue("4"), fromJSON.Value)
}

func TestOptionValueEncodesNumerically(t *testing.T) {
	out, err := json.Marshal(Option{Text: "a", Value: "2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"a","value":2}`, string(out))

	out, err = json.Marshal(Option{Text: "a", Value: "n/a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"a","value":"n/a"}`, string(out))

	y, err := yaml.Marshal(Option{Text: "a", Value: "1.5"})
	require.NoError(t, err)
	assert.Equal(t, "text: a\nvalue: 1.5\n", string(y))
}

func TestSessionAppendStepKeepsInvariants(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &AssessmentSession{ID: "s1", SubjectID: "u1", Status: SessionInProgress, StartedAt: now}
	assert.Empty(t, s.Validate())

	s.AppendStep("d1", "scd_q9", []int{1, 0}, AnalysisResult{Score: 8, IsAbnormal: true}, now)
	assert.Empty(t, s.Validate())
	assert.Equal(t, 1, s.CurrentStepIndex)
	assert.True(t, s.HasAnswered("scd_q9"))
	assert.False(t, s.HasAnswered("mmse"))
	assert.True(t, s.Analyses()["scd_q9"].IsAbnormal)
}

func TestSessionValidateReportsViolations(t *testing.T) {
	now := time.Now()
	s := &AssessmentSession{
		Status:           SessionCompleted,
		CurrentStepIndex: 2,
		StepResponses:    []StepResponse{{DefinitionID: "d1"}},
		StepScores:       []StepScore{{DefinitionID: "d2"}, {DefinitionID: "d1"}},
		StartedAt:        now,
	}

	problems := s.Validate()
	assert.Contains(t, problems, "step responses (1) and step scores (2) differ in length")
	assert.Contains(t, problems, "definition d2 has scores but no responses")
	assert.Contains(t, problems, "current step index 2 does not match 1 responses")
	assert.Contains(t, problems, "completed session has no completion time")
	assert.Contains(t, problems, "completed session has no conclusion")
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &AssessmentSession{ID: "s1"}
	s.AppendStep("d1", "scd_q9", []int{1}, AnalysisResult{Score: 1}, time.Now())

	c := s.Clone()
	c.StepResponses[0].SelectedOptions[0] = 9
	c.StepScores[0].Score = 99

	assert.Equal(t, 1, s.StepResponses[0].SelectedOptions[0])
	assert.Equal(t, float64(1), s.StepScores[0].Score)
}

func TestSessionCloneCopiesAnalysisAndConclusion(t *testing.T) {
	s := &AssessmentSession{ID: "s1"}
	s.AppendStep("d1", "scd_q9", []int{1}, AnalysisResult{
		Score:           6,
		Recommendations: []string{"see a specialist"},
		Metadata:        map[string]interface{}{"validation_warnings": []string{"answered 1 of 9 questions"}, "threshold": 5},
	}, time.Now())
	s.FinalConclusion = &Conclusion{
		Recommendations: []string{"follow up"},
		Details:         map[string]AnalysisResult{"scd_q9": {Recommendations: []string{"rest"}}},
	}

	c := s.Clone()
	c.StepResponses[0].Analysis.Recommendations[0] = "changed"
	c.StepResponses[0].Analysis.Metadata["threshold"] = 99
	c.StepResponses[0].Analysis.Metadata["validation_warnings"].([]string)[0] = "changed"
	c.StepScores[0].Recommendations[0] = "changed"
	c.FinalConclusion.Recommendations[0] = "changed"
	c.FinalConclusion.Details["scd_q9"].Recommendations[0] = "changed"

	analysis := s.StepResponses[0].Analysis
	assert.Equal(t, "see a specialist", analysis.Recommendations[0])
	assert.Equal(t, 5, analysis.Metadata["threshold"])
	assert.Equal(t, []string{"answered 1 of 9 questions"}, analysis.Metadata["validation_warnings"])
	assert.Equal(t, "see a specialist", s.StepScores[0].Recommendations[0])
	assert.Equal(t, "follow up", s.FinalConclusion.Recommendations[0])
	assert.Equal(t, "rest", s.FinalConclusion.Details["scd_q9"].Recommendations[0])
}

func TestApiClientHasPermission(t *testing.T) {
	client := &ApiClient{IsActive: true, Permissions: []string{"results:*", PermAssessmentsWrite}}

	assert.True(t, client.HasPermission(PermResultsRead))
	assert.True(t, client.HasPermission(PermAssessmentsWrite))
	assert.False(t, client.HasPermission(PermDefinitionsWrite))

	client.IsActive = false
	assert.False(t, client.HasPermission(PermResultsRead))

	var nilClient *ApiClient
	assert.False(t, nilClient.HasPermission("*"))
}

func TestApiClientSubjectScope(t *testing.T) {
	clinician := &ApiClient{IsActive: true}
	assert.Empty(t, clinician.SubjectScope())
	assert.True(t, clinician.CanActFor("subject-1"))

	app := &ApiClient{IsActive: true, Metadata: map[string]string{MetaSubjectScope: "subject-1"}}
	assert.True(t, app.CanActFor("subject-1"))
	assert.False(t, app.CanActFor("subject-2"))

	assert.Equal(t, "sk_live_...", (&ApiClient{ApiKey: "sk_live_abcdef"}).MaskedApiKey())
	assert.Equal(t, "***", MaskKey("short"))
}
