package models

import "time"

// AnalysisResult is the immutable output of a score calculator
type AnalysisResult struct {
	Score           float64                `json:"score"`
	MaxScore        float64                `json:"max_score"`
	Level           string                 `json:"level"`
	IsAbnormal      bool                   `json:"is_abnormal"`
	Recommendations []string               `json:"recommendations"`
	Interpretation  string                 `json:"interpretation,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Clone copies the recommendations and metadata so the copy can be changed
// independently
func (a AnalysisResult) Clone() AnalysisResult {
	c := a
	if a.Recommendations != nil {
		c.Recommendations = append([]string(nil), a.Recommendations...)
	}
	if a.Metadata != nil {
		c.Metadata = cloneMap(a.Metadata)
	}
	return c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container shapes calculators put in metadata
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []int:
		return append([]int(nil), t...)
	}
	return v
}

// StatusLabel renders the abnormal flag the way result summaries spell it
func (a AnalysisResult) StatusLabel() string {
	if a.IsAbnormal {
		return "abnormal"
	}
	return "normal"
}

// ScaleResult is one scored questionnaire submission. Append-only.
// SessionID is nil for standalone scoring.
type ScaleResult struct {
	ID                string         `json:"id"`
	SubjectID         string         `json:"subject_id"`
	DefinitionID      string         `json:"definition_id"`
	QuestionnaireType string         `json:"questionnaire_type"`
	SelectedOptions   []int          `json:"selected_options"`
	DurationMs        int64          `json:"duration_ms"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       time.Time      `json:"completed_at"`
	Analysis          AnalysisResult `json:"analysis"`
	ConclusionSummary string         `json:"conclusion_summary"`
	SessionID         *string        `json:"session_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// ResultFilters narrows result history queries
type ResultFilters struct {
	SubjectID         string
	QuestionnaireType string
	Limit             int
	Offset            int
}

// SubjectProfile is externally owned demographic data used for
// education-adjusted thresholds. A nil profile is valid input.
type SubjectProfile struct {
	SubjectID string    `json:"subject_id"`
	Education string    `json:"education,omitempty"`
	Age       int       `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EducationLabel is nil-safe
func (p *SubjectProfile) EducationLabel() string {
	if p == nil {
		return ""
	}
	return p.Education
}
