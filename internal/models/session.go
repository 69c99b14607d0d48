package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the current state of an assessment session
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress" // Waiting for the next questionnaire
	SessionCompleted  SessionStatus = "completed"   // Conclusion synthesized
	SessionAbandoned  SessionStatus = "abandoned"   // Given up by the subject or the cleaner
)

// AssessmentSession is one subject's adaptive traversal of questionnaire types.
// StepResponses and StepScores are appended together, one entry per submission.
type AssessmentSession struct {
	ID               string         `json:"id"`
	SubjectID        string         `json:"subject_id"`
	Status           SessionStatus  `json:"status"`
	CurrentStepIndex int            `json:"current_step_index"`
	StepResponses    []StepResponse `json:"step_responses"`
	StepScores       []StepScore    `json:"step_scores"`
	FinalConclusion  *Conclusion    `json:"final_conclusion,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// StepResponse is the raw answer log entry of one step
type StepResponse struct {
	DefinitionID      string         `json:"definition_id"`
	QuestionnaireType string         `json:"questionnaire_type"`
	SelectedOptions   []int          `json:"selected_options"`
	Analysis          AnalysisResult `json:"analysis"`
	RecordedAt        time.Time      `json:"recorded_at"`
}

// StepScore is the compact score entry of one step
type StepScore struct {
	DefinitionID      string    `json:"definition_id"`
	QuestionnaireType string    `json:"questionnaire_type"`
	Score             float64   `json:"score"`
	Level             string    `json:"level"`
	IsAbnormal        bool      `json:"is_abnormal"`
	Recommendations   []string  `json:"recommendations"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// Conclusion is the synthesized outcome of a completed session
type Conclusion struct {
	Label              string                    `json:"label"`
	RiskLevel          string                    `json:"risk_level"`
	Summary            string                    `json:"summary"`
	Recommendations    []string                  `json:"recommendations"`
	Details            map[string]AnalysisResult `json:"details"`
	EducationCorrected string                    `json:"education_corrected,omitempty"`
}

// Clone returns a deep copy of the conclusion
func (c *Conclusion) Clone() *Conclusion {
	if c == nil {
		return nil
	}
	out := *c
	if c.Recommendations != nil {
		out.Recommendations = append([]string(nil), c.Recommendations...)
	}
	if c.Details != nil {
		out.Details = make(map[string]AnalysisResult, len(c.Details))
		for k, a := range c.Details {
			out.Details[k] = a.Clone()
		}
	}
	return &out
}

// IsTerminal returns true if the session is in a final state
func (s *AssessmentSession) IsTerminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionAbandoned
}

// HasAnswered reports whether a questionnaire type already has a step
func (s *AssessmentSession) HasAnswered(questionnaireType string) bool {
	for _, r := range s.StepResponses {
		if r.QuestionnaireType == questionnaireType {
			return true
		}
	}
	return false
}

// AppendStep records a scored submission in both logs and advances the step index
func (s *AssessmentSession) AppendStep(definitionID, questionnaireType string, selected []int, analysis AnalysisResult, at time.Time) {
	s.StepResponses = append(s.StepResponses, StepResponse{
		DefinitionID:      definitionID,
		QuestionnaireType: questionnaireType,
		SelectedOptions:   append([]int(nil), selected...),
		Analysis:          analysis.Clone(),
		RecordedAt:        at,
	})
	s.StepScores = append(s.StepScores, StepScore{
		DefinitionID:      definitionID,
		QuestionnaireType: questionnaireType,
		Score:             analysis.Score,
		Level:             analysis.Level,
		IsAbnormal:        analysis.IsAbnormal,
		Recommendations:   append([]string(nil), analysis.Recommendations...),
		RecordedAt:        at,
	})
	s.CurrentStepIndex = len(s.StepResponses)
	s.UpdatedAt = at
}

// Analyses returns the latest analysis per questionnaire type
func (s *AssessmentSession) Analyses() map[string]AnalysisResult {
	out := make(map[string]AnalysisResult, len(s.StepResponses))
	for _, r := range s.StepResponses {
		out[r.QuestionnaireType] = r.Analysis
	}
	return out
}

// Validate checks the session's structural invariants and returns every
// violation found. An empty result means the session is consistent.
func (s *AssessmentSession) Validate() []string {
	var problems []string

	if len(s.StepResponses) != len(s.StepScores) {
		problems = append(problems, fmt.Sprintf("step responses (%d) and step scores (%d) differ in length",
			len(s.StepResponses), len(s.StepScores)))
	}

	responseIDs := make(map[string]int)
	for _, r := range s.StepResponses {
		responseIDs[r.DefinitionID]++
	}
	scoreIDs := make(map[string]int)
	for _, sc := range s.StepScores {
		scoreIDs[sc.DefinitionID]++
	}
	for id, n := range responseIDs {
		if scoreIDs[id] != n {
			problems = append(problems, fmt.Sprintf("definition %s has %d responses but %d scores", id, n, scoreIDs[id]))
		}
	}
	for id := range scoreIDs {
		if _, ok := responseIDs[id]; !ok {
			problems = append(problems, fmt.Sprintf("definition %s has scores but no responses", id))
		}
	}

	if s.CurrentStepIndex != len(s.StepResponses) {
		problems = append(problems, fmt.Sprintf("current step index %d does not match %d responses",
			s.CurrentStepIndex, len(s.StepResponses)))
	}

	if s.Status == SessionCompleted {
		if s.CompletedAt == nil {
			problems = append(problems, "completed session has no completion time")
		}
		if s.FinalConclusion == nil {
			problems = append(problems, "completed session has no conclusion")
		}
		if len(s.StepResponses) == 0 {
			problems = append(problems, "completed session has no steps")
		}
	}

	return problems
}

// Clone returns a deep copy of the session
func (s *AssessmentSession) Clone() *AssessmentSession {
	if s == nil {
		return nil
	}
	c := *s
	c.StepResponses = make([]StepResponse, len(s.StepResponses))
	for i, r := range s.StepResponses {
		r.SelectedOptions = append([]int(nil), r.SelectedOptions...)
		r.Analysis = r.Analysis.Clone()
		c.StepResponses[i] = r
	}
	c.StepScores = make([]StepScore, len(s.StepScores))
	for i, sc := range s.StepScores {
		if sc.Recommendations != nil {
			sc.Recommendations = append([]string(nil), sc.Recommendations...)
		}
		c.StepScores[i] = sc
	}
	if s.FinalConclusion != nil {
		c.FinalConclusion = s.FinalConclusion.Clone()
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
