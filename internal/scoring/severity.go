package scoring

import (
	"fmt"
	"math"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// SeverityKind selects a band table for the symptom-severity calculator
type SeverityKind string

const (
	SeverityAnxiety     SeverityKind = "anxiety"
	SeverityDepression  SeverityKind = "depression"
	SeverityGeneralRisk SeverityKind = "general_risk"
	SeverityFunctional  SeverityKind = "functional"
	SeverityEmotion     SeverityKind = "emotion"
	SeverityUsability   SeverityKind = "usability"
)

// band covers scores below upper. The last band of a table catches everything above.
type band struct {
	upper           float64
	level           string
	abnormal        bool
	recommendations []string
}

type bandTable struct {
	label string
	bands []band
}

func (t bandTable) classify(score float64) band {
	for _, b := range t.bands {
		if score < b.upper {
			return b
		}
	}
	return t.bands[len(t.bands)-1]
}

var severityTables = map[SeverityKind]bandTable{
	SeverityAnxiety: {"GAD-7", []band{
		{5, "minimal anxiety", false, []string{"Keep a positive outlook"}},
		{10, "mild anxiety", false, []string{"Pay attention to mood changes and make time to relax"}},
		{15, "moderate anxiety", true, []string{"Consider psychological counselling and more social activity"}},
		{21, "severe anxiety", true, []string{"Seek professional psychological help promptly"}},
	}},
	SeverityDepression: {"PHQ-9", []band{
		{5, "minimal depression", false, []string{"Keep a positive outlook"}},
		{10, "mild depression", false, []string{"Pay attention to mood changes and make time to relax"}},
		{15, "moderate depression", true, []string{"Consider psychological counselling and more social activity"}},
		{20, "moderately severe depression", true, []string{"Seek professional psychological help soon"}},
		{27, "severe depression", true, []string{"Seek medical care and professional intervention immediately"}},
	}},
	SeverityGeneralRisk: {"Risk", []band{
		{5, "low risk", false, []string{"Keep up healthy habits", "Self-assess periodically"}},
		{10, "mild risk", true, []string{"Pay attention to mental health", "Keep a regular routine"}},
		{15, "moderate risk", true, []string{"Try relaxation training", "Increase social activity", "Reassess periodically"}},
		{math.Inf(1), "high risk", true, []string{"Seek professional counselling", "Keep a regular schedule", "Monitor changes closely"}},
	}},
	SeverityFunctional: {"ADL", []band{
		{20, "fully independent", false, []string{"Keep up good daily habits"}},
		{40, "mild dependence", true, []string{"Exercise regularly to preserve independence"}},
		{60, "moderate dependence", true, []string{"Family should assist with daily activities and watch health status"}},
		{100, "severe dependence", true, []string{"Arrange professional care and monitor health closely"}},
	}},
	SeverityEmotion: {"Emotion recognition", []band{
		{5, "weak", true, []string{"Practise recognising emotions to improve understanding"}},
		{8, "fair", false, []string{"Notice how others feel to build empathy"}},
		{12, "good", false, []string{"Emotion recognition is good; keep it up"}},
		{100, "excellent", false, []string{"Emotion recognition is excellent; stay positive"}},
	}},
	SeverityUsability: {"SUS", []band{
		{50, "poor", false, []string{"Usability needs significant improvement"}},
		{70, "fair", false, []string{"Usability is acceptable with room for improvement"}},
		{85, "good", false, []string{"Usability is good"}},
		{math.Inf(1), "excellent", false, []string{"Usability is excellent"}},
	}},
}

// Severity maps a summed score onto an ordered band table
type Severity struct {
	kind  SeverityKind
	table bandTable
}

// NewSeverity returns the band calculator for a kind. It panics on an
// unknown kind since kinds are compile-time constants.
func NewSeverity(kind SeverityKind) Severity {
	table, ok := severityTables[kind]
	if !ok {
		panic(fmt.Sprintf("scoring: unknown severity kind %q", kind))
	}
	return Severity{kind: kind, table: table}
}

func (s Severity) Calculate(def *models.QuestionnaireDefinition, selected []int, _ *models.SubjectProfile) models.AnalysisResult {
	t := sumSelected(def, selected)
	b := s.table.classify(t.score)

	md := t.metadata()
	md["severity_kind"] = string(s.kind)

	return models.AnalysisResult{
		Score:           t.score,
		MaxScore:        t.maxScore,
		Level:           b.level,
		IsAbnormal:      b.abnormal,
		Recommendations: append([]string(nil), b.recommendations...),
		Interpretation:  fmt.Sprintf("%s score %s: %s.", s.table.label, formatScore(t.score), b.level),
		Metadata:        md,
	}
}
