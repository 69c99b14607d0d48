// Package conclusion turns the per-instrument analyses of a completed
// session into a single labelled risk conclusion.
package conclusion

import (
	"fmt"

	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/scoring"
)

// Risk levels
const (
	RiskHigh       = "high"
	RiskMediumHigh = "medium-high"
	RiskMedium     = "medium"
	RiskLowMedium  = "low-medium"
	RiskLow        = "low"
)

// Conclusion labels
const (
	LabelHighRisk          = "High risk"
	LabelExtendedFlagged   = "Probable impairment (extended-variant flagged)"
	LabelBriefFlagged      = "Probable impairment (brief-variant flagged)"
	LabelSubjectiveDecline = "Subjective decline only"
	LabelNormal            = "Normal"
)

// findings are the inputs every rule is evaluated against. A missing
// analysis reads as not abnormal with score 0.
type findings struct {
	screeningAbnormal bool
	briefAbnormal     bool
	extendedAbnormal  bool
	screeningScore    float64
	briefScore        float64
	extendedScore     float64
}

type rule struct {
	name            string
	label           string
	risk            string
	matches         func(f findings) bool
	summary         func(f findings) string
	recommendations []string
}

// rules are evaluated in order; the first match wins
var rules = []rule{
	{
		name:  "high_risk",
		label: LabelHighRisk,
		risk:  RiskHigh,
		matches: func(f findings) bool {
			return f.screeningAbnormal && f.briefAbnormal && f.extendedAbnormal
		},
		summary: func(f findings) string {
			return fmt.Sprintf("SCD-Q9 score %s (>5), MMSE score %s, MoCA score %s. Multiple assessments indicate cognitive impairment.",
				num(f.screeningScore), num(f.briefScore), num(f.extendedScore))
		},
		recommendations: []string{
			"Seek medical care soon for a comprehensive neuropsychological evaluation",
			"Consult a neurology or memory clinic specialist",
			"Start a cognitive function monitoring record",
			"Family members should provide closer attention and care",
			"Avoid going out alone or handling hazardous items",
		},
	},
	{
		name:  "extended_flagged",
		label: LabelExtendedFlagged,
		risk:  RiskMediumHigh,
		matches: func(f findings) bool {
			return f.screeningAbnormal && !f.briefAbnormal && f.extendedAbnormal
		},
		summary:         inconsistentSummary,
		recommendations: inconsistentRecommendations,
	},
	{
		name:  "brief_flagged",
		label: LabelBriefFlagged,
		risk:  RiskMedium,
		matches: func(f findings) bool {
			return f.screeningAbnormal && f.briefAbnormal && !f.extendedAbnormal
		},
		summary:         inconsistentSummary,
		recommendations: inconsistentRecommendations,
	},
	{
		name:  "subjective_decline",
		label: LabelSubjectiveDecline,
		risk:  RiskLowMedium,
		matches: func(f findings) bool {
			return f.screeningAbnormal && !f.briefAbnormal && !f.extendedAbnormal
		},
		summary: func(f findings) string {
			return fmt.Sprintf("SCD-Q9 score %s (>5) suggests subjective cognitive decline, but MMSE (%s) and MoCA (%s) show no clear impairment.",
				num(f.screeningScore), num(f.briefScore), num(f.extendedScore))
		},
		recommendations: []string{
			"Recheck cognitive function in 3-6 months",
			"Keep a healthy lifestyle",
			"Increase mental activity and social interaction",
			"Watch for changes in memory and cognition",
			"Visit a memory clinic if needed",
			"Reassess cognitive function periodically",
		},
	},
	{
		name:  "normal",
		label: LabelNormal,
		risk:  RiskLow,
		matches: func(f findings) bool {
			return !f.screeningAbnormal
		},
		summary: func(f findings) string {
			return fmt.Sprintf("SCD-Q9 score %s (<=5), no subjective cognitive decline; cognitive function normal.",
				num(f.screeningScore))
		},
		recommendations: []string{
			"Keep a healthy lifestyle",
			"Self-assess cognitive function periodically",
			"Stay mentally and socially active",
		},
	},
}

var inconsistentRecommendations = []string{
	"Undergo a more detailed cognitive evaluation",
	"Consult a neurology or memory clinic",
	"Recheck cognitive function in 3-6 months",
	"Keep a regular routine and stay mentally active",
	"Monitor cognitive changes regularly",
}

func inconsistentSummary(f findings) string {
	return fmt.Sprintf("SCD-Q9 score %s (>5), MMSE score %s, MoCA score %s. The two cognitive assessments disagree; further professional evaluation is advised.",
		num(f.screeningScore), num(f.briefScore), num(f.extendedScore))
}

// Synthesize selects the first matching rule for the given analyses,
// keyed by questionnaire type. education is echoed into the conclusion
// when the analyses were education-adjusted.
func Synthesize(results map[string]models.AnalysisResult, education string) models.Conclusion {
	f := findings{
		screeningAbnormal: results[scoring.TypeScreening].IsAbnormal,
		briefAbnormal:     results[scoring.TypeBriefCognitive].IsAbnormal,
		extendedAbnormal:  results[scoring.TypeExtendedCognitive].IsAbnormal,
		screeningScore:    results[scoring.TypeScreening].Score,
		briefScore:        results[scoring.TypeBriefCognitive].Score,
		extendedScore:     results[scoring.TypeExtendedCognitive].Score,
	}

	details := make(map[string]models.AnalysisResult, len(results))
	for k, v := range results {
		details[k] = v
	}

	// The rule set is exhaustive: "normal" matches whenever screening is not abnormal.
	for _, r := range rules {
		if !r.matches(f) {
			continue
		}
		return models.Conclusion{
			Label:              r.label,
			RiskLevel:          r.risk,
			Summary:            r.summary(f),
			Recommendations:    append([]string(nil), r.recommendations...),
			Details:            details,
			EducationCorrected: education,
		}
	}

	panic("conclusion: rule table is not exhaustive")
}

// Summary renders the per-result summary line "score/level/status"
func Summary(a models.AnalysisResult) string {
	return fmt.Sprintf("%s/%s/%s", num(a.Score), a.Level, a.StatusLabel())
}

func num(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.1f", f)
}
