package scoring

import (
	"fmt"
	"math"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// ScreeningThreshold is the subjective-decline cutoff; scores above it are abnormal
const ScreeningThreshold = 5

// Screening scores the subjective cognitive decline questionnaire
type Screening struct{}

func (Screening) Calculate(def *models.QuestionnaireDefinition, selected []int, _ *models.SubjectProfile) models.AnalysisResult {
	t := sumSelected(def, selected)
	md := t.metadata()
	md["threshold"] = ScreeningThreshold

	res := models.AnalysisResult{
		Score:      t.score,
		MaxScore:   t.maxScore,
		IsAbnormal: t.score > ScreeningThreshold,
		Metadata:   md,
	}

	if res.IsAbnormal {
		res.Level = "needs further assessment"
		res.Recommendations = []string{
			"Complete the MMSE and MoCA cognitive assessments",
			"Watch for changes in memory and cognitive function",
			"Keep a regular routine and stay mentally active",
		}
		md["next_steps"] = []string{TypeBriefCognitive, TypeExtendedCognitive}
		res.Interpretation = fmt.Sprintf("SCD-Q9 score %s (>%d) suggests subjective cognitive decline; further cognitive assessment is advised.",
			formatScore(t.score), ScreeningThreshold)
	} else {
		res.Level = "normal"
		res.Recommendations = []string{
			"Subjective cognitive state is good",
			"Keep a healthy lifestyle",
			"Repeat the self-assessment periodically",
		}
		md["next_steps"] = []string{}
		res.Interpretation = fmt.Sprintf("SCD-Q9 score %s (<=%d) shows no notable subjective cognitive decline.",
			formatScore(t.score), ScreeningThreshold)
	}

	return res
}

// Brief cognitive instrument constants
const (
	BriefMaxScore         = 30
	briefDefaultThreshold = 24
)

// BriefCognitive scores the MMSE with an education-adjusted threshold.
// A score at or below the threshold is abnormal.
type BriefCognitive struct{}

// BriefThreshold returns the abnormal cutoff for a subject.
// Without a usable education label the strictest cutoff applies.
func BriefThreshold(profile *models.SubjectProfile) int {
	years, ok := educationYears(profile)
	if !ok {
		return briefDefaultThreshold
	}
	switch {
	case years == 0:
		return 17
	case years <= 6:
		return 20
	default:
		return briefDefaultThreshold
	}
}

func (BriefCognitive) Calculate(def *models.QuestionnaireDefinition, selected []int, profile *models.SubjectProfile) models.AnalysisResult {
	t := sumSelected(def, selected)
	threshold := BriefThreshold(profile)
	level := briefLevel(t.score)

	md := t.metadata()
	md["threshold"] = threshold
	md["education"] = profile.EducationLabel()

	res := models.AnalysisResult{
		Score:           t.score,
		MaxScore:        BriefMaxScore,
		Level:           level,
		IsAbnormal:      t.score <= float64(threshold),
		Recommendations: append([]string(nil), briefRecommendations[level]...),
		Metadata:        md,
	}
	if res.IsAbnormal {
		res.Interpretation = fmt.Sprintf("MMSE score %s is at or below the education-adjusted threshold %d, indicating %s; further assessment is advised.",
			formatScore(t.score), threshold, level)
	} else {
		res.Interpretation = fmt.Sprintf("MMSE score %s: %s.", formatScore(t.score), level)
	}
	return res
}

func briefLevel(score float64) string {
	switch {
	case score >= 27:
		return "normal"
	case score >= 21:
		return "mild cognitive impairment"
	case score >= 10:
		return "moderate cognitive impairment"
	default:
		return "severe cognitive impairment"
	}
}

var briefRecommendations = map[string][]string{
	"normal": {
		"Keep up healthy habits",
		"Reassess cognitive function periodically",
	},
	"mild cognitive impairment": {
		"Confirm with a MoCA assessment",
		"Increase mental activity",
		"Maintain social interaction",
	},
	"moderate cognitive impairment": {
		"Seek a professional evaluation soon",
		"Family members should provide closer attention and care",
	},
	"severe cognitive impairment": {
		"Seek medical care immediately",
		"Professional intervention and comprehensive care are needed",
	},
}

// Extended cognitive instrument constants
const (
	ExtendedMaxScore       = 30
	ExtendedThreshold      = 26
	extendedBonusYearLimit = 12
)

// ExtendedCognitive scores the MoCA. One point is added for twelve years
// of schooling or fewer; the adjusted score is abnormal below 26.
type ExtendedCognitive struct{}

// EducationBonus returns the score adjustment for a subject.
// No bonus is granted without a usable education label.
func EducationBonus(profile *models.SubjectProfile) int {
	years, ok := educationYears(profile)
	if !ok || years > extendedBonusYearLimit {
		return 0
	}
	return 1
}

func (ExtendedCognitive) Calculate(def *models.QuestionnaireDefinition, selected []int, profile *models.SubjectProfile) models.AnalysisResult {
	t := sumSelected(def, selected)
	bonus := EducationBonus(profile)
	adjusted := math.Min(t.score+float64(bonus), ExtendedMaxScore)
	abnormal := adjusted < ExtendedThreshold

	md := t.metadata()
	md["raw_score"] = t.score
	md["education_bonus"] = bonus
	md["threshold"] = ExtendedThreshold

	res := models.AnalysisResult{
		Score:      adjusted,
		MaxScore:   ExtendedMaxScore,
		IsAbnormal: abnormal,
		Metadata:   md,
	}

	interp := fmt.Sprintf("MoCA score %s.", formatScore(adjusted))
	if adjusted != t.score {
		interp = fmt.Sprintf("MoCA raw score %s, %s after education adjustment.", formatScore(t.score), formatScore(adjusted))
	}

	if abnormal {
		res.Level = "cognitive impairment"
		res.Recommendations = []string{
			"Undergo a comprehensive cognitive evaluation",
			"Consult a neurology or memory clinic",
			"Monitor cognitive changes regularly",
		}
		interp += fmt.Sprintf(" Below the %d threshold, possible cognitive impairment.", ExtendedThreshold)
	} else {
		res.Level = "normal"
		res.Recommendations = []string{
			"Cognitive function is normal",
			"Keep a healthy lifestyle",
			"Reassess cognitive function periodically",
		}
		interp += " Cognitive function within normal range."
	}
	res.Interpretation = interp
	return res
}
