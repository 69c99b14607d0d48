package flow

import (
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/scoring"
)

// TotalStagesHint is the number of stages a session can go through:
// screening, then the cognitive pair when screening is abnormal.
const TotalStagesHint = 2

// RequiredTypes derives the questionnaire types a session needs from its
// step log alone. Stage one is always the screening; an abnormal screening
// adds the brief and extended cognitive instruments, in that order.
func RequiredTypes(steps []models.StepResponse) []string {
	required := []string{scoring.TypeScreening}

	for _, s := range steps {
		if s.QuestionnaireType != scoring.TypeScreening {
			continue
		}
		if s.Analysis.IsAbnormal {
			required = append(required, scoring.TypeBriefCognitive, scoring.TypeExtendedCognitive)
		}
		break
	}

	return required
}

// PendingTypes returns the required types that have no step yet, in order
func PendingTypes(steps []models.StepResponse) []string {
	answered := make(map[string]bool, len(steps))
	for _, s := range steps {
		answered[s.QuestionnaireType] = true
	}

	var pending []string
	for _, t := range RequiredTypes(steps) {
		if !answered[t] {
			pending = append(pending, t)
		}
	}
	return pending
}

func contains(types []string, t string) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}
