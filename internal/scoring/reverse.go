package scoring

import (
	"fmt"

	"github.com/terra-clan/assessment-engine/internal/models"
)

const (
	usabilityScale     = 2.5
	usabilityMaxScore  = 100
	usabilityMaxOption = 4
)

// Reverse scores alternating-polarity instruments such as the SUS.
// Odd items (1-based) score the selected index, even items score 4 minus it,
// and the raw total is scaled to 0-100.
type Reverse struct{}

func (Reverse) Calculate(def *models.QuestionnaireDefinition, selected []int, _ *models.SubjectProfile) models.AnalysisResult {
	var t tally

	n := len(selected)
	if len(def.Questions) > 0 && n > len(def.Questions) {
		t.note(def, fmt.Sprintf("%d answers beyond the last question ignored", n-len(def.Questions)))
		n = len(def.Questions)
	}
	for i := n; i < len(def.Questions); i++ {
		t.note(def, fmt.Sprintf("question %s has no answer", def.Questions[i].ID))
	}

	var raw int
	for i := 0; i < n; i++ {
		idx := selected[i]
		if idx < 0 || idx > usabilityMaxOption {
			t.note(def, fmt.Sprintf("item %d: option index %d out of range", i+1, idx))
			continue
		}
		if (i+1)%2 == 1 {
			raw += idx
		} else {
			raw += usabilityMaxOption - idx
		}
	}

	t.score = float64(raw) * usabilityScale
	t.maxScore = usabilityMaxScore

	b := severityTables[SeverityUsability].classify(t.score)
	md := t.metadata()
	md["raw_score"] = raw

	return models.AnalysisResult{
		Score:           t.score,
		MaxScore:        t.maxScore,
		Level:           b.level,
		IsAbnormal:      false,
		Recommendations: append([]string(nil), b.recommendations...),
		Interpretation:  fmt.Sprintf("SUS score %.1f: usability rated %s.", t.score, b.level),
		Metadata:        md,
	}
}
