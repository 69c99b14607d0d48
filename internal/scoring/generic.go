package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// timeNow is swapped in tests
var timeNow = time.Now

// reassessAfter is how far ahead generic results schedule the next assessment
const reassessAfter = 30 * 24 * time.Hour

var genericBands = []struct {
	below           float64
	level           string
	abnormal        bool
	recommendations []string
}{
	{0.25, "low risk", false, []string{"Keep up healthy habits", "Self-assess periodically"}},
	{0.50, "mild risk", false, []string{"Pay attention to mental health", "Keep a regular routine"}},
	{0.75, "moderate risk", true, []string{"Try relaxation training", "Increase social activity", "Reassess periodically"}},
	{1.00, "high risk", true, []string{"Seek professional counselling", "Keep a regular schedule", "Monitor changes closely"}},
}

// Generic classifies the score by its share of the maximum. It serves
// instruments that need no dedicated logic and must be registered explicitly.
type Generic struct{}

func (Generic) Calculate(def *models.QuestionnaireDefinition, selected []int, _ *models.SubjectProfile) models.AnalysisResult {
	t := sumSelected(def, selected)

	var pct float64
	if t.maxScore > 0 {
		pct = t.score / t.maxScore
	}

	b := genericBands[len(genericBands)-1]
	for _, candidate := range genericBands {
		if pct < candidate.below {
			b = candidate
			break
		}
	}

	md := t.metadata()
	md["percentage"] = math.Round(pct*10000) / 100
	md["next_assessment_date"] = timeNow().Add(reassessAfter).Format("2006-01-02")

	name := def.Name
	if name == "" {
		name = def.Type
	}

	return models.AnalysisResult{
		Score:           t.score,
		MaxScore:        t.maxScore,
		Level:           b.level,
		IsAbnormal:      b.abnormal,
		Recommendations: append([]string(nil), b.recommendations...),
		Interpretation:  fmt.Sprintf("%s result: %s.", name, b.level),
		Metadata:        md,
	}
}
