// Package scoring turns selected answer indices into clinical analyses.
// Every instrument type code maps to exactly one Calculator through an
// explicit Registry; calculators are pure and safe for concurrent use.
package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// Instrument type codes
const (
	TypeScreening         = "scd_q9"
	TypeBriefCognitive    = "mmse"
	TypeExtendedCognitive = "moca"
	TypeAnxiety           = "gad7"
	TypeDepression        = "phq9"
	TypeRisk              = "risk"
	TypeFunctional        = "adl"
	TypeEmotion           = "emotiontest"
	TypeUsability         = "sus"
	TypeGeneric           = "generic"
)

// ErrUnsupportedScaleType is returned when no calculator is registered for a type code
var ErrUnsupportedScaleType = errors.New("unsupported scale type")

// Calculator scores one submission of a questionnaire.
// Anomalous answers never fail scoring; they contribute zero and are
// listed under Metadata["anomalies"].
type Calculator interface {
	Calculate(def *models.QuestionnaireDefinition, selected []int, profile *models.SubjectProfile) models.AnalysisResult
}

// CalculatorFunc adapts a function to the Calculator interface
type CalculatorFunc func(def *models.QuestionnaireDefinition, selected []int, profile *models.SubjectProfile) models.AnalysisResult

func (f CalculatorFunc) Calculate(def *models.QuestionnaireDefinition, selected []int, profile *models.SubjectProfile) models.AnalysisResult {
	return f(def, selected, profile)
}

// Entry binds a type code to its calculator
type Entry struct {
	Type       string
	Calculator Calculator
}

// Registry resolves type codes to calculators. It is immutable once built.
type Registry struct {
	calculators map[string]Calculator
}

// NewRegistry builds a registry from explicit entries. Later entries
// for the same type code replace earlier ones.
func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{calculators: make(map[string]Calculator, len(entries))}
	for _, e := range entries {
		r.calculators[normalizeType(e.Type)] = e.Calculator
	}
	return r
}

// DefaultRegistry registers every built-in instrument
func DefaultRegistry() *Registry {
	return NewRegistry(
		Entry{TypeScreening, Screening{}},
		Entry{TypeBriefCognitive, BriefCognitive{}},
		Entry{TypeExtendedCognitive, ExtendedCognitive{}},
		Entry{TypeAnxiety, NewSeverity(SeverityAnxiety)},
		Entry{TypeDepression, NewSeverity(SeverityDepression)},
		Entry{TypeRisk, NewSeverity(SeverityGeneralRisk)},
		Entry{TypeFunctional, NewSeverity(SeverityFunctional)},
		Entry{TypeEmotion, NewSeverity(SeverityEmotion)},
		Entry{TypeUsability, Reverse{}},
		Entry{TypeGeneric, Generic{}},
	)
}

// Resolve returns the calculator for a type code
func (r *Registry) Resolve(typeCode string) (Calculator, error) {
	calc, ok := r.calculators[normalizeType(typeCode)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScaleType, typeCode)
	}
	return calc, nil
}

// Types lists registered type codes in sorted order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.calculators))
	for t := range r.calculators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Score resolves the calculator for the definition's type and runs it
func (r *Registry) Score(def *models.QuestionnaireDefinition, selected []int, profile *models.SubjectProfile) (models.AnalysisResult, error) {
	calc, err := r.Resolve(def.Type)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return calc.Calculate(def, selected, profile), nil
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// tally is the shared sum-of-option-values total
type tally struct {
	score     float64
	maxScore  float64
	anomalies []string
}

// sumSelected adds the value of each selected option. Missing answers,
// out-of-range indices and non-numeric values contribute zero.
func sumSelected(def *models.QuestionnaireDefinition, selected []int) tally {
	var t tally
	for i, q := range def.Questions {
		t.maxScore += q.MaxValue()

		if i >= len(selected) {
			t.note(def, fmt.Sprintf("question %s has no answer", q.ID))
			continue
		}
		idx := selected[i]
		if idx < 0 || idx >= len(q.Options) {
			t.note(def, fmt.Sprintf("question %s: option index %d out of range", q.ID, idx))
			continue
		}
		v, ok := q.Options[idx].Value.Float()
		if !ok {
			t.note(def, fmt.Sprintf("question %s: option %d has non-numeric value %q", q.ID, idx, q.Options[idx].Value))
			continue
		}
		t.score += v
	}
	if extra := len(selected) - len(def.Questions); extra > 0 {
		t.note(def, fmt.Sprintf("%d answers beyond the last question ignored", extra))
	}

	t.score = math.Trunc(t.score)
	t.maxScore = math.Trunc(t.maxScore)
	return t
}

func (t *tally) note(def *models.QuestionnaireDefinition, msg string) {
	slog.Warn("scoring anomaly", "code", def.Code, "type", def.Type, "detail", msg)
	t.anomalies = append(t.anomalies, msg)
}

// metadata returns a fresh metadata map seeded with anomalies, if any
func (t tally) metadata() map[string]interface{} {
	md := make(map[string]interface{})
	if len(t.anomalies) > 0 {
		md["anomalies"] = append([]string(nil), t.anomalies...)
	}
	return md
}

// formatScore prints whole scores without a fractional part
func formatScore(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.1f", f)
}
