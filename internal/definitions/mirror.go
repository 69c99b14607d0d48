package definitions

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/assessment-engine/internal/models"
)

var (
	ErrMalformedDefinition = errors.New("malformed questionnaire definition")
	ErrDefinitionLocked    = errors.New("questions of a served definition cannot be changed")
	ErrDefinitionNotFound  = errors.New("questionnaire definition not found")
	ErrDuplicateCode       = errors.New("questionnaire definition code already exists")
)

// ValidationError lists every problem found in a definition
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedDefinition, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformedDefinition
}

// document is the YAML mirror layout. Lifecycle status is not part of it.
type document struct {
	Name        string            `yaml:"name"`
	Code        string            `yaml:"code"`
	Version     string            `yaml:"version,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Type        string            `yaml:"type"`
	Questions   []models.Question `yaml:"questions"`
}

func documentOf(def *models.QuestionnaireDefinition) document {
	return document{
		Name:        def.Name,
		Code:        def.Code,
		Version:     def.Version,
		Description: def.Description,
		Type:        def.Type,
		Questions:   models.CloneQuestions(def.Questions),
	}
}

func (d document) applyTo(def *models.QuestionnaireDefinition) {
	def.Name = d.Name
	def.Code = d.Code
	def.Version = d.Version
	def.Description = d.Description
	def.Type = d.Type
	def.Questions = models.CloneQuestions(d.Questions)
}

// parseMirror decodes and validates a YAML mirror
func parseMirror(text string) (document, error) {
	var doc document
	if strings.TrimSpace(text) == "" {
		return doc, &ValidationError{Problems: []string{"mirror is empty"}}
	}
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return doc, &ValidationError{Problems: []string{fmt.Sprintf("invalid YAML: %v", err)}}
	}
	if problems := validate(doc); len(problems) > 0 {
		return doc, &ValidationError{Problems: problems}
	}
	return doc, nil
}

// RenderMirror generates the YAML mirror of a definition's structured fields.
// Output is deterministic for equal fields.
func RenderMirror(def *models.QuestionnaireDefinition) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(documentOf(def)); err != nil {
		return "", fmt.Errorf("failed to encode definition mirror: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode definition mirror: %w", err)
	}
	return buf.String(), nil
}

// ValidateFields checks the structured fields with the same rules as the mirror
func ValidateFields(def *models.QuestionnaireDefinition) error {
	if problems := validate(documentOf(def)); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validate(doc document) []string {
	var problems []string

	if strings.TrimSpace(doc.Code) == "" {
		problems = append(problems, "code is required")
	}
	if strings.TrimSpace(doc.Type) == "" {
		problems = append(problems, "type is required")
	}
	if len(doc.Questions) == 0 {
		problems = append(problems, "questions must be a non-empty list")
	}

	seen := make(map[string]bool, len(doc.Questions))
	for i, q := range doc.Questions {
		ref := fmt.Sprintf("question %d", i+1)
		if strings.TrimSpace(q.ID) == "" {
			problems = append(problems, ref+": id is required")
		} else {
			ref = fmt.Sprintf("question %s", q.ID)
			if seen[q.ID] {
				problems = append(problems, ref+": duplicate id")
			}
			seen[q.ID] = true
		}
		if strings.TrimSpace(q.Text) == "" {
			problems = append(problems, ref+": text is required")
		}
		if len(q.Options) == 0 {
			problems = append(problems, ref+": options must be a non-empty list")
		}
		for j, opt := range q.Options {
			if strings.TrimSpace(opt.Text) == "" {
				problems = append(problems, fmt.Sprintf("%s option %d: text is required", ref, j+1))
			}
			if !opt.Value.IsSet() {
				problems = append(problems, fmt.Sprintf("%s option %d: value is required", ref, j+1))
			}
		}
	}

	return problems
}

// Source tells which side of a definition drove a save
type Source string

const (
	SourceMirror    Source = "mirror"
	SourceFields    Source = "fields"
	SourceGenerated Source = "generated"
	SourceUnchanged Source = "unchanged"
)

// Reconcile brings the structured fields and the YAML mirror of next into
// agreement, given the previously stored version (nil on create).
//
// A changed, non-empty mirror wins and overwrites the fields. Otherwise
// changed fields regenerate the mirror, and an empty mirror is generated
// from the fields. On error next is left untouched.
func Reconcile(prev, next *models.QuestionnaireDefinition) (Source, error) {
	mirror := strings.TrimSpace(next.YAMLConfig) != ""
	mirrorChanged := mirror && (prev == nil || next.YAMLConfig != prev.YAMLConfig)

	if mirrorChanged {
		doc, err := parseMirror(next.YAMLConfig)
		if err != nil {
			return "", err
		}
		doc.applyTo(next)
		return SourceMirror, nil
	}

	fieldsChanged := prev == nil || !sameFields(prev, next)
	if !fieldsChanged && mirror {
		return SourceUnchanged, nil
	}

	if err := ValidateFields(next); err != nil {
		return "", err
	}
	text, err := RenderMirror(next)
	if err != nil {
		return "", err
	}
	next.YAMLConfig = text

	if fieldsChanged {
		return SourceFields, nil
	}
	return SourceGenerated, nil
}

func sameFields(a, b *models.QuestionnaireDefinition) bool {
	return a.Name == b.Name &&
		a.Code == b.Code &&
		a.Version == b.Version &&
		a.Description == b.Description &&
		a.Type == b.Type &&
		sameQuestions(a.Questions, b.Questions)
}

func sameQuestions(a, b []models.Question) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text || len(a[i].Options) != len(b[i].Options) {
			return false
		}
		for j := range a[i].Options {
			if a[i].Options[j] != b[i].Options[j] {
				return false
			}
		}
	}
	return true
}
