package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefinitionStatus is the lifecycle state of a questionnaire definition
type DefinitionStatus string

const (
	DefinitionDraft  DefinitionStatus = "draft"
	DefinitionActive DefinitionStatus = "active"
)

// QuestionnaireDefinition is a named, versioned instrument.
// Type selects the score calculator; YAMLConfig is the textual mirror of
// the structured fields and is kept in sync on every save. ActivatedAt is
// set the first time the definition goes active and never cleared.
type QuestionnaireDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Code        string           `json:"code"`
	Version     string           `json:"version"`
	Description string           `json:"description,omitempty"`
	Type        string           `json:"type"`
	Questions   []Question       `json:"questions"`
	Status      DefinitionStatus `json:"status"`
	YAMLConfig  string           `json:"yaml_config,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ActivatedAt *time.Time       `json:"activated_at,omitempty"`
}

// DefinitionFilters narrows definition listings
type DefinitionFilters struct {
	Type   string
	Status DefinitionStatus
	Limit  int
	Offset int
}

// IsActive reports whether the definition can be served to subjects
func (d *QuestionnaireDefinition) IsActive() bool {
	return d.Status == DefinitionActive
}

// IsFrozen reports whether the definition has ever been served. Session steps
// may reference it, so its questions can no longer change.
func (d *QuestionnaireDefinition) IsFrozen() bool {
	return d.IsActive() || d.ActivatedAt != nil
}

// Clone returns a deep copy so callers can mutate without touching stored state
func (d *QuestionnaireDefinition) Clone() *QuestionnaireDefinition {
	if d == nil {
		return nil
	}
	c := *d
	c.Questions = CloneQuestions(d.Questions)
	if d.ActivatedAt != nil {
		t := *d.ActivatedAt
		c.ActivatedAt = &t
	}
	return &c
}

// Question is a single item of a questionnaire
type Question struct {
	ID      string   `json:"id" yaml:"id"`
	Text    string   `json:"text" yaml:"text"`
	Options []Option `json:"options" yaml:"options"`
}

// UnmarshalYAML accepts "question" as an alias for "text"
func (q *Question) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID       string   `yaml:"id"`
		Text     string   `yaml:"text"`
		Question string   `yaml:"question"`
		Options  []Option `yaml:"options"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	q.ID = raw.ID
	q.Text = raw.Text
	if q.Text == "" {
		q.Text = raw.Question
	}
	q.Options = raw.Options
	return nil
}

// MaxValue returns the largest numeric option value of the question, floored at zero
func (q Question) MaxValue() float64 {
	var max float64
	for _, opt := range q.Options {
		if v, _ := opt.Value.Float(); v > max {
			max = v
		}
	}
	return max
}

// Option is one selectable answer with its numeric weight
type Option struct {
	Text  string      `json:"text" yaml:"text"`
	Value OptionValue `json:"value" yaml:"value"`
}

// CloneQuestions deep-copies a question list
func CloneQuestions(qs []Question) []Question {
	if qs == nil {
		return nil
	}
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = q
		out[i].Options = append([]Option(nil), q.Options...)
	}
	return out
}

// OptionValue is an option weight. Definitions authored by hand carry
// numbers or numeric strings; both are accepted and kept as text.
// An empty OptionValue means the value is missing.
type OptionValue string

// Float coerces the value to a number. Non-numeric values yield 0, false.
func (v OptionValue) Float() (float64, bool) {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IsSet reports whether a value was provided
func (v OptionValue) IsSet() bool {
	return strings.TrimSpace(string(v)) != ""
}

func (v *OptionValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("option value must be a scalar (line %d)", node.Line)
	}
	if node.Tag == "!!null" {
		*v = ""
		return nil
	}
	*v = OptionValue(node.Value)
	return nil
}

func (v OptionValue) MarshalYAML() (interface{}, error) {
	if f, ok := v.Float(); ok {
		return numeric(f), nil
	}
	return string(v), nil
}

func (v *OptionValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = OptionValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("option value must be a number or string: %w", err)
	}
	*v = OptionValue(n.String())
	return nil
}

func (v OptionValue) MarshalJSON() ([]byte, error) {
	if f, ok := v.Float(); ok {
		return json.Marshal(numeric(f))
	}
	return json.Marshal(string(v))
}

// numeric keeps whole numbers integral when emitted
func numeric(f float64) interface{} {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}
