// Package validation evaluates declarative per-field rules over raw form
// values.
//
// The engine is pure: it never touches storage and never returns an error.
// A failing field is a Result with Valid=false and a human-readable Reason.
// Turning a failed Report into an error is the caller's job (the service
// layer does it with apperror.FormInvalid at the submission boundary).
//
// RULE EVALUATION ORDER (per field):
//
//	required → min length → max length / max bytes → pattern → matches
//
// The first failing check supplies the Reason. An empty optional field
// skips the remaining checks unless it has a Matches rule.
package validation

import (
	"regexp"
	"strconv"
	"unicode/utf8"
)

// Values holds the current raw value of every field in a form, keyed by
// field name. A missing key and an empty string are treated the same.
type Values map[string]string

// Get returns the value of field, or "" when absent.
func (v Values) Get(field string) string {
	return v[field]
}

// Clone returns an independent copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Rule is the declarative rule set for one field.
type Rule struct {
	Label          string
	Required       bool
	MinLength      int // in characters
	MaxLength      int // in characters, 0 = unlimited
	MaxBytes       int // in bytes, 0 = unlimited
	Pattern        *regexp.Regexp
	PatternMessage string

	// Matches names a sibling field whose value this field must equal.
	// The sibling is read from the Values passed to each call, so the
	// comparison always uses the sibling's current value.
	Matches      string
	MatchMessage string
}

// Field pairs a field name with its rule.
type Field struct {
	Name string
	Rule Rule
}

// Result is the outcome of validating a single field.
type Result struct {
	Field  string `json:"field"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Report aggregates the results of a whole-form validation, in schema order.
type Report struct {
	Valid   bool     `json:"valid"`
	Results []Result `json:"results"`
}

// Errors returns field → reason for every failing field.
func (r Report) Errors() map[string]string {
	out := make(map[string]string)
	for _, res := range r.Results {
		if !res.Valid {
			out[res.Field] = res.Reason
		}
	}
	return out
}

// Schema is an ordered set of field rules for one form.
type Schema struct {
	name   string
	fields []string
	rules  map[string]Rule
}

// NewSchema builds a schema. Field order is preserved in reports.
func NewSchema(name string, fields ...Field) *Schema {
	s := &Schema{
		name:  name,
		rules: make(map[string]Rule, len(fields)),
	}
	for _, f := range fields {
		s.fields = append(s.fields, f.Name)
		s.rules[f.Name] = f.Rule
	}
	return s
}

// Name returns the form name, e.g. "signup".
func (s *Schema) Name() string { return s.name }

// Fields returns the declared field names in order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// ValidateField validates a single field against the current form values.
// Fields without a declared rule always pass.
func (s *Schema) ValidateField(values Values, field string) Result {
	rule, ok := s.rules[field]
	if !ok {
		return Result{Field: field, Valid: true}
	}
	if reason := check(rule, values.Get(field), values); reason != "" {
		return Result{Field: field, Valid: false, Reason: reason}
	}
	return Result{Field: field, Valid: true}
}

// ValidateForm validates every declared field. It never stops at the first
// failure: every failing field appears in the report.
func (s *Schema) ValidateForm(values Values) Report {
	report := Report{Valid: true}
	for _, field := range s.fields {
		res := s.ValidateField(values, field)
		if !res.Valid {
			report.Valid = false
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// ValidatePartial validates only the declared fields that are present in
// values. Used for partial updates where absent fields keep their value.
func (s *Schema) ValidatePartial(values Values) Report {
	report := Report{Valid: true}
	for _, field := range s.fields {
		if _, present := values[field]; !present {
			continue
		}
		res := s.ValidateField(values, field)
		if !res.Valid {
			report.Valid = false
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func check(rule Rule, value string, values Values) string {
	label := rule.Label
	if label == "" {
		label = "This field"
	}

	if value == "" {
		if rule.Required {
			return label + " is required."
		}
		if rule.Matches == "" || values.Get(rule.Matches) == "" {
			return ""
		}
	}

	n := utf8.RuneCountInString(value)
	if rule.MinLength > 0 && n < rule.MinLength {
		return label + " must be at least " + strconv.Itoa(rule.MinLength) + " characters."
	}
	if rule.MaxLength > 0 && n > rule.MaxLength {
		return label + " must be at most " + strconv.Itoa(rule.MaxLength) + " characters."
	}
	if rule.MaxBytes > 0 && len(value) > rule.MaxBytes {
		return label + " is too long."
	}

	if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
		if rule.PatternMessage != "" {
			return rule.PatternMessage
		}
		return label + " is not valid."
	}

	if rule.Matches != "" && value != values.Get(rule.Matches) {
		if rule.MatchMessage != "" {
			return rule.MatchMessage
		}
		return label + " does not match."
	}

	return ""
}
