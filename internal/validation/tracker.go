package validation

// Tracker holds the live state of one form on screen: its current values and
// the error annotation attached to each field.
//
// UI EVENTS:
//
//	Input(field, value) → store the value, drop that field's annotation
//	Blur(field)         → re-validate the field, attach or drop its annotation
//	Submit()            → validate the whole form, annotate every failing field
//
// A Tracker is owned by a single UI instance and its events arrive one at a
// time, so it is not safe for concurrent use.
type Tracker struct {
	schema      *Schema
	values      Values
	annotations map[string]string
}

// NewTracker starts tracking an empty form.
func NewTracker(schema *Schema) *Tracker {
	return &Tracker{
		schema:      schema,
		values:      make(Values),
		annotations: make(map[string]string),
	}
}

// Input records a new value for field and removes its annotation.
func (t *Tracker) Input(field, value string) {
	t.values[field] = value
	delete(t.annotations, field)
}

// Blur re-validates field against the current values.
func (t *Tracker) Blur(field string) Result {
	res := t.schema.ValidateField(t.values, field)
	t.annotate(res)
	return res
}

// Submit validates every field and refreshes all annotations.
func (t *Tracker) Submit() Report {
	report := t.schema.ValidateForm(t.values)
	for _, res := range report.Results {
		t.annotate(res)
	}
	return report
}

// Annotation returns the error attached to field, if any.
func (t *Tracker) Annotation(field string) (string, bool) {
	reason, ok := t.annotations[field]
	return reason, ok
}

// Annotations returns a copy of every current annotation.
func (t *Tracker) Annotations() map[string]string {
	out := make(map[string]string, len(t.annotations))
	for k, v := range t.annotations {
		out[k] = v
	}
	return out
}

// Values returns a copy of the current form values.
func (t *Tracker) Values() Values {
	return t.values.Clone()
}

func (t *Tracker) annotate(res Result) {
	if res.Valid {
		delete(t.annotations, res.Field)
		return
	}
	t.annotations[res.Field] = res.Reason
}
