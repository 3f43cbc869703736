// Package notify is the feedback channel between the identity core and
// whatever presents it. Commands produce Messages; front ends render them.
//
// Messages are plain values. Field messages name the form field they belong
// to so a UI can show them next to the input; form messages have no Field.
//
// A Mailbox holds messages per UI instance until the front end reads them,
// the same way a flash message survives a redirect.
package notify

import (
	"errors"
	"sort"
	"sync"

	"github.com/tripease/identity/internal/apperror"
)

// Level is the severity of a message.
type Level string

const (
	Success Level = "success"
	Info    Level = "info"
	Warning Level = "warning"
	Error   Level = "error"
)

// Message is one piece of user-facing feedback.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
	Field string `json:"field,omitempty"`
}

func Successf(text string) Message { return Message{Level: Success, Text: text} }
func Infof(text string) Message    { return Message{Level: Info, Text: text} }

// FieldError is an error message attached to one form field.
func FieldError(field, text string) Message {
	return Message{Level: Error, Text: text, Field: field}
}

// FromError renders err as messages. Per-field failures become one field
// message each, sorted by field name; everything else becomes a single form
// message. Errors that are not *apperror.AppError are reported generically so
// internal details never reach the user.
func FromError(err error) []Message {
	if err == nil {
		return nil
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return []Message{{Level: Error, Text: "Something went wrong. Please try again."}}
	}
	if errors.Is(appErr, apperror.ErrProviderUnreachable) {
		return []Message{{Level: Error, Text: "The sign-in service is unavailable right now. Please try again later."}}
	}

	if len(appErr.Fields) > 0 {
		fields := make([]string, 0, len(appErr.Fields))
		for f := range appErr.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		out := make([]Message, 0, len(fields))
		for _, f := range fields {
			out = append(out, FieldError(f, appErr.Fields[f]))
		}
		return out
	}

	return []Message{{Level: Error, Text: appErr.Message, Field: appErr.Field}}
}

// Mailbox queues messages per UI instance.
type Mailbox struct {
	mu    sync.Mutex
	boxes map[string][]Message
	limit int
}

// NewMailbox creates a Mailbox keeping at most limit messages per instance.
// Older messages are dropped first. limit <= 0 means 50.
func NewMailbox(limit int) *Mailbox {
	if limit <= 0 {
		limit = 50
	}
	return &Mailbox{boxes: make(map[string][]Message), limit: limit}
}

// Push appends msgs to the instance's queue.
func (m *Mailbox) Push(instanceID string, msgs ...Message) {
	if instanceID == "" || len(msgs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q := append(m.boxes[instanceID], msgs...)
	if over := len(q) - m.limit; over > 0 {
		q = append([]Message(nil), q[over:]...)
	}
	m.boxes[instanceID] = q
}

// Drain returns and clears the instance's queue, oldest first.
func (m *Mailbox) Drain(instanceID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.boxes[instanceID]
	delete(m.boxes, instanceID)
	if q == nil {
		return []Message{}
	}
	return q
}
