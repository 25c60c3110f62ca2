package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Domain event types carried on the queue.
const (
	EventSessionStarted       = "session.started"
	EventSessionClosed        = "session.closed"
	EventRecordCreated        = "record.created"
	EventRecordReverified     = "record.reverified"
	EventRecordManualOverride = "record.manual_override"
	EventPortRequested        = "port.requested"
	EventPortDecided          = "port.decided"
)

// Event is the body of a domain event message.
type Event struct {
	Type      string    `json:"type"`
	OrgID     string    `json:"org_id"`
	SessionID string    `json:"session_id"`
	ActorID   string    `json:"actor_id"`
	SubjectID string    `json:"subject_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Encode wraps evt into a queue message.
func Encode(evt Event) (Message, error) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: evt.Type, Body: body}, nil
}

// Decode parses a message produced by Encode.
func Decode(msg Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return Event{}, fmt.Errorf("decode %q event: %w", msg.Type, err)
	}
	if evt.Type == "" {
		evt.Type = msg.Type
	}
	return evt, nil
}

// Emit publishes evt on p. Failures are logged, never returned: the event
// trail is best-effort and must not undo a committed state change.
func Emit(ctx context.Context, p Publisher, evt Event) {
	if p == nil {
		return
	}
	msg, err := Encode(evt)
	if err == nil {
		err = p.Publish(ctx, msg)
	}
	if err != nil {
		log.Warn().Err(err).Str("event", evt.Type).Str("session_id", evt.SessionID).Msg("event publish failed")
	}
}
