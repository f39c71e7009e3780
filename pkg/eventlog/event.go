package eventlog

import (
	"encoding/json"
	"time"
)

const (
	TypeAddComment          = "addComment"
	TypeAddCommentUpvote    = "addCommentUpvote"
	TypeRemoveCommentUpvote = "removeCommentUpvote"
)

// DateLayout is the ISO-8601 form browsers produce with Date.toISOString.
const DateLayout = "2006-01-02T15:04:05.000Z"

// Event is a single immutable entry in the log. The data payload is opaque to the store.
type Event struct {
	EventType        string          `json:"eventType"`
	EventID          int64           `json:"eventId"`
	EventDateCreated string          `json:"eventDateCreated"`
	Data             json.RawMessage `json:"data"`
}

// Created parses EventDateCreated.
func (e Event) Created() (time.Time, error) {
	return time.Parse(DateLayout, e.EventDateCreated)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// clone returns a copy of the event that shares no memory with the original.
func (e Event) clone() Event {
	if e.Data != nil {
		e.Data = append(json.RawMessage(nil), e.Data...)
	}
	return e
}

func cloneAll(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.clone()
	}
	return out
}
