package discussion

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/astromechza/discussion-experiments/pkg/eventlog"
)

// Action is the decoded form of an event. It is one of AddComment, AddCommentUpvote,
// RemoveCommentUpvote or Unknown.
type Action interface {
	isAction()
}

type AddComment struct {
	EventID          int64
	EventDateCreated string
	From             Author
	Body             string
	ParentCommentID  *int64
}

// CommentID is nil when the payload does not name a comment.
type AddCommentUpvote struct {
	CommentID *int64
	From      string
}

type RemoveCommentUpvote struct {
	CommentID *int64
	From      string
}

// Unknown carries an event the reducer cannot apply, either because of its type or because its
// payload does not have the expected shape.
type Unknown struct {
	Event eventlog.Event
	Err   error
}

func (AddComment) isAction()          {}
func (AddCommentUpvote) isAction()    {}
func (RemoveCommentUpvote) isAction() {}
func (Unknown) isAction()             {}

// Author identifies who wrote a comment. On the wire it is either a bare username string or an
// object with username, name and thumbnail.
type Author struct {
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

func (a *Author) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		return json.Unmarshal(raw, &a.Username)
	}
	type plain Author
	return json.Unmarshal(raw, (*plain)(a))
}

type addCommentData struct {
	From            Author `json:"from"`
	Body            string `json:"body"`
	ParentCommentID *int64 `json:"parentCommentId"`
}

type upvoteData struct {
	From         string `json:"from"`
	FromUsername string `json:"fromUsername"`
	CommentID    *int64 `json:"commentId"`
}

func (d upvoteData) user() string {
	if d.From != "" {
		return d.From
	}
	return d.FromUsername
}

// Decode turns an event into its typed action. It never fails; undecodable events come back as
// Unknown.
func Decode(ev eventlog.Event) Action {
	switch ev.EventType {
	case eventlog.TypeAddComment:
		var d addCommentData
		if err := unmarshalData(ev, &d); err != nil {
			return Unknown{Event: ev, Err: err}
		}
		return AddComment{
			EventID:          ev.EventID,
			EventDateCreated: ev.EventDateCreated,
			From:             d.From,
			Body:             d.Body,
			ParentCommentID:  d.ParentCommentID,
		}
	case eventlog.TypeAddCommentUpvote:
		var d upvoteData
		if err := unmarshalData(ev, &d); err != nil {
			return Unknown{Event: ev, Err: err}
		}
		return AddCommentUpvote{CommentID: d.CommentID, From: d.user()}
	case eventlog.TypeRemoveCommentUpvote:
		var d upvoteData
		if err := unmarshalData(ev, &d); err != nil {
			return Unknown{Event: ev, Err: err}
		}
		return RemoveCommentUpvote{CommentID: d.CommentID, From: d.user()}
	default:
		return Unknown{Event: ev, Err: fmt.Errorf("unknown event type %q", ev.EventType)}
	}
}

func unmarshalData(ev eventlog.Event, v interface{}) error {
	if len(ev.Data) == 0 {
		return fmt.Errorf("event %d has no data", ev.EventID)
	}
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", ev.EventType, err)
	}
	return nil
}
