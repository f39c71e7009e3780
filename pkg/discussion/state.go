// Package discussion folds the event log into comments with their upvotes.
package discussion

import (
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/astromechza/discussion-experiments/pkg/eventlog"
)

type Comment struct {
	EventID          int64
	EventDateCreated string
	From             Author
	Body             string
	ParentCommentID  *int64
	upvotes          map[string]struct{}
}

func (c *Comment) Upvoted(user string) bool {
	_, ok := c.upvotes[user]
	return ok
}

func (c *Comment) UpvoteCount() int {
	return len(c.upvotes)
}

// Upvoters returns the users that currently upvote the comment, sorted.
func (c *Comment) Upvoters() []string {
	out := make([]string, 0, len(c.upvotes))
	for u := range c.upvotes {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (c *Comment) IsReply() bool {
	return c.ParentCommentID != nil
}

func (c *Comment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EventID          int64    `json:"eventId"`
		EventDateCreated string   `json:"eventDateCreated"`
		From             Author   `json:"from"`
		Body             string   `json:"body"`
		ParentCommentID  *int64   `json:"parentCommentId"`
		Upvotes          []string `json:"upvotes"`
	}{c.EventID, c.EventDateCreated, c.From, c.Body, c.ParentCommentID, c.Upvoters()})
}

// State is the derived view of the log. It is not safe for concurrent use.
type State struct {
	logger   *slog.Logger
	comments map[int64]*Comment
	order    []int64
	dropped  int
}

type Option func(*State)

func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		s.logger = logger
	}
}

func NewState(opts ...Option) *State {
	s := &State{
		logger:   slog.Default(),
		comments: make(map[int64]*Comment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fold applies a batch of events in order and returns the same state. Folding a batch gives the
// same result as folding each of its events on its own.
func (s *State) Fold(batch []eventlog.Event) *State {
	for _, ev := range batch {
		s.apply(Decode(ev))
	}
	return s
}

func (s *State) apply(a Action) {
	switch a := a.(type) {
	case AddComment:
		if _, ok := s.comments[a.EventID]; ok {
			return
		}
		s.comments[a.EventID] = &Comment{
			EventID:          a.EventID,
			EventDateCreated: a.EventDateCreated,
			From:             a.From,
			Body:             a.Body,
			ParentCommentID:  a.ParentCommentID,
			upvotes:          make(map[string]struct{}),
		}
		s.order = append(s.order, a.EventID)
	case AddCommentUpvote:
		if c, ok := s.voteTarget(a.CommentID, a.From); ok {
			c.upvotes[a.From] = struct{}{}
		}
	case RemoveCommentUpvote:
		if c, ok := s.voteTarget(a.CommentID, a.From); ok {
			delete(c.upvotes, a.From)
		}
	case Unknown:
		s.dropped++
		s.logger.Error("dropping event", "id", a.Event.EventID, "type", a.Event.EventType, "err", a.Err)
	default:
		s.dropped++
		s.logger.Error("dropping unhandled action", "action", a)
	}
}

// voteTarget finds the comment an upvote refers to. Votes without a comment id or without a
// voter are absorbed like votes for comments that do not exist.
func (s *State) voteTarget(id *int64, from string) (*Comment, bool) {
	if id == nil || from == "" {
		return nil, false
	}
	c, ok := s.comments[*id]
	return c, ok
}

func (s *State) Comment(id int64) (*Comment, bool) {
	c, ok := s.comments[id]
	return c, ok
}

// Comments returns all comments in the order they were added.
func (s *State) Comments() []*Comment {
	out := make([]*Comment, len(s.order))
	for i, id := range s.order {
		out[i] = s.comments[id]
	}
	return out
}

// TopLevel returns the comments without a parent in the order they were added.
func (s *State) TopLevel() []*Comment {
	var out []*Comment
	for _, id := range s.order {
		if c := s.comments[id]; !c.IsReply() {
			out = append(out, c)
		}
	}
	return out
}

// Replies returns the direct replies to the given comment in the order they were added.
func (s *State) Replies(parentID int64) []*Comment {
	var out []*Comment
	for _, id := range s.order {
		if c := s.comments[id]; c.IsReply() && *c.ParentCommentID == parentID {
			out = append(out, c)
		}
	}
	return out
}

func (s *State) Len() int {
	return len(s.order)
}

// Dropped counts the events that could not be applied.
func (s *State) Dropped() int {
	return s.dropped
}
