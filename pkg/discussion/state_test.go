package discussion

import (
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/astromechza/discussion-experiments/pkg/eventlog"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func event(id int64, typ, data string) eventlog.Event {
	return eventlog.Event{
		EventType:        typ,
		EventID:          id,
		EventDateCreated: "2022-07-03T02:44:41.773Z",
		Data:             json.RawMessage(data),
	}
}

func snapshot(t *testing.T, s *State) string {
	t.Helper()
	raw, err := json.Marshal(s.Comments())
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestCommentUpvoteLifecycle(t *testing.T) {
	store := eventlog.New(eventlog.WithClock(func() time.Time {
		return time.Date(2022, 7, 3, 2, 44, 41, 773000000, time.UTC)
	}))
	s := NewState(quiet())
	store.Subscribe(eventlog.Func(func(batch []eventlog.Event) error {
		s.Fold(batch)
		return nil
	}))

	store.Append(eventlog.TypeAddComment, json.RawMessage(`{"from":"alice","body":"hi"}`))
	c, ok := s.Comment(0)
	if !ok {
		t.Fatal("expected comment 0")
	}
	want := `[{"eventId":0,"eventDateCreated":"2022-07-03T02:44:41.773Z","from":{"username":"alice"},"body":"hi","parentCommentId":null,"upvotes":[]}]`
	if got := snapshot(t, s); got != want {
		t.Fatalf("got %s want %s", got, want)
	}

	store.Append(eventlog.TypeAddCommentUpvote, json.RawMessage(`{"from":"bob","commentId":0}`))
	if got := c.Upvoters(); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("upvotes %v", got)
	}
	if !c.Upvoted("bob") || c.UpvoteCount() != 1 {
		t.Fatal("bob should have upvoted")
	}

	store.Append(eventlog.TypeRemoveCommentUpvote, json.RawMessage(`{"from":"bob","commentId":0}`))
	if c.UpvoteCount() != 0 {
		t.Fatalf("upvotes %v", c.Upvoters())
	}
}

func TestFoldIsAssociative(t *testing.T) {
	events := []eventlog.Event{
		event(0, eventlog.TypeAddComment, `{"from":"alice","body":"hi"}`),
		event(1, eventlog.TypeAddComment, `{"from":{"username":"bob","name":"Bob"},"body":"yo","parentCommentId":0}`),
		event(2, eventlog.TypeAddCommentUpvote, `{"from":"carol","commentId":1}`),
		event(3, "somethingElse", `{}`),
		event(4, eventlog.TypeAddCommentUpvote, `{"from":"dave","commentId":0}`),
		event(5, eventlog.TypeRemoveCommentUpvote, `{"from":"carol","commentId":1}`),
	}

	whole := NewState(quiet()).Fold(events)
	pieces := NewState(quiet())
	for _, ev := range events {
		pieces.Fold([]eventlog.Event{ev})
	}
	split := NewState(quiet()).Fold(events[:2]).Fold(events[2:])

	if a, b := snapshot(t, whole), snapshot(t, pieces); a != b {
		t.Fatalf("one batch %s != single events %s", a, b)
	}
	if a, b := snapshot(t, whole), snapshot(t, split); a != b {
		t.Fatalf("one batch %s != two batches %s", a, b)
	}
}

func TestUpvoteIsIdempotent(t *testing.T) {
	s := NewState(quiet()).Fold([]eventlog.Event{
		event(0, eventlog.TypeAddComment, `{"from":"alice","body":"hi"}`),
		event(1, eventlog.TypeAddCommentUpvote, `{"from":"a","commentId":0}`),
	})
	once := snapshot(t, s)
	s.Fold([]eventlog.Event{event(2, eventlog.TypeAddCommentUpvote, `{"from":"a","commentId":0}`)})
	if twice := snapshot(t, s); once != twice {
		t.Fatalf("%s != %s", once, twice)
	}
}

func TestRemoveUpvoteWithoutUpvoteIsNoop(t *testing.T) {
	s := NewState(quiet()).Fold([]eventlog.Event{
		event(0, eventlog.TypeAddComment, `{"from":"alice","body":"hi"}`),
		event(1, eventlog.TypeAddCommentUpvote, `{"from":"b","commentId":0}`),
	})
	before := snapshot(t, s)
	s.Fold([]eventlog.Event{event(2, eventlog.TypeRemoveCommentUpvote, `{"from":"a","commentId":0}`)})
	if after := snapshot(t, s); before != after {
		t.Fatalf("%s != %s", before, after)
	}
}

func TestMissingCommentIsAbsorbed(t *testing.T) {
	s := NewState(quiet()).Fold([]eventlog.Event{
		event(0, eventlog.TypeAddCommentUpvote, `{"from":"a","commentId":7}`),
		event(1, eventlog.TypeRemoveCommentUpvote, `{"from":"a","commentId":7}`),
	})
	if s.Len() != 0 || s.Dropped() != 0 {
		t.Fatalf("len %d dropped %d", s.Len(), s.Dropped())
	}
}

func TestVoteWithoutCommentOrVoterIsAbsorbed(t *testing.T) {
	s := NewState(quiet()).Fold([]eventlog.Event{
		event(0, eventlog.TypeAddComment, `{"from":"alice","body":"hi"}`),
		event(1, eventlog.TypeAddCommentUpvote, `{"from":"bob"}`),
		event(2, eventlog.TypeAddCommentUpvote, `{"from":"carol","commentId":null}`),
		event(3, eventlog.TypeAddCommentUpvote, `{"commentId":0}`),
		event(4, eventlog.TypeAddCommentUpvote, `{"from":"","fromUsername":"","commentId":0}`),
	})
	c, _ := s.Comment(0)
	if c.UpvoteCount() != 0 {
		t.Fatalf("upvoters of comment 0: %v", c.Upvoters())
	}
	if s.Dropped() != 0 {
		t.Fatalf("dropped %d", s.Dropped())
	}

	s.Fold([]eventlog.Event{
		event(5, eventlog.TypeAddCommentUpvote, `{"from":"dave","commentId":0}`),
		event(6, eventlog.TypeRemoveCommentUpvote, `{"from":"dave"}`),
		event(7, eventlog.TypeRemoveCommentUpvote, `{"from":"dave","commentId":null}`),
	})
	if got := c.Upvoters(); !reflect.DeepEqual(got, []string{"dave"}) {
		t.Fatalf("upvoters of comment 0: %v", got)
	}
}

func TestDuplicateAddCommentIsIgnored(t *testing.T) {
	s := NewState(quiet()).Fold([]eventlog.Event{
		event(0, eventlog.TypeAddComment, `{"from":"alice","body":"hi"}`),
		event(1, eventlog.TypeAddCommentUpvote, `{"from":"b","commentId":0}`),
		event(0, eventlog.TypeAddComment, `{"from":"mallory","body":"replaced"}`),
	})
	c, _ := s.Comment(0)
	if s.Len() != 1 || c.Body != "hi" || c.UpvoteCount() != 1 {
		t.Fatalf("duplicate insert changed state: %s", snapshot(t, s))
	}
}

func TestUnknownAndMalformedEventsAreDropped(t *testing.T) {
	s := NewState(quiet()).Fold([]eventlog.Event{
		event(0, "mystery", `{"x":1}`),
		event(1, eventlog.TypeAddComment, `"not an object"`),
		event(2, eventlog.TypeAddCommentUpvote, ``),
		event(3, eventlog.TypeAddComment, `{"from":"alice","body":"still works"}`),
	})
	if s.Dropped() != 3 {
		t.Fatalf("dropped %d", s.Dropped())
	}
	if c, ok := s.Comment(3); !ok || c.Body != "still works" {
		t.Fatalf("later events should still apply: %s", snapshot(t, s))
	}
}

func TestLegacyFromUsernameUpvotes(t *testing.T) {
	s := NewState(quiet()).Fold([]eventlog.Event{
		event(0, eventlog.TypeAddComment, `{"from":{"username":"alice","name":"Alice","thumbnail":"t.png"},"body":"hi","parentCommentId":null}`),
		event(1, eventlog.TypeAddCommentUpvote, `{"fromUsername":"bob","commentId":0}`),
	})
	c, _ := s.Comment(0)
	if !c.Upvoted("bob") {
		t.Fatalf("upvotes %v", c.Upvoters())
	}
	if want := (Author{Username: "alice", Name: "Alice", Thumbnail: "t.png"}); c.From != want {
		t.Fatalf("author %+v", c.From)
	}
}

func TestThreads(t *testing.T) {
	s := NewState(quiet()).Fold([]eventlog.Event{
		event(0, eventlog.TypeAddComment, `{"from":"a","body":"first"}`),
		event(1, eventlog.TypeAddComment, `{"from":"b","body":"second"}`),
		event(2, eventlog.TypeAddComment, `{"from":"c","body":"reply","parentCommentId":0}`),
		event(3, eventlog.TypeAddComment, `{"from":"d","body":"another reply","parentCommentId":0}`),
	})
	ids := func(cs []*Comment) (out []int64) {
		for _, c := range cs {
			out = append(out, c.EventID)
		}
		return out
	}
	if got := ids(s.TopLevel()); !reflect.DeepEqual(got, []int64{0, 1}) {
		t.Fatalf("top level %v", got)
	}
	if got := ids(s.Replies(0)); !reflect.DeepEqual(got, []int64{2, 3}) {
		t.Fatalf("replies %v", got)
	}
	if got := s.Replies(1); len(got) != 0 {
		t.Fatalf("replies %v", got)
	}
}
