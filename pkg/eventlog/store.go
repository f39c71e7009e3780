// Package eventlog is an in-memory append-only event log that fans new events out to subscribers.
//
// Every subscriber first receives the whole log as a single batch and then one single-event batch
// per append. Appends, subscriptions and unsubscriptions are serialised by one lock and delivery
// happens while it is held, so all subscribers observe the same order and no event is ever missed
// or delivered twice around a subscribe call.
package eventlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Subscriber receives ordered batches of events. Implementations must be comparable (usually a
// pointer) so they can be unsubscribed, and must not call back into the Store from Receive.
type Subscriber interface {
	Receive(batch []Event) error
}

// FuncSubscriber adapts a plain callback into a Subscriber with a stable identity.
type FuncSubscriber struct {
	fn func([]Event) error
}

func Func(fn func([]Event) error) *FuncSubscriber {
	return &FuncSubscriber{fn: fn}
}

func (f *FuncSubscriber) Receive(batch []Event) error {
	return f.fn(batch)
}

type Option func(*Store)

// WithClock replaces the time source used to stamp appended events.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

type Store struct {
	now    func() time.Time
	logger *slog.Logger

	mu          sync.Mutex // protects the fields below
	events      []Event
	subscribers []Subscriber
}

func New(opts ...Option) *Store {
	s := &Store{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a new event to the end of the log and delivers it to every current subscriber
// before returning.
func (s *Store) Append(eventType string, data json.RawMessage) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := Event{
		EventType:        eventType,
		EventID:          int64(len(s.events)),
		EventDateCreated: formatDate(s.now()),
		Data:             data,
	}.clone()
	s.events = append(s.events, ev)

	for _, sub := range s.subscribers {
		s.deliver(sub, []Event{ev.clone()})
	}
	return ev.clone()
}

// Subscribe delivers the current log as one batch and then registers the subscriber for every
// later append. An empty log produces an empty batch.
func (s *Store) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliver(sub, cloneAll(s.events))
	s.subscribers = append(s.subscribers, sub)
}

// Unsubscribe removes every registration of sub. Unknown subscribers are ignored.
func (s *Store) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.subscribers[:0]
	for _, el := range s.subscribers {
		if el != sub {
			kept = append(kept, el)
		}
	}
	for i := len(kept); i < len(s.subscribers); i++ {
		s.subscribers[i] = nil
	}
	s.subscribers = kept
}

// Events returns a copy of the whole log.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.events)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Subscribers returns the number of active registrations.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Store) deliver(sub Subscriber, batch []Event) {
	if err := receive(sub, batch); err != nil {
		attrs := []any{"err", err, "subscriber", fmt.Sprintf("%T", sub), "batch", len(batch)}
		if len(batch) > 0 {
			attrs = append(attrs, "first", batch[0].EventID, "last", batch[len(batch)-1].EventID)
		}
		s.logger.Warn("subscriber failed to receive batch", attrs...)
	}
}

func receive(sub Subscriber, batch []Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return sub.Receive(batch)
}
