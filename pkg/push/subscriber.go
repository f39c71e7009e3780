// Package push connects an event log to long lived client connections. Each delivered batch is
// written as one JSON array of events.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/astromechza/discussion-experiments/pkg/eventlog"
)

// DefaultQueueSize is the number of batches buffered per connection before it is dropped.
const DefaultQueueSize = 64

var ErrSlowConsumer = errors.New("connection queue is full")

// Log is the part of the event store a push connection needs.
type Log interface {
	Subscribe(eventlog.Subscriber)
	Unsubscribe(eventlog.Subscriber)
}

// conn is the store subscriber for one client connection. Receive never blocks: a full queue
// stops the connection instead.
type conn struct {
	id   uuid.UUID
	send chan []byte
	done chan struct{}
	once sync.Once
	err  error // set once done is closed
}

func newConn(queueSize int) *conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &conn{
		id:   uuid.New(),
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

func (c *conn) Receive(batch []eventlog.Event) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	raw, err := json.Marshal(batch)
	if err != nil {
		err = fmt.Errorf("failed to marshal batch for %s: %w", c.id, err)
		c.stop(err)
		return err
	}
	select {
	case c.send <- raw:
		return nil
	default:
		err := fmt.Errorf("%s: %w", c.id, ErrSlowConsumer)
		c.stop(err)
		return err
	}
}

// stop ends the connection, recording why. Only the first reason is kept.
func (c *conn) stop(reason error) {
	c.once.Do(func() {
		c.err = reason
		close(c.done)
	})
}

// reason must only be read after done is closed.
func (c *conn) reason() error {
	return c.err
}

// DecodeBatch parses one pushed message.
func DecodeBatch(raw []byte) ([]eventlog.Event, error) {
	var batch []eventlog.Event
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return batch, nil
}
