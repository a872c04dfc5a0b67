// Package queue defines the message types and the polling subscriber shared by
// the pgmq and in-memory queue backends.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message is one delivery of a queued payload.
type Message struct {
	ID         int64
	ReadCount  int64
	EnqueuedAt time.Time
	VisibleAt  time.Time
	Body       json.RawMessage
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode message %d: %w", m.ID, err)
	}
	return nil
}

// Result tells the subscriber what to do with a handled message.
type Result int

const (
	// Ack deletes the message.
	Ack Result = iota
	// Retry leaves the message to reappear after its visibility timeout.
	Retry
)

func (r Result) String() string {
	switch r {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Handler processes one message. The returned error is logged only; the
// Result alone decides whether the message is deleted.
type Handler func(ctx context.Context, msg Message) (Result, error)

// Source is the minimal queue surface the subscriber polls.
type Source interface {
	Read(ctx context.Context, queue string, vt time.Duration, qty int) ([]Message, error)
	Delete(ctx context.Context, queue string, id int64) (bool, error)
}

// Options tunes a subscription.
type Options struct {
	PollInterval      time.Duration
	BatchSize         int
	VisibilityTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30 * time.Second
	}
	return o
}
