// Package memory provides an in-process queue with pgmq visibility semantics
// for local development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/queue"
)

// Queue stores messages per named queue. Read hides messages until their
// visibility deadline, and undeleted messages reappear after it.
type Queue struct {
	*queue.Subscriber

	mu     sync.Mutex
	now    func() time.Time
	nextID int64
	queues map[string]map[int64]*queue.Message
}

// NewQueue constructs an empty queue set.
func NewQueue(logger *zap.Logger) *Queue {
	q := &Queue{
		now:    time.Now,
		queues: make(map[string]map[int64]*queue.Message),
	}
	q.Subscriber = queue.NewSubscriber(q, logger)
	return q
}

// EnsureQueue creates name if missing.
func (q *Queue) EnsureQueue(_ context.Context, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queues[name]; !ok {
		q.queues[name] = make(map[int64]*queue.Message)
	}
	return nil
}

// Send enqueues payload, visible after delay.
func (q *Queue) Send(ctx context.Context, name string, payload any, delay time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("enqueue canceled: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs, ok := q.queues[name]
	if !ok {
		return 0, fmt.Errorf("queue %s does not exist", name)
	}
	q.nextID++
	now := q.now()
	msgs[q.nextID] = &queue.Message{
		ID:         q.nextID,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
		Body:       body,
	}
	return q.nextID, nil
}

// Read returns up to qty visible messages in id order and hides them for vt.
func (q *Queue) Read(ctx context.Context, name string, vt time.Duration, qty int) ([]queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dequeue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs, ok := q.queues[name]
	if !ok {
		return nil, fmt.Errorf("queue %s does not exist", name)
	}
	now := q.now()
	ids := make([]int64, 0, len(msgs))
	for id, m := range msgs {
		if !m.VisibleAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > qty {
		ids = ids[:qty]
	}
	out := make([]queue.Message, 0, len(ids))
	for _, id := range ids {
		m := msgs[id]
		m.ReadCount++
		m.VisibleAt = now.Add(vt)
		out = append(out, *m)
	}
	return out, nil
}

// Delete removes a message and reports whether it existed.
func (q *Queue) Delete(_ context.Context, name string, id int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs, ok := q.queues[name]
	if !ok {
		return false, fmt.Errorf("queue %s does not exist", name)
	}
	if _, ok := msgs[id]; !ok {
		return false, nil
	}
	delete(msgs, id)
	return true, nil
}

// Len reports how many messages, visible or not, remain in name.
func (q *Queue) Len(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[name])
}
