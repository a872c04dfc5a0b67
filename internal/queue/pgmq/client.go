// Package pgmq implements the scrape message queue on top of the pgmq Postgres
// extension.
package pgmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/queue"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client talks to pgmq through a shared pgx pool. Subscribe and Shutdown
// come from the embedded queue.Subscriber.
type Client struct {
	*queue.Subscriber

	db     querier
	logger *zap.Logger
}

// New builds a Client. db is usually a *pgxpool.Pool.
func New(db querier, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pgmq")
	c := &Client{db: db, logger: logger}
	c.Subscriber = queue.NewSubscriber(c, logger)
	return c
}

// EnsureQueue creates the queue, treating an existing queue as success.
func (c *Client) EnsureQueue(ctx context.Context, name string) error {
	if _, err := c.db.Exec(ctx, `SELECT pgmq.create($1)`, name); err != nil {
		if isAlreadyExists(err) {
			c.logger.Debug("queue already exists", zap.String("queue", name))
			return nil
		}
		return fmt.Errorf("create queue %s: %w", name, err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "42P07" || pgErr.Code == "42710") {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already a member")
}

// Send enqueues payload (marshaled to JSON) and returns its message id.
func (c *Client) Send(ctx context.Context, name string, payload any, delay time.Duration) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	var id int64
	row := c.db.QueryRow(ctx, `SELECT * FROM pgmq.send($1::text, $2::jsonb, $3::integer)`,
		name, string(body), int(delay/time.Second))
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("send to %s: %w", name, err)
	}
	return id, nil
}

// SendBatch enqueues every payload in one round trip.
func (c *Client) SendBatch(ctx context.Context, name string, payloads []any, delay time.Duration) ([]int64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	bodies := make([]string, 0, len(payloads))
	for _, p := range payloads {
		body, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		bodies = append(bodies, string(body))
	}
	rows, err := c.db.Query(ctx, `SELECT * FROM pgmq.send_batch($1::text, $2::jsonb[], $3::integer)`,
		name, bodies, int(delay/time.Second))
	if err != nil {
		return nil, fmt.Errorf("send batch to %s: %w", name, err)
	}
	return collectIDs(rows)
}

// Read returns up to qty visible messages and hides them for vt.
func (c *Client) Read(ctx context.Context, name string, vt time.Duration, qty int) ([]queue.Message, error) {
	rows, err := c.db.Query(ctx,
		`SELECT msg_id, read_ct, enqueued_at, vt, message FROM pgmq.read($1::text, $2::integer, $3::integer)`,
		name, int(vt/time.Second), qty)
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", name, err)
	}
	defer rows.Close()

	var out []queue.Message
	for rows.Next() {
		var (
			m    queue.Message
			body []byte
		)
		if err := rows.Scan(&m.ID, &m.ReadCount, &m.EnqueuedAt, &m.VisibleAt, &body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Body = body
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Delete removes a message and reports whether it existed.
func (c *Client) Delete(ctx context.Context, name string, id int64) (bool, error) {
	var deleted bool
	if err := c.db.QueryRow(ctx, `SELECT pgmq.delete($1::text, $2::bigint)`, name, id).Scan(&deleted); err != nil {
		return false, fmt.Errorf("delete message %d from %s: %w", id, name, err)
	}
	return deleted, nil
}

// DeleteBatch removes several messages and returns the ids that were deleted.
func (c *Client) DeleteBatch(ctx context.Context, name string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.db.Query(ctx, `SELECT * FROM pgmq.delete($1::text, $2::bigint[])`, name, ids)
	if err != nil {
		return nil, fmt.Errorf("delete batch from %s: %w", name, err)
	}
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message ids: %w", err)
	}
	return ids, nil
}
