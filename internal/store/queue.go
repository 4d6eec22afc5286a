package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default list names.
const (
	TransferList = "queue:transfer"
	DeadList     = "queue:transfer:dead"
)

// DefaultPollInterval is how often BlockingPop checks an empty list.
const DefaultPollInterval = 500 * time.Millisecond

const (
	sqlQueuePush = `INSERT INTO queue_items (list, payload, enqueued_at) VALUES (?, ?, ?)`

	// A single statement under SQLite's writer lock, so concurrent workers
	// never receive the same item.
	sqlQueuePop = `DELETE FROM queue_items
		WHERE id = (SELECT id FROM queue_items WHERE list = ? ORDER BY id LIMIT 1)
		RETURNING payload`

	sqlQueueLen    = `SELECT COUNT(*) FROM queue_items WHERE list = ?`
	sqlQueueRange  = `SELECT payload FROM queue_items WHERE list = ? ORDER BY id`
	sqlQueueClear  = `DELETE FROM queue_items WHERE list = ?`
	sqlQueueRemove = `DELETE FROM queue_items
		WHERE list = ? AND json_extract(payload, '$.media_id') = ?`
	sqlQueueHasMedia = `SELECT EXISTS (SELECT 1 FROM queue_items
		WHERE list = ? AND json_extract(payload, '$.media_id') = ?)`
)

// Queue is a set of named FIFO lists of JSON payloads.
type Queue struct {
	db           *sql.DB
	pollInterval time.Duration
	logger       *slog.Logger
	nowFunc      func() time.Time
}

// NewQueue creates a Queue sharing db. A non-positive pollInterval uses
// DefaultPollInterval.
func NewQueue(db *sql.DB, pollInterval time.Duration, logger *slog.Logger) *Queue {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Queue{db: db, pollInterval: pollInterval, logger: logger, nowFunc: time.Now}
}

// Push appends payload to the tail of list.
func (q *Queue) Push(ctx context.Context, list string, payload []byte) error {
	if _, err := q.db.ExecContext(ctx, sqlQueuePush, list, string(payload), q.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("store: pushing to %s: %w", list, err)
	}

	return nil
}

// Pop removes and returns the head of list. ok is false when the list is
// empty.
func (q *Queue) Pop(ctx context.Context, list string) (payload []byte, ok bool, err error) {
	var s string

	err = q.db.QueryRowContext(ctx, sqlQueuePop, list).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("store: popping from %s: %w", list, err)
	}

	return []byte(s), true, nil
}

// BlockingPop waits until list has an item, then removes and returns it.
// Returns the context error when ctx is canceled first.
func (q *Queue) BlockingPop(ctx context.Context, list string) ([]byte, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		payload, ok, err := q.Pop(ctx, list)
		if err != nil {
			return nil, err
		}

		if ok {
			return payload, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Len returns the number of items in list.
func (q *Queue) Len(ctx context.Context, list string) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, sqlQueueLen, list).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting %s: %w", list, err)
	}

	return n, nil
}

// Range returns every payload in list, head first, without removing them.
func (q *Queue) Range(ctx context.Context, list string) ([][]byte, error) {
	rows, err := q.db.QueryContext(ctx, sqlQueueRange, list)
	if err != nil {
		return nil, fmt.Errorf("store: reading %s: %w", list, err)
	}
	defer rows.Close()

	var out [][]byte

	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("store: scanning %s: %w", list, err)
		}

		out = append(out, []byte(s))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating %s: %w", list, err)
	}

	return out, nil
}

// ContainsMedia reports whether list holds a payload for mediaID.
func (q *Queue) ContainsMedia(ctx context.Context, list string, mediaID int64) (bool, error) {
	var found bool
	if err := q.db.QueryRowContext(ctx, sqlQueueHasMedia, list, mediaID).Scan(&found); err != nil {
		return false, fmt.Errorf("store: looking up media %d in %s: %w", mediaID, list, err)
	}

	return found, nil
}

// RemoveMedia deletes every payload in list whose media_id matches and
// returns how many were removed.
func (q *Queue) RemoveMedia(ctx context.Context, list string, mediaID int64) (int, error) {
	return q.deleteWhere(ctx, "removing media from "+list, sqlQueueRemove, list, mediaID)
}

// Clear empties list and returns how many items it held.
func (q *Queue) Clear(ctx context.Context, list string) (int, error) {
	return q.deleteWhere(ctx, "clearing "+list, sqlQueueClear, list)
}

func (q *Queue) deleteWhere(ctx context.Context, action, query string, args ...any) (int, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: %s: %w", action, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: %s: %w", action, err)
	}

	if n > 0 {
		q.logger.Debug("queue items deleted", slog.String("action", action), slog.Int64("count", n))
	}

	return int(n), nil
}
