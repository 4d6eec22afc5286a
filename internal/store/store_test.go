package store

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDB opens a migrated database in a temp dir, registering cleanup
// with t.Cleanup.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(context.Background(), path, testLogger())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path, testLogger())
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestOpen_ArchivedRequiresCompletedAndPath(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Exec(`INSERT INTO media (title, share_url, virtual_path, created_at, updated_at, is_archived)
		VALUES ('t', 'u', '/Movies/t/a.mkv', 0, 0, 1)`)
	assert.Error(t, err)
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(newTestDB(t), time.Millisecond, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, TransferList, []byte(`{"media_id":1}`)))
	require.NoError(t, q.Push(ctx, TransferList, []byte(`{"media_id":2}`)))
	require.NoError(t, q.Push(ctx, DeadList, []byte(`{"media_id":3}`)))

	n, err := q.Len(ctx, TransferList)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok, err := q.Pop(ctx, TransferList)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"media_id":1}`, string(got))

	got, err = q.BlockingPop(ctx, TransferList)
	require.NoError(t, err)
	assert.JSONEq(t, `{"media_id":2}`, string(got))

	_, ok, err = q.Pop(ctx, TransferList)
	require.NoError(t, err)
	assert.False(t, ok)

	dead, err := q.Range(ctx, DeadList)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.JSONEq(t, `{"media_id":3}`, string(dead[0]))
}

func TestQueue_BlockingPopWaitsForPush(t *testing.T) {
	q := NewQueue(newTestDB(t), 5*time.Millisecond, testLogger())

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = q.Push(context.Background(), TransferList, []byte(`{"media_id":9}`))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := q.BlockingPop(ctx, TransferList)
	require.NoError(t, err)
	assert.JSONEq(t, `{"media_id":9}`, string(got))
}

func TestQueue_BlockingPopHonorsCancel(t *testing.T) {
	q := NewQueue(newTestDB(t), 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.BlockingPop(ctx, TransferList)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_RemoveMediaAndClear(t *testing.T) {
	q := NewQueue(newTestDB(t), time.Millisecond, testLogger())
	ctx := context.Background()

	for _, p := range []string{`{"media_id":1,"retry_count":3}`, `{"media_id":2}`, `{"media_id":1}`} {
		require.NoError(t, q.Push(ctx, DeadList, []byte(p)))
	}

	found, err := q.ContainsMedia(ctx, DeadList, 1)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = q.ContainsMedia(ctx, TransferList, 1)
	require.NoError(t, err)
	assert.False(t, found)

	n, err := q.RemoveMedia(ctx, DeadList, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	found, err = q.ContainsMedia(ctx, DeadList, 1)
	require.NoError(t, err)
	assert.False(t, found)

	n, err = q.Clear(ctx, DeadList)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.Len(ctx, DeadList)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_PopIsExclusive(t *testing.T) {
	q := NewQueue(newTestDB(t), time.Millisecond, testLogger())
	ctx := context.Background()

	const total = 50
	for range total {
		require.NoError(t, q.Push(ctx, TransferList, []byte(`{}`)))
	}

	results := make(chan int, 4)

	for range 4 {
		go func() {
			n := 0

			for {
				_, ok, err := q.Pop(ctx, TransferList)
				if err != nil || !ok {
					results <- n
					return
				}

				n++
			}
		}()
	}

	sum := 0
	for range 4 {
		sum += <-results
	}

	assert.Equal(t, total, sum)
}
