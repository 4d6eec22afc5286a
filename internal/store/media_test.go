package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMediaStore(t *testing.T) (*MediaStore, *time.Time) {
	t.Helper()

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	s := NewMediaStore(newTestDB(t), testLogger())
	s.nowFunc = func() time.Time { return now }

	return s, &now
}

func discovered(name string) Discovered {
	return Discovered{
		Title:         "Movie",
		ShareURL:      "https://pan.quark.cn/s/abc",
		OriginalFID:   "fid-" + name,
		ShareFIDToken: "tok-" + name,
		VirtualPath:   "/Movies/Movie/" + name,
	}
}

func TestMediaStore_UpsertDiscovered(t *testing.T) {
	s, _ := newTestMediaStore(t)
	ctx := context.Background()

	id, err := s.UpsertDiscovered(ctx, discovered("a.mkv"))
	require.NoError(t, err)

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, m.TaskStatus)
	assert.Equal(t, "fid-a.mkv", m.OriginalFID)
	assert.False(t, m.IsArchived)

	require.NoError(t, s.MarkFailed(ctx, id, "API error: boom"))

	d := discovered("a.mkv")
	d.ShareFIDToken = "tok-new"

	again, err := s.UpsertDiscovered(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	m, err = s.GetByVirtualPath(ctx, "/Movies/Movie/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", m.ShareFIDToken)
	assert.Equal(t, StatusFailed, m.TaskStatus, "upsert leaves transfer state alone")
}

func TestMediaStore_Lifecycle(t *testing.T) {
	s, now := newTestMediaStore(t)
	ctx := context.Background()

	id, err := s.UpsertDiscovered(ctx, discovered("a.mkv"))
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, id, "Network error: reset"))

	*now = now.Add(time.Minute)
	require.NoError(t, s.MarkProcessing(ctx, id, "task_0123456789ab", 2))

	m, err := s.GetByTaskID(ctx, "task_0123456789ab")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, m.TaskStatus)
	assert.Equal(t, 2, m.RetryCount)
	assert.Empty(t, m.ErrorMessage)
	assert.Equal(t, *now, m.LastRetryAt)

	require.NoError(t, s.MarkCompleted(ctx, id, "/QuarkMedia/movie/a.mkv"))

	m, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.IsArchived)
	assert.Equal(t, StatusCompleted, m.TaskStatus)
	assert.Equal(t, "/QuarkMedia/movie/a.mkv", m.PhysicalPath)

	// Archived records are frozen.
	assert.ErrorIs(t, s.MarkFailed(ctx, id, "late"), ErrNotFound)
	assert.ErrorIs(t, s.MarkProcessing(ctx, id, "", 0), ErrNotFound)
	assert.ErrorIs(t, s.ResetPending(ctx, id, ""), ErrNotFound)
}

func TestMediaStore_ResetPendingKeepsTaskID(t *testing.T) {
	s, _ := newTestMediaStore(t)
	ctx := context.Background()

	id, err := s.UpsertDiscovered(ctx, discovered("a.mkv"))
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessing(ctx, id, "task_1", 3))
	require.NoError(t, s.MarkFailed(ctx, id, "boom"))
	require.NoError(t, s.ResetPending(ctx, id, ""))

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, m.TaskStatus)
	assert.Equal(t, "task_1", m.TaskID)
	assert.Zero(t, m.RetryCount)
	assert.Empty(t, m.ErrorMessage)
}

func TestMediaStore_NotFound(t *testing.T) {
	s, _ := newTestMediaStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetByTaskID(ctx, "task_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.MarkCompleted(ctx, 42, "/x"), ErrNotFound)
}

func TestMediaStore_CountByStatusAndList(t *testing.T) {
	s, _ := newTestMediaStore(t)
	ctx := context.Background()

	a, err := s.UpsertDiscovered(ctx, discovered("a.mkv"))
	require.NoError(t, err)
	_, err = s.UpsertDiscovered(ctx, discovered("b.mkv"))
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, a, "boom"))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{
		StatusPending: 1, StatusProcessing: 0, StatusCompleted: 0, StatusFailed: 1,
	}, counts)

	failed, err := s.List(ctx, StatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a, failed[0].ID)

	all, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
