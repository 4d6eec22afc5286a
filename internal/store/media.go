package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Status is the transfer state of a media record.
type Status string

// Transfer states. failed returns to pending only through an explicit retry.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// Media is one file discovered in a share and its transfer state. An
// archived record is always completed with a physical path.
type Media struct {
	ID            int64     `json:"id"`
	TMDBID        int64     `json:"tmdb_id"`
	Title         string    `json:"title"`
	ShareURL      string    `json:"share_url"`
	OriginalFID   string    `json:"original_fid"`
	ShareFIDToken string    `json:"share_fid_token"`
	VirtualPath   string    `json:"virtual_path"`
	PhysicalPath  string    `json:"physical_path,omitempty"`
	TaskStatus    Status    `json:"task_status"`
	TaskID        string    `json:"task_id,omitempty"`
	RetryCount    int       `json:"retry_count"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	LastRetryAt   time.Time `json:"last_retry_at,omitzero"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	IsArchived    bool      `json:"is_archived"`
}

// Discovered describes a storable file found while resolving a share.
type Discovered struct {
	Title         string
	ShareURL      string
	OriginalFID   string
	ShareFIDToken string
	VirtualPath   string
}

const mediaColumns = `id, tmdb_id, title, share_url, original_fid, share_fid_token,
	virtual_path, physical_path, task_status, task_id, retry_count, error_message,
	last_retry_at, created_at, updated_at, is_archived`

const (
	sqlUpsertDiscovered = `INSERT INTO media
		(title, share_url, original_fid, share_fid_token, virtual_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(virtual_path) DO UPDATE SET
		 share_url = excluded.share_url,
		 original_fid = excluded.original_fid,
		 share_fid_token = excluded.share_fid_token,
		 updated_at = excluded.updated_at
		RETURNING id`

	sqlMarkProcessing = `UPDATE media SET task_status = 'processing', task_id = COALESCE(?, task_id),
		retry_count = ?, last_retry_at = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND is_archived = 0`

	sqlMarkCompleted = `UPDATE media SET task_status = 'completed', physical_path = ?,
		is_archived = 1, error_message = NULL, updated_at = ?
		WHERE id = ?`

	sqlMarkFailed = `UPDATE media SET task_status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND is_archived = 0`

	sqlResetPending = `UPDATE media SET task_status = 'pending', task_id = COALESCE(?, task_id), retry_count = 0,
		error_message = NULL, updated_at = ?
		WHERE id = ? AND is_archived = 0`

	sqlCountByStatus = `SELECT task_status, COUNT(*) FROM media GROUP BY task_status`
)

// MediaStore reads and updates media records. Every status change is a
// single UPDATE statement.
type MediaStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// NewMediaStore creates a MediaStore on a database opened with Open.
func NewMediaStore(db *sql.DB, logger *slog.Logger) *MediaStore {
	return &MediaStore{db: db, logger: logger, nowFunc: time.Now}
}

// Get returns the record with the given id.
func (s *MediaStore) Get(ctx context.Context, id int64) (*Media, error) {
	return s.queryOne(ctx, "id", id)
}

// GetByVirtualPath returns the record at a logical path.
func (s *MediaStore) GetByVirtualPath(ctx context.Context, virtualPath string) (*Media, error) {
	return s.queryOne(ctx, "virtual_path", virtualPath)
}

// GetByTaskID returns the record a transfer task belongs to.
func (s *MediaStore) GetByTaskID(ctx context.Context, taskID string) (*Media, error) {
	return s.queryOne(ctx, "task_id", taskID)
}

func (s *MediaStore) queryOne(ctx context.Context, column string, value any) (*Media, error) {
	//nolint:gosec // column is one of three fixed identifiers
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE `+column+` = ? ORDER BY updated_at DESC LIMIT 1`, value)

	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: media %s=%v: %w", column, value, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading media %s=%v: %w", column, value, err)
	}

	return m, nil
}

// List returns records ordered by most recent update, optionally filtered by
// status. A non-positive limit returns everything.
func (s *MediaStore) List(ctx context.Context, status Status, limit int) ([]Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media`
	args := []any{}

	if status != "" {
		query += ` WHERE task_status = ?`
		args = append(args, string(status))
	}

	query += ` ORDER BY updated_at DESC, id DESC`

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing media: %w", err)
	}
	defer rows.Close()

	var out []Media

	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning media: %w", err)
		}

		out = append(out, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating media rows: %w", err)
	}

	return out, nil
}

// UpsertDiscovered inserts a record for a discovered file, or refreshes the
// share coordinates of the record already at that virtual path. Transfer
// state is left untouched on update.
func (s *MediaStore) UpsertDiscovered(ctx context.Context, d Discovered) (int64, error) {
	now := s.nowFunc().UnixNano()

	var id int64
	if err := s.db.QueryRowContext(ctx, sqlUpsertDiscovered,
		d.Title, d.ShareURL, d.OriginalFID, d.ShareFIDToken, d.VirtualPath, now, now,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: upserting media %s: %w", d.VirtualPath, err)
	}

	return id, nil
}

// MarkProcessing moves a record into processing, stamping the task id, the
// delivery's retry count and the attempt time, and clearing any prior error.
func (s *MediaStore) MarkProcessing(ctx context.Context, id int64, taskID string, retryCount int) error {
	now := s.nowFunc().UnixNano()

	return s.exec(ctx, "marking processing", id, sqlMarkProcessing,
		nullString(taskID), retryCount, now, now, id)
}

// MarkCompleted archives a record at its physical path.
func (s *MediaStore) MarkCompleted(ctx context.Context, id int64, physicalPath string) error {
	return s.exec(ctx, "marking completed", id, sqlMarkCompleted,
		physicalPath, s.nowFunc().UnixNano(), id)
}

// MarkFailed records a failure message. Archived records are never failed.
func (s *MediaStore) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.exec(ctx, "marking failed", id, sqlMarkFailed,
		message, s.nowFunc().UnixNano(), id)
}

// ResetPending returns a record to pending with a fresh retry budget.
func (s *MediaStore) ResetPending(ctx context.Context, id int64, taskID string) error {
	return s.exec(ctx, "resetting", id, sqlResetPending,
		nullString(taskID), s.nowFunc().UnixNano(), id)
}

func (s *MediaStore) exec(ctx context.Context, action string, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: %s media %d: %w", action, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s media %d: %w", action, id, err)
	}

	if n == 0 {
		return fmt.Errorf("store: %s media %d: %w", action, id, ErrNotFound)
	}

	return nil
}

// CountByStatus returns the number of records in each state. Every state is
// present in the result, possibly with zero.
func (s *MediaStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, sqlCountByStatus)
	if err != nil {
		return nil, fmt.Errorf("store: counting media: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}

	for rows.Next() {
		var (
			st string
			n  int
		)

		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("store: scanning count: %w", err)
		}

		counts[Status(st)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating counts: %w", err)
	}

	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMedia(row scanner) (*Media, error) {
	var (
		m           Media
		status      string
		physical    sql.NullString
		taskID      sql.NullString
		errMsg      sql.NullString
		lastRetryAt sql.NullInt64
		createdAt   int64
		updatedAt   int64
		archived    int
	)

	if err := row.Scan(
		&m.ID, &m.TMDBID, &m.Title, &m.ShareURL, &m.OriginalFID, &m.ShareFIDToken,
		&m.VirtualPath, &physical, &status, &taskID, &m.RetryCount, &errMsg,
		&lastRetryAt, &createdAt, &updatedAt, &archived,
	); err != nil {
		return nil, err
	}

	m.TaskStatus = Status(status)
	m.PhysicalPath = physical.String
	m.TaskID = taskID.String
	m.ErrorMessage = errMsg.String
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.UpdatedAt = time.Unix(0, updatedAt).UTC()
	m.IsArchived = archived != 0

	if lastRetryAt.Valid {
		m.LastRetryAt = time.Unix(0, lastRetryAt.Int64).UTC()
	}

	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
