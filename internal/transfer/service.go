package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tonimelisma/quark-mirror/internal/share"
	"github.com/tonimelisma/quark-mirror/internal/store"
)

// ErrArchived is returned when an operation would re-enqueue a media record
// that has already been transferred.
var ErrArchived = errors.New("transfer: media already archived")

// ServiceConfig names the queues and the layout of discovered records.
type ServiceConfig struct {
	QueueList string
	DeadList  string
	// VirtualRoot is the logical root for discovered files.
	VirtualRoot string
	// LargeFileBytes makes non-video files at least this big storable.
	LargeFileBytes int64
}

// Service is the operator-facing side of the pipeline: recording discovered
// files, enqueueing them, and inspecting or repairing the queues.
type Service struct {
	cfg     ServiceConfig
	records *store.MediaStore
	queue   *store.Queue
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewService creates a Service. Zero config fields take their defaults.
func NewService(cfg ServiceConfig, records *store.MediaStore, queue *store.Queue, logger *slog.Logger) *Service {
	if cfg.QueueList == "" {
		cfg.QueueList = store.TransferList
	}

	if cfg.DeadList == "" {
		cfg.DeadList = store.DeadList
	}

	if cfg.VirtualRoot == "" {
		cfg.VirtualRoot = share.DefaultVirtualRoot
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{cfg: cfg, records: records, queue: queue, logger: logger, nowFunc: time.Now}
}

// Discovery summarizes how a resolved share was recorded.
type Discovery struct {
	Title    string  `json:"title"`
	Total    int     `json:"total_count"`
	Storable int     `json:"storable_count"`
	MediaIDs []int64 `json:"media_ids"`
}

// RecordShare stores a media record for every storable node of a resolved
// share. Existing records at the same virtual path get fresh share
// coordinates and keep their transfer state.
func (s *Service) RecordShare(ctx context.Context, shareURL string, nodes []share.FileNode) (*Discovery, error) {
	d := &Discovery{Title: share.Title(nodes, shareURL), Total: len(nodes)}

	for i := range nodes {
		n := &nodes[i]
		if !share.IsStorable(*n, s.cfg.LargeFileBytes) {
			continue
		}

		id, err := s.records.UpsertDiscovered(ctx, store.Discovered{
			Title:         d.Title,
			ShareURL:      shareURL,
			OriginalFID:   n.RemoteID,
			ShareFIDToken: n.SaveToken,
			VirtualPath:   share.VirtualPath(s.cfg.VirtualRoot, d.Title, n.Name),
		})
		if err != nil {
			return nil, err
		}

		d.Storable++
		d.MediaIDs = append(d.MediaIDs, id)
	}

	s.logger.Info("share recorded",
		slog.String("title", d.Title),
		slog.Int("nodes", d.Total),
		slog.Int("storable", d.Storable),
	)

	return d, nil
}

// Provision enqueues a transfer for a media record. Archived and
// in-progress records, and pending records whose job is still queued, are
// returned unchanged without enqueueing.
func (s *Service) Provision(ctx context.Context, id int64) (*store.Media, bool, error) {
	m, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	skip := m.IsArchived || m.TaskStatus == store.StatusProcessing

	if !skip && m.TaskStatus == store.StatusPending {
		skip, err = s.queue.ContainsMedia(ctx, s.cfg.QueueList, id)
		if err != nil {
			return nil, false, err
		}
	}

	if skip {
		s.logger.Info("provision skipped",
			slog.Int64("media_id", id),
			slog.String("status", string(m.TaskStatus)),
		)

		return m, false, nil
	}

	m, err = s.resetAndEnqueue(ctx, m, "")
	if err != nil {
		return nil, false, err
	}

	return m, true, nil
}

// Retry resets a record's retry budget and error and enqueues it again.
func (s *Service) Retry(ctx context.Context, id int64) (*store.Media, error) {
	m, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if m.IsArchived {
		return m, fmt.Errorf("transfer: retrying media %d: %w", id, ErrArchived)
	}

	return s.resetAndEnqueue(ctx, m, "")
}

// Reset returns a record to pending without enqueueing it. It recovers
// records left in processing by a worker that died mid-job.
func (s *Service) Reset(ctx context.Context, id int64) (*store.Media, error) {
	if err := s.records.ResetPending(ctx, id, ""); err != nil {
		m, getErr := s.records.Get(ctx, id)
		if getErr == nil && m.IsArchived {
			return m, fmt.Errorf("transfer: resetting media %d: %w", id, ErrArchived)
		}

		return nil, err
	}

	return s.records.Get(ctx, id)
}

// RequeueDead removes a record's entries from the dead-letter list and
// enqueues it again with a fresh retry budget.
func (s *Service) RequeueDead(ctx context.Context, id int64) (*store.Media, error) {
	removed, err := s.queue.RemoveMedia(ctx, s.cfg.DeadList, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("dead-letter entries removed", slog.Int64("media_id", id), slog.Int("count", removed))

	return s.Retry(ctx, id)
}

func (s *Service) resetAndEnqueue(ctx context.Context, m *store.Media, taskID string) (*store.Media, error) {
	if taskID == "" {
		taskID = m.TaskID
	}

	if taskID == "" {
		taskID = NewTaskID()
	}

	if err := s.records.ResetPending(ctx, m.ID, taskID); err != nil {
		return nil, err
	}

	job := Job{
		TaskID:        taskID,
		MediaID:       m.ID,
		ShareURL:      m.ShareURL,
		ShareFIDToken: m.ShareFIDToken,
		OriginalFID:   m.OriginalFID,
		VirtualPath:   m.VirtualPath,
		EnqueuedAt:    s.nowFunc().UTC(),
	}

	payload, err := job.Encode()
	if err == nil {
		err = s.queue.Push(ctx, s.cfg.QueueList, payload)
	}

	if err != nil {
		if markErr := s.records.MarkFailed(ctx, m.ID, "Failed to enqueue: "+err.Error()); markErr != nil {
			s.logger.Error("recording enqueue failure", slog.String("error", markErr.Error()))
		}

		return nil, fmt.Errorf("transfer: enqueueing media %d: %w", m.ID, err)
	}

	s.logger.Info("transfer enqueued", slog.Int64("media_id", m.ID), slog.String("task_id", taskID))

	return s.records.Get(ctx, m.ID)
}

// Lookup finds a record by numeric media id or by task id.
func (s *Service) Lookup(ctx context.Context, ref string) (*store.Media, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.records.Get(ctx, id)
	}

	return s.records.GetByTaskID(ctx, ref)
}

// ListDead returns the dead-letter jobs, head first. Entries that are not
// valid JSON are skipped with a warning.
func (s *Service) ListDead(ctx context.Context) ([]Job, error) {
	raw, err := s.queue.Range(ctx, s.cfg.DeadList)
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(raw))

	for _, p := range raw {
		var j Job
		if err := json.Unmarshal(p, &j); err != nil {
			s.logger.Warn("unreadable dead-letter entry", slog.String("error", err.Error()))
			continue
		}

		jobs = append(jobs, j)
	}

	return jobs, nil
}

// ClearDead empties the dead-letter list and returns how many jobs it held.
func (s *Service) ClearDead(ctx context.Context) (int, error) {
	return s.queue.Clear(ctx, s.cfg.DeadList)
}

// Stats is a snapshot of record states and queue depths.
type Stats struct {
	ByStatus      map[store.Status]int `json:"by_status"`
	QueueSize     int                  `json:"queue_size"`
	DeadQueueSize int                  `json:"dead_queue_size"`
}

// Stats counts records by status and measures both queues.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	by, err := s.records.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	queued, err := s.queue.Len(ctx, s.cfg.QueueList)
	if err != nil {
		return nil, err
	}

	dead, err := s.queue.Len(ctx, s.cfg.DeadList)
	if err != nil {
		return nil, err
	}

	return &Stats{ByStatus: by, QueueSize: queued, DeadQueueSize: dead}, nil
}

// Progress is a coarse completion fraction for a status.
func Progress(st store.Status) float64 {
	switch st {
	case store.StatusPending:
		return 0.1
	case store.StatusProcessing:
		return 0.5
	case store.StatusCompleted:
		return 1
	default:
		return 0
	}
}
