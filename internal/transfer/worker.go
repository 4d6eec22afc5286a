// Package transfer runs queued share-to-drive copy jobs.
//
// Each job drives one media record through pending → processing →
// completed|failed. The dequeue loop then routes the failed job: network
// failures go back to the tail of the queue until the retry budget is
// spent, auth failures and anything unexpected go straight to the
// dead-letter list, and malformed jobs are dropped.
//
// The "already processing" guard is a plain read followed by a write, not a
// compare-and-swap. Two workers handed the same job at the same moment can
// both pass it; the remote save tolerates the duplicate.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/quark-mirror/internal/classify"
	"github.com/tonimelisma/quark-mirror/internal/metrics"
	"github.com/tonimelisma/quark-mirror/internal/quark"
	"github.com/tonimelisma/quark-mirror/internal/store"
)

// Defaults for Config zero values.
const (
	DefaultMaxRetries   = 3
	DefaultYield        = 100 * time.Millisecond
	DefaultLoopBackoff  = time.Second
	invalidationRootDir = "/"
)

// Gateway is the slice of the remote drive client a job needs.
type Gateway interface {
	ShareToken(ctx context.Context, shareURL string) (*quark.ShareContext, error)
	ResolveOrCreateDirectoryPath(ctx context.Context, p string) (string, error)
	SaveShareItem(ctx context.Context, req quark.SaveRequest) (bool, error)
}

// Records reads and updates the media record a job belongs to.
type Records interface {
	Get(ctx context.Context, id int64) (*store.Media, error)
	MarkProcessing(ctx context.Context, id int64, taskID string, retryCount int) error
	MarkCompleted(ctx context.Context, id int64, physicalPath string) error
	MarkFailed(ctx context.Context, id int64, message string) error
}

// Queue is the durable job list.
type Queue interface {
	Push(ctx context.Context, list string, payload []byte) error
	BlockingPop(ctx context.Context, list string) ([]byte, error)
}

// Credential reports and refreshes the session cookie's validity.
type Credential interface {
	NeedsValidation() bool
	Validate(ctx context.Context) bool
	Refresh(ctx context.Context) bool
}

// Notifier is told when the mirrored tree changes.
type Notifier interface {
	Notify(ctx context.Context, path string) error
}

// Classifier maps a title and file name to a destination directory.
type Classifier interface {
	Classify(title, filename string) (string, classify.Category)
}

// DirCache remembers resolved destination directories.
type DirCache interface {
	Get(p string) (string, bool)
	Put(p, id string)
}

// Config tunes queue names and retry behavior.
type Config struct {
	QueueList  string
	DeadList   string
	MaxRetries int
	// Yield is the pause between consecutive jobs.
	Yield time.Duration
	// LoopBackoff is the pause after the queue itself fails.
	LoopBackoff time.Duration
}

// Deps are the collaborators a Worker drives. Notifier and Metrics may be nil.
type Deps struct {
	Gateway    Gateway
	Records    Records
	Queue      Queue
	Credential Credential
	Notifier   Notifier
	Classifier Classifier
	DirCache   DirCache
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Outcome is what happened to a single job.
type Outcome string

// Job outcomes reported by Process.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Worker executes transfer jobs one at a time.
type Worker struct {
	cfg Config
	Deps

	inFlight atomic.Int64 // media id of the running job, 0 when idle

	sleepFunc func(ctx context.Context, d time.Duration) error // injectable for tests
}

// NewWorker creates a Worker. Zero Config fields take their defaults.
func NewWorker(cfg Config, deps Deps) *Worker {
	if cfg.QueueList == "" {
		cfg.QueueList = store.TransferList
	}

	if cfg.DeadList == "" {
		cfg.DeadList = store.DeadList
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	if cfg.Yield <= 0 {
		cfg.Yield = DefaultYield
	}

	if cfg.LoopBackoff <= 0 {
		cfg.LoopBackoff = DefaultLoopBackoff
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Worker{cfg: cfg, Deps: deps, sleepFunc: timeSleep}
}

// Run validates the credential when due, processes the next job, and
// yields, until ctx is canceled. A job already started runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	w.Logger.Info("transfer worker started",
		slog.String("queue", w.cfg.QueueList),
		slog.String("dead_queue", w.cfg.DeadList),
		slog.Int("max_retries", w.cfg.MaxRetries),
	)

	for {
		if ctx.Err() != nil {
			w.Logger.Info("transfer worker stopped")
			return nil
		}

		w.checkCredential(ctx)

		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				w.Logger.Info("transfer worker stopped")
				return nil
			}

			w.Logger.Error("worker loop error", slog.String("error", err.Error()))

			if w.sleepFunc(ctx, w.cfg.LoopBackoff) != nil {
				return nil
			}

			continue
		}

		if w.sleepFunc(ctx, w.cfg.Yield) != nil {
			w.Logger.Info("transfer worker stopped")
			return nil
		}
	}
}

func (w *Worker) checkCredential(ctx context.Context) {
	if w.Credential == nil || !w.Credential.NeedsValidation() {
		return
	}

	valid := w.Credential.Validate(ctx)
	w.Metrics.SetCredentialValid(valid)

	if !valid {
		w.Logger.Error("cookie validation failed, worker will continue but may fail on API calls")
	}
}

// ProcessNext blocks for one job, runs it, and routes it by outcome. The
// returned error is only for queue failures; job failures are routed, not
// returned.
func (w *Worker) ProcessNext(ctx context.Context) error {
	payload, err := w.Queue.BlockingPop(ctx, w.cfg.QueueList)
	if err != nil {
		return fmt.Errorf("transfer: popping %s: %w", w.cfg.QueueList, err)
	}

	// Cancellation is a hard stop between jobs, never inside one.
	jobCtx := context.WithoutCancel(ctx)

	job, err := DecodeJob(payload)
	if err == nil {
		w.inFlight.Store(job.MediaID)
		defer w.inFlight.Store(0)

		var outcome Outcome

		outcome, err = w.safeProcess(jobCtx, job)
		if err == nil {
			w.Metrics.JobDone(string(outcome))
			return nil
		}
	}

	return w.route(jobCtx, job, payload, err)
}

// InFlight returns the media id of the job being processed, if any.
func (w *Worker) InFlight() (int64, bool) {
	id := w.inFlight.Load()
	return id, id != 0
}

// safeProcess wraps Process with panic recovery so a single job panic
// doesn't stop the worker.
func (w *Worker) safeProcess(ctx context.Context, job Job) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.Logger.Error("transfer: panic in job",
				slog.Int64("media_id", job.MediaID),
				slog.Any("panic", r),
			)

			outcome, err = OutcomeFailed, fmt.Errorf("panic: %v", r)

			if job.MediaID > 0 {
				// The record may have been left in processing.
				w.fail(ctx, w.Logger.With(slog.Int64("media_id", job.MediaID)), job.MediaID, err)
			}
		}
	}()

	return w.Process(ctx, job)
}

// route applies the retry and dead-letter policy to a failed job.
func (w *Worker) route(ctx context.Context, job Job, payload []byte, jobErr error) error {
	class := classOf(jobErr)
	attrs := []any{
		slog.Int64("media_id", job.MediaID),
		slog.String("class", class.String()),
		slog.String("error", jobErr.Error()),
	}

	switch class {
	case classValidation:
		w.Logger.Warn("invalid task payload, dropping", attrs...)
		w.Metrics.JobDone(metrics.OutcomeDropped)

		return nil

	case classNetwork:
		if job.RetryCount >= w.cfg.MaxRetries {
			w.Logger.Error("task moved to dead queue after retries",
				append(attrs, slog.Int("retries", job.RetryCount))...)

			break
		}

		if err := w.requeue(ctx, job); err != nil {
			// The popped payload must land somewhere.
			w.Logger.Error("requeue failed, moving task to dead queue",
				append(attrs, slog.String("requeue_error", err.Error()))...)

			break
		}

		w.Logger.Warn("task queued for retry",
			append(attrs, slog.Int("retry", job.RetryCount+1), slog.Int("max_retries", w.cfg.MaxRetries))...)
		w.Metrics.Requeued()
		w.Metrics.JobDone(metrics.OutcomeRequeued)

		return nil

	case classAuth:
		w.Logger.Error("authentication error, task moved to dead queue", attrs...)

	default:
		w.Logger.Error("task failed, moved to dead queue", attrs...)
	}

	if err := w.Queue.Push(ctx, w.cfg.DeadList, payload); err != nil {
		return fmt.Errorf("transfer: dead-lettering media %d: %w", job.MediaID, err)
	}

	w.Metrics.DeadLettered(class.String())
	w.Metrics.JobDone(metrics.OutcomeDead)

	if class == classAuth && w.Credential != nil {
		w.Metrics.SetCredentialValid(w.Credential.Refresh(ctx))
	}

	return nil
}

// requeue pushes job to the tail of the active queue with its retry count
// incremented.
func (w *Worker) requeue(ctx context.Context, job Job) error {
	job.RetryCount++

	next, err := job.Encode()
	if err != nil {
		return err
	}

	if err := w.Queue.Push(ctx, w.cfg.QueueList, next); err != nil {
		return fmt.Errorf("transfer: requeueing media %d: %w", job.MediaID, err)
	}

	return nil
}

// Process runs one job against its media record. On failure the record is
// marked failed with a message tagged by error class, and the error is
// returned for routing.
func (w *Worker) Process(ctx context.Context, job Job) (Outcome, error) {
	if job.MediaID <= 0 {
		return OutcomeFailed, &ValidationError{Reason: "missing media_id"}
	}

	m, err := w.Records.Get(ctx, job.MediaID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeFailed, &ValidationError{Reason: fmt.Sprintf("media %d not found", job.MediaID)}
	}

	if err != nil {
		return OutcomeFailed, err
	}

	logger := w.Logger.With(slog.Int64("media_id", m.ID))

	if m.IsArchived {
		logger.Info("media already archived, skipping")
		return OutcomeSkipped, nil
	}

	if m.TaskStatus == store.StatusProcessing {
		logger.Info("media already processing, skipping")
		return OutcomeSkipped, nil
	}

	in := mergeJob(job, m)

	if in.ShareURL == "" || in.ShareFIDToken == "" {
		return OutcomeFailed, w.fail(ctx, logger, m.ID,
			&ValidationError{Reason: "missing share_url or share_fid_token"})
	}

	if err := w.Records.MarkProcessing(ctx, m.ID, job.TaskID, job.RetryCount); err != nil {
		return OutcomeFailed, err
	}

	logger.Info("processing media",
		slog.Int("retry", job.RetryCount),
		slog.Int("max_retries", w.cfg.MaxRetries),
	)

	physical, err := w.transfer(ctx, logger, m, in)
	if err != nil {
		return OutcomeFailed, w.fail(ctx, logger, m.ID, err)
	}

	if err := w.Records.MarkCompleted(ctx, m.ID, physical); err != nil {
		return OutcomeFailed, w.fail(ctx, logger, m.ID, err)
	}

	logger.Info("media archived", slog.String("physical_path", physical))

	return OutcomeCompleted, nil
}

// mergeJob fills fields missing from the payload from the record.
func mergeJob(job Job, m *store.Media) Job {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}

		return b
	}

	job.ShareURL = pick(job.ShareURL, m.ShareURL)
	job.ShareFIDToken = pick(job.ShareFIDToken, m.ShareFIDToken)
	job.OriginalFID = pick(job.OriginalFID, m.OriginalFID)
	job.VirtualPath = pick(job.VirtualPath, m.VirtualPath)

	return job
}

// transfer performs the remote side of a job and returns the physical path
// of the saved file.
func (w *Worker) transfer(ctx context.Context, logger *slog.Logger, m *store.Media, job Job) (string, error) {
	fileName := ""
	if job.VirtualPath != "" {
		fileName = path.Base(job.VirtualPath)
	}

	sc, err := w.Gateway.ShareToken(ctx, job.ShareURL)
	if err != nil {
		return "", err
	}

	dest, category := w.Classifier.Classify(m.Title, fileName)
	logger.Info("destination resolved", slog.String("path", dest), slog.String("category", string(category)))

	dirID, err := w.destinationDir(ctx, dest)
	if err != nil {
		return "", err
	}

	saved, err := w.Gateway.SaveShareItem(ctx, quark.SaveRequest{
		SaveToken:        job.ShareFIDToken,
		SessionToken:     sc.SessionToken,
		DestinationDirID: dirID,
		ShareURL:         job.ShareURL,
		SourceFID:        job.OriginalFID,
	})
	if err != nil {
		return "", err
	}

	if !saved {
		return "", &quark.Error{Op: "save share item", Message: "save returned no success", Err: quark.ErrAPI}
	}

	if w.Notifier != nil {
		if err := w.Notifier.Notify(ctx, invalidationRootDir); err != nil {
			logger.Warn("cache invalidation failed", slog.String("error", err.Error()))
		}
	}

	if fileName == "" {
		return dest, nil
	}

	return strings.TrimRight(dest, "/") + "/" + fileName, nil
}

func (w *Worker) destinationDir(ctx context.Context, dest string) (string, error) {
	if id, ok := w.DirCache.Get(dest); ok {
		w.Metrics.DirCacheLookup(true)
		return id, nil
	}

	w.Metrics.DirCacheLookup(false)

	id, err := w.Gateway.ResolveOrCreateDirectoryPath(ctx, dest)
	if err != nil {
		return "", err
	}

	w.DirCache.Put(dest, id)

	return id, nil
}

// fail persists the failure on the record and returns err unchanged.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, id int64, err error) error {
	class := classOf(err)

	if markErr := w.Records.MarkFailed(ctx, id, class.message(err)); markErr != nil {
		logger.Error("recording failure", slog.String("error", markErr.Error()))
	}

	logger.Warn("transfer failed", slog.String("class", class.String()), slog.String("error", err.Error()))

	return err
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
