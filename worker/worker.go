// Package worker implements the single upload-processing procedure the
// scheduler's worker fiber runs once per dequeued task: validate, stat,
// open, PUT with retry and cancellation, then drive confirmation.
// Grounded on the upload-worker-pool's retry/backoff/atomic-counter shape,
// generalized from a fixed worker pool to the single supervised worker this
// engine runs.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"

	"uploadengine/clientpool"
	"uploadengine/codec"
	"uploadengine/confirmsink"
	"uploadengine/config"
	"uploadengine/enginerrors"
	"uploadengine/objectkey"
	"uploadengine/tracker"
)

// Task is the queued unit of work; everything the worker needs to drive one
// upload through to completion, independent of whatever the tracker already
// knows about the record.
type Task struct {
	UploadID  string
	Region    string
	Bucket    string
	Key       string
	LocalPath string
	TenantID  string
}

// linearBackOff grows by backoff's fixed unit on every call, satisfying
// backoff.BackOff so the retry loop can reuse the library's interface
// without adopting its exponential defaults — this codebase's retry shape
// is linear (2*k seconds), which backoff/v4 has no built-in policy for.
type linearBackOff struct {
	unit    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.unit * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

var _ backoff.BackOff = (*linearBackOff)(nil)

// Worker runs the per-task procedure on the scheduler's single worker
// fiber. It is not itself concurrency-safe to call Process from more than
// one goroutine at a time — the scheduler guarantees single-threaded use.
type Worker struct {
	tracker     *tracker.Tracker
	pool        *clientpool.Pool
	sink        confirmsink.Sink
	cfg         *config.Config
	logger      *slog.Logger
	initialized func() bool
}

func New(tr *tracker.Tracker, pool *clientpool.Pool, sink confirmsink.Sink, cfg *config.Config, logger *slog.Logger, initialized func() bool) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		tracker:     tr,
		pool:        pool,
		sink:        sink,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "worker")),
		initialized: initialized,
	}
}

// Process runs the complete upload procedure for one task. It never
// returns an error to the caller: every failure mode is recorded on the
// tracked record instead, per the boundary propagation policy.
func (w *Worker) Process(ctx context.Context, task Task) {
	record := w.tracker.Get(task.UploadID)
	if record == nil {
		w.logger.Warn("dropping task for unknown upload id", slog.String("upload_id", task.UploadID))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.tracker.UpdateStatus(task.UploadID, codec.UploadFailed,
				enginerrors.ErrUploadException(fmt.Errorf("%v", r)).Message)
		}
	}()

	record.SetStartTime(time.Now())
	w.tracker.UpdateStatus(task.UploadID, codec.Uploading, "")

	if record.ShouldCancel() {
		w.tracker.UpdateStatus(task.UploadID, codec.Cancelled, "")
		return
	}

	if task.Region == "" || task.Bucket == "" || task.Key == "" || task.LocalPath == "" || task.TenantID == "" {
		w.fail(task.UploadID, enginerrors.ErrInvalidParameters())
		return
	}

	if w.initialized != nil && !w.initialized() {
		w.fail(task.UploadID, enginerrors.ErrNotInitialized())
		return
	}

	info, err := os.Stat(task.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			w.fail(task.UploadID, enginerrors.ErrLocalFileMissing(task.LocalPath))
		} else {
			w.fail(task.UploadID, enginerrors.ErrCannotReadFileSize(task.LocalPath, err))
		}
		return
	}
	record.SetTotalSize(info.Size())

	if record.ShouldCancel() {
		w.tracker.UpdateStatus(task.UploadID, codec.Cancelled, "")
		return
	}

	handle := w.pool.RefreshingHandle(task.TenantID)

	file, err := os.Open(task.LocalPath)
	if err != nil {
		w.fail(task.UploadID, enginerrors.ErrCannotOpenFile(task.LocalPath, err))
		return
	}
	defer file.Close()

	succeeded, lastErr := w.retryingPut(ctx, record, handle, task, file, info.Size())
	if !succeeded {
		if record.Status() != codec.Cancelled {
			w.tracker.UpdateStatus(task.UploadID, codec.UploadFailed, lastErr)
		}
		return
	}

	record.SetEndTime(time.Now())
	w.tracker.UpdateStatus(task.UploadID, codec.UploadSuccess, "")

	w.driveConfirmation(ctx, record, task.TenantID)
}

// retryingPut runs the bounded retry loop described in the worker
// procedure: up to MaxUploadRetries+1 attempts, a cancellation checkpoint
// before each, and a linear sleep between attempts after the first.
func (w *Worker) retryingPut(ctx context.Context, record *tracker.Record, handle clientpool.RefreshingHandle, task Task, file *os.File, size int64) (bool, string) {
	maxAttempts := w.cfg.MaxUploadRetries + 1
	wait := &linearBackOff{unit: w.cfg.RetryBackoffUnit}
	var lastMessage string

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if record.ShouldCancel() {
			w.tracker.UpdateStatus(task.UploadID, codec.Cancelled, "")
			return false, ""
		}

		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, "upload cancelled during backoff"
			case <-time.After(wait.NextBackOff()):
			}
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			lastMessage = enginerrors.ErrUploadFailed(attempt+1, err.Error()).Message
			continue
		}

		putErr := handle.WithAutoRefresh(ctx, func(client *minio.Client) error {
			_, err := client.PutObject(ctx, task.Bucket, task.Key, file, size, minio.PutObjectOptions{})
			return err
		})
		if putErr == nil {
			return true, ""
		}

		w.logger.Warn("upload attempt failed",
			slog.String("upload_id", task.UploadID),
			slog.Int("attempt", attempt+1),
			slog.String("error", putErr.Error()))
		lastMessage = enginerrors.ErrUploadFailed(attempt+1, putErr.Error()).Message
	}

	return false, lastMessage
}

func (w *Worker) fail(uploadID string, err *enginerrors.Error) {
	w.tracker.UpdateStatus(uploadID, codec.UploadFailed, err.Message)
}

// driveConfirmation runs the confirmation state machine of the given
// record's operation mode.
func (w *Worker) driveConfirmation(ctx context.Context, record *tracker.Record, tenantID string) {
	switch record.OperationMode {
	case tracker.RealTimeAppend:
		w.driveIncrementalConfirmation(ctx, record, tenantID)
	case tracker.BatchCreate:
		w.driveBatchConfirmation(ctx, record, tenantID)
	}
}

func (w *Worker) driveIncrementalConfirmation(ctx context.Context, record *tracker.Record, tenantID string) {
	_, fileName := objectkey.Parse(record.ObjectKey)

	ok, err := w.sink.ConfirmIncremental(ctx, record.DataID, fileName, tenantID, record.TotalSize(), record.ObjectKey)
	if ok && err == nil {
		w.tracker.UpdateStatus(record.UploadID, codec.ConfirmSuccess, "")
		return
	}

	message := "confirmation failed"
	if err != nil {
		message = err.Error()
	}
	w.tracker.UpdateStatus(record.UploadID, codec.ConfirmFailed, message)
}

// driveBatchConfirmation implements the sibling-scan, single-shot-latch
// confirmation shape: every sibling sharing the record's dataId must have
// reached UploadSuccess or ConfirmSuccess before a confirmation is sent,
// and exactly one sibling's latch wins the race to send it.
func (w *Worker) driveBatchConfirmation(ctx context.Context, record *tracker.Record, tenantID string) {
	siblings := w.tracker.GetAllByDataID(record.DataID)
	if len(siblings) == 0 {
		return
	}

	for _, s := range siblings {
		status := s.Status()
		if status != codec.UploadSuccess && status != codec.ConfirmSuccess {
			return
		}
	}

	leader := siblings[0]
	if !leader.TryLatchConfirmation() {
		return
	}

	confirmObjectKey := leader.ObjectKey
	if len(siblings) > 1 {
		confirmObjectKey = objectkey.ParentDir(leader.ObjectKey)
	}

	var totalBytes int64
	for _, s := range siblings {
		totalBytes += s.TotalSize()
	}

	ok, err := w.sink.ConfirmBatch(ctx, leader.DataID, leader.UploadDataName, tenantID, totalBytes, confirmObjectKey)

	newStatus := codec.ConfirmFailed
	message := ""
	if ok && err == nil {
		newStatus = codec.ConfirmSuccess
	} else if err != nil {
		message = err.Error()
	}

	for _, s := range siblings {
		if s.Status() == codec.UploadSuccess {
			w.tracker.UpdateStatus(s.UploadID, newStatus, message)
		}
	}
}
