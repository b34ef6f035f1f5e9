// Package engine is the Facade: the narrow, externally callable surface
// that foreign callers (and the cgo bridge) drive. Grounded on the
// teacher's config.New()-plus-singleton-init wiring in backend/main.go,
// generalized from a one-shot HTTP server bootstrap to a long-lived
// embeddable engine with explicit Initialize/Shutdown lifecycle calls.
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"uploadengine/clientpool"
	"uploadengine/codec"
	"uploadengine/confirmsink"
	"uploadengine/config"
	"uploadengine/credsource"
	"uploadengine/enginerrors"
	"uploadengine/scheduler"
	"uploadengine/tracker"
	"uploadengine/worker"
)

// Engine wires every component together behind the four Facade operations
// named in the external interface: Initialize, SubmitUpload,
// QueryStatusByDataId, Shutdown, plus QueueSize.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	tracker   *tracker.Tracker
	pool      *clientpool.Pool
	sink      confirmsink.Sink
	worker    *worker.Worker
	scheduler *scheduler.Scheduler

	initialized atomic.Bool
	mu          sync.Mutex
}

// New builds an Engine wired from cfg, a credentials source, and a
// confirmation sink. The engine is not usable until Initialize succeeds.
func New(cfg *config.Config, source credsource.Source, sink confirmsink.Sink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "engine"))

	tr := tracker.New(logger)
	pool := clientpool.New(cfg, source, logger)
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		tracker: tr,
		pool:    pool,
		sink:    sink,
	}
	e.worker = worker.New(tr, pool, sink, cfg, logger, e.initialized.Load)
	e.scheduler = scheduler.New(cfg, tr, e.worker, logger)
	return e
}

// Initialize marks the engine usable. Idempotent: the second and later
// calls return the same success envelope without re-running side effects.
// apiEndpoint/account/password are accepted to match the external ABI
// shape but are not consumed directly by the core — they are the inputs a
// real CredentialsSource/ConfirmationSink implementation would use to
// authenticate with the clinical backend.
func (e *Engine) Initialize(apiEndpoint, account, password string) codec.Envelope {
	if e.initialized.CompareAndSwap(false, true) {
		e.logger.Info("engine initialized", slog.String("api_endpoint", apiEndpoint), slog.String("account", account))
	}
	return codec.Envelope{Code: codec.SdkInitSuccess, Message: "initialized"}
}

// SubmitUpload validates the request, applies admission control, registers
// the record, enqueues the task, and ensures the worker is running.
func (e *Engine) SubmitUpload(region, bucket, key, localPath, dataID, tenantID string, mode tracker.OperationMode) codec.Envelope {
	if !e.initialized.Load() {
		return codec.Envelope{Code: codec.UploadFailed, Message: "AWS SDK not initialized"}
	}
	if region == "" || bucket == "" || key == "" || localPath == "" || dataID == "" || tenantID == "" {
		return codec.Envelope{Code: codec.UploadFailed, Message: "Invalid parameters"}
	}

	if e.tracker.CountTotal() >= e.cfg.MaxUploadLimit && len(e.tracker.GetAllByDataID(dataID)) == 0 {
		return codec.Envelope{Code: codec.UploadFailed, Message: enginerrors.ErrQueueFull().Error()}
	}

	uploadID, correlationID := newUploadID(dataID)
	e.tracker.Add(uploadID, localPath, key, tenantID, mode)

	task := worker.Task{
		UploadID:  uploadID,
		Region:    region,
		Bucket:    bucket,
		Key:       key,
		LocalPath: localPath,
		TenantID:  tenantID,
	}

	if err := e.scheduler.Submit(task, dataID); err != nil {
		e.tracker.UpdateStatus(uploadID, codec.UploadFailed, err.Error())
		return codec.Envelope{Code: codec.UploadFailed, Message: err.Error()}
	}

	e.logger.Info("upload submitted", slog.String("upload_id", uploadID), slog.String("correlation_id", correlationID))
	return codec.Envelope{Code: codec.UploadSuccess, Message: uploadID}
}

// newUploadID constructs <dataId>_<microsecondTimestamp>, per spec's
// upload-id shape, plus a separate uuid correlation token for structured
// logs. The token is never part of the id, so the recoverable dataId
// prefix and the reserved separator are unaffected.
func newUploadID(dataID string) (uploadID, correlationID string) {
	return fmt.Sprintf("%s_%d", dataID, time.Now().UnixMicro()), uuid.New().String()
}

// QueryStatusByDataId aggregates every record sharing dataID into a status
// envelope, marshals it, and writes up to bufferSize bytes into buffer.
// Returns the number of bytes written; 0 only when buffer is nil or
// bufferSize <= 0.
func (e *Engine) QueryStatusByDataId(dataID string, buffer []byte, bufferSize int) int {
	if buffer == nil || bufferSize <= 0 {
		return 0
	}

	envelope := e.tracker.Snapshot(dataID)
	body, err := envelope.Marshal()
	if err != nil {
		e.logger.Error("failed to marshal status envelope", slog.String("data_id", dataID), slog.String("error", err.Error()))
		return 0
	}

	n := copy(buffer[:bufferSize], body)
	return n
}

// Shutdown discards the queued backlog and detaches the worker. Idempotent.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduler.Shutdown()
}

// QueueSize reports the current backlog size.
func (e *Engine) QueueSize() int {
	return e.scheduler.QueueSize()
}

// FileExists reports whether path is reachable on the local filesystem, per
// the Facade ABI's FileExists entry.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetS3FileSize returns the size in bytes of a local file, or -1 on any
// stat error, per the Facade ABI's GetS3FileSize entry (despite the name,
// this inspects the local upload candidate, not a remote object — see
// DESIGN.md for the naming rationale carried over from the ABI table).
func GetS3FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}
