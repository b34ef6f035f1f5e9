// Package tracker is the in-memory registry of in-flight and finished
// uploads: primary lookup by upload-id, secondary lookup by the data-id
// prefix so every submission belonging to a logical group is discoverable.
package tracker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"uploadengine/codec"
	"uploadengine/objectkey"
)

// Record is one tracked upload. It is shared by design: the Tracker is
// authoritative for its lifetime, but a Worker holds the same pointer while
// processing the corresponding task so it can mutate fields the Tracker
// itself never touches (shouldCancel, confirmationAttempted) without
// re-acquiring the tracker lock for every checkpoint.
type Record struct {
	UploadID       string
	DataID         string
	UploadDataName string
	PatientID      string
	ObjectKey      string
	LocalPath      string
	OperationMode  OperationMode

	mu            sync.RWMutex
	status        codec.Status
	totalSize     int64
	errorMessage  string
	startTime     time.Time
	endTime       time.Time

	shouldCancel          atomic.Bool
	confirmationAttempted atomic.Bool
}

// OperationMode selects the confirmation shape driven after upload success.
type OperationMode int

const (
	BatchCreate OperationMode = iota
	RealTimeAppend
)

func (r *Record) Status() codec.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Record) setStatus(status codec.Status, errorMessage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	if errorMessage != "" {
		r.errorMessage = errorMessage
	}
}

func (r *Record) ErrorMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errorMessage
}

func (r *Record) TotalSize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalSize
}

func (r *Record) SetTotalSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalSize = size
}

func (r *Record) StartTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startTime
}

func (r *Record) SetStartTime(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = t
}

func (r *Record) EndTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endTime
}

func (r *Record) SetEndTime(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endTime = t
}

// RequestCancel sets the cooperative cancellation flag, polled by the
// Worker at the checkpoints named in spec §4.7.
func (r *Record) RequestCancel() {
	r.shouldCancel.Store(true)
}

func (r *Record) ShouldCancel() bool {
	return r.shouldCancel.Load()
}

// TryLatchConfirmation flips confirmationAttempted from false to true and
// reports whether this call won the race. Exactly one sibling in a
// BatchCreate group may pass this latch.
func (r *Record) TryLatchConfirmation() bool {
	return r.confirmationAttempted.CompareAndSwap(false, true)
}

// snapshot copies the fields needed for status-envelope aggregation under
// the record's own lock, so the Tracker never has to hold its map lock
// while reading a record's mutable fields.
func (r *Record) snapshot() codec.UploadEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := codec.UploadEntry{
		UploadID:      r.UploadID,
		LocalFilePath: r.LocalPath,
		S3ObjectKey:   r.ObjectKey,
		Status:        r.status,
		TotalSize:     r.totalSize,
		ErrorMessage:  r.errorMessage,
	}
	if !r.startTime.IsZero() {
		entry.StartTime = r.startTime.UnixMilli()
	}
	if !r.endTime.IsZero() {
		entry.EndTime = r.endTime.UnixMilli()
	}
	return entry
}

// Tracker is the process-wide registry of UploadRecords, guarded by a
// single mutex exactly as the hash-cache's forward/reverse map is.
type Tracker struct {
	mu       sync.RWMutex
	byUpload map[string]*Record
	byData   map[string][]string // dataId -> uploadIds, insertion order preserved

	logger *slog.Logger
}

func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		byUpload: make(map[string]*Record),
		byData:   make(map[string][]string),
		logger:   logger.With(slog.String("component", "tracker")),
	}
}

// Add creates (or replaces, idempotently) a Pending record for uploadId,
// deriving dataId from the upload-id prefix and uploadDataName from the
// object key.
func (t *Tracker) Add(uploadID, localPath, objectKey, patientID string, mode OperationMode) *Record {
	dataID := objectkey.DataIDOf(uploadID)
	uploadDataName, _ := objectkey.Parse(objectKey)

	record := &Record{
		UploadID:       uploadID,
		DataID:         dataID,
		UploadDataName: uploadDataName,
		PatientID:      patientID,
		ObjectKey:      objectKey,
		LocalPath:      localPath,
		OperationMode:  mode,
		status:         codec.Pending,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byUpload[uploadID]; !exists {
		t.byData[dataID] = append(t.byData[dataID], uploadID)
	}
	t.byUpload[uploadID] = record

	t.logger.Info("tracked upload", slog.String("upload_id", uploadID), slog.String("data_id", dataID))
	return record
}

func (t *Tracker) Get(uploadID string) *Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byUpload[uploadID]
}

// GetByDataID returns any one record whose upload-id begins with
// dataId + "_".
func (t *Tracker) GetByDataID(dataID string) *Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.byData[dataID]
	if len(ids) == 0 {
		return nil
	}
	return t.byUpload[ids[0]]
}

// GetAllByDataID returns every record sharing dataId, in submission order.
func (t *Tracker) GetAllByDataID(dataID string) []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.byData[dataID]
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := t.byUpload[id]; ok {
			records = append(records, r)
		}
	}
	return records
}

func (t *Tracker) Remove(uploadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.byUpload[uploadID]
	if !ok {
		return
	}
	delete(t.byUpload, uploadID)

	ids := t.byData[record.DataID]
	for i, id := range ids {
		if id == uploadID {
			t.byData[record.DataID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(t.byData[record.DataID]) == 0 {
		delete(t.byData, record.DataID)
	}
}

func (t *Tracker) UpdateStatus(uploadID string, status codec.Status, errorMessage string) {
	record := t.Get(uploadID)
	if record == nil {
		return
	}
	record.setStatus(status, errorMessage)
}

func (t *Tracker) CountTotal() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUpload)
}

func (t *Tracker) CountPending() int {
	t.mu.RLock()
	records := make([]*Record, 0, len(t.byUpload))
	for _, r := range t.byUpload {
		records = append(records, r)
	}
	t.mu.RUnlock()

	count := 0
	for _, r := range records {
		if r.Status() == codec.Pending {
			count++
		}
	}
	return count
}

// Snapshot builds the aggregated StatusEnvelope for a data-id group.
func (t *Tracker) Snapshot(dataID string) codec.StatusEnvelope {
	records := t.GetAllByDataID(dataID)

	env := codec.StatusEnvelope{
		Code:   codec.UploadSuccess,
		DataID: dataID,
	}

	statuses := make([]codec.Status, 0, len(records))
	for _, r := range records {
		entry := r.snapshot()
		env.Uploads = append(env.Uploads, entry)
		env.TotalSize += entry.TotalSize
		env.TotalUploadCount++
		statuses = append(statuses, entry.Status)

		switch entry.Status {
		case codec.UploadSuccess, codec.ConfirmSuccess, codec.ConfirmFailed:
			env.UploadedCount++
			env.UploadedSize += entry.TotalSize
		}
		if entry.ErrorMessage != "" {
			env.ErrorMessage = entry.ErrorMessage
		}
	}

	env.OverallStatus = codec.OverallStatus(statuses)
	return env
}

