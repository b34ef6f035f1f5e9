package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uploadengine/clientpool"
	"uploadengine/codec"
	"uploadengine/config"
	"uploadengine/credsource"
	"uploadengine/tracker"
)

type fakeSink struct {
	confirmBatchOK       bool
	confirmIncrementalOK bool
	calls                int
}

func (f *fakeSink) ConfirmBatch(_ context.Context, _, _, _ string, _ int64, _ string) (bool, error) {
	f.calls++
	return f.confirmBatchOK, nil
}

func (f *fakeSink) ConfirmIncremental(_ context.Context, _, _, _ string, _ int64, _ string) (bool, error) {
	f.calls++
	return f.confirmIncrementalOK, nil
}

func testSetup(t *testing.T) (*Worker, *tracker.Tracker, *fakeSink) {
	t.Helper()

	cfg := &config.Config{
		Region:             "us-east-1",
		MaxPoolConnections: 2,
		ConnectTimeout:     time.Second,
		RefreshMargin:      time.Hour,
		MaxCacheSize:       10,
		MaxUploadRetries:   3,
		RetryBackoffUnit:   time.Millisecond, // keep unit tests fast
	}

	source := credsource.StaticSource{AccessKey: "ak", SecretKey: "sk", ValidFor: time.Hour}
	pool := clientpool.New(cfg, source, nil)
	tr := tracker.New(nil)
	sink := &fakeSink{}

	w := New(tr, pool, sink, cfg, nil, func() bool { return true })
	return w, tr, sink
}

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestProcess_UnknownUploadIDIsDropped(t *testing.T) {
	w, _, _ := testSetup(t)
	w.Process(context.Background(), Task{UploadID: "missing"})
	// no panic, nothing to assert beyond it returning cleanly
}

func TestProcess_InvalidParametersFailsFast(t *testing.T) {
	w, tr, _ := testSetup(t)
	tr.Add("D1_1", "/tmp/x", "patient/P/source_data/D1/x/x", "P", tracker.BatchCreate)

	w.Process(context.Background(), Task{UploadID: "D1_1"}) // everything empty except UploadID

	record := tr.Get("D1_1")
	assert.Equal(t, codec.UploadFailed, record.Status())
	assert.Equal(t, "Invalid parameters", record.ErrorMessage())
}

func TestProcess_NotInitializedFails(t *testing.T) {
	w, tr, _ := testSetup(t)
	w.initialized = func() bool { return false }
	tr.Add("D1_1", "/tmp/x", "patient/P/source_data/D1/x/x", "P", tracker.BatchCreate)

	w.Process(context.Background(), Task{
		UploadID: "D1_1", Region: "us-east-1", Bucket: "b", Key: "k", LocalPath: "/tmp/x", TenantID: "t",
	})

	record := tr.Get("D1_1")
	assert.Equal(t, codec.UploadFailed, record.Status())
	assert.Equal(t, "AWS SDK not initialized", record.ErrorMessage())
}

func TestProcess_MissingLocalFileFails(t *testing.T) {
	w, tr, _ := testSetup(t)
	tr.Add("D1_1", "/no/such/file", "patient/P/source_data/D1/x/x", "P", tracker.BatchCreate)

	w.Process(context.Background(), Task{
		UploadID: "D1_1", Region: "us-east-1", Bucket: "b", Key: "k", LocalPath: "/no/such/file", TenantID: "t",
	})

	record := tr.Get("D1_1")
	assert.Equal(t, codec.UploadFailed, record.Status())
	assert.Equal(t, "Local file does not exist", record.ErrorMessage())
}

func TestProcess_CancellationBeforeStartSkipsUpload(t *testing.T) {
	w, tr, sink := testSetup(t)
	path := writeTempFile(t, "hello")
	record := tr.Add("D1_1", path, "patient/P/source_data/D1/x/x", "P", tracker.BatchCreate)
	record.RequestCancel()

	w.Process(context.Background(), Task{
		UploadID: "D1_1", Region: "us-east-1", Bucket: "b", Key: "k", LocalPath: path, TenantID: "t",
	})

	assert.Equal(t, codec.Cancelled, record.Status())
	assert.Equal(t, 0, sink.calls)
}

func TestProcess_SizeIsRecordedEvenWhenUploadFails(t *testing.T) {
	w, tr, _ := testSetup(t)
	path := writeTempFile(t, "0123456789")
	record := tr.Add("D1_1", path, "patient/P/source_data/D1/x/x", "P", tracker.BatchCreate)

	// no real object store reachable at the default endpoint -> PutObject will
	// fail every attempt and exhaust retries, but size should still be measured.
	w.Process(context.Background(), Task{
		UploadID: "D1_1", Region: "us-east-1", Bucket: "b", Key: "k", LocalPath: path, TenantID: "t",
	})

	assert.Equal(t, int64(10), record.TotalSize())
	assert.Equal(t, codec.UploadFailed, record.Status())
}
