package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uploadengine/clientpool"
	"uploadengine/codec"
	"uploadengine/config"
	"uploadengine/confirmsink"
	"uploadengine/credsource"
	"uploadengine/tracker"
	"uploadengine/worker"
)

type noopSink struct{}

func (noopSink) ConfirmBatch(context.Context, string, string, string, int64, string) (bool, error) {
	return true, nil
}
func (noopSink) ConfirmIncremental(context.Context, string, string, string, int64, string) (bool, error) {
	return true, nil
}

func testScheduler(t *testing.T) (*Scheduler, *tracker.Tracker) {
	t.Helper()
	cfg := &config.Config{
		Region: "us-east-1", MaxPoolConnections: 2, ConnectTimeout: time.Second,
		RefreshMargin: time.Hour, MaxCacheSize: 10,
		MaxUploadLimit: 2, QueueWaitTimeout: 100 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond, HeartbeatTimeout: time.Second,
		MaxUploadRetries: 0, RetryBackoffUnit: time.Millisecond,
	}
	source := credsource.StaticSource{AccessKey: "ak", SecretKey: "sk", ValidFor: time.Hour}
	pool := clientpool.New(cfg, source, nil)
	tr := tracker.New(nil)
	var sink confirmsink.Sink = noopSink{}
	w := worker.New(tr, pool, sink, cfg, nil, func() bool { return true })

	s := New(cfg, tr, w, nil)
	return s, tr
}

func TestSubmit_RejectsWhenQueueFullAndNoSiblings(t *testing.T) {
	s, tr := testScheduler(t)
	tr.Add("D1_1", "/tmp/a", "patient/P/source_data/D1/a/a", "P", tracker.BatchCreate)
	tr.Add("D2_1", "/tmp/b", "patient/P/source_data/D2/b/b", "P", tracker.BatchCreate)

	err := s.Submit(worker.Task{UploadID: "D3_1"}, "D3")
	assert.Error(t, err)
}

func TestSubmit_AdmitsSiblingEvenWhenQueueFull(t *testing.T) {
	s, tr := testScheduler(t)
	tr.Add("D1_1", "/tmp/a", "patient/P/source_data/D1/a/a", "P", tracker.BatchCreate)
	tr.Add("D1_2", "/tmp/b", "patient/P/source_data/D1/b/b", "P", tracker.BatchCreate)

	err := s.Submit(worker.Task{UploadID: "D1_2"}, "D1")
	assert.NoError(t, err)
	s.Shutdown()
}

func TestSubmit_UnknownUploadIDIsDroppedByWorkerNotScheduler(t *testing.T) {
	s, _ := testScheduler(t)
	err := s.Submit(worker.Task{UploadID: "ghost"}, "ghost-data")
	require.NoError(t, err)

	// give the worker fiber a moment to pick it up and drop it harmlessly
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, s.QueueSize())
	s.Shutdown()
}

func TestSubmit_ProcessesQueuedTaskToTerminalStatus(t *testing.T) {
	s, tr := testScheduler(t)
	tr.Add("D1_1", "/no/such/path", "patient/P/source_data/D1/a/a", "P", tracker.BatchCreate)

	require.NoError(t, s.Submit(worker.Task{
		UploadID: "D1_1", Region: "us-east-1", Bucket: "b", Key: "k", LocalPath: "/no/such/path", TenantID: "t",
	}, "D1"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.Get("D1_1").Status() == codec.UploadFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, codec.UploadFailed, tr.Get("D1_1").Status())
	s.Shutdown()
}

func TestShutdown_DiscardsPendingQueueAndStopsWorker(t *testing.T) {
	s, tr := testScheduler(t)
	tr.Add("D1_1", "/tmp/a", "patient/P/source_data/D1/a/a", "P", tracker.BatchCreate)

	require.NoError(t, s.Submit(worker.Task{UploadID: "D1_1"}, "D1"))
	s.Shutdown()

	assert.Equal(t, 0, s.QueueSize())

	s.runMu.Lock()
	done := s.workerDone
	s.runMu.Unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker fiber did not exit after Shutdown")
	}
}
