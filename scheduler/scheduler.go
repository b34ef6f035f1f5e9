// Package scheduler owns the durable FIFO task queue and the single
// supervised worker fiber that drains it. Grounded on the worker pool's
// ctx/cancel/waitgroup shutdown shape, generalized from a fixed pool of N
// workers pulling from a buffered channel down to exactly one worker
// pulling from a list guarded by a condition variable — the shape this
// engine's single-writer contract requires. The worker's wait has a
// timeout and QueueSize reads the backlog under the same lock; admission
// control reads the tracker's counts, not the queue.
package scheduler

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"uploadengine/codec"
	"uploadengine/config"
	"uploadengine/enginerrors"
	"uploadengine/tracker"
	"uploadengine/worker"
)

// Scheduler is a FIFO task queue drained by one supervised worker fiber,
// with admission control backed by the tracker and heartbeat-based
// self-healing.
type Scheduler struct {
	cfg     *config.Config
	tracker *tracker.Tracker
	worker  *worker.Worker
	logger  *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	tasks    *list.List
	shutdown bool

	runMu        sync.Mutex
	running      bool
	lastHeartbeat time.Time
	workerCancel  context.CancelFunc
	workerDone    chan struct{}
}

func New(cfg *config.Config, tr *tracker.Tracker, w *worker.Worker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cfg:     cfg,
		tracker: tr,
		worker:  w,
		logger:  logger.With(slog.String("component", "scheduler")),
		tasks:   list.New(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit applies admission control and, if admitted, enqueues task and
// ensures the worker fiber is running. Returns an UploadFailed-shaped
// error when admission control rejects the submission.
func (s *Scheduler) Submit(task worker.Task, dataID string) error {
	if s.tracker.CountTotal() >= s.cfg.MaxUploadLimit {
		if len(s.tracker.GetAllByDataID(dataID)) == 0 {
			return enginerrors.ErrQueueFull()
		}
		// non-empty sibling group: admit anyway, folder completions are
		// not starved by the global limit.
	}

	s.mu.Lock()
	s.tasks.PushBack(task)
	s.mu.Unlock()
	s.cond.Signal()

	s.ensureWorkerRunning()
	return nil
}

// QueueSize reports the current backlog length.
func (s *Scheduler) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Len()
}

// ensureWorkerRunning starts the worker fiber if it is not running, or
// restarts it if its heartbeat has gone stale past HeartbeatTimeout.
func (s *Scheduler) ensureWorkerRunning() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		s.startWorkerLocked()
		return
	}

	if time.Since(s.lastHeartbeat) > s.cfg.HeartbeatTimeout {
		s.logger.Warn("worker heartbeat stale, restarting", s.diagnostics()...)
		if s.workerCancel != nil {
			s.workerCancel()
		}
		s.startWorkerLocked()
	}
}

// diagnostics snapshots CPU and memory state for the restart log line,
// grounded on the same gopsutil CPU/mem calls this codebase already uses
// in its health checks, promoted here from test-only to a production
// restart diagnostic.
func (s *Scheduler) diagnostics() []any {
	attrs := []any{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		attrs = append(attrs, slog.Float64("cpu_percent", percents[0]))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		attrs = append(attrs, slog.Float64("mem_used_percent", vm.UsedPercent))
	}
	return attrs
}

func (s *Scheduler) startWorkerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.workerCancel = cancel
	s.running = true
	s.lastHeartbeat = time.Now()
	s.workerDone = make(chan struct{})

	go s.runLoop(ctx, s.workerDone)
}

// runLoop is the canonical worker loop: update heartbeat, wait on the
// queue condition with a timeout, dequeue and process, or exit on
// shutdown with an empty queue.
func (s *Scheduler) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.runMu.Lock()
		if s.workerDone == done {
			s.running = false
		}
		s.runMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		s.runMu.Lock()
		s.lastHeartbeat = time.Now()
		s.runMu.Unlock()

		task, ok := s.waitForTask(ctx)
		if !ok {
			return
		}
		if task == nil {
			continue
		}

		s.processTask(ctx, *task)
	}
}

// waitForTask blocks on the queue condition variable for up to
// QueueWaitTimeout, returning (task, true) if one was dequeued, (nil,
// true) on a spurious/timeout wake with nothing to do, and (nil, false)
// once shutdown is requested and the queue has drained.
func (s *Scheduler) waitForTask(ctx context.Context) (*worker.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tasks.Len() == 0 && !s.shutdown {
		woke := make(chan struct{})
		go func() {
			select {
			case <-time.After(s.cfg.QueueWaitTimeout):
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			case <-woke:
			}
		}()
		s.cond.Wait()
		close(woke)
	}

	if s.tasks.Len() == 0 {
		if s.shutdown {
			return nil, false
		}
		return nil, true
	}

	front := s.tasks.Front()
	s.tasks.Remove(front)
	task := front.Value.(worker.Task)
	return &task, true
}

func (s *Scheduler) processTask(ctx context.Context, task worker.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task processing panicked", slog.Any("recover", r), slog.String("upload_id", task.UploadID))
			s.tracker.UpdateStatus(task.UploadID, codec.UploadFailed, "Upload failed with exception: internal panic")
		}
	}()
	s.worker.Process(ctx, task)
}

// Shutdown discards every queued task, wakes the worker fiber so it exits
// instead of waiting for more work, and cancels its context; it does not
// wait for the fiber to finish. A task the worker already picked up is not
// drained to completion.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.tasks.Init() // discard anything still queued
	s.mu.Unlock()
	s.cond.Broadcast()

	s.runMu.Lock()
	cancel := s.workerCancel
	s.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
