package inverterdriver

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// ErrQueueFull is reported to the result callback when a submission is
// dropped because the command queue has no headroom.
var ErrQueueFull = errors.New("inverterdriver: command queue full")

// commandJob is one queued fire-and-forget command submission.
type commandJob struct {
	inverterID string
	cmd        model.InverterCommand
}

// AsyncCommandWriter owns a bounded queue of outbound inverter commands and
// applies them on a background goroutine, so the decision tick never blocks
// on driver I/O. Failures are logged and counted, never retried by the
// writer itself: the next tick's mismatch between schedule and CurrentMode
// is what drives a retry.
type AsyncCommandWriter struct {
	driver     Driver
	queue      chan commandJob
	logger     *log.Logger
	failures   int64
	resultFunc func(inverterID string, err error)
}

// NewAsyncCommandWriter starts a writer with the given bounded queue depth.
// Call Run to start draining it; Submit never blocks once Run is running
// and the queue has headroom.
func NewAsyncCommandWriter(driver Driver, queueDepth int, logger *log.Logger) *AsyncCommandWriter {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	return &AsyncCommandWriter{
		driver: driver,
		queue:  make(chan commandJob, queueDepth),
		logger: logger,
	}
}

// OnResult registers fn to receive every submitted command's outcome: nil
// on a successful write, the write (or drop) error otherwise. Must be set
// before Run starts.
func (w *AsyncCommandWriter) OnResult(fn func(inverterID string, err error)) {
	w.resultFunc = fn
}

func (w *AsyncCommandWriter) report(inverterID string, err error) {
	if w.resultFunc != nil {
		w.resultFunc(inverterID, err)
	}
}

// Submit enqueues a command for inverterID. Fire-and-forget: the caller
// (the execution supervisor) does not wait for the result. If the queue is
// full, the command is dropped and logged rather than blocking the caller,
// since a dropped command is reconciled by the next tick's mismatch check.
func (w *AsyncCommandWriter) Submit(inverterID string, cmd model.InverterCommand) {
	select {
	case w.queue <- commandJob{inverterID: inverterID, cmd: cmd}:
	default:
		atomic.AddInt64(&w.failures, 1)
		if w.logger != nil {
			w.logger.Printf("[inverterdriver] command queue full, dropping %s -> %s", inverterID, cmd.Mode)
		}
		w.report(inverterID, ErrQueueFull)
	}
}

// Run drains the queue until ctx is cancelled, applying each command via the
// driver with a per-command timeout.
func (w *AsyncCommandWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.queue:
			w.apply(ctx, job)
		}
	}
}

func (w *AsyncCommandWriter) apply(parent context.Context, job commandJob) {
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()

	err := w.driver.WriteCommand(ctx, job.inverterID, job.cmd)
	if err != nil {
		atomic.AddInt64(&w.failures, 1)
		if w.logger != nil {
			w.logger.Printf("[inverterdriver] command failed for %s: %v", job.inverterID, err)
		}
	}
	w.report(job.inverterID, err)
}

// Failures returns the total count of dropped or failed command submissions
// since the writer started.
func (w *AsyncCommandWriter) Failures() int64 {
	return atomic.LoadInt64(&w.failures)
}
