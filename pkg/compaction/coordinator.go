package compaction

import (
	"context"
	"sync"

	"github.com/KevoDB/heapkv/pkg/common/log"
)

// Status is the state of the background compaction worker
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
)

func (s Status) String() string {
	if s == StatusRunning {
		return "running"
	}
	return "idle"
}

// Job performs one compaction. It is responsible for its own locking.
type Job func(ctx context.Context) error

// Coordinator runs compaction jobs on a single background goroutine, one at a time
type Coordinator struct {
	job     Job
	logger  log.Logger
	metrics CompactionMetrics

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	status  Status
	started bool
	stopped bool
	runs    uint64
	failed  uint64
	lastErr error
}

// NewCoordinator creates a coordinator for job. Call Start to launch the worker.
func NewCoordinator(job Job, logger log.Logger, metrics CompactionMetrics) *Coordinator {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	if metrics == nil {
		metrics = NewNoopCompactionMetrics()
	}
	c := &Coordinator{
		job:       job,
		logger:    logger,
		metrics:   metrics,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start launches the background worker
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.stopped {
		return
	}
	c.started = true
	go c.compactionWorker()
}

// Trigger requests a compaction. It returns false, doing nothing, when a
// compaction is already pending or running or the coordinator is stopped.
func (c *Coordinator) Trigger() bool {
	c.mu.Lock()
	accepted := c.started && !c.stopped && c.status == StatusIdle
	if accepted {
		c.status = StatusRunning
		c.triggerCh <- struct{}{}
	}
	c.mu.Unlock()

	c.metrics.RecordTrigger(context.Background(), accepted)
	return accepted
}

// Status returns the current worker state without blocking on a running job
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Wait blocks until no compaction is pending or running
func (c *Coordinator) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.status == StatusRunning {
		c.cond.Wait()
	}
}

// Runs returns the number of completed and failed runs
func (c *Coordinator) Runs() (completed uint64, failed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs, c.failed
}

// LastError returns the error from the most recent run, if it failed
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Stop halts the worker after any pending or running job finishes
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	if !started {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *Coordinator) compactionWorker() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.triggerCh:
			c.runJob()
		case <-c.stopCh:
			// A trigger accepted before Stop still runs
			select {
			case <-c.triggerCh:
				c.runJob()
			default:
			}
			return
		}
	}
}

func (c *Coordinator) runJob() {
	err := c.job(context.Background())

	c.mu.Lock()
	c.status = StatusIdle
	c.lastErr = err
	if err != nil {
		c.failed++
	} else {
		c.runs++
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("compaction failed: %v", err)
	}
}
