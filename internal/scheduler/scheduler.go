// Package scheduler provides an admission-controlled, priority-ordered,
// concurrency-limited async task runner with exponential-backoff retries.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/models"
)

const (
	// completedCap bounds the terminal-task map; oldest completions are
	// garbage collected first.
	completedCap = 1000

	// maxRetryBackoff caps the per-task retry sleep.
	maxRetryBackoff = 60 * time.Second
)

// TaskFunc is the operation a task runs. It must honor ctx cancellation at
// its suspension points.
type TaskFunc func(ctx context.Context) (interface{}, error)

// Task is one scheduled unit of work.
type Task struct {
	ID         string
	Name       string
	Fn         TaskFunc
	Priority   models.TaskPriority
	Timeout    time.Duration
	MaxRetries int

	status      models.TaskStatus
	retryCount  int
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	result      interface{}
	err         error
	cancelRun   context.CancelFunc

	seq       uint64
	heapIndex int
}

// Record snapshots the task for the history journal.
func (t *Task) record() *models.TaskRecord {
	rec := &models.TaskRecord{
		ID:         t.ID,
		Name:       t.Name,
		Priority:   t.Priority,
		Status:     t.status,
		RetryCount: t.retryCount,
		MaxRetries: t.MaxRetries,
		CreatedAt:  t.createdAt,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		rec.StartedAt = &started
	}
	if !t.completedAt.IsZero() {
		completed := t.completedAt
		rec.CompletedAt = &completed
	}
	if t.err != nil {
		rec.Error = t.err.Error()
	}
	return rec
}

// Scheduler runs tasks with bounded concurrency, dispatching strictly by
// priority (FIFO within priority). Invariants: at most MaxConcurrent tasks
// run simultaneously; every submitted task reaches a terminal state unless
// the scheduler is stopped first.
type Scheduler struct {
	maxConcurrent int
	pollInterval  time.Duration
	logger        arbor.ILogger
	history       *History // optional; nil disables journaling

	mu        sync.Mutex
	pending   pendingQueue
	running   map[string]*Task
	completed map[string]*Task
	tasks     map[string]*Task // all known tasks by id
	nextSeq   uint64

	submitted int64
	succeeded int64
	failed    int64
	cancelled int64
	retried   int64

	wg       sync.WaitGroup
	loopCtx  context.Context
	loopStop context.CancelFunc
	started  bool
}

// New creates a scheduler. maxConcurrent defaults to 5 when non-positive.
func New(maxConcurrent int, logger arbor.ILogger) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 5
	}
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		pollInterval:  100 * time.Millisecond,
		logger:        logger,
		running:       make(map[string]*Task),
		completed:     make(map[string]*Task),
		tasks:         make(map[string]*Task),
	}
}

// WithPollInterval overrides the dispatch loop tick. Intended for tests.
func (s *Scheduler) WithPollInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.pollInterval = d
	}
	return s
}

// WithHistory attaches a task-history journal. Journal failures are logged,
// never propagated.
func (s *Scheduler) WithHistory(h *History) *Scheduler {
	s.history = h
	return s
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.logger.Warn().Msg("Scheduler already running")
		return
	}
	s.started = true
	s.loopCtx, s.loopStop = context.WithCancel(context.Background())

	s.logger.Info().
		Int("max_concurrent", s.maxConcurrent).
		Msg("Starting task scheduler")

	s.wg.Add(1)
	go s.loop()
}

// Stop halts dispatch and waits for in-flight tasks to finish or cancel.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.loopStop()

	// Request cancellation of in-flight operations
	for _, task := range s.running {
		if task.cancelRun != nil {
			task.cancelRun()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Task scheduler stopped")
}

// Submit enqueues a task and returns its id. A zero MaxRetries means the
// task runs once.
func (s *Scheduler) Submit(task *Task) (string, error) {
	if task == nil || task.Fn == nil {
		return "", models.ValidationError("task operation is required")
	}
	if task.ID == "" {
		task.ID = common.NewTaskID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return "", fmt.Errorf("task %s already submitted", task.ID)
	}

	task.status = models.TaskStatusPending
	task.createdAt = time.Now()
	task.seq = s.nextSeq
	s.nextSeq++

	s.tasks[task.ID] = task
	heap.Push(&s.pending, task)
	atomic.AddInt64(&s.submitted, 1)

	s.logger.Debug().
		Str("task_id", task.ID).
		Str("name", task.Name).
		Str("priority", task.Priority.String()).
		Msg("Task submitted")

	return task.ID, nil
}

// Status returns the task's current lifecycle state.
func (s *Scheduler) Status(id string) (models.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return "", fmt.Errorf("unknown task %s", id)
	}
	return task.status, nil
}

// Result returns the task's result once terminal. Non-terminal tasks
// return an error.
func (s *Scheduler) Result(id string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("unknown task %s", id)
	}
	if !task.status.Terminal() {
		return nil, fmt.Errorf("task %s is %s, not terminal", id, task.status)
	}
	if task.err != nil {
		return nil, task.err
	}
	return task.result, nil
}

// Wait blocks until the task reaches a terminal state or ctx expires, then
// returns its result.
func (s *Scheduler) Wait(ctx context.Context, id string) (interface{}, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := s.Status(id)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return s.Result(id)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel cancels a task. Pending tasks are removed synchronously; running
// tasks have their in-flight operation's context cancelled and transition
// to cancelled when the operation returns.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false
	}

	switch task.status {
	case models.TaskStatusPending:
		if task.heapIndex >= 0 {
			s.pending.remove(task.heapIndex)
		}
		s.finishLocked(task, models.TaskStatusCancelled, nil, context.Canceled)
		return true
	case models.TaskStatusRunning:
		if task.cancelRun != nil {
			task.cancelRun()
		}
		return true
	}
	return false
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() models.SchedulerStats {
	s.mu.Lock()
	pending := s.pending.Len()
	running := len(s.running)
	s.mu.Unlock()

	return models.SchedulerStats{
		Submitted: atomic.LoadInt64(&s.submitted),
		Completed: atomic.LoadInt64(&s.succeeded),
		Failed:    atomic.LoadInt64(&s.failed),
		Cancelled: atomic.LoadInt64(&s.cancelled),
		Retried:   atomic.LoadInt64(&s.retried),
		Pending:   pending,
		Running:   running,
	}
}

// loop is the single dispatch loop: GC completed tasks, then fill open
// slots from the head of the pending queue.
func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.loopCtx.Done():
			return
		case <-ticker.C:
			s.dispatch()
		}
	}
}

func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gcCompletedLocked()

	for len(s.running) < s.maxConcurrent && s.pending.Len() > 0 {
		task := heap.Pop(&s.pending).(*Task)
		s.startTaskLocked(task)
	}
}

// gcCompletedLocked keeps the 1000 most-recent terminal tasks.
func (s *Scheduler) gcCompletedLocked() {
	if len(s.completed) <= completedCap {
		return
	}
	terminal := make([]*Task, 0, len(s.completed))
	for _, t := range s.completed {
		terminal = append(terminal, t)
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].completedAt.After(terminal[j].completedAt)
	})
	for _, t := range terminal[completedCap:] {
		delete(s.completed, t.ID)
		delete(s.tasks, t.ID)
	}
}

func (s *Scheduler) startTaskLocked(task *Task) {
	task.status = models.TaskStatusRunning
	task.startedAt = time.Now()

	var runCtx context.Context
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.loopCtx, task.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.loopCtx)
	}
	task.cancelRun = cancel
	s.running[task.ID] = task

	s.wg.Add(1)
	go s.runTask(runCtx, cancel, task)
}

func (s *Scheduler) runTask(ctx context.Context, cancel context.CancelFunc, task *Task) {
	defer s.wg.Done()
	defer cancel()

	result, err := task.Fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, task.ID)

	if err == nil {
		s.finishLocked(task, models.TaskStatusCompleted, result, nil)
		return
	}

	// Explicit cancellation is terminal regardless of retry budget.
	if ctx.Err() == context.Canceled {
		s.finishLocked(task, models.TaskStatusCancelled, nil, context.Canceled)
		return
	}

	// Validation, blocked, budget and parse failures never succeed on a
	// replay; fail them without consuming the retry budget.
	if models.Fatal(err) {
		s.finishLocked(task, models.TaskStatusFailed, nil, err)
		return
	}

	task.retryCount++
	if task.retryCount < task.MaxRetries {
		atomic.AddInt64(&s.retried, 1)
		backoff := retryBackoff(task.retryCount)
		task.status = models.TaskStatusPending
		s.logger.Debug().
			Str("task_id", task.ID).
			Int("retry_count", task.retryCount).
			Dur("backoff", backoff).
			Err(err).
			Msg("Task failed, re-queueing after backoff")

		// Re-insert by priority once the backoff elapses. The slot is
		// already released, so the sleep never blocks dispatch.
		time.AfterFunc(backoff, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if task.status != models.TaskStatusPending || !s.started {
				return
			}
			task.seq = s.nextSeq
			s.nextSeq++
			heap.Push(&s.pending, task)
		})
		return
	}

	s.finishLocked(task, models.TaskStatusFailed, nil, err)
}

func (s *Scheduler) finishLocked(task *Task, status models.TaskStatus, result interface{}, err error) {
	task.status = status
	task.result = result
	task.err = err
	task.completedAt = time.Now()
	s.completed[task.ID] = task

	switch status {
	case models.TaskStatusCompleted:
		atomic.AddInt64(&s.succeeded, 1)
	case models.TaskStatusFailed:
		atomic.AddInt64(&s.failed, 1)
		s.logger.Warn().
			Str("task_id", task.ID).
			Int("retry_count", task.retryCount).
			Err(err).
			Msg("Task failed permanently")
	case models.TaskStatusCancelled:
		atomic.AddInt64(&s.cancelled, 1)
	}

	if s.history != nil {
		if jerr := s.history.Record(task.record()); jerr != nil {
			s.logger.Warn().Err(jerr).Str("task_id", task.ID).Msg("Failed to journal task")
		}
	}
}

// retryBackoff is min(60s, 2^retryCount seconds).
func retryBackoff(retryCount int) time.Duration {
	d := time.Duration(math.Pow(2, float64(retryCount))) * time.Second
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}
