// Package dispatcher owns submission intake, the worker pool that
// bounds concurrent sandbox runs, and restart reconciliation.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandboxrun/engine/internal/types"
)

// Runner executes one submission to completion. *executor.Executor
// satisfies this interface; the Dispatcher depends only on the shape it
// needs, not the executor package, to keep the dependency graph acyclic.
type Runner interface {
	Execute(ctx context.Context, sub *types.Submission, events chan<- types.StreamEvent) error
}

// Store is the subset of the submission store the Dispatcher needs.
type Store interface {
	Get(ctx context.Context, id string) (*types.Submission, error)
	Save(ctx context.Context, sub *types.Submission) error
	MarkTerminal(ctx context.Context, sub *types.Submission) (bool, error)
}

// CallbackEmitter delivers a terminal submission to its callback_url, if
// any. Implementations must not block the worker for long; Emit is
// called synchronously from the worker goroutine.
type CallbackEmitter interface {
	Emit(ctx context.Context, sub *types.Submission)
}

// Config bounds the Dispatcher's behavior.
type Config struct {
	MaxConcurrent int
	MaxQueueSize  int
	WorkerCount   int

	// WorkspaceRoot is the directory executor.Executor materializes
	// per-submission workspaces under, named by submission ID. Reconcile
	// uses it to tell a genuinely orphaned submission (workspace gone —
	// the process that would have cleaned it up never got the chance,
	// or already did, either way nothing is left to resume) from one
	// whose workspace is still present, a sign the engine died mid-run
	// rather than the submission having finished cleanly before restart.
	WorkspaceRoot string
}

// Dispatcher is the durable queue plus bounded worker pool described in
// §4.4: at most Config.MaxConcurrent submissions run at once, and Submit
// rejects new work once the queue holds Config.MaxQueueSize items.
type Dispatcher struct {
	queue    Queue
	store    Store
	runner   Runner
	callback CallbackEmitter
	cfg      Config
	logger   *logrus.Logger

	sem chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New builds a Dispatcher. logger may be nil.
func New(queue Queue, store Store, runner Runner, callback CallbackEmitter, cfg Config, logger *logrus.Logger) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = cfg.MaxConcurrent
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		queue:    queue,
		store:    store,
		runner:   runner,
		callback: callback,
		cfg:      cfg,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Submit enqueues sub, which must already have ID/Token/CreatedAt/Status
// populated by the caller (the transport layer), and persists it via the
// Store before returning. It returns *ErrQueueFull once the queue is at
// MAX_QUEUE_SIZE capacity.
//
// Submitting the same submission ID twice while the first submission is
// still queued or running is a no-op: it returns nil without enqueuing a
// second time, so a client that retries a request after a dropped
// response can't cause two executions of the same submission.
func (d *Dispatcher) Submit(ctx context.Context, sub *types.Submission) error {
	if existing, err := d.store.Get(ctx, sub.ID); err == nil && existing != nil && existing.Cancellable() {
		return nil
	}

	if d.cfg.MaxQueueSize > 0 {
		n, err := d.queue.Len(ctx)
		if err != nil {
			return fmt.Errorf("dispatcher: checking queue length: %w", err)
		}
		if n >= int64(d.cfg.MaxQueueSize) {
			return &ErrQueueFull{MaxQueueSize: d.cfg.MaxQueueSize}
		}
	}

	sub.Status = types.StatusQueued
	if err := d.store.Save(ctx, sub); err != nil {
		return fmt.Errorf("dispatcher: persisting submission: %w", err)
	}
	return d.queue.Push(ctx, Item{SubmissionID: sub.ID, Priority: sub.Priority, EnqueuedAt: sub.CreatedAt})
}

// Cancel marks a queued-or-running submission cancelled. If it is still
// queued, the worker pool never dispatches it; if it is already
// running, its context is cancelled so the sandbox backend kills it.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	d.mu.Lock()
	cancel, running := d.cancels[id]
	d.mu.Unlock()

	if running {
		cancel()
		return nil
	}

	if err := d.queue.Remove(ctx, id); err != nil {
		return err
	}
	sub, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sub.Cancellable() {
		return nil
	}
	sub.Status = types.StatusCancelled
	now := time.Now()
	sub.FinishedAt = &now
	_, err = d.store.MarkTerminal(ctx, sub)
	return err
}

// Start spawns the worker pool; it returns immediately and runs until
// ctx is cancelled. Callers should wait on Wait afterward for a clean
// shutdown of in-flight work.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go d.workerLoop(ctx)
	}
}

// Wait blocks until every worker goroutine has exited, i.e. until the
// context passed to Start has been cancelled and any in-flight run has
// finished or been killed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		item, err := d.queue.Pop(ctx)
		if err != nil {
			return // ctx cancelled
		}

		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		d.runOne(ctx, item.SubmissionID)
		<-d.sem
	}
}

func (d *Dispatcher) runOne(parent context.Context, id string) {
	sub, err := d.store.Get(parent, id)
	if err != nil {
		d.logger.WithError(err).WithField("submission", id).Error("dispatcher: failed to load queued submission")
		return
	}
	if !sub.Cancellable() {
		return // already cancelled while queued
	}

	runCtx, cancel := context.WithCancel(parent)
	d.mu.Lock()
	d.cancels[id] = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		delete(d.cancels, id)
		d.mu.Unlock()
	}()

	sub.Status = types.StatusRunning
	if err := d.store.Save(runCtx, sub); err != nil {
		d.logger.WithError(err).WithField("submission", id).Warn("dispatcher: failed to persist running status")
	}

	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("executor panic: %v", r)
			}
		}()
		return d.runner.Execute(runCtx, sub, nil)
	}()
	if err != nil {
		d.logger.WithError(err).WithField("submission", id).Error("dispatcher: executor fault")
		sub.Status = types.StatusInternalError
		sub.Message = err.Error()
	}
	if runCtx.Err() != nil && sub.Status == types.StatusRunning {
		sub.Status = types.StatusCancelled
	}

	now := time.Now()
	sub.FinishedAt = &now
	if _, err := d.store.MarkTerminal(parent, sub); err != nil {
		d.logger.WithError(err).WithField("submission", id).Error("dispatcher: failed to persist terminal status")
	}
	if d.callback != nil && sub.CallbackURL != "" {
		d.callback.Emit(parent, sub)
	}
}

// Reconcile recovers every submission the Store still shows as queued or
// running after a dispatcher restart. A submission that was only ever
// queued has no side effects yet, so it is safely re-enqueued. A
// submission marked running when the engine died is different: its
// sandboxed process was a child of the dead engine process (and, on the
// Direct backend, inside a PID namespace that the kernel tears down with
// it), so by the time Reconcile runs there is no live process left to
// reattach to. The only question is whether it ever actually ran: if
// its workspace directory is still present under WorkspaceRoot, the run
// was genuinely interrupted mid-flight and is marked internal_error
// rather than silently resubmitted with a fresh, possibly different,
// outcome; if the workspace is already gone, the run had finished and
// cleaned up before the crash claimed only the terminal-status write, so
// it is safe to re-queue and run again.
func (d *Dispatcher) Reconcile(ctx context.Context, stuck []*types.Submission) error {
	for _, sub := range stuck {
		if sub.Status == types.StatusRunning && d.workspaceLive(sub.ID) {
			sub.Status = types.StatusInternalError
			sub.Message = "engine restart"
			now := time.Now()
			sub.FinishedAt = &now
			if _, err := d.store.MarkTerminal(ctx, sub); err != nil {
				return fmt.Errorf("dispatcher: reconciling submission %s: %w", sub.ID, err)
			}
			continue
		}

		sub.Status = types.StatusQueued
		if err := d.store.Save(ctx, sub); err != nil {
			return fmt.Errorf("dispatcher: reconciling submission %s: %w", sub.ID, err)
		}
		if err := d.queue.Push(ctx, Item{SubmissionID: sub.ID, Priority: sub.Priority, EnqueuedAt: sub.CreatedAt}); err != nil {
			return fmt.Errorf("dispatcher: re-enqueuing submission %s: %w", sub.ID, err)
		}
	}
	return nil
}

// workspaceLive reports whether id's workspace directory still exists
// under WorkspaceRoot. An empty WorkspaceRoot (e.g. in tests that don't
// configure one) disables the check, treating every running submission
// as safe to re-queue, matching the Dispatcher's prior behavior.
func (d *Dispatcher) workspaceLive(id string) bool {
	if d.cfg.WorkspaceRoot == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(d.cfg.WorkspaceRoot, id))
	return err == nil
}
