// Package worker runs voice-agent jobs. A [Worker] prewarms shared resources
// once per process, then executes one entrypoint invocation per dispatched
// job. Each job gets a [JobContext] carrying the job description, the
// prewarmed process state, and a shutdown mechanism with ordered callbacks.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxhire/pkg/provider/vad"
)

// ErrWorkerClosed is returned by Submit after the worker has stopped
// accepting jobs.
var ErrWorkerClosed = errors.New("worker: closed")

// defaultShutdownReason is reported to shutdown callbacks when a job ends
// without an explicit Shutdown call.
const defaultShutdownReason = "job completed"

// JobProcess holds state prewarmed once per worker process and shared by all
// jobs. Slots are explicitly typed; a nil slot means the resource is
// unavailable and the job must degrade accordingly.
type JobProcess struct {
	// VAD is the prewarmed voice activity detection engine. May be nil.
	VAD vad.Engine
}

// Job describes one dispatched call.
type Job struct {
	// ID uniquely identifies the job. Generated when empty.
	ID string

	// RoomName is the room the agent should join.
	RoomName string

	// Metadata is the opaque string attached to the dispatch.
	Metadata string
}

// JobContext is passed to the entrypoint for each job. It is also a
// context.Context scoped to the job's lifetime.
type JobContext struct {
	context.Context

	// Job describes the dispatched call.
	Job Job

	// Proc is the shared prewarmed process state.
	Proc *JobProcess

	// Log is scoped to this job.
	Log *slog.Logger

	cancel context.CancelFunc

	mu        sync.Mutex
	callbacks []func(reason string)
	reason    string

	shutdownOnce sync.Once
	down         chan struct{}
}

// Shutdown ends the job with the given reason. The job context is cancelled;
// shutdown callbacks run after the entrypoint returns. Subsequent calls are
// no-ops.
func (c *JobContext) Shutdown(reason string) {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.down)
		c.cancel()
	})
}

// AddShutdownCallback registers fn to run during job teardown. Callbacks run
// in registration order.
func (c *JobContext) AddShutdownCallback(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// ShuttingDown returns a channel closed once Shutdown has been called.
func (c *JobContext) ShuttingDown() <-chan struct{} {
	return c.down
}

// runCallbacks invokes registered shutdown callbacks in order.
func (c *JobContext) runCallbacks() {
	c.mu.Lock()
	reason := c.reason
	if reason == "" {
		reason = defaultShutdownReason
	}
	callbacks := make([]func(string), len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(reason)
	}
}

// Options configures a Worker.
type Options struct {
	// AgentName is the dispatch name this worker serves. Used in logs and to
	// label jobs; tokens minted with this agent name route calls here.
	AgentName string

	// Entrypoint runs one job. Required. The job context is cancelled when
	// the job shuts down or the worker stops.
	Entrypoint func(job *JobContext) error

	// Prewarm runs once before any job and fills the shared JobProcess.
	// A prewarm error aborts Run. May be nil.
	Prewarm func(proc *JobProcess) error

	// MaxConcurrentJobs limits parallel entrypoint invocations. Defaults to 1.
	MaxConcurrentJobs int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Worker executes jobs with a prewarmed shared process.
type Worker struct {
	opts Options
	log  *slog.Logger
	proc *JobProcess

	jobs chan Job

	closeOnce sync.Once
	closed    chan struct{}
}

// New validates opts and builds a Worker.
func New(opts Options) (*Worker, error) {
	if opts.Entrypoint == nil {
		return nil, errors.New("worker: Entrypoint is required")
	}
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		opts:   opts,
		log:    opts.Logger.With("component", "worker", "agent", opts.AgentName),
		jobs:   make(chan Job, 16),
		closed: make(chan struct{}),
	}, nil
}

// Submit queues a job for execution. Returns ErrWorkerClosed once the worker
// has stopped.
func (w *Worker) Submit(job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	select {
	case <-w.closed:
		return ErrWorkerClosed
	default:
	}
	select {
	case w.jobs <- job:
		return nil
	case <-w.closed:
		return ErrWorkerClosed
	}
}

// Run prewarms the process, then executes submitted jobs until ctx is
// cancelled. It waits for in-flight jobs before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.proc = &JobProcess{}
	if w.opts.Prewarm != nil {
		if err := w.opts.Prewarm(w.proc); err != nil {
			return err
		}
	}
	w.log.Info("worker ready", "max_concurrent_jobs", w.opts.MaxConcurrentJobs)

	var g errgroup.Group
	g.SetLimit(w.opts.MaxConcurrentJobs)

	for {
		select {
		case <-ctx.Done():
			w.closeOnce.Do(func() { close(w.closed) })
			err := g.Wait()
			if err == nil {
				err = ctx.Err()
			}
			return err

		case job := <-w.jobs:
			g.Go(func() error {
				w.runJob(ctx, job)
				return nil
			})
		}
	}
}

// runJob executes one job end to end: entrypoint, then shutdown callbacks.
// Entrypoint errors are logged, not propagated; one bad call must not take
// the worker down.
func (w *Worker) runJob(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jc := &JobContext{
		Context: jobCtx,
		Job:     job,
		Proc:    w.proc,
		Log:     w.log.With("job", job.ID, "room", job.RoomName),
		cancel:  cancel,
		down:    make(chan struct{}),
	}

	jc.Log.Info("job started")
	if err := w.opts.Entrypoint(jc); err != nil && !errors.Is(err, context.Canceled) {
		jc.Log.Error("job entrypoint failed", "error", err)
	}
	jc.runCallbacks()

	jc.mu.Lock()
	reason := jc.reason
	jc.mu.Unlock()
	jc.Log.Info("job finished", "reason", reason)
}
