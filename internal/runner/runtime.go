package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/toolrun/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Runtime tracks one tool in one environment. Environment and tool are fixed
// at construction; only the running flag moves.
//
// Start marks the runtime running at dispatch time and rolls back when the
// backend rejects the start. Start and Stop outcomes for one runtime resolve
// in the order the calls were made.
type Runtime struct {
	id      string
	env     Environment
	tool    string
	backend Backend

	mu          sync.Mutex
	running     bool
	gen         uint64
	dispatch    *Future[struct{}]
	done        chan struct{}
	lastExit    *ExitStatus
	watchCancel context.CancelFunc
	tail        chan struct{}
}

func newRuntime(env Environment, tool string, backend Backend) *Runtime {
	closed := make(chan struct{})
	close(closed)
	return &Runtime{
		id:      uuid.NewString(),
		env:     env.clone(),
		tool:    tool,
		backend: backend,
		done:    closed,
		tail:    closed,
	}
}

// ID is the run identifier sent to the remote boundary.
func (r *Runtime) ID() string {
	return r.id
}

func (r *Runtime) Env() string {
	return r.env.Name
}

// Environment returns a copy of the environment bound at construction.
func (r *Runtime) Environment() Environment {
	return r.env.clone()
}

func (r *Runtime) Tool() string {
	return r.tool
}

func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Dispatch returns the future of the most recent Start, or nil before the first one.
func (r *Runtime) Dispatch() *Future[struct{}] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dispatch
}

// Done is closed when the current run leaves the running state.
func (r *Runtime) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// LastExit returns the exit status of the most recent finished run, if known.
func (r *Runtime) LastExit() (ExitStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastExit == nil {
		return ExitStatus{}, false
	}
	return *r.lastExit, true
}

func (r *Runtime) ref() ToolRef {
	return ToolRef{RunID: r.id, Environment: r.env.Name, Tool: r.tool}
}

// Start asks the backend to launch the tool with args. It fails synchronously
// with ErrAlreadyRunning when the runtime is running; the flag is left as is.
func (r *Runtime) Start(ctx context.Context, args []string) (*Future[struct{}], error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: the %s %s is already running", ErrAlreadyRunning, r.env.Name, r.tool)
	}
	r.running = true
	r.gen++
	gen := r.gen
	r.done = make(chan struct{})
	r.lastExit = nil
	fut := newFuture[struct{}]()
	r.dispatch = fut
	prev, next := r.enqueueLocked()
	r.mu.Unlock()

	observability.RuntimeRunning(1)
	argv := append([]string(nil), args...)
	ref := r.ref()
	go func() {
		defer close(next)
		<-prev

		if err := r.backend.StartTool(ctx, ref, argv); err != nil {
			rerr := AsRemoteError(err)
			r.finish(gen, nil)
			observability.RecordRuntimeStart(ref.Environment, ref.Tool, string(rerr.Code))
			log.Warn().Msgf(
				"runner.Runtime.Start rejected run_id=%q env=%q tool=%q code=%s err=%q",
				ref.RunID, ref.Environment, ref.Tool, rerr.Code, rerr.Message,
			)
			fut.resolve(struct{}{}, rerr)
			return
		}

		observability.RecordRuntimeStart(ref.Environment, ref.Tool, "accepted")
		log.Debug().Msgf("runner.Runtime.Start accepted run_id=%q env=%q tool=%q args=%d", ref.RunID, ref.Environment, ref.Tool, len(argv))
		if watcher, ok := r.backend.(CompletionWatcher); ok {
			r.watch(ctx, watcher, gen)
		}
		fut.resolve(struct{}{}, nil)
	}()
	return fut, nil
}

// Stop asks the backend to terminate the tool. Stopping an idle runtime is a
// no-op success and makes no backend call.
func (r *Runtime) Stop(ctx context.Context) *Future[struct{}] {
	fut := newFuture[struct{}]()
	r.mu.Lock()
	prev, next := r.enqueueLocked()
	r.mu.Unlock()

	ref := r.ref()
	go func() {
		defer close(next)
		<-prev

		r.mu.Lock()
		running := r.running
		gen := r.gen
		r.mu.Unlock()
		if !running {
			fut.resolve(struct{}{}, nil)
			return
		}

		if err := r.backend.StopTool(ctx, ref); err != nil {
			rerr := AsRemoteError(err)
			if rerr.Code == CodeUnknownRun {
				// The remote no longer knows the run, so it is not running there.
				r.finish(gen, &ExitStatus{Code: -1, Reason: ExitFailed})
				log.Warn().Msgf("runner.Runtime.Stop run gone run_id=%q env=%q tool=%q", ref.RunID, ref.Environment, ref.Tool)
				fut.resolve(struct{}{}, nil)
				return
			}
			log.Warn().Msgf(
				"runner.Runtime.Stop failed run_id=%q env=%q tool=%q code=%s err=%q",
				ref.RunID, ref.Environment, ref.Tool, rerr.Code, rerr.Message,
			)
			fut.resolve(struct{}{}, rerr)
			return
		}
		r.finish(gen, &ExitStatus{Code: -1, Reason: ExitStopped})
		log.Debug().Msgf("runner.Runtime.Stop ok run_id=%q env=%q tool=%q", ref.RunID, ref.Environment, ref.Tool)
		fut.resolve(struct{}{}, nil)
	}()
	return fut
}

// watch follows remote completion for generation gen until the run ends.
func (r *Runtime) watch(parent context.Context, watcher CompletionWatcher, gen uint64) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	r.mu.Lock()
	if gen != r.gen || !r.running {
		r.mu.Unlock()
		cancel()
		return
	}
	r.watchCancel = cancel
	r.mu.Unlock()

	ref := r.ref()
	go func() {
		defer cancel()
		status, err := watcher.WaitTool(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The watcher has given up; the run can no longer be observed.
			if r.finish(gen, &ExitStatus{Code: -1, Reason: ExitFailed}) {
				log.Warn().Msgf("runner.Runtime.watch lost run_id=%q env=%q tool=%q err=%v", ref.RunID, ref.Environment, ref.Tool, err)
			}
			return
		}
		if r.finish(gen, &status) {
			log.Info().Msgf(
				"runner.Runtime.watch complete run_id=%q env=%q tool=%q reason=%s code=%d",
				ref.RunID, ref.Environment, ref.Tool, status.Reason, status.Code,
			)
		}
	}()
}

// finish moves generation gen back to idle. It reports false when gen is stale
// or already idle.
func (r *Runtime) finish(gen uint64, exit *ExitStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || !r.running {
		return false
	}
	r.running = false
	if exit != nil {
		status := *exit
		r.lastExit = &status
	}
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	close(r.done)
	observability.RuntimeRunning(-1)
	return true
}

// enqueueLocked links a new operation into the per-runtime FIFO chain.
func (r *Runtime) enqueueLocked() (prev <-chan struct{}, next chan struct{}) {
	prev = r.tail
	next = make(chan struct{})
	r.tail = next
	return prev, next
}
