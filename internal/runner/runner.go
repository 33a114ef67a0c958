package runner

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Phase describes runner lifecycle transitions.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInactive      Phase = "inactive"
	PhaseActive        Phase = "active"
	PhaseDestroyed     Phase = "destroyed"
)

// Name is the extension name a host registers the runner under.
const Name = "runner"

// Config configures one Runner instance.
type Config struct {
	// ReadOnly mirrors the host offline flag; a read-only runner never activates.
	ReadOnly bool
	// DefaultEnvironment is selected after the first refresh when nothing else is.
	DefaultEnvironment string
}

// Status reports runner lifecycle and selection state.
type Status struct {
	Phase              Phase  `json:"phase"`
	CurrentEnvironment string `json:"current_environment,omitempty"`
	Environments       int    `json:"environments"`
	Loaded             bool   `json:"loaded"`
}

// Runner coordinates tool runs against one remote execution backend.
type Runner struct {
	backend Backend
	cfg     Config

	mu           sync.RWMutex
	phase        Phase
	environments []Environment
	loaded       bool
	current      *Environment
	refreshed    *Future[[]Environment]

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a runner in the uninitialized phase.
func New(backend Backend, cfg Config) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	cfg.DefaultEnvironment = strings.TrimSpace(cfg.DefaultEnvironment)
	return &Runner{
		backend: backend,
		cfg:     cfg,
		phase:   PhaseUninitialized,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (r *Runner) Name() string {
	return Name
}

func (r *Runner) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Status{
		Phase:        r.phase,
		Environments: len(r.environments),
		Loaded:       r.loaded,
	}
	if r.current != nil {
		out.CurrentEnvironment = r.current.Name
	}
	return out
}

// Init moves uninitialized -> inactive and starts an environment refresh in
// the background. Until it completes, Run may fail with ErrNoEnvironment.
func (r *Runner) Init() error {
	r.mu.Lock()
	switch r.phase {
	case PhaseUninitialized:
	case PhaseDestroyed:
		r.mu.Unlock()
		return destroyedError()
	default:
		from := r.phase
		r.mu.Unlock()
		return transitionError(from, PhaseInactive)
	}
	r.phase = PhaseInactive
	fut := newFuture[[]Environment]()
	r.refreshed = fut
	ctx := r.ctx
	r.mu.Unlock()

	log.Info().Msgf("runner.Runner.Init phase=%s", PhaseInactive)
	go func() {
		envs, err := r.refresh(ctx)
		fut.resolve(envs, err)
	}()
	return nil
}

// Refreshed returns the future of the refresh started by Init, or nil before Init.
func (r *Runner) Refreshed() *Future[[]Environment] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshed
}

// Enable moves the runner to active. Re-enabling is allowed.
func (r *Runner) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.phase {
	case PhaseDestroyed:
		return destroyedError()
	case PhaseUninitialized:
		return transitionError(r.phase, PhaseActive)
	}
	if r.cfg.ReadOnly {
		log.Warn().Msgf("runner.Runner.Enable rejected reason=read_only")
		return ErrReadOnly
	}
	r.phase = PhaseActive
	return nil
}

// Disable moves the runner to inactive without dropping state.
func (r *Runner) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.phase {
	case PhaseDestroyed:
		return destroyedError()
	case PhaseUninitialized:
		return transitionError(r.phase, PhaseInactive)
	}
	r.phase = PhaseInactive
	return nil
}

// Destroy is terminal. Every later operation fails with StateError{destroyed}.
func (r *Runner) Destroy() {
	r.mu.Lock()
	already := r.phase == PhaseDestroyed
	r.phase = PhaseDestroyed
	r.mu.Unlock()
	r.cancel()
	if !already {
		log.Info().Msgf("runner.Runner.Destroy phase=%s", PhaseDestroyed)
	}
}

// Run starts tool in the current environment and returns its Runtime. The
// start outcome is reported through Runtime.Dispatch, never through Run.
func (r *Runner) Run(ctx context.Context, tool string, args []string) (*Runtime, error) {
	r.mu.RLock()
	err := r.checkStateLocked()
	var env Environment
	hasEnv := r.current != nil
	if hasEnv {
		env = r.current.clone()
	}
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !hasEnv {
		return nil, ErrNoEnvironment
	}

	rt := newRuntime(env, strings.TrimSpace(tool), r.backend)
	if _, err := rt.Start(ctx, args); err != nil {
		return nil, err
	}
	log.Info().Msgf("runner.Runner.Run dispatched run_id=%q env=%q tool=%q", rt.ID(), rt.Env(), rt.Tool())
	return rt, nil
}

// CurrentEnvironment returns the selected environment, or nil when none is
// selected. Having no selection is not an error.
func (r *Runner) CurrentEnvironment() (*Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkStateLocked(); err != nil {
		return nil, err
	}
	if r.current == nil {
		return nil, nil
	}
	env := r.current.clone()
	return &env, nil
}

// SwitchEnvironment asks the backend to select name. The current environment
// changes only when the returned future resolves without error.
func (r *Runner) SwitchEnvironment(ctx context.Context, name string) (*Future[struct{}], error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	err := r.checkStateLocked()
	loaded := r.loaded
	_, known := findEnvironment(r.environments, name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if name == "" {
		return resolvedFuture(struct{}{}, NewRemoteError(CodeUnknownEnvironment, "environment name required")), nil
	}
	if loaded && !known {
		return resolvedFuture(struct{}{}, NewRemoteError(CodeUnknownEnvironment, "unknown environment %q", name)), nil
	}

	fut := newFuture[struct{}]()
	go func() {
		if err := r.backend.SetEnvironment(ctx, name); err != nil {
			rerr := AsRemoteError(err)
			log.Warn().Msgf("runner.Runner.SwitchEnvironment failed env=%q code=%s err=%q", name, rerr.Code, rerr.Message)
			fut.resolve(struct{}{}, rerr)
			return
		}
		r.setCurrent(name)
		log.Info().Msgf("runner.Runner.SwitchEnvironment ok env=%q", name)
		fut.resolve(struct{}{}, nil)
	}()
	return fut, nil
}

// GetEnvironments queries the backend for the full environment list, in the
// order the backend returns it, and refreshes the local registry.
func (r *Runner) GetEnvironments(ctx context.Context) (*Future[[]Environment], error) {
	r.mu.RLock()
	err := r.checkStateLocked()
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	fut := newFuture[[]Environment]()
	go func() {
		envs, err := r.refresh(ctx)
		fut.resolve(envs, err)
	}()
	return fut, nil
}

func (r *Runner) refresh(ctx context.Context) ([]Environment, error) {
	envs, err := r.backend.ListEnvironments(ctx)
	if err != nil {
		rerr := AsRemoteError(err)
		log.Warn().Msgf("runner.Runner.refresh failed code=%s err=%q", rerr.Code, rerr.Message)
		return nil, rerr
	}
	if err := validateEnvironments(envs); err != nil {
		rerr := NewRemoteError(CodeInternal, "invalid environment list: %v", err)
		log.Warn().Msgf("runner.Runner.refresh rejected err=%q", rerr.Message)
		return nil, rerr
	}
	if envs == nil {
		envs = []Environment{}
	}
	r.storeEnvironments(envs)
	return cloneEnvironments(envs), nil
}

// storeEnvironments replaces the registry and settles the selection: an
// existing selection is kept and refreshed, otherwise the remote-reported
// current environment wins over the configured default.
func (r *Runner) storeEnvironments(envs []Environment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseDestroyed {
		return
	}
	r.environments = cloneEnvironments(envs)
	r.loaded = true

	if r.current != nil {
		if env, ok := findEnvironment(r.environments, r.current.Name); ok {
			env.Current = true
			r.current = &env
		}
		log.Debug().Msgf("runner.Runner.refresh ok environments=%d current=%q", len(envs), r.current.Name)
		return
	}

	for _, env := range r.environments {
		if env.Current {
			selected := env.clone()
			r.current = &selected
			break
		}
	}
	if r.current == nil && r.cfg.DefaultEnvironment != "" {
		if env, ok := findEnvironment(r.environments, r.cfg.DefaultEnvironment); ok {
			env.Current = true
			r.current = &env
		}
	}
	current := ""
	if r.current != nil {
		current = r.current.Name
	}
	log.Debug().Msgf("runner.Runner.refresh ok environments=%d current=%q", len(envs), current)
}

func (r *Runner) setCurrent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseDestroyed {
		return
	}
	selected := Environment{Name: name}
	for i := range r.environments {
		r.environments[i].Current = r.environments[i].Name == name
		if r.environments[i].Current {
			selected = r.environments[i].clone()
		}
	}
	selected.Current = true
	r.current = &selected
}

func (r *Runner) checkStateLocked() error {
	if r.phase == PhaseActive {
		return nil
	}
	if r.phase == PhaseDestroyed {
		return destroyedError()
	}
	return &StateError{Reason: ReasonInactive}
}
