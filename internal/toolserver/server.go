package toolserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/toolrun/internal/observability"
	"github.com/danmuck/toolrun/internal/remote"
	"github.com/danmuck/toolrun/internal/runner"
	"github.com/danmuck/toolrun/internal/tools"
	"github.com/rs/zerolog/log"
)

type run struct {
	ref     runner.ToolRef
	proc    *tools.Process
	started time.Time
	ended   time.Time
	exit    *runner.ExitStatus
	tracked chan struct{}
}

func (r *run) status(withOutput bool) remote.ToolStatus {
	st := remote.ToolStatus{
		RunID:       r.ref.RunID,
		Environment: r.ref.Environment,
		Tool:        r.ref.Tool,
		State:       remote.StateRunning,
		PID:         r.proc.PID(),
		StartedAt:   r.started,
	}
	if r.exit != nil {
		st.State = remote.StateExited
		st.ExitCode = r.exit.Code
		st.Reason = r.exit.Reason
		st.EndedAt = r.ended
	}
	if withOutput {
		st.Output = string(r.proc.Output())
	}
	return st
}

// Server owns the environment catalog, the current selection, and the run table.
type Server struct {
	cfg      Config
	launcher tools.Launcher
	started  time.Time

	mu       sync.Mutex
	envs     []EnvironmentConfig
	current  string
	runs     map[string]*run
	finished []string
}

// NewServer validates cfg and builds a server. A nil launcher uses tools.ExecLauncher.
func NewServer(cfg Config, launcher tools.Launcher) (*Server, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if launcher == nil {
		launcher = tools.ExecLauncher{}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	envs := make([]EnvironmentConfig, len(cfg.Environments))
	for i, env := range cfg.Environments {
		env.Name = strings.TrimSpace(env.Name)
		env.Tools = append([]ToolConfig(nil), env.Tools...)
		for j := range env.Tools {
			env.Tools[j].Name = strings.TrimSpace(env.Tools[j].Name)
		}
		envs[i] = env
	}
	return &Server{
		cfg:      cfg,
		launcher: launcher,
		started:  time.Now(),
		envs:     envs,
		current:  strings.TrimSpace(cfg.DefaultEnvironment),
		runs:     make(map[string]*run),
	}, nil
}

func (s *Server) ID() string {
	return s.cfg.ServerID
}

// Environments lists the catalog in configuration order, marking the current one.
func (s *Server) Environments() []runner.Environment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]runner.Environment, 0, len(s.envs))
	for _, env := range s.envs {
		item := runner.Environment{
			Name:    env.Name,
			Tools:   make([]runner.Tool, 0, len(env.Tools)),
			Current: env.Name == s.current,
		}
		for _, tool := range env.Tools {
			item.Tools = append(item.Tools, runner.Tool{Name: tool.Name, Description: tool.Description})
		}
		out = append(out, item)
	}
	return out
}

// Current returns the selected environment name, empty when none is selected.
func (s *Server) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Server) SetEnvironment(name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.environmentLocked(name); !ok {
		return runner.NewRemoteError(runner.CodeUnknownEnvironment, "unknown environment %q", name)
	}
	s.current = name
	log.Info().Msgf("toolserver.Server.SetEnvironment env=%q", name)
	return nil
}

// StartTool launches the tool named by ref. The run id must be new.
func (s *Server) StartTool(ctx context.Context, ref runner.ToolRef, args []string) error {
	ref.RunID = strings.TrimSpace(ref.RunID)
	ref.Environment = strings.TrimSpace(ref.Environment)
	ref.Tool = strings.TrimSpace(ref.Tool)
	if ref.RunID == "" {
		return runner.NewRemoteError(runner.CodeRejected, "run_id required")
	}

	s.mu.Lock()
	env, ok := s.environmentLocked(ref.Environment)
	if !ok {
		s.mu.Unlock()
		return runner.NewRemoteError(runner.CodeUnknownEnvironment, "unknown environment %q", ref.Environment)
	}
	tool, ok := findTool(env, ref.Tool)
	if !ok {
		s.mu.Unlock()
		return runner.NewRemoteError(runner.CodeUnknownTool, "environment %q has no tool %q", ref.Environment, ref.Tool)
	}
	if _, exists := s.runs[ref.RunID]; exists {
		s.mu.Unlock()
		return runner.NewRemoteError(runner.CodeRejected, "run %q already exists", ref.RunID)
	}
	// Reserve the id so a concurrent start with the same id is rejected.
	s.runs[ref.RunID] = nil
	s.mu.Unlock()

	spec := tools.CommandSpec{
		Name:      tool.Command,
		Args:      append(append([]string(nil), tool.Args...), args...),
		Dir:       env.Dir,
		Env:       env.Env,
		TailBytes: s.cfg.OutputTailBytes,
	}
	proc, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		s.mu.Lock()
		delete(s.runs, ref.RunID)
		s.mu.Unlock()
		observability.RecordProcessExit(ref.Environment, ref.Tool, runner.ExitFailed)
		log.Warn().Msgf("toolserver.Server.StartTool launch failed run_id=%q env=%q tool=%q err=%v", ref.RunID, ref.Environment, ref.Tool, err)
		return runner.NewRemoteError(runner.CodeRejected, "launch %s: %v", ref.Tool, err)
	}

	r := &run{ref: ref, proc: proc, started: proc.StartedAt(), tracked: make(chan struct{})}
	s.mu.Lock()
	s.runs[ref.RunID] = r
	s.mu.Unlock()
	observability.ProcessRunning(1)
	log.Info().Msgf("toolserver.Server.StartTool run_id=%q env=%q tool=%q pid=%d", ref.RunID, ref.Environment, ref.Tool, proc.PID())

	go s.track(r)
	return nil
}

// track records the exit of r once its process ends.
func (s *Server) track(r *run) {
	<-r.proc.Done()
	res := r.proc.Result()
	exit := runner.ExitStatus{Code: res.Code, Reason: runner.ExitExited}
	if res.Stopped {
		exit.Reason = runner.ExitStopped
	}

	s.mu.Lock()
	r.exit = &exit
	r.ended = time.Now()
	s.finished = append(s.finished, r.ref.RunID)
	s.pruneLocked()
	s.mu.Unlock()
	close(r.tracked)

	observability.ProcessRunning(-1)
	observability.RecordProcessExit(r.ref.Environment, r.ref.Tool, exit.Reason)
	log.Info().Msgf(
		"toolserver.Server.track exit run_id=%q env=%q tool=%q reason=%s code=%d duration=%s",
		r.ref.RunID, r.ref.Environment, r.ref.Tool, exit.Reason, exit.Code, res.Duration,
	)
}

// StopTool stops a running tool. Stopping a finished run succeeds.
func (s *Server) StopTool(ref runner.ToolRef) error {
	runID := strings.TrimSpace(ref.RunID)
	s.mu.Lock()
	r := s.runs[runID]
	s.mu.Unlock()
	if r == nil {
		return runner.NewRemoteError(runner.CodeUnknownRun, "unknown run %q", runID)
	}
	if err := r.proc.Stop(s.cfg.StopGrace); err != nil && !errors.Is(err, tools.ErrNotStarted) {
		return runner.NewRemoteError(runner.CodeInternal, "stop %s: %v", runID, err)
	}
	<-r.tracked
	log.Info().Msgf("toolserver.Server.StopTool run_id=%q env=%q tool=%q", runID, r.ref.Environment, r.ref.Tool)
	return nil
}

// RunStatus reports one run.
func (s *Server) RunStatus(runID string, withOutput bool) (remote.ToolStatus, error) {
	runID = strings.TrimSpace(runID)
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.runs[runID]
	if r == nil {
		return remote.ToolStatus{}, runner.NewRemoteError(runner.CodeUnknownRun, "unknown run %q", runID)
	}
	return r.status(withOutput), nil
}

// Runs lists known runs, running first, then finished in completion order.
func (s *Server) Runs() []remote.ToolStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.ToolStatus, 0, len(s.runs))
	for _, r := range s.runs {
		if r != nil && r.exit == nil {
			out = append(out, r.status(false))
		}
	}
	for _, id := range s.finished {
		if r := s.runs[id]; r != nil {
			out = append(out, r.status(false))
		}
	}
	return out
}

// Shutdown stops every running tool.
func (s *Server) Shutdown() {
	s.mu.Lock()
	active := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		if r != nil && r.exit == nil {
			active = append(active, r)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range active {
		wg.Add(1)
		go func(r *run) {
			defer wg.Done()
			_ = r.proc.Stop(s.cfg.StopGrace)
		}(r)
	}
	wg.Wait()
	log.Info().Msgf("toolserver.Server.Shutdown stopped=%d", len(active))
}

// Handle implements remote.Handler.
func (s *Server) Handle(ctx context.Context, req remote.Request) remote.Response {
	switch req.Action {
	case remote.ActionListEnvironments:
		return remote.Reply(s.Environments())
	case remote.ActionSetEnvironment:
		if err := s.SetEnvironment(req.Environment); err != nil {
			return remote.FailErr(err)
		}
		return remote.Reply(nil)
	case remote.ActionStartTool:
		if err := s.StartTool(ctx, runner.ToolRef{RunID: req.RunID, Environment: req.Environment, Tool: req.Tool}, req.Args); err != nil {
			return remote.FailErr(err)
		}
		return remote.Reply(nil)
	case remote.ActionStopTool:
		if err := s.StopTool(runner.ToolRef{RunID: req.RunID}); err != nil {
			return remote.FailErr(err)
		}
		return remote.Reply(nil)
	case remote.ActionToolStatus:
		st, err := s.RunStatus(req.RunID, false)
		if err != nil {
			return remote.FailErr(err)
		}
		return remote.Reply(st)
	default:
		return remote.Fail(runner.CodeRejected, fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func (s *Server) environmentLocked(name string) (EnvironmentConfig, bool) {
	for _, env := range s.envs {
		if env.Name == name {
			return env, true
		}
	}
	return EnvironmentConfig{}, false
}

func findTool(env EnvironmentConfig, name string) (ToolConfig, bool) {
	for _, tool := range env.Tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return ToolConfig{}, false
}

// pruneLocked drops the oldest finished runs beyond the history limit.
func (s *Server) pruneLocked() {
	over := len(s.finished) - s.cfg.HistoryLimit
	if over <= 0 {
		return
	}
	for _, id := range s.finished[:over] {
		delete(s.runs, id)
	}
	s.finished = append([]string(nil), s.finished[over:]...)
}
