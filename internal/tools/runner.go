package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrNotStarted is returned when a process handle has no running command.
var ErrNotStarted = errors.New("tools: process not started")

// CommandSpec describes one tool invocation.
type CommandSpec struct {
	Name      string
	Args      []string
	Dir       string
	Env       []string
	TailBytes int
}

// ExitResult is the terminal state of a launched process.
type ExitResult struct {
	Code     int32
	Stopped  bool
	Err      error
	Duration time.Duration
}

// Launcher abstracts process creation for the execution server.
type Launcher interface {
	Launch(ctx context.Context, spec CommandSpec) (*Process, error)
}

// ExecLauncher launches processes on the local host.
type ExecLauncher struct{}

// Launch starts spec and returns once the process exists. The process is not
// bound to ctx after Launch returns.
func (ExecLauncher) Launch(ctx context.Context, spec CommandSpec) (*Process, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("tools: command name required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	out := NewTailBuffer(spec.TailBytes)
	cmd.Stdout = out
	cmd.Stderr = out
	// Orphaned children may hold the output pipes open after the tool exits.
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("tools: start %s: %w", name, err)
	}
	p := &Process{
		cmd:     cmd,
		output:  out,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

// Process is one launched command.
type Process struct {
	cmd     *exec.Cmd
	output  *TailBuffer
	started time.Time
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
	result  ExitResult
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.result = ExitResult{
		Code:     ExitCode(err),
		Stopped:  p.stopped,
		Err:      err,
		Duration: time.Since(p.started),
	}
	p.mu.Unlock()
	close(p.done)
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) StartedAt() time.Time {
	return p.started
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until exit or ctx ends.
func (p *Process) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-p.done:
		return p.Result(), nil
	case <-ctx.Done():
		return ExitResult{}, ctx.Err()
	}
}

// Result returns the exit result. It is zero until Done is closed.
func (p *Process) Result() ExitResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Output returns the retained tail of combined stdout and stderr.
func (p *Process) Output() []byte {
	return p.output.Bytes()
}

// Stop sends SIGTERM and escalates to SIGKILL after grace. It returns once
// the process has exited.
func (p *Process) Stop(grace time.Duration) error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return ErrNotStarted
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = p.cmd.Process.Kill()
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}
	if err := p.cmd.Process.Kill(); err != nil {
		select {
		case <-p.done:
			return nil
		default:
			return err
		}
	}
	<-p.done
	return nil
}

// ExitCode maps a command error to a shell-style exit code. Missing binaries
// report 127.
func ExitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return 127
	}
	return 1
}
