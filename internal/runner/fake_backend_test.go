package runner

import (
	"context"
	"sync"
)

type startCall struct {
	Ref  ToolRef
	Args []string
}

// fakeBackend records calls and answers from configured results. When gate is
// set, StartTool blocks until the gate is closed.
type fakeBackend struct {
	mu sync.Mutex

	envs     []Environment
	listErr  error
	setErr   error
	startErr error
	stopErr  error
	gate     chan struct{}

	listCalls  int
	setCalls   []string
	startCalls []startCall
	stopCalls  []ToolRef
}

func (f *fakeBackend) ListEnvironments(ctx context.Context) ([]Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return cloneEnvironments(f.envs), nil
}

func (f *fakeBackend) SetEnvironment(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, name)
	return f.setErr
}

func (f *fakeBackend) StartTool(ctx context.Context, ref ToolRef, args []string) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls = append(f.startCalls, startCall{Ref: ref, Args: append([]string(nil), args...)})
	return f.startErr
}

func (f *fakeBackend) StopTool(ctx context.Context, ref ToolRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls = append(f.stopCalls, ref)
	return f.stopErr
}

func (f *fakeBackend) starts() []startCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]startCall, len(f.startCalls))
	copy(out, f.startCalls)
	return out
}

func (f *fakeBackend) stops() []ToolRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ToolRef, len(f.stopCalls))
	copy(out, f.stopCalls)
	return out
}

func (f *fakeBackend) sets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.setCalls))
	copy(out, f.setCalls)
	return out
}

// watchingBackend adds remote completion delivered through exits. A set
// waitErr fails every WaitTool instead.
type watchingBackend struct {
	*fakeBackend
	exits   chan ExitStatus
	waitErr error
}

func (w *watchingBackend) WaitTool(ctx context.Context, ref ToolRef) (ExitStatus, error) {
	if w.waitErr != nil {
		return ExitStatus{}, w.waitErr
	}
	select {
	case status := <-w.exits:
		return status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}
