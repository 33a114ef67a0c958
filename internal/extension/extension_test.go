package extension

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/toolrun/internal/runner"
	"github.com/danmuck/toolrun/internal/testutil/testlog"
)

type nopBackend struct{}

func (nopBackend) ListEnvironments(context.Context) ([]runner.Environment, error) {
	return []runner.Environment{{Name: "python", Current: true}}, nil
}
func (nopBackend) SetEnvironment(context.Context, string) error { return nil }
func (nopBackend) StartTool(context.Context, runner.ToolRef, []string) error { return nil }
func (nopBackend) StopTool(context.Context, runner.ToolRef) error { return nil }

func TestHostHookEnablesRunner(t *testing.T) {
	testlog.Start(t)

	host := NewHost(false)
	r := runner.New(nopBackend{}, runner.Config{})
	if err := host.Register(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := host.Register(r); !errors.Is(err, ErrExtensionExists) {
		t.Fatalf("expected ErrExtensionExists, got %v", err)
	}
	if err := host.Hook(runner.Name); err != nil {
		t.Fatalf("hook: %v", err)
	}
	if r.Phase() != runner.PhaseActive {
		t.Fatalf("unexpected phase: %s", r.Phase())
	}
	if got, ok := host.Get(runner.Name); !ok || got != r {
		t.Fatalf("get returned %v ok=%v", got, ok)
	}

	host.Shutdown()
	if r.Phase() != runner.PhaseDestroyed {
		t.Fatalf("shutdown must destroy runner, phase=%s", r.Phase())
	}
	if len(host.Names()) != 0 {
		t.Fatalf("shutdown must clear registrations")
	}
}

// countingBackend counts environment listings.
type countingBackend struct {
	nopBackend
	calls atomic.Int32
}

func (b *countingBackend) ListEnvironments(ctx context.Context) ([]runner.Environment, error) {
	b.calls.Add(1)
	return b.nopBackend.ListEnvironments(ctx)
}

func TestHostReadOnlySkipsInit(t *testing.T) {
	testlog.Start(t)

	backend := &countingBackend{}
	host := NewHost(true)
	r := runner.New(backend, runner.Config{ReadOnly: true})
	if err := host.Register(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := host.Hook(runner.Name); err != nil {
		t.Fatalf("hook: %v", err)
	}
	if r.Phase() != runner.PhaseUninitialized {
		t.Fatalf("read-only host must leave runner uninitialized, phase=%s", r.Phase())
	}
	time.Sleep(20 * time.Millisecond)
	if n := backend.calls.Load(); n != 0 {
		t.Fatalf("read-only host made %d remote calls", n)
	}

	host.Shutdown()
	if r.Phase() != runner.PhaseDestroyed {
		t.Fatalf("shutdown must destroy runner, phase=%s", r.Phase())
	}
}

func TestHostErrors(t *testing.T) {
	host := NewHost(false)
	if err := host.Register(nil); !errors.Is(err, ErrExtensionNil) {
		t.Fatalf("expected ErrExtensionNil, got %v", err)
	}
	if err := host.Hook("missing"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}
