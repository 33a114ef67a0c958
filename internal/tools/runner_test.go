package tools

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/toolrun/internal/testutil/testlog"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestLaunchReportsExitCode(t *testing.T) {
	testlog.Start(t)
	requireShell(t)

	p, err := ExecLauncher{}.Launch(context.Background(), CommandSpec{
		Name: "sh",
		Args: []string{"-c", "echo hello; exit 3"},
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if p.PID() == 0 {
		t.Fatalf("expected pid")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Code != 3 || res.Stopped {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(string(p.Output()), "hello") {
		t.Fatalf("missing output: %q", p.Output())
	}
}

func TestLaunchMissingBinary(t *testing.T) {
	testlog.Start(t)

	_, err := ExecLauncher{}.Launch(context.Background(), CommandSpec{Name: "toolrun-definitely-missing"})
	if err == nil {
		t.Fatalf("expected launch failure")
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected exec.ErrNotFound, got %v", err)
	}
	if ExitCode(err) != 127 {
		t.Fatalf("expected 127, got %d", ExitCode(err))
	}
}

func TestLaunchRequiresName(t *testing.T) {
	if _, err := (ExecLauncher{}).Launch(context.Background(), CommandSpec{Name: "  "}); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestStopMarksStopped(t *testing.T) {
	testlog.Start(t)
	requireShell(t)

	p, err := ExecLauncher{}.Launch(context.Background(), CommandSpec{Name: "sh", Args: []string{"-c", "exec sleep 30"}})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if err := p.Stop(200 * time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatalf("stop must wait for exit")
	}
	res := p.Result()
	if !res.Stopped || res.Code == 0 {
		t.Fatalf("unexpected result after stop: %+v", res)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestExitCodeMapping(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Fatalf("nil error should map to 0")
	}
	if ExitCode(errors.New("boom")) != 1 {
		t.Fatalf("generic error should map to 1")
	}
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	b := NewTailBuffer(5)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	if got := string(b.Bytes()); got != "cdefg" {
		t.Fatalf("unexpected tail: %q", got)
	}
	_, _ = b.Write([]byte("0123456789"))
	if got := string(b.Bytes()); got != "56789" {
		t.Fatalf("unexpected tail after overflow: %q", got)
	}
}
