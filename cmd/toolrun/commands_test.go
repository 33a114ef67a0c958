package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/toolrun/internal/runner"
	"github.com/danmuck/toolrun/internal/testutil/testlog"
	"github.com/danmuck/toolrun/internal/toolserver"
)

func startToolServer(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cfg := toolserver.DefaultConfig()
	cfg.ControlAddr = "127.0.0.1:0"
	cfg.StopGrace = 500 * time.Millisecond
	cfg.Environments = []toolserver.EnvironmentConfig{
		{
			Name: "shell",
			Tools: []toolserver.ToolConfig{
				{Name: "ok", Command: "sh", Args: []string{"-c", "exit 0"}},
				{Name: "fail", Command: "sh", Args: []string{"-c", "exit 3"}},
			},
		},
		{Name: "empty"},
	}
	svc, err := toolserver.NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln, nil) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsAgainstServer(t *testing.T) {
	testlog.Start(t)
	addr := startToolServer(t)

	out, err := execute(t, "--addr", addr, "envs")
	if err != nil {
		t.Fatalf("envs: %v", err)
	}
	if !strings.Contains(out, "shell") || !strings.Contains(out, "ok, fail") {
		t.Fatalf("unexpected envs output: %q", out)
	}

	out, err = execute(t, "--addr", addr, "current")
	if err != nil || strings.TrimSpace(out) != "(none)" {
		t.Fatalf("current before switch out=%q err=%v", out, err)
	}

	if _, err := execute(t, "--addr", addr, "run", "ok"); !errors.Is(err, runner.ErrNoEnvironment) {
		t.Fatalf("expected ErrNoEnvironment, got %v", err)
	}

	out, err = execute(t, "--addr", addr, "switch", "shell")
	if err != nil || !strings.Contains(out, "switched to shell") {
		t.Fatalf("switch out=%q err=%v", out, err)
	}

	// The server remembers the selection across client processes.
	out, err = execute(t, "--addr", addr, "current")
	if err != nil || strings.TrimSpace(out) != "shell" {
		t.Fatalf("current after switch out=%q err=%v", out, err)
	}

	out, err = execute(t, "--addr", addr, "run", "ok", "--wait")
	if err != nil {
		t.Fatalf("run ok: %v (out=%q)", err, out)
	}
	if !strings.Contains(out, "ok exited code=0") {
		t.Fatalf("unexpected run output: %q", out)
	}
}

func TestRunCommandPropagatesExitCode(t *testing.T) {
	testlog.Start(t)
	addr := startToolServer(t)

	_, err := execute(t, "--addr", addr, "run", "--env", "shell", "--wait", "fail")
	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
}

func TestSwitchUnknownEnvironment(t *testing.T) {
	testlog.Start(t)
	addr := startToolServer(t)

	_, err := execute(t, "--addr", addr, "switch", "ruby")
	var rerr *runner.RemoteError
	if !errors.As(err, &rerr) || rerr.Code != runner.CodeUnknownEnvironment {
		t.Fatalf("expected unknown_environment, got %v", err)
	}
}

func TestCommandsUnreachableServer(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = execute(t, "--addr", addr, "envs")
	var rerr *runner.RemoteError
	if !errors.As(err, &rerr) || rerr.Code != runner.CodeUnreachable {
		t.Fatalf("expected unreachable, got %v", err)
	}
}
