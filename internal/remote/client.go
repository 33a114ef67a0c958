package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/danmuck/toolrun/internal/observability"
	"github.com/danmuck/toolrun/internal/runner"
	"github.com/rs/zerolog/log"
)

var (
	_ runner.Backend           = (*Client)(nil)
	_ runner.CompletionWatcher = (*Client)(nil)
)

// Client talks to one execution server control endpoint. Each call dials a
// fresh connection, so a Client is safe for concurrent use.
type Client struct {
	cfg Config
}

// NewClient constructs a client, filling zero config fields with defaults.
func NewClient(cfg Config) *Client {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	return &Client{cfg: cfg.withDefaults()}
}

func (c *Client) Addr() string {
	return c.cfg.Addr
}

func (c *Client) ListEnvironments(ctx context.Context) ([]runner.Environment, error) {
	var envs []runner.Environment
	if err := c.call(ctx, Request{Action: ActionListEnvironments}, &envs); err != nil {
		return nil, err
	}
	if envs == nil {
		envs = []runner.Environment{}
	}
	return envs, nil
}

func (c *Client) SetEnvironment(ctx context.Context, name string) error {
	return c.call(ctx, Request{Action: ActionSetEnvironment, Environment: name}, nil)
}

func (c *Client) StartTool(ctx context.Context, ref runner.ToolRef, args []string) error {
	req := refRequest(ActionStartTool, ref)
	req.Args = args
	return c.call(ctx, req, nil)
}

func (c *Client) StopTool(ctx context.Context, ref runner.ToolRef) error {
	return c.call(ctx, refRequest(ActionStopTool, ref), nil)
}

// Status fetches the server view of one run.
func (c *Client) Status(ctx context.Context, ref runner.ToolRef) (ToolStatus, error) {
	var st ToolStatus
	if err := c.call(ctx, refRequest(ActionToolStatus, ref), &st); err != nil {
		return ToolStatus{}, err
	}
	return st, nil
}

// WaitTool polls tool_status until the run leaves the running state. Transport
// failures are retried up to MaxPollFailures consecutive attempts.
func (c *Client) WaitTool(ctx context.Context, ref runner.ToolRef) (runner.ExitStatus, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	failures := 0
	for {
		st, err := c.Status(ctx, ref)
		switch {
		case err == nil:
			failures = 0
			if st.State != StateRunning {
				return st.Exit(), nil
			}
		case ctx.Err() != nil:
			return runner.ExitStatus{}, ctx.Err()
		default:
			rerr := runner.AsRemoteError(err)
			if rerr.Code != runner.CodeUnreachable {
				return runner.ExitStatus{}, rerr
			}
			failures++
			if failures >= c.cfg.MaxPollFailures {
				return runner.ExitStatus{}, rerr
			}
			log.Debug().Msgf("remote.Client.WaitTool retry run_id=%q failures=%d err=%q", ref.RunID, failures, rerr.Message)
		}

		attempt++
		timer := time.NewTimer(NextBackoffDelay(c.cfg.Poll, attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return runner.ExitStatus{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) call(ctx context.Context, req Request, out any) (err error) {
	started := time.Now()
	defer func() {
		code := ""
		if err != nil {
			code = string(runner.AsRemoteError(err).Code)
		}
		observability.RecordRemoteCall(req.Action, code, time.Since(started))
	}()

	if c.cfg.Addr == "" {
		return runner.NewRemoteError(runner.CodeUnreachable, "remote: control addr required")
	}
	req.Token = c.cfg.Token
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return contextOr(ctx, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	deadline := time.Now().Add(c.cfg.CallTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := writeLine(conn, req); err != nil {
		return contextOr(ctx, err)
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return contextOr(ctx, err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return runner.NewRemoteError(runner.CodeInternal, "decode response: %v", err)
	}
	if !resp.OK {
		code := resp.Code
		if code == "" {
			code = runner.CodeInternal
		}
		log.Debug().Msgf("remote.Client.call failed action=%q addr=%q code=%s err=%q", req.Action, c.cfg.Addr, code, resp.Error)
		return &runner.RemoteError{Code: code, Message: strings.TrimSpace(resp.Error)}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return runner.NewRemoteError(runner.CodeInternal, "decode %s data: %v", req.Action, err)
		}
	}
	return nil
}

func contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
