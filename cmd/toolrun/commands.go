package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/toolrun/internal/extension"
	"github.com/danmuck/toolrun/internal/remote"
	"github.com/danmuck/toolrun/internal/runner"
	"github.com/spf13/cobra"
)

// exitError carries a tool exit code out to the process.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("tool exited with code %d", e.code)
}

type app struct {
	configPath string
	addr       string
	timeout    time.Duration
	cfg        clientConfig
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "toolrun",
		Short: "Run development tools on a remote execution server",
		Long: `toolrun selects a development environment on a toolrund execution server and
runs named tools inside it.

Common workflows:

  List environments and their tools:
    toolrun envs

  Select an environment:
    toolrun switch python

  Run a tool and wait for it to finish:
    toolrun run pytest --wait -- -q tests/`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(a.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Remote.Addr = strings.TrimSpace(a.addr)
			}
			if cmd.Flags().Changed("timeout") {
				cfg.Timeout = a.timeout
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "client config toml")
	root.PersistentFlags().StringVar(&a.addr, "addr", "", "toolrund control address (overrides config)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "overall command timeout (overrides config)")

	root.AddCommand(
		newEnvsCmd(a),
		newCurrentCmd(a),
		newSwitchCmd(a),
		newRunCmd(a),
	)
	return root
}

// session is one hooked runner plus the host that owns it.
type session struct {
	host   *extension.Host
	runner *runner.Runner
}

func (s *session) Close() {
	s.host.Shutdown()
}

// open registers a runner on a fresh host, hooks it, and waits for the first
// environment refresh.
func (a *app) open(ctx context.Context) (*session, error) {
	host := extension.NewHost(a.cfg.ReadOnly)
	r := runner.New(remote.NewClient(a.cfg.Remote), runner.Config{
		ReadOnly:           a.cfg.ReadOnly,
		DefaultEnvironment: a.cfg.DefaultEnvironment,
	})
	if err := host.Register(r); err != nil {
		return nil, err
	}
	s := &session{host: host, runner: r}
	if err := host.Hook(runner.Name); err != nil {
		s.Close()
		return nil, err
	}
	if a.cfg.ReadOnly {
		s.Close()
		return nil, runner.ErrReadOnly
	}
	if _, err := r.Refreshed().Wait(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.Timeout)
}

func newEnvsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "envs",
		Short: "List environments and their tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			fut, err := s.runner.GetEnvironments(ctx)
			if err != nil {
				return err
			}
			envs, err := fut.Wait(ctx)
			if err != nil {
				return err
			}
			if len(envs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no environments")
				return nil
			}
			for _, env := range envs {
				marker := " "
				if env.Current {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-16s %s\n", marker, env.Name, strings.Join(env.ToolNames(), ", "))
			}
			return nil
		},
	}
}

func newCurrentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the selected environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			env, err := s.runner.CurrentEnvironment()
			if err != nil {
				return err
			}
			if env == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "(none)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), env.Name)
			return nil
		},
	}
}

func newSwitchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch [environment]",
		Short: "Select the environment tools run in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := switchTo(ctx, s.runner, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "switched to %s\n", strings.TrimSpace(args[0]))
			return nil
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	var (
		env  string
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "run [tool] [-- args...]",
		Short: "Run a tool in the selected environment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if strings.TrimSpace(env) != "" {
				if err := switchTo(ctx, s.runner, env); err != nil {
					return err
				}
			}
			rt, err := s.runner.Run(ctx, args[0], args[1:])
			if err != nil {
				if errors.Is(err, runner.ErrNoEnvironment) {
					return fmt.Errorf("%w (use --env or toolrun switch)", err)
				}
				return err
			}
			if _, err := rt.Dispatch().Wait(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started %s in %s run_id=%s\n", rt.Tool(), rt.Env(), rt.ID())
			if !wait {
				return nil
			}

			select {
			case <-rt.Done():
			case <-ctx.Done():
				stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				_, _ = rt.Stop(stopCtx).Wait(stopCtx)
				return ctx.Err()
			}
			exit, ok := rt.LastExit()
			if !ok {
				return fmt.Errorf("%s finished without exit status", rt.Tool())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s code=%d\n", rt.Tool(), exit.Reason, exit.Code)
			if !exit.Success() {
				code := int(exit.Code)
				if code <= 0 {
					code = 1
				}
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "switch to this environment before running")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the tool to exit and return its exit code")
	return cmd
}

func switchTo(ctx context.Context, r *runner.Runner, name string) error {
	fut, err := r.SwitchEnvironment(ctx, name)
	if err != nil {
		return err
	}
	_, err = fut.Wait(ctx)
	return err
}
