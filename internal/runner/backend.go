package runner

import "context"

// ToolRef addresses one tool run on the remote side.
type ToolRef struct {
	RunID       string `json:"run_id"`
	Environment string `json:"environment"`
	Tool        string `json:"tool"`
}

const (
	ExitExited  = "exited"
	ExitStopped = "stopped"
	ExitFailed  = "failed"
)

// ExitStatus is the remote-reported completion of a tool run.
type ExitStatus struct {
	Code   int32  `json:"code"`
	Reason string `json:"reason"`
}

// Success reports a clean exit.
func (s ExitStatus) Success() bool {
	return s.Reason == ExitExited && s.Code == 0
}

// Backend is the remote execution boundary. Each call resolves exactly once;
// failures should be *RemoteError values, anything else is treated as unreachable.
type Backend interface {
	ListEnvironments(ctx context.Context) ([]Environment, error)
	SetEnvironment(ctx context.Context, name string) error
	StartTool(ctx context.Context, ref ToolRef, args []string) error
	StopTool(ctx context.Context, ref ToolRef) error
}

// CompletionWatcher is implemented by backends that can report when a started
// tool finishes on its own.
type CompletionWatcher interface {
	WaitTool(ctx context.Context, ref ToolRef) (ExitStatus, error)
}
