package remote

import (
	"encoding/json"
	"io"
	"time"

	"github.com/danmuck/toolrun/internal/runner"
)

const (
	ActionListEnvironments = "list_environments"
	ActionSetEnvironment   = "set_environment"
	ActionStartTool        = "start_tool"
	ActionStopTool         = "stop_tool"
	ActionToolStatus       = "tool_status"
)

// Run states reported by tool_status.
const (
	StateRunning = "running"
	StateExited  = "exited"
)

// Request is one control action envelope.
type Request struct {
	Action      string   `json:"action"`
	Environment string   `json:"environment,omitempty"`
	RunID       string   `json:"run_id,omitempty"`
	Tool        string   `json:"tool,omitempty"`
	Args        []string `json:"args,omitempty"`
	Token       string   `json:"token,omitempty"`
}

func (r Request) ref() runner.ToolRef {
	return runner.ToolRef{RunID: r.RunID, Environment: r.Environment, Tool: r.Tool}
}

func refRequest(action string, ref runner.ToolRef) Request {
	return Request{Action: action, RunID: ref.RunID, Environment: ref.Environment, Tool: ref.Tool}
}

// Response is one control result envelope.
type Response struct {
	OK    bool             `json:"ok"`
	Code  runner.ErrorCode `json:"code,omitempty"`
	Error string           `json:"error,omitempty"`
	Data  json.RawMessage  `json:"data,omitempty"`
}

// Reply builds a successful response carrying data.
func Reply(data any) Response {
	if data == nil {
		return Response{OK: true}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Fail(runner.CodeInternal, "encode response: "+err.Error())
	}
	return Response{OK: true, Data: payload}
}

// Fail builds a failed response.
func Fail(code runner.ErrorCode, msg string) Response {
	return Response{OK: false, Code: code, Error: msg}
}

// FailErr builds a failed response from err, keeping a RemoteError code when present.
func FailErr(err error) Response {
	rerr := runner.AsRemoteError(err)
	if rerr == nil {
		return Reply(nil)
	}
	code := rerr.Code
	if code == runner.CodeUnreachable {
		code = runner.CodeInternal
	}
	return Fail(code, rerr.Message)
}

// ToolStatus describes one run on the execution server.
type ToolStatus struct {
	RunID       string    `json:"run_id"`
	Environment string    `json:"environment"`
	Tool        string    `json:"tool"`
	State       string    `json:"state"`
	PID         int       `json:"pid,omitempty"`
	ExitCode    int32     `json:"exit_code"`
	Reason      string    `json:"reason,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Output      string    `json:"output,omitempty"`
}

// Exit converts a finished status into a runner exit status.
func (s ToolStatus) Exit() runner.ExitStatus {
	reason := s.Reason
	if reason == "" {
		reason = runner.ExitExited
	}
	return runner.ExitStatus{Code: s.ExitCode, Reason: reason}
}

func writeLine(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}
