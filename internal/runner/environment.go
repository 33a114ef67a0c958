package runner

import (
	"fmt"
	"strings"
)

// Tool is one named executable capability of an environment.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Environment is a named remote execution context.
type Environment struct {
	Name    string `json:"name"`
	Tools   []Tool `json:"tools"`
	Current bool   `json:"current,omitempty"`
}

// HasTool reports whether the environment advertises name.
func (e Environment) HasTool(name string) bool {
	for _, tool := range e.Tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

// ToolNames returns advertised tool names in listing order.
func (e Environment) ToolNames() []string {
	out := make([]string, 0, len(e.Tools))
	for _, tool := range e.Tools {
		out = append(out, tool.Name)
	}
	return out
}

func (e Environment) clone() Environment {
	out := e
	if e.Tools != nil {
		out.Tools = make([]Tool, len(e.Tools))
		copy(out.Tools, e.Tools)
	}
	return out
}

func cloneEnvironments(in []Environment) []Environment {
	out := make([]Environment, 0, len(in))
	for _, env := range in {
		out = append(out, env.clone())
	}
	return out
}

// validateEnvironments checks the listing invariant: non-empty unique names.
func validateEnvironments(envs []Environment) error {
	seen := make(map[string]struct{}, len(envs))
	for i, env := range envs {
		name := strings.TrimSpace(env.Name)
		if name == "" {
			return fmt.Errorf("environments[%d] missing name", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("environments[%d] duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func findEnvironment(envs []Environment, name string) (Environment, bool) {
	for _, env := range envs {
		if env.Name == name {
			return env, true
		}
	}
	return Environment{}, false
}
