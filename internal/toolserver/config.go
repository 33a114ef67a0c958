package toolserver

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ToolConfig maps a tool name to the command that implements it.
type ToolConfig struct {
	Name        string
	Description string
	Command     string
	Args        []string
}

// EnvironmentConfig groups tools that share a working directory and process env.
type EnvironmentConfig struct {
	Name  string
	Dir   string
	Env   []string
	Tools []ToolConfig
}

// Config defines the execution server.
type Config struct {
	ServerID           string
	ControlAddr        string
	AuthToken          string
	HTTPAddr           string
	CORSOrigins        []string
	DefaultEnvironment string
	RatePerSecond      float64
	RateBurst          int
	IdleTimeout        time.Duration
	StopGrace          time.Duration
	HistoryLimit       int
	OutputTailBytes    int
	Environments       []EnvironmentConfig
}

// DefaultConfig returns server defaults with no environments.
func DefaultConfig() Config {
	return Config{
		ServerID:        "toolrund.local",
		ControlAddr:     "127.0.0.1:7420",
		HTTPAddr:        "",
		CORSOrigins:     []string{"http://localhost:3000"},
		RatePerSecond:   50,
		RateBurst:       100,
		IdleTimeout:     30 * time.Second,
		StopGrace:       5 * time.Second,
		HistoryLimit:    256,
		OutputTailBytes: 16 << 10,
	}
}

var ErrInvalidConfig = errors.New("toolserver: invalid config")

// ValidateConfig checks catalog names and the default environment.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ControlAddr) == "" {
		return fmt.Errorf("%w: control addr required", ErrInvalidConfig)
	}
	seenEnv := make(map[string]struct{}, len(cfg.Environments))
	for i, env := range cfg.Environments {
		name := strings.TrimSpace(env.Name)
		if name == "" {
			return fmt.Errorf("%w: environments[%d] name required", ErrInvalidConfig, i)
		}
		if _, ok := seenEnv[name]; ok {
			return fmt.Errorf("%w: duplicate environment %q", ErrInvalidConfig, name)
		}
		seenEnv[name] = struct{}{}

		seenTool := make(map[string]struct{}, len(env.Tools))
		for j, tool := range env.Tools {
			toolName := strings.TrimSpace(tool.Name)
			if toolName == "" {
				return fmt.Errorf("%w: environment %q tools[%d] name required", ErrInvalidConfig, name, j)
			}
			if _, ok := seenTool[toolName]; ok {
				return fmt.Errorf("%w: environment %q duplicate tool %q", ErrInvalidConfig, name, toolName)
			}
			seenTool[toolName] = struct{}{}
			if strings.TrimSpace(tool.Command) == "" {
				return fmt.Errorf("%w: environment %q tool %q command required", ErrInvalidConfig, name, toolName)
			}
		}
	}
	if def := strings.TrimSpace(cfg.DefaultEnvironment); def != "" {
		if _, ok := seenEnv[def]; !ok {
			return fmt.Errorf("%w: default environment %q not configured", ErrInvalidConfig, def)
		}
	}
	return nil
}
