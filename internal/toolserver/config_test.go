package toolserver

import (
	"errors"
	"testing"
)

func TestValidateConfig(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.Environments = []EnvironmentConfig{
			{Name: "python", Tools: []ToolConfig{{Name: "pytest", Command: "pytest"}}},
		}
		return cfg
	}

	if err := ValidateConfig(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"missing control addr": func(c *Config) { c.ControlAddr = " " },
		"empty env name":       func(c *Config) { c.Environments[0].Name = "" },
		"duplicate env": func(c *Config) {
			c.Environments = append(c.Environments, EnvironmentConfig{Name: "python"})
		},
		"empty tool name": func(c *Config) { c.Environments[0].Tools[0].Name = "" },
		"duplicate tool": func(c *Config) {
			c.Environments[0].Tools = append(c.Environments[0].Tools, ToolConfig{Name: "pytest", Command: "x"})
		},
		"missing command": func(c *Config) { c.Environments[0].Tools[0].Command = "" },
		"unknown default": func(c *Config) { c.DefaultEnvironment = "node" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := ValidateConfig(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}
