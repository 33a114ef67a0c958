package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/toolrun/internal/toolserver"
)

type fileConfig struct {
	ID                 string            `toml:"id"`
	ControlAddr        string            `toml:"control_addr"`
	AuthToken          string            `toml:"auth_token"`
	HTTPAddr           string            `toml:"http_addr"`
	CORSOrigins        []string          `toml:"cors_origins"`
	DefaultEnvironment string            `toml:"default_environment"`
	RatePerSecond      float64           `toml:"rate_per_second"`
	RateBurst          int               `toml:"rate_burst"`
	IdleTimeout        string            `toml:"idle_timeout"`
	StopGrace          string            `toml:"stop_grace"`
	HistoryLimit       int               `toml:"history_limit"`
	OutputTailBytes    int               `toml:"output_tail_bytes"`
	Environments       []fileEnvironment `toml:"environments"`
}

type fileEnvironment struct {
	Name  string     `toml:"name"`
	Dir   string     `toml:"dir"`
	Env   []string   `toml:"env"`
	Tools []fileTool `toml:"tools"`
}

type fileTool struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Command     string   `toml:"command"`
	Args        []string `toml:"args"`
}

func loadServerConfig(path string) (toolserver.Config, error) {
	cfg := toolserver.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return toolserver.Config{}, fmt.Errorf("load toolrund config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ServerID = id
		}
	}
	if meta.IsDefined("control_addr") {
		cfg.ControlAddr = strings.TrimSpace(raw.ControlAddr)
	}
	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("default_environment") {
		cfg.DefaultEnvironment = strings.TrimSpace(raw.DefaultEnvironment)
	}
	if meta.IsDefined("rate_per_second") {
		cfg.RatePerSecond = raw.RatePerSecond
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("idle_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IdleTimeout))
		if err != nil {
			return toolserver.Config{}, fmt.Errorf("parse idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}
	if meta.IsDefined("stop_grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StopGrace))
		if err != nil {
			return toolserver.Config{}, fmt.Errorf("parse stop_grace: %w", err)
		}
		cfg.StopGrace = d
	}
	if meta.IsDefined("history_limit") {
		cfg.HistoryLimit = raw.HistoryLimit
	}
	if meta.IsDefined("output_tail_bytes") {
		cfg.OutputTailBytes = raw.OutputTailBytes
	}
	if meta.IsDefined("environments") {
		cfg.Environments = convertEnvironments(raw.Environments)
	}

	if err := toolserver.ValidateConfig(cfg); err != nil {
		return toolserver.Config{}, err
	}
	return cfg, nil
}

func convertEnvironments(in []fileEnvironment) []toolserver.EnvironmentConfig {
	out := make([]toolserver.EnvironmentConfig, 0, len(in))
	for _, env := range in {
		item := toolserver.EnvironmentConfig{
			Name:  strings.TrimSpace(env.Name),
			Dir:   strings.TrimSpace(env.Dir),
			Env:   env.Env,
			Tools: make([]toolserver.ToolConfig, 0, len(env.Tools)),
		}
		for _, tool := range env.Tools {
			item.Tools = append(item.Tools, toolserver.ToolConfig{
				Name:        strings.TrimSpace(tool.Name),
				Description: strings.TrimSpace(tool.Description),
				Command:     strings.TrimSpace(tool.Command),
				Args:        tool.Args,
			})
		}
		out = append(out, item)
	}
	return out
}
