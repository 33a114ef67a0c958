package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/toolrun/internal/remote"
)

type fileConfig struct {
	Addr               string `toml:"addr"`
	Token              string `toml:"token"`
	DefaultEnvironment string `toml:"default_environment"`
	ReadOnly           bool   `toml:"read_only"`
	Timeout            string `toml:"timeout"`
	DialTimeout        string `toml:"dial_timeout"`
	CallTimeout        string `toml:"call_timeout"`
	PollInitial        string `toml:"poll_initial"`
	PollMax            string `toml:"poll_max"`
	MaxPollFailures    int    `toml:"max_poll_failures"`
}

type clientConfig struct {
	DefaultEnvironment string
	ReadOnly           bool
	Timeout            time.Duration
	Remote             remote.Config
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Timeout: 30 * time.Second,
		Remote:  remote.DefaultConfig("127.0.0.1:7420"),
	}
}

func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load toolrun config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Remote.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("token") {
		cfg.Remote.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("default_environment") {
		cfg.DefaultEnvironment = strings.TrimSpace(raw.DefaultEnvironment)
	}
	if meta.IsDefined("read_only") {
		cfg.ReadOnly = raw.ReadOnly
	}
	if meta.IsDefined("max_poll_failures") {
		cfg.Remote.MaxPollFailures = raw.MaxPollFailures
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", raw.Timeout, &cfg.Timeout},
		{"dial_timeout", raw.DialTimeout, &cfg.Remote.DialTimeout},
		{"call_timeout", raw.CallTimeout, &cfg.Remote.CallTimeout},
		{"poll_initial", raw.PollInitial, &cfg.Remote.Poll.InitialDelay},
		{"poll_max", raw.PollMax, &cfg.Remote.Poll.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return cfg, nil
}
