package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/toolrun/internal/logging"
	"github.com/danmuck/toolrun/internal/toolserver"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/toolrund/ex.config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to toolrund config toml")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "toolrund: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadServerConfig(configPath)
	if err != nil {
		return err
	}
	svc, err := toolserver.NewService(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Info().Msgf("toolrund.main config=%q control=%q http=%q", configPath, cfg.ControlAddr, cfg.HTTPAddr)
	return svc.Run(ctx)
}
