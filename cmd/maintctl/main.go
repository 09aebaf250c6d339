package main

import (
	"context"
	"fmt"
	"os"

	"github.com/t77yq/biomed-maint/internal/cli"
	"github.com/t77yq/biomed-maint/internal/config"
	"github.com/t77yq/biomed-maint/internal/logging"
	"github.com/t77yq/biomed-maint/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Config path: BIOMED_CONFIG or ./config/config.yaml
	cfg, err := config.Load(os.Getenv("BIOMED_CONFIG"))
	if err != nil {
		return err
	}

	// Commands print JSON on stdout; keep log noise to warnings on stderr.
	logCfg := cfg.Log
	logCfg.Level = "warn"
	logCfg.File = ""
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc, err := service.New(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, err := svc.SeedRules(context.Background()); err != nil {
		return err
	}

	return cli.NewRootCmd(cli.FromServices(svc, logger)).Execute()
}
