package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/meridian-lab/meridian-trading/internal/config"
	"github.com/meridian-lab/meridian-trading/internal/engine"
	"github.com/meridian-lab/meridian-trading/internal/version"
)

// tradingAction loads the configuration, builds the live engine, and runs it
// until an interrupt arrives.
func tradingAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	eng, err := engine.NewLiveEngine(cfg)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return eng.Run(runCtx)
}

func main() {
	// Secrets come from the environment; a local .env is a convenience for
	// development and is optional.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:    "trading",
		Usage:   "Run the always-on live trading engine",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "config/trading.yaml",
			},
		},
		Action: tradingAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
