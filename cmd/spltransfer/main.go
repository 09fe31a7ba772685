package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/pai-labs/spltransfer/internal/config"
)

var (
	Version string
	cfg     *config.Config
)

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "spltransfer"
	app.Usage = "provision token accounts and transfer value on Solana"
	app.Commands = append(
		app.Commands,
		&newMnemonicCommand,
		&addressCommand,
		&balanceCommand,
		&ensureAccountCommand,
		&sendCommand,
		&serveCommand,
		&mcpCommand,
	)
	app.Flags = config.Flags
	app.Before = func(c *cli.Context) error {
		loaded, err := config.LoadConfig(c)
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded

		log.SetLevel(log.Level(cfg.LogLevel))
		// stdout carries command output and the MCP stdio stream
		log.SetOutput(os.Stderr)
		log.Debugf("config: %s", cfg)
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}
