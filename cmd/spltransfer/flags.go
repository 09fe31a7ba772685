package main

import "github.com/urfave/cli/v2"

var (
	indexFlag = &cli.UintFlag{
		Name:  "index",
		Usage: "keyring account index",
	}
	countFlag = &cli.UintFlag{
		Name:  "count",
		Usage: "number of consecutive addresses to show",
		Value: 1,
	}
	ownerFlag = &cli.StringFlag{
		Name:  "owner",
		Usage: "owner address, defaults to the keyring address at --index",
	}
	mintFlag = &cli.StringFlag{
		Name:  "mint",
		Usage: "asset mint address, omit for the native currency",
	}
	requiredMintFlag = &cli.StringFlag{
		Name:     "mint",
		Usage:    "asset mint address",
		Required: true,
	}
	toFlag = &cli.StringFlag{
		Name:     "to",
		Usage:    "destination owner address",
		Required: true,
	}
	amountFlag = &cli.StringFlag{
		Name:     "amount",
		Usage:    "decimal amount in whole units, e.g. 10.5",
		Required: true,
	}
	requestIDFlag = &cli.StringFlag{
		Name:  "request-id",
		Usage: "idempotency key, replays return the first submission",
	}
	waitFlag = &cli.BoolFlag{
		Name:  "wait",
		Usage: "wait until the destination balance reflects the transfer",
	}
	sseFlag = &cli.StringFlag{
		Name:  "sse",
		Usage: "serve MCP over server-sent events on this address instead of stdio",
	}
)
