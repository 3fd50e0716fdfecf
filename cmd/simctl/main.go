// Command simctl is the operator tool for market-sim. It works directly on
// the configured storage, so balance changes should be made while the
// server is stopped or through POST /api/v1/admin/balance.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&usersCmd{config: configPath}, "accounts")
	commander.Register(&balanceCmd{config: configPath}, "accounts")
	commander.Register(&reportCmd{config: configPath}, "accounts")
	commander.Register(&previewCmd{config: configPath}, "market")

	commander.ImportantFlag("config")
	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
