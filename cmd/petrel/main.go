// Command petrel runs the agent framework: an HTTP API server, a terminal
// chat client and configuration tooling.
//
// Usage:
//
//	petrel init
//	petrel serve --config petrel.yaml
//	petrel chat assistant
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/petrelhq/petrel/pkg/cli"
	"github.com/petrelhq/petrel/pkg/config"
)

func main() {
	config.LoadDotEnv()

	root := cli.CLI{}
	ctx := kong.Parse(&root,
		kong.Name("petrel"),
		kong.Description("Config-first LLM agent framework."),
		kong.UsageOnError(),
	)

	closeLog, err := root.SetupLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx.FatalIfErrorf(ctx.Run(&root))
}
