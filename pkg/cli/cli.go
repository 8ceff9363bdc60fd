// Package cli implements the petrel command-line interface.
package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/logger"
)

// CLI is the kong command tree.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API server."`
	Chat     ChatCmd     `cmd:"" help:"Chat with an agent from the terminal."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the configuration JSON schema."`
	Init     InitCmd     `cmd:"" help:"Write a starter configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"petrel.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text, json)." default:"text"`
	LogFile   string `help:"Log file path (empty = stderr)."`
}

// SetupLogging installs the process logger from the global flags. The
// returned close function releases the log file, if any.
func (c *CLI) SetupLogging() (func() error, error) {
	_, closeFn, err := logger.Setup(logger.Options{
		Level:  c.LogLevel,
		Format: logger.Format(c.LogFormat),
		File:   c.LogFile,
	})
	return closeFn, err
}

// loadConfig loads, defaults and validates the config file at the global
// --config path.
func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader, err := config.NewLoader(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	fmt.Printf("petrel %s\n", version)
	return nil
}
