package cli

import (
	"fmt"
	"os"

	"github.com/petrelhq/petrel/pkg/config"
)

// ValidateCmd checks a configuration file and reports wiring errors.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, loader, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	fmt.Printf("%s is valid: %d model(s), %d tool(s), %d agent(s), %d team(s), %d workflow(s)\n",
		cli.Config, len(cfg.Models), len(cfg.Tools), len(cfg.Agents), len(cfg.Teams), len(cfg.Workflows))
	return nil
}

// SchemaCmd prints the configuration JSON schema.
type SchemaCmd struct{}

func (c *SchemaCmd) Run() error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Println(string(schema))
	return nil
}

// InitCmd writes a starter configuration file.
type InitCmd struct {
	Force bool `help:"Overwrite an existing file."`
}

func (c *InitCmd) Run(cli *CLI) error {
	if _, err := os.Stat(cli.Config); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cli.Config)
	}

	starter, err := config.Starter()
	if err != nil {
		return err
	}
	if err := os.WriteFile(cli.Config, starter, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", cli.Config)
	return nil
}
