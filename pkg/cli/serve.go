package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/observability"
	"github.com/petrelhq/petrel/pkg/runtime"
	"github.com/petrelhq/petrel/pkg/server"
)

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config file and log detected changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, loader, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	telemetry := observability.NewManager(cfg.Telemetry)
	if err := telemetry.Init(ctx); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	rt, err := runtime.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	go rt.LoadKnowledge(ctx)

	if c.Watch {
		// A wiring change needs a restart; the watch surfaces edits early.
		err := loader.Watch(func(newCfg *config.Config) {
			slog.Info("config file changed, restart to apply", "path", cli.Config)
		})
		if err != nil {
			slog.Warn("config watch unavailable", "error", err)
		}
	}

	srv, err := server.New(server.Options{
		Config:    cfg.Server,
		AppName:   runtime.AppName,
		Agents:    rt.Agents(),
		Workflows: rt.Workflows(),
		Storage:   rt.SessionStorage(),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("petrel server ready on http://%s\n", srv.Addr())
	for _, name := range rt.Agents().Names() {
		fmt.Printf("  - agent: %s\n", name)
	}
	for _, name := range rt.Workflows().Names() {
		fmt.Printf("  - workflow: %s\n", name)
	}
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
