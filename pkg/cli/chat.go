package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/petrelhq/petrel/pkg/agent"
	"github.com/petrelhq/petrel/pkg/runtime"
)

// ChatCmd is an interactive terminal session against one agent.
type ChatCmd struct {
	Agent   string `arg:"" optional:"" help:"Agent name (defaults to the only configured agent)."`
	User    string `help:"User ID for session and memory scoping." default:"local"`
	Session string `help:"Session ID to resume (a new one is created when empty)."`
}

const (
	colorDim   = "\033[2m"
	colorBold  = "\033[1m"
	colorReset = "\033[0m"
)

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, loader, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	rt, err := runtime.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	runner, err := c.pickAgent(rt)
	if err != nil {
		return err
	}

	sessionID := c.Session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	dim, bold, reset := "", "", ""
	if interactive {
		dim, bold, reset = colorDim, colorBold, colorReset
		fmt.Printf("Chatting with %s%s%s (session %s). Type /quit to exit.\n",
			bold, runner.Name(), reset, sessionID)
	}

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Printf("%s> %s", bold, reset)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		events, err := runner.RunStream(ctx, &agent.RunInput{
			Input:     line,
			SessionID: sessionID,
			UserID:    c.User,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		for event := range events {
			switch event.Type {
			case agent.EventContent:
				fmt.Print(event.Content)
			case agent.EventThinking:
				fmt.Printf("%s%s%s", dim, event.Content, reset)
			case agent.EventToolCallStarted:
				fmt.Printf("%s[tool: %s]%s\n", dim, event.ToolCall.Name, reset)
			case agent.EventRunError:
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", event.Error)
			case agent.EventRunCompleted:
				fmt.Println()
			}
		}
	}
}

func (c *ChatCmd) pickAgent(rt *runtime.Runtime) (agent.Runner, error) {
	if c.Agent != "" {
		runner, ok := rt.Agents().Get(c.Agent)
		if !ok {
			return nil, fmt.Errorf("unknown agent %q (configured: %s)",
				c.Agent, strings.Join(rt.Agents().Names(), ", "))
		}
		return runner, nil
	}

	names := rt.Agents().Names()
	switch len(names) {
	case 0:
		return nil, fmt.Errorf("no agents configured")
	case 1:
		runner, _ := rt.Agents().Get(names[0])
		return runner, nil
	default:
		return nil, fmt.Errorf("multiple agents configured, pick one: %s",
			strings.Join(names, ", "))
	}
}
