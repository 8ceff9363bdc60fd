package config

import "fmt"

// ToolType identifies a built-in tool or tool source.
type ToolType string

const (
	ToolTypeHTTPRequest ToolType = "http_request"
	ToolTypeFile        ToolType = "file"
	ToolTypeCommand     ToolType = "command"
	ToolTypeCalculator  ToolType = "calculator"
	ToolTypeMCP         ToolType = "mcp"
)

// ToolConfig configures a tool or toolset.
type ToolConfig struct {
	Type ToolType `yaml:"type" json:"type" jsonschema:"enum=http_request,enum=file,enum=command,enum=calculator,enum=mcp"`

	// WorkingDir scopes file and command tools. Defaults to ".".
	WorkingDir string `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`

	// AllowedCommands restricts the command tool to these binaries.
	AllowedCommands []string `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`

	// DeniedPaths are path prefixes file tools must never write.
	DeniedPaths []string `yaml:"denied_paths,omitempty" json:"denied_paths,omitempty"`

	// MaxResponseBytes caps http_request response bodies.
	MaxResponseBytes int64 `yaml:"max_response_bytes,omitempty" json:"max_response_bytes,omitempty"`

	// Timeout is the per-execution timeout in seconds.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"default=30"`

	// MCP holds MCP server settings when Type is mcp.
	MCP *MCPConfig `yaml:"mcp,omitempty" json:"mcp,omitempty"`
}

// MCPTransport identifies the MCP wire transport.
type MCPTransport string

const (
	MCPTransportStdio          MCPTransport = "stdio"
	MCPTransportStreamableHTTP MCPTransport = "streamable-http"
)

// MCPConfig configures a connection to an MCP tool server.
type MCPConfig struct {
	Transport MCPTransport `yaml:"transport,omitempty" json:"transport,omitempty" jsonschema:"enum=stdio,enum=streamable-http,default=stdio"`

	// URL of the server for HTTP transports.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Command and Args launch the server for stdio transport.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env passed to the stdio subprocess. Values support ${VAR} expansion.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Include limits which server tools are exposed. Empty means all.
	Include []string `yaml:"include,omitempty" json:"include,omitempty"`
}

func (c *ToolConfig) SetDefaults() {
	if c.WorkingDir == "" {
		c.WorkingDir = "."
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = 2 << 20 // 2 MiB
	}
	if c.Type == ToolTypeMCP && c.MCP != nil && c.MCP.Transport == "" {
		if c.MCP.URL != "" {
			c.MCP.Transport = MCPTransportStreamableHTTP
		} else {
			c.MCP.Transport = MCPTransportStdio
		}
	}
}

func (c *ToolConfig) Validate() error {
	switch c.Type {
	case ToolTypeHTTPRequest, ToolTypeFile, ToolTypeCalculator:
	case ToolTypeCommand:
		if len(c.AllowedCommands) == 0 {
			return fmt.Errorf("command tool requires allowed_commands")
		}
	case ToolTypeMCP:
		if c.MCP == nil {
			return fmt.Errorf("mcp tool requires an mcp section")
		}
		switch c.MCP.Transport {
		case MCPTransportStdio:
			if c.MCP.Command == "" {
				return fmt.Errorf("stdio transport requires command")
			}
		case MCPTransportStreamableHTTP:
			if c.MCP.URL == "" {
				return fmt.Errorf("%s transport requires url", c.MCP.Transport)
			}
		default:
			return fmt.Errorf("unknown mcp transport %q", c.MCP.Transport)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown tool type %q", c.Type)
	}

	return nil
}
