package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
}

// LoadDotEnv loads a .env file from the working directory if present.
// Missing files are not an error; variables already set win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references in s.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})

	return s
}

// expandEnvRefs walks the document and expands env references in every
// credential- or endpoint-bearing field.
func (c *Config) expandEnvRefs() {
	for _, m := range c.Models {
		m.APIKey = ExpandEnv(m.APIKey)
		m.BaseURL = ExpandEnv(m.BaseURL)
	}
	for _, s := range c.Storage {
		s.DSN = ExpandEnv(s.DSN)
		s.Path = ExpandEnv(s.Path)
	}
	for _, k := range c.Knowledge {
		k.Embedder.APIKey = ExpandEnv(k.Embedder.APIKey)
		k.Embedder.BaseURL = ExpandEnv(k.Embedder.BaseURL)
		k.VectorStore.APIKey = ExpandEnv(k.VectorStore.APIKey)
	}
	for _, t := range c.Tools {
		if t.MCP == nil {
			continue
		}
		t.MCP.URL = ExpandEnv(t.MCP.URL)
		for key, val := range t.MCP.Env {
			t.MCP.Env[key] = ExpandEnv(val)
		}
	}
}
