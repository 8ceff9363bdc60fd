package config

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix scopes environment overrides, e.g. PETREL_SERVER__PORT=8080
// sets server.port.
const EnvPrefix = "PETREL_"

// Loader reads configuration from a YAML file with environment overrides.
type Loader struct {
	path    string
	koanf   *koanf.Koanf
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader creates a loader for the given config file path.
func NewLoader(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return &Loader{
		path:  path,
		koanf: koanf.New("."),
		done:  make(chan struct{}),
	}, nil
}

// Load parses the file, applies env overrides, expands ${VAR} references,
// fills defaults and validates.
func (l *Loader) Load() (*Config, error) {
	if err := l.koanf.Load(file.Provider(l.path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// PETREL_SECTION__KEY becomes section.key. Double underscore is the
	// separator so single underscores survive in key names.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = s[len(EnvPrefix):]
		return replaceAllLower(s, "__", ".")
	})
	if err := l.koanf.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.fillNames()
	cfg.expandEnvRefs()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Watch reloads the config when the file changes and invokes onChange with
// each valid new config. Invalid edits are logged and skipped.
func (l *Loader) Watch(onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.path, err)
	}
	l.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				fresh, err := NewLoader(l.path)
				if err != nil {
					continue
				}
				cfg, err := fresh.Load()
				if err != nil {
					slog.Warn("config reload failed, keeping previous config", "path", l.path, "error", err)
					continue
				}
				slog.Info("config reloaded", "path", l.path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-l.done:
				return
			}
		}
	}()

	return nil
}

// Close stops watching.
func (l *Loader) Close() error {
	close(l.done)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// fillNames copies map keys into the Name field of named sections.
func (c *Config) fillNames() {
	for name, a := range c.Agents {
		if a != nil && a.Name == "" {
			a.Name = name
		}
	}
	for name, t := range c.Teams {
		if t != nil && t.Name == "" {
			t.Name = name
		}
	}
	for name, w := range c.Workflows {
		if w != nil && w.Name == "" {
			w.Name = name
		}
	}
}

func replaceAllLower(s, old, new string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		if len(old) > 0 && i+len(old) <= len(s) && s[i:i+len(old)] == old {
			out = append(out, new...)
			i += len(old)
			continue
		}
		ch := s[i]
		if ch >= 'A' && ch <= 'Z' {
			ch += 'a' - 'A'
		}
		out = append(out, ch)
		i++
	}
	return string(out)
}
