// Package runtime assembles a running system from configuration: model,
// tool, storage and knowledge registries, then agents, teams and
// workflows wired to them.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrelhq/petrel/pkg/agent"
	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/knowledge"
	"github.com/petrelhq/petrel/pkg/memory"
	"github.com/petrelhq/petrel/pkg/models"
	"github.com/petrelhq/petrel/pkg/storage"
	"github.com/petrelhq/petrel/pkg/tools"
	"github.com/petrelhq/petrel/pkg/workflow"
)

// AppName scopes sessions created by config-driven agents.
const AppName = "petrel"

// Runtime owns every component built from one Config.
type Runtime struct {
	cfg *config.Config

	models    *models.Registry
	tools     *tools.Registry
	storages  map[string]storage.Service
	knowledge map[string]*knowledge.Knowledge
	agents    *agent.Registry
	workflows *workflow.Registry
}

// New builds all components declared in cfg. The config must already have
// defaults applied and pass Validate.
func New(cfg *config.Config) (*Runtime, error) {
	r := &Runtime{
		cfg:       cfg,
		storages:  make(map[string]storage.Service),
		knowledge: make(map[string]*knowledge.Knowledge),
		agents:    agent.NewRegistry(),
		workflows: workflow.NewRegistry(),
	}

	var err error
	if r.models, err = models.NewRegistry(cfg.Models); err != nil {
		return nil, err
	}
	if r.tools, err = tools.NewRegistry(cfg.Tools); err != nil {
		r.Close()
		return nil, err
	}

	for name, sc := range cfg.Storage {
		svc, err := storage.New(sc)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("storage %q: %w", name, err)
		}
		r.storages[name] = svc
	}

	for name, kc := range cfg.Knowledge {
		kb, err := knowledge.New(kc)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("knowledge %q: %w", name, err)
		}
		r.knowledge[name] = kb
	}

	if err := r.buildAgents(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.buildTeams(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.buildWorkflows(); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

func (r *Runtime) buildAgents() error {
	for name, ac := range r.cfg.Agents {
		model, ok := r.models.Get(ac.Model)
		if !ok {
			return fmt.Errorf("agent %q: unknown model %q", name, ac.Model)
		}

		deps := agent.Dependencies{
			Model: model,
			Tools: r.tools,
		}
		if ac.Storage != "" {
			deps.Storage = r.storages[ac.Storage]
		}
		if ac.Memory != nil && ac.Memory.LongTerm.Enabled {
			store, err := memory.NewStore(r.cfg.Storage[ac.Storage])
			if err != nil {
				return fmt.Errorf("agent %q: memory store: %w", name, err)
			}
			deps.Memory = memory.NewManager(model, store, &ac.Memory.LongTerm)
		}
		if ac.Knowledge != "" {
			deps.Knowledge = r.knowledge[ac.Knowledge]
		}

		a, err := agent.New(name, AppName, ac, deps)
		if err != nil {
			return err
		}
		if err := r.agents.Register(name, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) buildTeams() error {
	for name, tc := range r.cfg.Teams {
		model, ok := r.models.Get(tc.Model)
		if !ok {
			return fmt.Errorf("team %q: unknown model %q", name, tc.Model)
		}

		members := make([]*agent.Agent, 0, len(tc.Members))
		for _, memberName := range tc.Members {
			runner, ok := r.agents.Get(memberName)
			if !ok {
				return fmt.Errorf("team %q: unknown member %q", name, memberName)
			}
			member, ok := runner.(*agent.Agent)
			if !ok {
				return fmt.Errorf("team %q: member %q is not an agent", name, memberName)
			}
			members = append(members, member)
		}

		team, err := agent.NewTeam(name, tc, model, members)
		if err != nil {
			return err
		}
		if err := r.agents.Register(name, team); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) buildWorkflows() error {
	for name, wc := range r.cfg.Workflows {
		steps := make([]workflow.Executor, 0, len(wc.Steps))
		for _, sc := range wc.Steps {
			runner, ok := r.agents.Get(sc.Agent)
			if !ok {
				return fmt.Errorf("workflow %q: unknown agent %q", name, sc.Agent)
			}
			steps = append(steps, workflow.NewAgentStep(sc.Name, runner))
		}

		wf, err := workflow.New(workflow.Config{
			Name:        name,
			Description: wc.Description,
			Steps:       steps,
			Storage:     r.defaultStorage(),
			AppName:     AppName,
		})
		if err != nil {
			return err
		}
		if err := r.workflows.Register(name, wf); err != nil {
			return err
		}
	}
	return nil
}

// defaultStorage returns an arbitrary configured storage service, or nil.
// Workflows record their runs there when one exists.
func (r *Runtime) defaultStorage() storage.Service {
	for _, svc := range r.storages {
		return svc
	}
	return nil
}

func (r *Runtime) Config() *config.Config        { return r.cfg }
func (r *Runtime) Models() *models.Registry      { return r.models }
func (r *Runtime) Tools() *tools.Registry        { return r.tools }
func (r *Runtime) Agents() *agent.Registry       { return r.agents }
func (r *Runtime) Workflows() *workflow.Registry { return r.workflows }

// Storage returns the named storage service.
func (r *Runtime) Storage(name string) (storage.Service, bool) {
	svc, ok := r.storages[name]
	return svc, ok
}

// SessionStorage returns the storage service session endpoints should
// serve from.
func (r *Runtime) SessionStorage() storage.Service {
	return r.defaultStorage()
}

// LoadKnowledge ingests every configured knowledge source. Safe to run in
// the background after startup.
func (r *Runtime) LoadKnowledge(ctx context.Context) {
	for name, kb := range r.knowledge {
		if err := kb.Load(ctx); err != nil {
			slog.Warn("failed to load knowledge base", "name", name, "error", err)
		}
	}
}

// Close releases every component that holds resources.
func (r *Runtime) Close() error {
	var firstErr error
	for name, svc := range r.storages {
		if err := svc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("storage %q: %w", name, err)
		}
	}
	for name, kb := range r.knowledge {
		if err := kb.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("knowledge %q: %w", name, err)
		}
	}
	return firstErr
}
