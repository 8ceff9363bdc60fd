package workflow

import (
	"context"
	"fmt"

	"github.com/petrelhq/petrel/pkg/agent"
)

// StepFunc is a pure-Go step body. It receives the chained input and
// returns the step's content.
type StepFunc func(ctx context.Context, in *ExecutionInput) (string, error)

// Step executes either an agent or a function.
type Step struct {
	name   string
	runner agent.Runner
	fn     StepFunc
}

// NewAgentStep wraps an agent or team as a workflow step. The step feeds
// the chained input to the runner and returns the runner's final content.
func NewAgentStep(name string, runner agent.Runner) *Step {
	return &Step{name: name, runner: runner}
}

// NewFuncStep wraps a function as a workflow step.
func NewFuncStep(name string, fn StepFunc) *Step {
	return &Step{name: name, fn: fn}
}

func (s *Step) Name() string { return s.name }

func (s *Step) Execute(ctx context.Context, in *ExecutionInput) (*StepOutput, error) {
	switch {
	case s.runner != nil:
		out, err := s.runner.Run(ctx, &agent.RunInput{
			Input:     in.Message(),
			SessionID: in.SessionID,
			UserID:    in.UserID,
		})
		if err != nil {
			return nil, err
		}
		return &StepOutput{StepName: s.name, Content: out.Content}, nil
	case s.fn != nil:
		content, err := s.fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return &StepOutput{StepName: s.name, Content: content}, nil
	default:
		return nil, fmt.Errorf("step %q has no executor", s.name)
	}
}

// Steps runs a fixed sequence of executors, chaining each output into the
// next input. Its own output is the last executor's content.
type Steps struct {
	name  string
	steps []Executor
}

func NewSteps(name string, steps ...Executor) *Steps {
	return &Steps{name: name, steps: steps}
}

func (s *Steps) Name() string { return s.name }

func (s *Steps) Execute(ctx context.Context, in *ExecutionInput) (*StepOutput, error) {
	if len(s.steps) == 0 {
		return nil, fmt.Errorf("steps %q is empty", s.name)
	}

	current := in
	var last *StepOutput
	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := step.Execute(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name(), err)
		}
		last = out
		current = current.next(out.Content)
	}
	return &StepOutput{StepName: s.name, Content: last.Content}, nil
}

// Condition branches on a predicate. When the predicate is false and no
// Else branch is set, the input passes through unchanged.
type Condition struct {
	name string
	eval func(in *ExecutionInput) bool
	then Executor
	els  Executor
}

func NewCondition(name string, eval func(in *ExecutionInput) bool, then Executor) *Condition {
	return &Condition{name: name, eval: eval, then: then}
}

// Else sets the branch taken when the predicate is false.
func (c *Condition) Else(step Executor) *Condition {
	c.els = step
	return c
}

func (c *Condition) Name() string { return c.name }

func (c *Condition) Execute(ctx context.Context, in *ExecutionInput) (*StepOutput, error) {
	if c.eval == nil || c.then == nil {
		return nil, fmt.Errorf("condition %q needs a predicate and a then branch", c.name)
	}

	branch := c.then
	if !c.eval(in) {
		if c.els == nil {
			return &StepOutput{StepName: c.name, Content: in.Message()}, nil
		}
		branch = c.els
	}

	out, err := branch.Execute(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", branch.Name(), err)
	}
	return &StepOutput{StepName: c.name, Content: out.Content}, nil
}

const defaultLoopIterations = 3

// Loop repeats its body, feeding each iteration's output into the next,
// until the end condition reports done or MaxIterations is reached.
type Loop struct {
	name          string
	body          Executor
	maxIterations int
	end           func(out *StepOutput) bool
}

func NewLoop(name string, body Executor, maxIterations int) *Loop {
	if maxIterations <= 0 {
		maxIterations = defaultLoopIterations
	}
	return &Loop{name: name, body: body, maxIterations: maxIterations}
}

// Until sets the end condition, checked after every iteration.
func (l *Loop) Until(end func(out *StepOutput) bool) *Loop {
	l.end = end
	return l
}

func (l *Loop) Name() string { return l.name }

func (l *Loop) Execute(ctx context.Context, in *ExecutionInput) (*StepOutput, error) {
	if l.body == nil {
		return nil, fmt.Errorf("loop %q has no body", l.name)
	}

	current := in
	var last *StepOutput
	for i := 0; i < l.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := l.body.Execute(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i+1, err)
		}
		last = out
		current = current.next(out.Content)
		if l.end != nil && l.end(out) {
			break
		}
	}
	return &StepOutput{StepName: l.name, Content: last.Content}, nil
}

// Router picks one of its routes by name using a selector function.
type Router struct {
	name     string
	selector func(in *ExecutionInput) string
	routes   map[string]Executor
}

func NewRouter(name string, selector func(in *ExecutionInput) string, routes ...Executor) *Router {
	byName := make(map[string]Executor, len(routes))
	for _, route := range routes {
		byName[route.Name()] = route
	}
	return &Router{name: name, selector: selector, routes: byName}
}

func (r *Router) Name() string { return r.name }

func (r *Router) Execute(ctx context.Context, in *ExecutionInput) (*StepOutput, error) {
	if r.selector == nil {
		return nil, fmt.Errorf("router %q has no selector", r.name)
	}

	choice := r.selector(in)
	route, ok := r.routes[choice]
	if !ok {
		return nil, fmt.Errorf("router %q: no route named %q", r.name, choice)
	}

	out, err := route.Execute(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", route.Name(), err)
	}
	return &StepOutput{StepName: r.name, Content: out.Content}, nil
}

var (
	_ Executor = (*Step)(nil)
	_ Executor = (*Steps)(nil)
	_ Executor = (*Condition)(nil)
	_ Executor = (*Loop)(nil)
	_ Executor = (*Parallel)(nil)
	_ Executor = (*Router)(nil)
)
