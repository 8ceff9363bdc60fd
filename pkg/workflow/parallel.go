package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Parallel runs all of its steps concurrently with the same input. Its
// output joins the step outputs in declaration order, so the result is
// deterministic regardless of completion order. The first failing step
// cancels the rest.
type Parallel struct {
	name  string
	steps []Executor
}

func NewParallel(name string, steps ...Executor) *Parallel {
	return &Parallel{name: name, steps: steps}
}

func (p *Parallel) Name() string { return p.name }

func (p *Parallel) Execute(ctx context.Context, in *ExecutionInput) (*StepOutput, error) {
	if len(p.steps) == 0 {
		return nil, fmt.Errorf("parallel %q is empty", p.name)
	}

	group, ctx := errgroup.WithContext(ctx)
	outputs := make([]*StepOutput, len(p.steps))
	for i, step := range p.steps {
		group.Go(func() error {
			out, err := step.Execute(ctx, in)
			if err != nil {
				return fmt.Errorf("step %q: %w", step.Name(), err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return &StepOutput{StepName: p.name, Content: joinOutputs(outputs)}, nil
}
