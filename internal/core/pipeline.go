package core

import "context"

// step is one write of a multi-record operation. undo reverses a committed
// run; a nil undo marks a write that cannot be compensated.
type step struct {
	name string
	run  func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// pipeline executes steps in order. When step k fails, steps k-1..1 are
// compensated in reverse. If every compensation succeeds the failing step's
// error is returned and no net change remains; otherwise the result is a
// KindPartialFailure error carrying the step position, entity keys and
// compensation errors.
type pipeline struct {
	op     string
	keys   map[string]string
	steps  []step
	logger Logger
}

func newPipeline(op string, keys map[string]string, logger Logger) *pipeline {
	if logger == nil {
		logger = noopLogger{}
	}
	return &pipeline{op: op, keys: keys, logger: logger}
}

func (p *pipeline) add(name string, run, undo func(ctx context.Context) error) {
	p.steps = append(p.steps, step{name: name, run: run, undo: undo})
}

func (p *pipeline) execute(ctx context.Context) error {
	for i, s := range p.steps {
		err := s.run(ctx)
		if err == nil {
			continue
		}
		index := i + 1
		if i == 0 {
			return withContext(err, p.op, s.name, index, p.keys)
		}
		// compensation must run even when the request context is gone
		undoCtx := context.WithoutCancel(ctx)
		var failures []error
		for j := i - 1; j >= 0; j-- {
			prev := p.steps[j]
			if prev.undo == nil {
				failures = append(failures, newError(KindPartialFailure, "step %d %s is not compensable", j+1, prev.name))
				continue
			}
			if uerr := prev.undo(undoCtx); uerr != nil {
				failures = append(failures, uerr)
			}
		}
		if len(failures) == 0 {
			p.logger.Warn("lifecycle step failed; compensated", append([]any{"op", p.op, "step", s.name, "step_index", index, "error", err.Error()}, flatten(p.keys)...)...)
			return withContext(err, p.op, s.name, index, p.keys)
		}
		perr := &LifecycleError{
			Kind:         KindPartialFailure,
			Op:           p.op,
			Step:         s.name,
			StepIndex:    index,
			Keys:         p.keys,
			Message:      "operation left records inconsistent; manual reconciliation required",
			Cause:        err,
			Compensation: failures,
		}
		p.logger.Error("lifecycle partial failure", perr.LogArgs()...)
		return perr
	}
	return nil
}

func flatten(keys map[string]string) []any {
	le := &LifecycleError{Keys: keys}
	args := le.LogArgs()
	// drop the kind pair
	return args[2:]
}

// errNotApplied reports a conditional write that matched nothing.
func errNotApplied(format string, args ...any) error {
	return newError(KindConflict, format, args...)
}
