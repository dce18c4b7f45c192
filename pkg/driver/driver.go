package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/calltrace/internal/logging"
	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/ports"
	"github.com/aretw0/calltrace/pkg/program"
)

// ErrFunctionFailed is returned when a native function is configured to fail.
var ErrFunctionFailed = errors.New("function failed")

// Driver executes a program library and reports every step to a tracer.
type Driver struct {
	lib    *program.Library
	logger *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a driver for lib. The library is assumed to be valid
// (see program.Validate).
func New(lib *program.Library, opts ...Option) *Driver {
	d := &Driver{
		lib:    lib,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run calls the library's main function. Every pushed frame is popped before
// Run returns, also on failure or cancellation. A tracer can only record one
// run: main finishes at the same stack every time.
func (d *Driver) Run(ctx context.Context, tracer ports.Tracer) error {
	start := time.Now()
	d.logger.Debug("Run started", "main", d.lib.Main)

	_, err := d.call(ctx, tracer, program.Call{Function: d.lib.Main})

	if err != nil {
		d.logger.Debug("Run failed", "main", d.lib.Main, "err", err, "duration", time.Since(start))
		return err
	}
	d.logger.Debug("Run finished", "main", d.lib.Main, "duration", time.Since(start))
	return nil
}

// call evaluates the arguments left to right, then runs the function.
func (d *Driver) call(ctx context.Context, t ports.Tracer, c program.Call) (bool, error) {
	for j, arg := range c.Args {
		t.Push(domain.Argument(uint(j)))
		if _, err := d.call(ctx, t, arg); err != nil {
			t.PopFailed()
			return false, err
		}
		t.PopSuccess()
	}

	fn, ok := d.lib.Lookup(c.Function)
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrUnknownFunction, c.Function)
	}

	t.Push(domain.Call(c.Function))
	result, err := d.invoke(ctx, t, fn)
	if err != nil {
		t.PopFailed()
		return false, err
	}
	t.PopSuccess()
	return result, nil
}

func (d *Driver) invoke(ctx context.Context, t ports.Tracer, fn *program.Function) (bool, error) {
	if !fn.Native {
		return true, d.block(ctx, t, fn.Body)
	}

	if fn.Delay > 0 {
		timer := time.NewTimer(fn.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if fn.Fail {
		return false, fmt.Errorf("%w: %s", ErrFunctionFailed, fn.ID)
	}
	return fn.ReturnValue(), nil
}

func (d *Driver) block(ctx context.Context, t ports.Tracer, body []program.Statement) error {
	for i, st := range body {
		if err := ctx.Err(); err != nil {
			return err
		}

		t.Push(domain.Statement(uint(i)))
		if err := d.statement(ctx, t, st); err != nil {
			t.PopFailed()
			return err
		}
		t.PopSuccess()
	}
	return nil
}

func (d *Driver) statement(ctx context.Context, t ports.Tracer, st program.Statement) error {
	switch st := st.(type) {
	case program.Pass:
		return nil
	case program.Call:
		_, err := d.call(ctx, t, st)
		return err
	case program.If:
		return d.conditional(ctx, t, st)
	default:
		return fmt.Errorf("unsupported statement %T", st)
	}
}

// conditional evaluates predicates in order until one holds. Branch k runs
// under NestedBlock(k, Body); the else block takes the index after the last
// branch.
func (d *Driver) conditional(ctx context.Context, t ports.Tracer, st program.If) error {
	for k, branch := range st.Branches {
		t.Push(domain.Nested(uint(k), domain.BlockPredicate))
		result, err := d.call(ctx, t, branch.Condition)
		if err != nil {
			t.PopFailed()
			return err
		}
		t.PopPredicateSuccess(result)

		if result {
			return d.nested(ctx, t, uint(k), branch.Body)
		}
	}

	if len(st.Else) == 0 {
		return nil
	}
	return d.nested(ctx, t, uint(len(st.Branches)), st.Else)
}

func (d *Driver) nested(ctx context.Context, t ports.Tracer, index uint, body []program.Statement) error {
	t.Push(domain.Nested(index, domain.BlockBody))
	if err := d.block(ctx, t, body); err != nil {
		t.PopFailed()
		return err
	}
	t.PopSuccess()
	return nil
}
