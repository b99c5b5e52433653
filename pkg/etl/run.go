package etl

import (
	"context"
	"time"

	"github.com/hazyhaar/fieldetl/pkg/logsink"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State is the position of a run in its lifecycle.
type State string

const (
	StateNew          State = "NEW"
	StateIngested     State = "INGESTED"
	StateParentLoaded State = "PARENT-LOADED"
	StateChildLoaded  State = "CHILD-LOADED"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// StepKind says whether a step loads the parent table or a dependent one.
type StepKind int

const (
	Parent StepKind = iota
	Child
)

func (k StepKind) String() string {
	if k == Parent {
		return "parent"
	}
	return "child"
}

// ErrTransition is returned when a step is taken from the wrong state.
var ErrTransition = errors.New("invalid run transition")

// Run tracks one protocol run. Steps execute in the order they are given;
// a failed step makes the run terminal and nothing already committed is
// undone.
type Run struct {
	env     *Env
	state   State
	started time.Time
	done    []string
}

// NewRun starts a run in StateNew.
func NewRun(env *Env) *Run {
	return &Run{env: env, state: StateNew, started: env.Now()}
}

// State returns the current state.
func (r *Run) State() State { return r.state }

// Completed returns the names of the steps that finished.
func (r *Run) Completed() []string { return append([]string(nil), r.done...) }

// Ingested records that the bundle was read.
func (r *Run) Ingested() error {
	return r.move(StateNew, StateIngested)
}

func (r *Run) move(from, to State) error {
	if r.state != from {
		return r.Fail(Fail(UnknownOption, string(to), errors.Wrapf(ErrTransition, "%s from %s", to, r.state)))
	}
	r.state = to
	r.env.Log.Info("run state", zap.String("state", string(to)))
	return nil
}

// Step runs fn as the named step. A parent step must follow ingestion;
// child steps must follow the parent load.
func (r *Run) Step(ctx context.Context, name string, kind StepKind, fn func(context.Context) error) error {
	var next State
	switch {
	case kind == Parent && r.state == StateIngested:
		next = StateParentLoaded
	case kind == Child && (r.state == StateParentLoaded || r.state == StateChildLoaded):
		next = StateChildLoaded
	default:
		return r.Fail(Fail(UnknownOption, name,
			errors.Wrapf(ErrTransition, "%s step from %s", kind, r.state)))
	}

	log := r.env.Log.With(zap.String("step", name))
	log.Info("step started")
	if err := fn(ctx); err != nil {
		return r.Fail(Classify(name, err))
	}
	r.state = next
	r.done = append(r.done, name)
	log.Info("step finished", zap.String("state", string(r.state)))
	return nil
}

// Done closes a run whose parent was loaded.
func (r *Run) Done() error {
	if r.state != StateParentLoaded && r.state != StateChildLoaded {
		return r.Fail(Fail(UnknownOption, "done", errors.Wrapf(ErrTransition, "done from %s", r.state)))
	}
	r.state = StateDone
	r.env.Metrics.ObserveDuration(r.env.Now().Sub(r.started))
	r.env.Log.Info("run finished", zap.Strings("steps", r.done))
	return nil
}

// Fail moves the run to StateFailed, logs err as critical and returns it.
func (r *Run) Fail(err error) error {
	if r.state == StateFailed {
		return err
	}
	r.state = StateFailed
	class := ClassOf(err)
	r.env.Metrics.Failed(string(class))
	r.env.Metrics.ObserveDuration(r.env.Now().Sub(r.started))
	fields := []zap.Field{zap.String("class", string(class)), zap.Error(err)}
	var e *Error
	if errors.As(err, &e) && e.SideFile != "" {
		fields = append(fields, zap.String("side_file", e.SideFile))
	}
	logsink.Critical(r.env.Log, "run failed", fields...)
	return err
}
