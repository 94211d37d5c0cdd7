package dispatch

import (
	"context"
	"encoding/json"

	"github.com/pathlane/usage-gate/internal/models"
)

type OutcomeKind int

const (
	// OutcomeSuccess - the work finished; Result holds its output
	OutcomeSuccess OutcomeKind = iota

	// OutcomeTransient - network/timeout class failure, eligible for retry
	OutcomeTransient

	// OutcomePermanent - invalid payload or policy violation; retrying
	// cannot help, the job dead-letters immediately
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient_failure"
	case OutcomePermanent:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one execution attempt
type Outcome struct {
	Kind   OutcomeKind
	Result json.RawMessage
	Err    error
}

func Success(result json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeSuccess, Result: result}
}

func Transient(err error) Outcome {
	return Outcome{Kind: OutcomeTransient, Err: err}
}

func Permanent(err error) Outcome {
	return Outcome{Kind: OutcomePermanent, Err: err}
}

// Executor runs one task type. The surrounding system supplies one per
// type (inference call, document rendering, message send). Delivery is
// at-least-once, so execution must be idempotent under re-runs - overwrite
// the output location, never append.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) Outcome
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, job *models.Job) Outcome

func (f ExecutorFunc) Execute(ctx context.Context, job *models.Job) Outcome {
	return f(ctx, job)
}
