// Package jobutil holds the failure policy shared by the pipeline Lambdas.
//
// Every side effect a handler performs is named as an Operation. The policy
// table decides whether a failure of that operation stops the handler
// (Abort), is logged and ignored (Continue), or makes the handler fall back
// to a reduced answer (Degrade). Handlers call Do instead of sprinkling
// ad-hoc "log and carry on" branches.
package jobutil

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// OnFailure is what a handler does when an operation fails.
type OnFailure int

const (
	Abort OnFailure = iota
	Continue
	Degrade
)

func (p OnFailure) String() string {
	switch p {
	case Continue:
		return "continue"
	case Degrade:
		return "degrade"
	default:
		return "abort"
	}
}

// Operation names a side effect subject to the policy table.
type Operation string

const (
	TriggerMarkProcessing  Operation = "trigger.mark-processing"
	TriggerTagObject       Operation = "trigger.tag-object"
	TriggerResolveARN      Operation = "trigger.resolve-arn"
	TriggerStartWorkflow   Operation = "trigger.start-workflow"
	TriggerRecordExecution Operation = "trigger.record-execution"
	TriggerMarkFailed      Operation = "trigger.mark-failed"

	AggregatePersist    Operation = "aggregate.persist"
	AggregateMarkFailed Operation = "aggregate.mark-failed"
	AggregatePublish    Operation = "aggregate.publish"

	APIList        Operation = "api.list"
	APIPresignView Operation = "api.presign-view"
	APIDeleteBlob  Operation = "api.delete-blob"
)

// Policy maps each operation to its failure handling. Operations missing
// from the table abort.
var Policy = map[Operation]OnFailure{
	TriggerMarkProcessing:  Continue,
	TriggerTagObject:       Continue,
	TriggerResolveARN:      Degrade,
	TriggerStartWorkflow:   Abort,
	TriggerRecordExecution: Continue,
	TriggerMarkFailed:      Continue,

	AggregatePersist:    Abort,
	AggregateMarkFailed: Continue,
	AggregatePublish:    Continue,

	APIList:        Degrade,
	APIPresignView: Degrade,
	// Missing blobs are already treated as deleted by s3util.DeleteObject.
	APIDeleteBlob: Abort,
}

// PolicyFor returns the failure policy of op.
func PolicyFor(op Operation) OnFailure {
	if p, ok := Policy[op]; ok {
		return p
	}
	return Abort
}

// Outcome is the result of running an operation under its policy.
type Outcome struct {
	Op     Operation
	Policy OnFailure
	Err    error
}

// Failed reports whether the operation returned an error, whatever the policy.
func (o Outcome) Failed() bool { return o.Err != nil }

// Degraded reports whether the caller must fall back to its reduced answer.
func (o Outcome) Degraded() bool { return o.Err != nil && o.Policy == Degrade }

// Abort returns the error the caller must propagate, or nil when the
// failure (if any) is absorbed by the policy.
func (o Outcome) Abort() error {
	if o.Err != nil && o.Policy == Abort {
		return fmt.Errorf("%s: %w", o.Op, o.Err)
	}
	return nil
}

// Do runs fn and classifies its error by op's policy. Absorbed failures are
// logged at warn level on logger.
func Do(ctx context.Context, logger zerolog.Logger, op Operation, fn func(context.Context) error) Outcome {
	out := Outcome{Op: op, Policy: PolicyFor(op)}
	out.Err = fn(ctx)
	if out.Err != nil && out.Policy != Abort {
		logger.Warn().
			Err(out.Err).
			Str("operation", string(op)).
			Str("policy", out.Policy.String()).
			Msg("Non-fatal: operation failed, continuing")
	}
	return out
}
