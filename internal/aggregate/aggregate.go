// Package aggregate is the join point of the analysis workflow. It receives
// the outputs of every stage for one image, validates them, computes the
// summary and writes the merged document to the record store in a single
// conditional update.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
	"github.com/fpang/image-analysis-pipeline/internal/jobutil"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
	"github.com/fpang/image-analysis-pipeline/internal/metrics"
	"github.com/fpang/image-analysis-pipeline/internal/store"
)

// ErrUnresolved is returned when the owner or image cannot be identified.
// Nothing is written to the store in that case.
var ErrUnresolved = errors.New("missing required parameters (ownerId or objectKey)")

// WorkflowError is the payload Step Functions attaches when a Catch routes
// a failed branch to the aggregator.
type WorkflowError struct {
	Error string `json:"Error"`
	Cause string `json:"Cause"`
}

// Input is the state the workflow hands to the aggregator: the image
// identity plus one envelope per stage that ran.
type Input struct {
	OwnerID   string `json:"ownerId"`
	ImageID   string `json:"imageId,omitempty"`
	ObjectKey string `json:"objectKey"`

	Validation  *analysis.StageOutput `json:"validation,omitempty"`
	Labels      *analysis.StageOutput `json:"labels,omitempty"`
	Faces       *analysis.StageOutput `json:"faces,omitempty"`
	Moderation  *analysis.StageOutput `json:"moderation,omitempty"`
	Text        *analysis.StageOutput `json:"text,omitempty"`
	Celebrities *analysis.StageOutput `json:"celebrities,omitempty"`

	WorkflowError *WorkflowError `json:"error,omitempty"`
}

// stages pairs each present envelope with the stage key it arrived under.
func (in *Input) stages() []stageEntry {
	var out []stageEntry
	for _, e := range []stageEntry{
		{analysis.StageValidation, in.Validation},
		{analysis.StageLabels, in.Labels},
		{analysis.StageFaces, in.Faces},
		{analysis.StageModeration, in.Moderation},
		{analysis.StageText, in.Text},
		{analysis.StageCelebrities, in.Celebrities},
	} {
		if e.env != nil {
			out = append(out, e)
		}
	}
	return out
}

type stageEntry struct {
	stage analysis.Stage
	env   *analysis.StageOutput
}

// Output is returned to the workflow engine.
type Output struct {
	OwnerID   string            `json:"ownerId"`
	ImageID   string            `json:"imageId"`
	ObjectKey string            `json:"objectKey"`
	Status    store.Status      `json:"status"`
	Summary   *analysis.Summary `json:"summary,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Aggregator merges stage results into the record store.
type Aggregator struct {
	store     store.Store
	publisher *Publisher
	now       func() time.Time
}

// New creates an Aggregator. publisher may be nil to disable events.
func New(st store.Store, publisher *Publisher) *Aggregator {
	return &Aggregator{store: st, publisher: publisher, now: time.Now}
}

// Aggregate processes one workflow input.
//
// An invalid image or a caught branch failure is recorded as status failed
// and reported in Output without an error: the workflow did its job. A
// malformed stage payload or a store failure is recorded as failed (best
// effort) and returned as an error so the execution shows as failed.
func (a *Aggregator) Aggregate(ctx context.Context, in Input) (*Output, error) {
	start := a.now()

	ownerID, imageID, err := resolveIdentity(in)
	if err != nil {
		log.Error().Err(err).Str("objectKey", in.ObjectKey).Msg("Cannot aggregate: identifiers unresolved")
		return nil, err
	}
	logger := logging.ForImage(ownerID, imageID)
	out := &Output{OwnerID: ownerID, ImageID: imageID, ObjectKey: in.ObjectKey}

	if msg := upstreamFailure(in); msg != "" {
		a.markFailed(ctx, logger, out, msg)
		a.finish(ctx, logger, out, 0, start)
		return out, nil
	}

	results, err := merge(in)
	if err != nil {
		a.markFailed(ctx, logger, out, err.Error())
		a.finish(ctx, logger, out, 0, start)
		return nil, fmt.Errorf("aggregate %s/%s: %w", ownerID, imageID, err)
	}
	summary := analysis.Summarize(results)
	results.Summary = summary

	persist := jobutil.Do(ctx, logger, jobutil.AggregatePersist, func(ctx context.Context) error {
		return a.store.CompleteImage(ctx, ownerID, imageID, results)
	})
	if err := persist.Abort(); err != nil {
		a.markFailed(ctx, logger, out, err.Error())
		a.finish(ctx, logger, out, results.StageCount(), start)
		return nil, fmt.Errorf("aggregate %s/%s: %w", ownerID, imageID, err)
	}

	out.Status = store.StatusCompleted
	out.Summary = &summary
	logger.Info().
		Int("stages", results.StageCount()).
		Int("topLabels", len(summary.TopLabels)).
		Msg("Image analysis results stored")
	a.finish(ctx, logger, out, results.StageCount(), start)
	return out, nil
}

// Preview computes the aggregation outcome of in without touching the store
// or the event bus. results is nil when the image would be marked failed.
func Preview(in Input) (out *Output, results *analysis.Results, err error) {
	ownerID, imageID, err := resolveIdentity(in)
	if err != nil {
		return nil, nil, err
	}
	out = &Output{OwnerID: ownerID, ImageID: imageID, ObjectKey: in.ObjectKey, Status: store.StatusFailed}

	if msg := upstreamFailure(in); msg != "" {
		out.Error = msg
		return out, nil, nil
	}
	results, err = merge(in)
	if err != nil {
		out.Error = err.Error()
		return out, nil, err
	}

	summary := analysis.Summarize(results)
	results.Summary = summary
	out.Status = store.StatusCompleted
	out.Summary = &summary
	return out, results, nil
}

func resolveIdentity(in Input) (ownerID, imageID string, err error) {
	if in.OwnerID == "" || in.ObjectKey == "" {
		return "", "", ErrUnresolved
	}
	imageID = in.ImageID
	if imageID == "" {
		_, derived, err := analysis.ParseObjectKey(in.ObjectKey)
		if err != nil {
			return "", "", fmt.Errorf("could not determine image ID from key: %w", err)
		}
		imageID = derived
	}
	return in.OwnerID, imageID, nil
}

// upstreamFailure returns the failure message for inputs that must not be
// aggregated: a caught branch error or a failed validation step.
func upstreamFailure(in Input) string {
	if in.WorkflowError != nil {
		msg := "workflow error: " + in.WorkflowError.Error
		if in.WorkflowError.Cause != "" {
			msg += ": " + in.WorkflowError.Cause
		}
		return msg
	}
	if in.Validation != nil && in.Validation.Validation != nil && !in.Validation.Validation.Valid {
		return "validation failed: " + in.Validation.Validation.Message
	}
	return ""
}

// merge validates every present envelope and copies its result under its
// stage key. Absent stages stay nil.
func merge(in Input) (*analysis.Results, error) {
	results := &analysis.Results{}
	for _, e := range in.stages() {
		r, err := e.env.Result()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.stage, err)
		}
		if r.Stage() != e.stage {
			return nil, fmt.Errorf("%s: %w: envelope carries %s result", e.stage, analysis.ErrMalformedStage, r.Stage())
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", e.stage, err)
		}
		results.Set(r)
	}
	return results, nil
}

func (a *Aggregator) markFailed(ctx context.Context, logger zerolog.Logger, out *Output, msg string) {
	out.Status = store.StatusFailed
	out.Error = msg
	jobutil.RecordFailure(ctx, logger, jobutil.AggregateMarkFailed, out.OwnerID, out.ImageID, msg, a.store.FailImage)
}

// finish emits metrics and the completion event. Neither can fail the invocation.
func (a *Aggregator) finish(ctx context.Context, logger zerolog.Logger, out *Output, stages int, start time.Time) {
	rec := metrics.New().
		Dimension("Status", string(out.Status)).
		Count(metrics.MetricAggregationCount).
		Metric(metrics.MetricStagesPresent, float64(stages), metrics.UnitCount).
		Duration(metrics.MetricAggregationLatency, a.now().Sub(start)).
		Property("ownerId", out.OwnerID).
		Property("imageId", out.ImageID)
	if out.Status == store.StatusFailed {
		rec.Count(metrics.MetricAggregationFailed)
	}
	rec.Flush()

	if a.publisher != nil {
		jobutil.Do(ctx, logger, jobutil.AggregatePublish, func(ctx context.Context) error {
			return a.publisher.Publish(ctx, out)
		})
	}
}
