// Package workflow starts the analysis state machine for newly uploaded
// images.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
	"github.com/fpang/image-analysis-pipeline/internal/jobutil"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
	"github.com/fpang/image-analysis-pipeline/internal/metrics"
	"github.com/fpang/image-analysis-pipeline/internal/s3util"
	"github.com/fpang/image-analysis-pipeline/internal/store"
)

// Outcome messages.
const (
	MsgInvalidKey     = "Invalid key format"
	MsgDeferred       = "Image received, but processing not yet available"
	MsgStarted        = "Image processing started"
	MsgStartFailed    = "Error starting image processing"
	msgStartFailedErr = "failed to start analysis workflow"
)

// ExecutionStarter is the subset of the Step Functions client used here.
type ExecutionStarter interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// Outcome is the structured result of handling one uploaded object.
type Outcome struct {
	StatusCode   int    `json:"statusCode"`
	Message      string `json:"message"`
	OwnerID      string `json:"ownerId,omitempty"`
	ImageID      string `json:"imageId,omitempty"`
	ExecutionARN string `json:"executionArn,omitempty"`
}

// Trigger hands uploaded images to the workflow engine.
type Trigger struct {
	store   store.Store
	objects s3util.ObjectAPI
	sfn     ExecutionStarter
	arns    *ARNResolver
	now     func() time.Time
}

// NewTrigger creates a Trigger. objects may be nil to skip object tagging.
func NewTrigger(st store.Store, objects s3util.ObjectAPI, starter ExecutionStarter, arns *ARNResolver) *Trigger {
	return &Trigger{store: st, objects: objects, sfn: starter, arns: arns, now: time.Now}
}

// HandleObject processes one ObjectCreated notification. rawKey is the key
// as it appears in the event, which S3 URL-encodes with '+' for spaces.
func (t *Trigger) HandleObject(ctx context.Context, bucket, rawKey string) Outcome {
	key, err := url.QueryUnescape(rawKey)
	if err != nil {
		log.Warn().Err(err).Str("key", rawKey).Msg("Object key is not valid URL encoding")
		return Outcome{StatusCode: http.StatusBadRequest, Message: MsgInvalidKey}
	}
	log.Info().Str("bucket", bucket).Str("key", key).Msg("Processing new image upload")

	ownerID, imageID, err := analysis.ParseObjectKey(key)
	if err != nil {
		log.Warn().Err(err).Msg("Rejecting upload")
		return Outcome{StatusCode: http.StatusBadRequest, Message: MsgInvalidKey}
	}

	ref := analysis.ImageRef{OwnerID: ownerID, ImageID: imageID, ObjectKey: key, Bucket: bucket}
	logger := logging.ForImage(ownerID, imageID)

	if t.objects != nil {
		jobutil.Do(ctx, logger, jobutil.TriggerTagObject, func(ctx context.Context) error {
			return s3util.TagObject(ctx, t.objects, bucket, key)
		})
	}
	return t.Start(ctx, ref)
}

// Start marks the record processing and starts an execution for it. It is
// also how an operator re-drives a record whose start was deferred.
func (t *Trigger) Start(ctx context.Context, ref analysis.ImageRef) Outcome {
	logger := logging.ForImage(ref.OwnerID, ref.ImageID)
	base := Outcome{OwnerID: ref.OwnerID, ImageID: ref.ImageID}
	rec := metrics.New()
	defer rec.Flush()

	jobutil.Do(ctx, logger, jobutil.TriggerMarkProcessing, func(ctx context.Context) error {
		return t.store.MarkProcessing(ctx, ref.OwnerID, ref.ImageID)
	})

	var arn string
	resolve := jobutil.Do(ctx, logger, jobutil.TriggerResolveARN, func(ctx context.Context) error {
		var err error
		arn, err = t.arns.Resolve(ctx)
		return err
	})
	if resolve.Degraded() || arn == "" {
		logger.Warn().Msg("State machine ARN not available; leaving image in processing")
		rec.Count(metrics.MetricWorkflowDeferred)
		base.StatusCode, base.Message = http.StatusOK, MsgDeferred
		return base
	}

	var executionARN string
	start := jobutil.Do(ctx, logger, jobutil.TriggerStartWorkflow, func(ctx context.Context) error {
		var err error
		executionARN, err = t.startExecution(ctx, arn, ref)
		return err
	})
	if err := start.Abort(); err != nil {
		logger.Error().Err(err).Msg("Failed to start workflow")
		jobutil.RecordFailure(ctx, logger, jobutil.TriggerMarkFailed, ref.OwnerID, ref.ImageID, msgStartFailedErr, t.store.FailImage)
		base.StatusCode, base.Message = http.StatusInternalServerError, MsgStartFailed
		return base
	}

	jobutil.Do(ctx, logger, jobutil.TriggerRecordExecution, func(ctx context.Context) error {
		return t.store.SetExecution(ctx, ref.OwnerID, ref.ImageID, executionARN)
	})

	rec.Count(metrics.MetricWorkflowStarted)
	logger.Info().Str("executionArn", executionARN).Msg("Started Step Functions execution")
	base.StatusCode, base.Message, base.ExecutionARN = http.StatusOK, MsgStarted, executionARN
	return base
}

// ExecutionName is unique per attempt so a re-drive never collides with an
// earlier execution of the same image.
func ExecutionName(imageID string, at time.Time) string {
	return fmt.Sprintf("image-processing-%s-%d", imageID, at.Unix())
}

func (t *Trigger) startExecution(ctx context.Context, arn string, ref analysis.ImageRef) (string, error) {
	input, err := json.Marshal(ref)
	if err != nil {
		return "", fmt.Errorf("marshal execution input: %w", err)
	}
	out, err := t.sfn.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(arn),
		Name:            aws.String(ExecutionName(ref.ImageID, t.now())),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return "", fmt.Errorf("StartExecution: %w", err)
	}
	return aws.ToString(out.ExecutionArn), nil
}
