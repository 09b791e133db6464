// Package main provides a Lambda entry point for the image validation stage.
//
// First state of the image-analysis state machine. Checks the extension
// allow-list, that the object exists and is within size limits, decodes the
// image header and reads EXIF metadata. Bad images are reported with
// valid=false rather than an error so the state machine's Choice state can
// route them to the aggregator's failure path.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
	"github.com/fpang/image-analysis-pipeline/internal/lambdaboot"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
	"github.com/fpang/image-analysis-pipeline/internal/vision"
)

const functionName = "validate-lambda"

var validator *vision.Validator

var coldStart = true

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(cfg)
	validator = vision.NewValidator(s3c.Client, s3c.Bucket)

	lambdaboot.StartupLog(functionName, initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		S3Bucket("imageBucket", s3c.Bucket).
		Log()
}

func handler(ctx context.Context, ref analysis.ImageRef) (analysis.StageOutput, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", functionName).Msg("Cold start: first invocation")
	}

	res, err := validator.Validate(ctx, ref)
	if err != nil {
		log.Error().Err(err).Str("objectKey", ref.ObjectKey).Msg("Validation could not complete")
		return analysis.StageOutput{}, err
	}
	return analysis.NewStageOutput(ref, res), nil
}

func main() {
	lambda.Start(handler)
}
