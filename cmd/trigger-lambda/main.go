// Package main provides a Lambda entry point for the workflow trigger.
//
// Invoked by S3 ObjectCreated notifications on the image bucket. For each
// uploaded object it marks the image record processing, tags the object and
// starts an execution of the image-analysis state machine.
//
// The state machine ARN comes from STATE_MACHINE_ARN or, when that is not
// set, from the SSM parameter named by STATE_MACHINE_ARN_PARAM. Uploads that
// arrive before either is available are acknowledged and left processing.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/lambdaboot"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
	"github.com/fpang/image-analysis-pipeline/internal/workflow"
)

const functionName = "trigger-lambda"

var trigger *workflow.Trigger

var coldStart = true

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(cfg)
	st, table := lambdaboot.InitDynamo(cfg)

	staticARN := os.Getenv(lambdaboot.EnvStateMachineARN)
	paramName := os.Getenv(lambdaboot.EnvStateMachineARNParam)
	if staticARN == "" && paramName == "" {
		log.Warn().Msg("Neither STATE_MACHINE_ARN nor STATE_MACHINE_ARN_PARAM is set; uploads will not be processed")
	}
	arns := workflow.NewARNResolver(staticARN, paramName, lambdaboot.InitSSM(cfg))
	trigger = workflow.NewTrigger(st, s3c.Client, lambdaboot.InitSFN(cfg), arns)

	lambdaboot.StartupLog(functionName, initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		S3Bucket("imageBucket", s3c.Bucket).
		DynamoTable("results", table).
		StateMachine("imageAnalysis", staticARN).
		SSMParam("stateMachineArn", paramName).
		Log()
}

// Response mirrors an API Gateway proxy response so the trigger's answer is
// readable in the Lambda console and in test invocations.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func handler(ctx context.Context, event events.S3Event) (Response, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", functionName).Msg("Cold start: first invocation")
	}

	if len(event.Records) == 0 {
		return respond(workflow.Outcome{StatusCode: http.StatusBadRequest, Message: workflow.MsgInvalidKey}), nil
	}

	// The most severe outcome is reported when a notification carries
	// several records.
	var worst workflow.Outcome
	for _, rec := range event.Records {
		out := trigger.HandleObject(ctx, rec.S3.Bucket.Name, rec.S3.Object.Key)
		if out.StatusCode > worst.StatusCode {
			worst = out
		}
	}
	return respond(worst), nil
}

func respond(out workflow.Outcome) Response {
	body, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal trigger outcome")
		return Response{StatusCode: http.StatusInternalServerError, Body: `{"message":"internal error"}`}
	}
	return Response{StatusCode: out.StatusCode, Body: string(body)}
}

func main() {
	lambda.Start(handler)
}
