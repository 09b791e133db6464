// Package main provides a Lambda entry point for the result aggregator.
//
// Final state of the image-analysis state machine. Receives the validation
// envelope and the outputs of the parallel vision stages, validates and
// merges them, derives the summary and writes the completed record in one
// conditional update. Failures mark the record failed and are returned to
// the state machine.
//
// When EVENT_BUS_NAME is set an ImageAnalysisCompleted or
// ImageAnalysisFailed event is published after the write.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/aggregate"
	"github.com/fpang/image-analysis-pipeline/internal/lambdaboot"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
)

const functionName = "aggregate-lambda"

var aggregator *aggregate.Aggregator

var coldStart = true

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.InitAWS()
	st, table := lambdaboot.InitDynamo(cfg)

	var publisher *aggregate.Publisher
	if client, bus := lambdaboot.InitEventBridge(cfg); client != nil {
		publisher = aggregate.NewPublisher(client, bus)
	}
	aggregator = aggregate.New(st, publisher)

	startup := lambdaboot.StartupLog(functionName, initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		DynamoTable("results", table).
		Feature("analysisEvents", publisher != nil)
	if publisher != nil {
		startup.EventBus("analysis", publisher.BusName())
	}
	startup.Log()
}

func handler(ctx context.Context, in aggregate.Input) (*aggregate.Output, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", functionName).Msg("Cold start: first invocation")
	}
	return aggregator.Aggregate(ctx, in)
}

func main() {
	lambda.Start(handler)
}
