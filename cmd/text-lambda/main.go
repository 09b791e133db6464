// Package main provides a Lambda entry point for the text stage.
package main

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
	"github.com/fpang/image-analysis-pipeline/internal/lambdaboot"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
	"github.com/fpang/image-analysis-pipeline/internal/vision"
)

const functionName = "text-lambda"

var analyzer *vision.Analyzer

var coldStart = true

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.InitAWS()
	client, attempts := lambdaboot.InitRekognition(cfg)
	bucket := lambdaboot.RequireEnv(lambdaboot.EnvImageBucket)
	analyzer = vision.NewAnalyzer(client, bucket)

	lambdaboot.StartupLog(functionName, initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		S3Bucket("imageBucket", bucket).
		Config("visionMaxAttempts", strconv.Itoa(attempts)).
		Log()
}

func handler(ctx context.Context, ref analysis.ImageRef) (analysis.StageOutput, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", functionName).Msg("Cold start: first invocation")
	}
	return analyzer.Run(ctx, analysis.StageText, ref)
}

func main() {
	lambda.Start(handler)
}
