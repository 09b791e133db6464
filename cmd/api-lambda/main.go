// Package main provides a Lambda entry point for the image CRUD API.
//
// Serves the routes of package api behind an API Gateway HTTP API (payload
// format 2.0) through aws-lambda-go-api-proxy:
//
//	GET    /images               list the caller's images
//	GET    /images/{id}          one image with a presigned view URL
//	GET    /images/{id}/results  the image plus its analysis results
//	DELETE /images/{id}          delete an image and its record
//	POST   /upload-url           presigned PUT URL for a new image
//
// Callers authenticate with a Cognito bearer token, verified against the
// user pool's JWKS. ALLOW_QUERY_IDENTITY=true additionally trusts a userId
// query parameter; it must stay off in production.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/api"
	"github.com/fpang/image-analysis-pipeline/internal/lambdaboot"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
)

const functionName = "api-lambda"

var server *api.Server

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(cfg)
	st, table := lambdaboot.InitDynamo(cfg)

	allowQuery := lambdaboot.EnvBool(lambdaboot.EnvAllowQueryIdentity)
	if allowQuery {
		log.Warn().Msg("ALLOW_QUERY_IDENTITY enabled: userId query parameter is trusted")
	}

	var verifier api.Verifier
	poolID := os.Getenv(lambdaboot.EnvUserPoolID)
	if poolID != "" {
		issuer, err := api.CognitoIssuer(poolID)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid USER_POOL_ID")
		}
		keys, err := api.CognitoKeys(context.Background(), issuer)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load user pool signing keys")
		}
		verifier = api.NewTokenVerifier(keys.Keyfunc, issuer, os.Getenv(lambdaboot.EnvUserPoolClientID))
	} else if !allowQuery {
		log.Fatal().Msg("USER_POOL_ID is required unless ALLOW_QUERY_IDENTITY is enabled")
	}

	server = api.NewServer(st, s3c.Client, s3c.Presigner, s3c.Bucket, api.NewAuthenticator(allowQuery, verifier))

	lambdaboot.StartupLog(functionName, initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		S3Bucket("imageBucket", s3c.Bucket).
		DynamoTable("results", table).
		UserPool("users", poolID).
		Feature("queryIdentity", allowQuery).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(server.Handler())
	lambda.Start(adapter.ProxyWithContext)
}
