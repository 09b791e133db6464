// Package main provides a Lambda entry point for login and registration.
//
//	POST /auth  {"action": "login"|"register", "email": "...", "password": "..."}
//
// Both actions are backed by the Cognito user pool named by USER_POOL_ID.
// The app client (USER_POOL_CLIENT_ID) must allow USER_PASSWORD_AUTH.
package main

import (
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/image-analysis-pipeline/internal/identity"
	"github.com/fpang/image-analysis-pipeline/internal/lambdaboot"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
)

const functionName = "auth-lambda"

var service *identity.Service

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.InitAWS()
	poolID := lambdaboot.RequireEnv(lambdaboot.EnvUserPoolID)
	clientID := lambdaboot.RequireEnv(lambdaboot.EnvUserPoolClientID)
	service = identity.NewService(lambdaboot.InitCognito(cfg), poolID, clientID)

	lambdaboot.StartupLog(functionName, initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		UserPool("users", poolID).
		Config("clientId", clientID).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(service.Handler())
	lambda.Start(adapter.ProxyWithContext)
}
