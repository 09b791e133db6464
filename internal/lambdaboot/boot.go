// Package lambdaboot holds the cold-start bootstrap shared by every Lambda:
// AWS config, service clients and required environment variables. Each
// Lambda's init() is a short composition of these helpers. Missing required
// configuration is fatal so a misconfigured function fails at deploy time
// rather than on its first event.
package lambdaboot

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/logging"
	"github.com/fpang/image-analysis-pipeline/internal/store"
)

// Environment variable names.
const (
	EnvImageBucket          = "IMAGE_BUCKET"
	EnvResultsTable         = "RESULTS_TABLE"
	EnvStateMachineARN      = "STATE_MACHINE_ARN"
	EnvStateMachineARNParam = "STATE_MACHINE_ARN_PARAM"
	EnvUserPoolID           = "USER_POOL_ID"
	EnvUserPoolClientID     = "USER_POOL_CLIENT_ID"
	EnvAllowQueryIdentity   = "ALLOW_QUERY_IDENTITY"
	EnvEventBusName         = "EVENT_BUS_NAME"
	EnvVisionMaxAttempts    = "VISION_MAX_ATTEMPTS"
)

// DefaultVisionMaxAttempts bounds Rekognition retries when
// VISION_MAX_ATTEMPTS is unset.
const DefaultVisionMaxAttempts = 5

// S3Clients holds the S3 client, presigner and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// InitAWS loads the default AWS config.
func InitAWS() aws.Config {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg
}

// RequireEnv returns the named environment variable or exits.
func RequireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatal().Str("envVar", name).Msg("Required environment variable is not set")
	}
	return v
}

// EnvBool reports whether the named variable is "true" (case-sensitive,
// like the deployment templates write it).
func EnvBool(name string) bool {
	return os.Getenv(name) == "true"
}

// EnvInt parses the named variable, returning def when unset or invalid.
func EnvInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		log.Warn().Str("envVar", name).Str("value", raw).Int("default", def).Msg("Invalid integer, using default")
		return def
	}
	return n
}

// InitS3 creates the S3 client and presigner for the image bucket.
func InitS3(cfg aws.Config) S3Clients {
	client := s3.NewFromConfig(cfg)
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    RequireEnv(EnvImageBucket),
	}
}

// InitDynamo creates the image record store for RESULTS_TABLE.
func InitDynamo(cfg aws.Config) (*store.DynamoStore, string) {
	table := RequireEnv(EnvResultsTable)
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table), table
}

// InitRekognition creates a Rekognition client with a standard retryer.
// Throttling is common under parallel fan-out, and every vision call is
// idempotent, so retries are safe.
func InitRekognition(cfg aws.Config) (*rekognition.Client, int) {
	attempts := EnvInt(EnvVisionMaxAttempts, DefaultVisionMaxAttempts)
	client := rekognition.NewFromConfig(cfg, func(o *rekognition.Options) {
		o.Retryer = retry.NewStandard(func(so *retry.StandardOptions) {
			so.MaxAttempts = attempts
			so.MaxBackoff = 10 * time.Second
		})
	})
	return client, attempts
}

func InitSFN(cfg aws.Config) *sfn.Client {
	return sfn.NewFromConfig(cfg)
}

func InitSSM(cfg aws.Config) *ssm.Client {
	return ssm.NewFromConfig(cfg)
}

func InitCognito(cfg aws.Config) *cognitoidentityprovider.Client {
	return cognitoidentityprovider.NewFromConfig(cfg)
}

// InitEventBridge returns a client and the bus name, or nil when
// EVENT_BUS_NAME is not configured.
func InitEventBridge(cfg aws.Config) (*eventbridge.Client, string) {
	bus := os.Getenv(EnvEventBusName)
	if bus == "" {
		log.Debug().Msg("EVENT_BUS_NAME not set, analysis events disabled")
		return nil, ""
	}
	return eventbridge.NewFromConfig(cfg), bus
}

// StartupLog starts the cold-start summary for the named Lambda.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
