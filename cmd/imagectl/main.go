// Package main is imagectl, the operator CLI for the image analysis
// pipeline.
//
//	imagectl list --owner <id>
//	imagectl show --owner <id> --image <id>
//	imagectl reprocess --owner <id> --image <id>
//	imagectl summarize event.json
//
// list, show and reprocess use the default AWS credential chain against the
// table named by --table (default $RESULTS_TABLE). summarize works offline
// on an aggregator input captured from a Step Functions execution.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/fpang/image-analysis-pipeline/internal/lambdaboot"
	"github.com/fpang/image-analysis-pipeline/internal/logging"
	"github.com/fpang/image-analysis-pipeline/internal/metrics"
	"github.com/fpang/image-analysis-pipeline/internal/store"
	"github.com/fpang/image-analysis-pipeline/internal/workflow"
)

// CLI flags
var (
	tableFlag             string
	bucketFlag            string
	ownerFlag             string
	imageFlag             string
	stateMachineFlag      string
	stateMachineParamFlag string
)

// rootCmd is the main Cobra command for imagectl.
var rootCmd = &cobra.Command{
	Use:   "imagectl",
	Short: "Inspect and re-drive image analysis records",
	Long: `imagectl reads image records from the results table, re-drives the
analysis workflow for images stuck in pending or processing, and summarizes
captured aggregator inputs offline.

Examples:
  imagectl list --owner 7f1c...
  imagectl show --owner 7f1c... --image 0b9e...
  imagectl reprocess --owner 7f1c... --image 0b9e... --state-machine-arn arn:aws:states:...
  imagectl summarize ./aggregate-input.json`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
		// EMF lines are meant for CloudWatch; keep them off the terminal.
		metrics.SetOutput(io.Discard)
	},
}

// openStore and openTrigger are replaced in tests.
var (
	openStore = func(ctx context.Context) (store.Store, error) {
		if tableFlag == "" {
			return nil, fmt.Errorf("--table or %s is required", lambdaboot.EnvResultsTable)
		}
		cfg := lambdaboot.InitAWS()
		return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableFlag), nil
	}

	openTrigger = func(ctx context.Context, st store.Store) (*workflow.Trigger, error) {
		if stateMachineFlag == "" && stateMachineParamFlag == "" {
			return nil, fmt.Errorf("--state-machine-arn or --state-machine-param is required")
		}
		cfg := lambdaboot.InitAWS()
		arns := workflow.NewARNResolver(stateMachineFlag, stateMachineParamFlag, lambdaboot.InitSSM(cfg))
		return workflow.NewTrigger(st, s3.NewFromConfig(cfg), lambdaboot.InitSFN(cfg), arns), nil
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&tableFlag, "table", os.Getenv(lambdaboot.EnvResultsTable), "DynamoDB results table")
	pf.StringVar(&bucketFlag, "bucket", os.Getenv(lambdaboot.EnvImageBucket), "S3 image bucket")

	for _, c := range []*cobra.Command{listCmd, showCmd, reprocessCmd} {
		c.Flags().StringVarP(&ownerFlag, "owner", "o", "", "Owner (user) ID")
		c.MarkFlagRequired("owner")
	}
	for _, c := range []*cobra.Command{showCmd, reprocessCmd} {
		c.Flags().StringVarP(&imageFlag, "image", "i", "", "Image ID")
		c.MarkFlagRequired("image")
	}
	reprocessCmd.Flags().StringVar(&stateMachineFlag, "state-machine-arn", os.Getenv(lambdaboot.EnvStateMachineARN), "State machine ARN")
	reprocessCmd.Flags().StringVar(&stateMachineParamFlag, "state-machine-param", os.Getenv(lambdaboot.EnvStateMachineARNParam), "SSM parameter holding the state machine ARN")

	rootCmd.AddCommand(listCmd, showCmd, reprocessCmd, summarizeCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "imagectl %s (built %s)\n", commitHash, buildTime)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
