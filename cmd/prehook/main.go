// Command prehook is the pre-traffic validation hook deployed as a Lambda
// function. CodeDeploy invokes it with the lifecycle event; it exercises the
// candidate function version, checks the write in DynamoDB and reports the
// verdict through PutLifecycleEventHookExecutionStatus.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/booksapi/release-pipeline/internal/awsutil"
	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/hook"
	"github.com/booksapi/release-pipeline/internal/invoke"
	"github.com/booksapi/release-pipeline/internal/orchestrator/codedeploy"
	"github.com/booksapi/release-pipeline/internal/storage/dynamo"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// RELEASE_* variables and defaults; there is no config file in the
	// function package.
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	table := os.Getenv("TABLE")
	if table == "" {
		table = cfg.Storage.Table
	}

	awsCfg, err := awsutil.LoadConfig(context.Background(), cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	h := hook.New(
		hook.ConfigFromSettings(cfg.Hook),
		dynamo.NewFromConfig(awsCfg, table),
		invoke.NewLambdaFromConfig(awsCfg),
		codedeploy.NewFromConfig(awsCfg),
		hook.WithLogger(logger),
	)

	target := hook.TargetFromEnv(os.Getenv)
	logger.Info("pre-traffic hook ready",
		slog.String("table", table),
		slog.String("target", target),
	)
	lambda.Start(hook.LambdaHandler(h, target))
}
