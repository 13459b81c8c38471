// Command e2e runs the end-to-end suite against a deployed environment. It
// reads API_ENDPOINT, USER_POOL_ID, USER_POOL_CLIENT_ID and TABLE from the
// environment, authenticates through Cognito and seeds DynamoDB directly.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/booksapi/release-pipeline/internal/awsutil"
	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/e2e"
	"github.com/booksapi/release-pipeline/internal/identity"
	"github.com/booksapi/release-pipeline/internal/storage/dynamo"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	target, err := e2e.TargetFromEnv(env)
	if err != nil {
		log.Fatalf("Invalid test target: %v", err)
	}

	cfg, err := config.Load(os.Getenv("RELEASE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsutil.LoadConfig(ctx, cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	suite := e2e.NewSuite(
		identity.NewCognitoFromConfig(awsCfg),
		func(ctx context.Context, table string) (ports.BookStore, error) {
			return dynamo.NewFromConfig(awsCfg, table), nil
		},
		nil,
		logger,
	)

	report, runErr := suite.Run(ctx, target)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("failed to write report", slog.String("error", err.Error()))
	}
	if runErr != nil {
		logger.Error("end-to-end suite failed", slog.String("error", runErr.Error()))
		stop()
		os.Exit(1)
	}
	logger.Info("end-to-end suite passed", slog.Int("scenarios", len(report.Scenarios)))
}
