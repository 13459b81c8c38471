package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/booksapi/release-pipeline/internal/core/domain"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	AWS       AWSConfig       `koanf:"aws"`
	Artifacts ArtifactConfig  `koanf:"artifacts"`
	Source    SourceConfig    `koanf:"source"`
	Build     BuildConfig     `koanf:"build"`
	Deploy    DeployConfig    `koanf:"deploy"`
	Hook      HookConfig      `koanf:"hook"`
	Identity  IdentityConfig  `koanf:"identity"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// BaseURL is how pipeline actions reach this process (endpoints handed
	// out to the test stage and the hook). Defaults to http://localhost:<port>.
	BaseURL          string `koanf:"base_url"`
	RequestTimeoutMS int    `koanf:"request_timeout_ms"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite, dynamodb
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Table is the books table (dynamodb) name.
	Table string `koanf:"table"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type AWSConfig struct {
	Region string `koanf:"region"`
	// Endpoint overrides the service endpoint (localstack).
	Endpoint string `koanf:"endpoint"`
}

type ArtifactConfig struct {
	Type   string `koanf:"type"` // memory, s3
	Bucket string `koanf:"bucket"`
	Prefix string `koanf:"prefix"`
}

type SourceConfig struct {
	Owner      string `koanf:"owner"`
	Repository string `koanf:"repository"`
	Branch     string `koanf:"branch"`
	Commit     string `koanf:"commit"`
	Dir        string `koanf:"dir"`
}

type BuildConfig struct {
	Command    []string `koanf:"command"`
	OutputFile string   `koanf:"output_file"`
	WorkingDir string   `koanf:"working_dir"`
}

type DeployConfig struct {
	// ValidationTimeout bounds the wait for a hook verdict, in milliseconds.
	ValidationTimeoutMS int `koanf:"validation_timeout_ms"`
	// VerdictRetentionMS keeps a resolved lifecycle event queryable after
	// the deployment has consumed it. Zero drops it at once.
	VerdictRetentionMS int           `koanf:"verdict_retention_ms"`
	Traffic            TrafficConfig `koanf:"traffic"`
}

type TrafficConfig struct {
	Strategy    string `koanf:"strategy"` // all_at_once, linear
	StepPercent int    `koanf:"step_percent"`
	IntervalMS  int    `koanf:"interval_ms"`
}

// HookConfig is the explicit configuration of the deployment validation
// hook.
type HookConfig struct {
	BackingStoreName string `koanf:"backing_store_name"`
	ValidationTarget string `koanf:"validation_target"`
	SettleIntervalMS int    `koanf:"settle_interval_ms"`
	// ReadDeadlineMS > 0 turns the single read after the settle interval into
	// a retried read (with backoff) until the deadline.
	ReadDeadlineMS  int `koanf:"read_deadline_ms"`
	ReadBackoffMS   int `koanf:"read_backoff_ms"`
	ReportTimeoutMS int `koanf:"report_timeout_ms"`
	// StatusURL is the orchestrator status endpoint for HTTP reporting.
	StatusURL string `koanf:"status_url"`
}

type IdentityConfig struct {
	Type string `koanf:"type"` // memory, cognito
}

type TelemetryConfig struct {
	ServiceName string `koanf:"service_name"`
	Enabled     bool   `koanf:"enabled"`
}

type PipelineConfig struct {
	Name   string                `koanf:"name"`
	Stages []PipelineStageConfig `koanf:"stages"`
}

type PipelineStageConfig struct {
	Name    string                 `koanf:"name"`
	Actions []PipelineActionConfig `koanf:"actions"`
}

type PipelineActionConfig struct {
	Name            string            `koanf:"name"`
	Type            string            `koanf:"type"` // source, build, deploy, test, approval, webhook
	RunOrder        int               `koanf:"run_order"`
	InputArtifact   string            `koanf:"input_artifact"`
	OutputArtifacts []string          `koanf:"output_artifacts"`
	Namespace       string            `koanf:"namespace"`
	Env             map[string]string `koanf:"env"`

	// Webhook actions
	URL     string            `koanf:"url"`
	Timeout string            `koanf:"timeout"` // Duration string like "30s"
	Retries int               `koanf:"retries"`
	Headers map[string]string `koanf:"headers"`

	// BlockPrivateNetworks refuses webhook URLs resolving to internal
	// addresses.
	BlockPrivateNetworks bool `koanf:"block_private_networks"`

	// Approval actions
	Information string `koanf:"information"`
}

// Spec converts the action configuration to its domain form.
func (a PipelineActionConfig) Spec() domain.ActionSpec {
	return domain.ActionSpec{
		Name:            a.Name,
		Type:            a.Type,
		RunOrder:        a.RunOrder,
		InputArtifact:   a.InputArtifact,
		OutputArtifacts: a.OutputArtifacts,
		Namespace:       a.Namespace,
		Env:             a.Env,
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (config.yaml when empty; a missing file is fine), then
// RELEASE_* environment variables, then fills defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("RELEASE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RELEASE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Pipeline.Stages) == 0 {
		name := cfg.Pipeline.Name
		cfg.Pipeline = DefaultPipeline()
		if name != "" {
			cfg.Pipeline.Name = name
		}
	}
	for si := range cfg.Pipeline.Stages {
		for ai := range cfg.Pipeline.Stages[si].Actions {
			a := &cfg.Pipeline.Stages[si].Actions[ai]
			for key, v := range a.Env {
				a.Env[key] = substituteEnvVars(v)
			}
			for key, v := range a.Headers {
				a.Headers[key] = substituteEnvVars(v)
			}
		}
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                  8080,
		"server.request_timeout_ms":    30000,
		"storage.type":                 "memory",
		"storage.sqlite.path":          "./data/release.db",
		"storage.table":                "books",
		"artifacts.type":               "memory",
		"artifacts.prefix":             "books-api",
		"deploy.validation_timeout_ms": 60000,
		"deploy.verdict_retention_ms":  300000,
		"deploy.traffic.strategy":      "all_at_once",
		"deploy.traffic.step_percent":  10,
		"deploy.traffic.interval_ms":   1000,
		"hook.backing_store_name":      "books",
		"hook.validation_target":       "books-create",
		"hook.settle_interval_ms":      1500,
		"hook.read_backoff_ms":         250,
		"hook.report_timeout_ms":       10000,
		"identity.type":                "memory",
		"pipeline.name":                "BooksApi",
		"telemetry.service_name":       "books-release-pipeline",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
}

// DefaultPipeline is the Books API release topology: Source, Build, Staging
// (deploy then test) and Production (manual review then deploy).
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		Name: "BooksApi",
		Stages: []PipelineStageConfig{
			{
				Name: "Source",
				Actions: []PipelineActionConfig{{
					Name:            "Source",
					Type:            "source",
					OutputArtifacts: []string{"SourceArtifact"},
					Namespace:       "SourceVariables",
				}},
			},
			{
				Name: "Build",
				Actions: []PipelineActionConfig{{
					Name:            "Build",
					Type:            "build",
					InputArtifact:   "SourceArtifact",
					OutputArtifacts: []string{"BuildArtifact"},
					Namespace:       "BuildVariables",
					Env: map[string]string{
						"GIT_BRANCH": "#{SourceVariables.BranchName}",
						"GIT_COMMIT": "#{SourceVariables.CommitId}",
					},
				}},
			},
			{
				Name: "Staging",
				Actions: []PipelineActionConfig{
					{
						Name:          "Deploy",
						Type:          "deploy",
						RunOrder:      1,
						InputArtifact: "SourceArtifact",
						Namespace:     "StagingVariables",
						Env: map[string]string{
							"STACK_NAME":     "BooksApiStaging",
							"ENVIRONMENT":    "staging",
							"ARTIFACTS_PATH": "#{BuildVariables.ARTIFACTS_PATH}",
						},
					},
					{
						Name:          "Test",
						Type:          "test",
						RunOrder:      2,
						InputArtifact: "SourceArtifact",
						Env: map[string]string{
							"API_ENDPOINT":        "#{StagingVariables.API_ENDPOINT}",
							"USER_POOL_ID":        "#{StagingVariables.USER_POOL_ID}",
							"USER_POOL_CLIENT_ID": "#{StagingVariables.USER_POOL_CLIENT_ID}",
							"TABLE":               "#{StagingVariables.TABLE}",
						},
					},
				},
			},
			{
				Name: "Production",
				Actions: []PipelineActionConfig{
					{
						Name:        "Review",
						Type:        "approval",
						RunOrder:    1,
						Information: "Ensure Books API works correctly in Staging and release date is agreed with Product Owners",
					},
					{
						Name:          "Deploy",
						Type:          "deploy",
						RunOrder:      2,
						InputArtifact: "SourceArtifact",
						Namespace:     "ProductionVariables",
						Env: map[string]string{
							"STACK_NAME":     "BooksApiProduction",
							"ENVIRONMENT":    "production",
							"ARTIFACTS_PATH": "#{BuildVariables.ARTIFACTS_PATH}",
						},
					},
				},
			},
		},
	}
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
