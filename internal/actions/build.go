package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/deploy/local"
)

// outputTail is how much command output is kept in a failure message.
const outputTail = 2048

// buildAction turns the source snapshot into a deployable bundle.
//
// With a command configured, the snapshot is unpacked into a scratch
// directory, the command runs there and OutputFile is uploaded. Without one,
// the bundle is a manifest naming the commit and branch.
type buildAction struct {
	cfg       config.BuildConfig
	bucket    string
	artifacts ports.ArtifactStore
	output    string
	logger    *slog.Logger
}

func newBuild(cfg config.BuildConfig, bucket string, artifacts ports.ArtifactStore, output string, logger *slog.Logger) *buildAction {
	return &buildAction{cfg: cfg, bucket: bucket, artifacts: artifacts, output: output, logger: logger}
}

func (a *buildAction) Run(ctx context.Context, in *ports.ActionInput) (*ports.ActionOutput, error) {
	branch := in.Env["GIT_BRANCH"]

	var (
		bundle []byte
		name   string
		err    error
	)
	if len(a.cfg.Command) == 0 {
		name = "bundle.json"
		bundle, err = json.Marshal(local.Bundle{
			Commit: in.Env["GIT_COMMIT"],
			Branch: branch,
			Defect: in.Env["BUNDLE_DEFECT"],
		})
	} else {
		name = filepath.Base(a.cfg.OutputFile)
		bundle, err = a.runCommand(ctx, in)
	}
	if err != nil {
		return nil, err
	}

	ref, err := a.artifacts.Put(ctx, a.output, "build/"+in.RunID+"/"+name, bytes.NewReader(bundle))
	if err != nil {
		return nil, fmt.Errorf("upload bundle: %w", err)
	}

	a.logger.Info("build bundle uploaded",
		slog.String("run_id", in.RunID),
		slog.String("location", ref.Location),
		slog.Int("bytes", len(bundle)),
	)
	return &ports.ActionOutput{
		Variables: map[string]string{
			"ARTIFACTS_PATH": ref.Location,
			"GIT_BRANCH":     branch,
		},
		Artifacts: map[string]domain.ArtifactRef{a.output: ref},
	}, nil
}

// runCommand executes the build command and returns the content of the
// output file.
func (a *buildAction) runCommand(ctx context.Context, in *ports.ActionInput) ([]byte, error) {
	if a.cfg.OutputFile == "" {
		return nil, errors.New("build command configured without an output file")
	}

	dir := a.cfg.WorkingDir
	if in.InputArtifact != nil {
		scratch, err := os.MkdirTemp("", "build-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(scratch)

		rc, err := a.artifacts.Open(ctx, *in.InputArtifact)
		if err != nil {
			return nil, fmt.Errorf("open source snapshot: %w", err)
		}
		err = extractSnapshot(rc, scratch)
		rc.Close()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(scratch, a.cfg.WorkingDir)
	}

	cmd := exec.CommandContext(ctx, a.cfg.Command[0], a.cfg.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range in.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "S3_BUCKET="+a.bucket)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	a.logger.Info("running build command",
		slog.String("run_id", in.RunID),
		slog.String("command", strings.Join(a.cfg.Command, " ")),
		slog.String("dir", dir),
	)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("build command exited with code %d: %s", exitErr.ExitCode(), tail(out.String(), outputTail))
		}
		return nil, fmt.Errorf("run build command: %w", err)
	}

	outputPath := a.cfg.OutputFile
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(dir, outputPath)
	}
	bundle, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read build output: %w", err)
	}
	return bundle, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
