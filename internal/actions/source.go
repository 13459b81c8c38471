package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// sourceAction snapshots a git checkout and publishes where it came from.
type sourceAction struct {
	cfg       config.SourceConfig
	artifacts ports.ArtifactStore
	output    string
	logger    *slog.Logger
}

func newSource(cfg config.SourceConfig, artifacts ports.ArtifactStore, output string, logger *slog.Logger) *sourceAction {
	return &sourceAction{cfg: cfg, artifacts: artifacts, output: output, logger: logger}
}

// revision is the checked-out state of the source repository.
type revision struct {
	root       string
	branch     string
	commit     string
	message    string
	authorDate time.Time
}

func (a *sourceAction) Run(ctx context.Context, in *ports.ActionInput) (*ports.ActionOutput, error) {
	rev, err := a.resolve()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeSnapshot(rev.root, &buf); err != nil {
		return nil, err
	}
	ref, err := a.artifacts.Put(ctx, a.output, "source/"+rev.commit+".tar.gz", &buf)
	if err != nil {
		return nil, fmt.Errorf("upload source snapshot: %w", err)
	}

	repo := a.cfg.Repository
	if repo == "" {
		repo = filepath.Base(rev.root)
	}
	fullName := repo
	if a.cfg.Owner != "" {
		fullName = a.cfg.Owner + "/" + repo
	}

	vars := map[string]string{
		"BranchName":         rev.branch,
		"CommitId":           rev.commit,
		"RepositoryName":     repo,
		"FullRepositoryName": fullName,
	}
	if rev.message != "" {
		vars["CommitMessage"] = rev.message
	}
	if !rev.authorDate.IsZero() {
		vars["AuthorDate"] = rev.authorDate.UTC().Format(time.RFC3339)
	}

	a.logger.Info("source snapshot uploaded",
		slog.String("run_id", in.RunID),
		slog.String("branch", rev.branch),
		slog.String("commit", rev.commit),
		slog.String("location", ref.Location),
	)
	return &ports.ActionOutput{
		Variables: vars,
		Artifacts: map[string]domain.ArtifactRef{a.output: ref},
	}, nil
}

// resolve reads HEAD of the configured checkout. A directory that is not a
// repository is accepted only when the commit is configured explicitly.
func (a *sourceAction) resolve() (*revision, error) {
	dir := a.cfg.Dir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if a.cfg.Commit == "" {
			return nil, fmt.Errorf("%s is not a git repository and no commit is configured", abs)
		}
		return &revision{root: abs, branch: a.cfg.Branch, commit: a.cfg.Commit}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", abs, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	rev := &revision{root: abs, branch: a.cfg.Branch, commit: head.Hash().String()}
	if head.Name().IsBranch() {
		checkedOut := head.Name().Short()
		if a.cfg.Branch != "" && a.cfg.Branch != checkedOut {
			return nil, fmt.Errorf("checkout is on branch %s, pipeline tracks %s", checkedOut, a.cfg.Branch)
		}
		rev.branch = checkedOut
	}

	if wt, err := repo.Worktree(); err == nil {
		rev.root = wt.Filesystem.Root()
	}
	if c, err := repo.CommitObject(head.Hash()); err == nil {
		rev.message = strings.TrimSpace(strings.SplitN(c.Message, "\n", 2)[0])
		rev.authorDate = c.Author.When
	}
	return rev, nil
}
