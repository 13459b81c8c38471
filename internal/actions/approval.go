package actions

import (
	"context"

	"github.com/booksapi/release-pipeline/internal/approval"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

type approvalAction struct {
	gate        *approval.Gate
	information string
}

func newApproval(gate *approval.Gate, information string) *approvalAction {
	return &approvalAction{gate: gate, information: information}
}

// Run blocks until a reviewer decides. A rejection fails the action.
func (a *approvalAction) Run(ctx context.Context, in *ports.ActionInput) (*ports.ActionOutput, error) {
	d, err := a.gate.Await(ctx, in.RunID, in.Stage, in.Action, a.information)
	if err != nil {
		return nil, err
	}
	vars := map[string]string{"REVIEWER": d.Reviewer}
	if d.Comment != "" {
		vars["COMMENT"] = d.Comment
	}
	return &ports.ActionOutput{Variables: vars}, nil
}
