package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/storage/memory"
)

func TestLambdaHandler(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	cand := &candidate{store: store, status: 201, write: true}
	rep := &recordingReporter{}
	handler := LambdaHandler(New(fastConfig(), store, cand, rep), "books-create:7")

	res, err := handler(context.Background(), event)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	want := LambdaResult{DeploymentID: event.DeploymentID, HookExecutionID: event.HookExecutionID, Status: domain.VerdictSucceeded}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
	if rep.only(t).Status != domain.VerdictSucceeded {
		t.Error("verdict not reported")
	}
	if cand.calls[0].Target != "books-create:7" {
		t.Errorf("target = %q", cand.calls[0].Target)
	}
}

func TestLambdaHandler_ReportFailure(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	cand := &candidate{store: store, status: 201, write: true}
	rep := &recordingReporter{err: errors.New("throttled")}
	handler := LambdaHandler(New(fastConfig(), store, cand, rep), "")

	res, err := handler(context.Background(), event)
	if err == nil {
		t.Fatal("handler hid the report failure")
	}
	if res.Status != domain.VerdictSucceeded {
		t.Errorf("status = %q, want the computed verdict", res.Status)
	}
}

func TestLambdaHandler_MalformedEvent(t *testing.T) {
	rep := &recordingReporter{}
	handler := LambdaHandler(New(fastConfig(), memory.New(), &candidate{}, rep), "")

	_, err := handler(context.Background(), domain.LifecycleEvent{DeploymentID: "d-1"})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
	if len(rep.reports) != 0 {
		t.Errorf("reported %+v for an event that cannot be addressed", rep.reports)
	}
}

func TestTargetFromEnv(t *testing.T) {
	env := map[string]string{"FN_NEW_VERSION": "books-create:12"}
	if got := TargetFromEnv(func(k string) string { return env[k] }); got != "books-create:12" {
		t.Errorf("TargetFromEnv() = %q", got)
	}
}
