package orchestrator

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/testutil"
)

const recordedStatusURL = "http://orchestrator.local/lifecycle-events/status"

func TestClient_ReportVerdict_Recorded(t *testing.T) {
	recorder := testutil.NewVCRRecorder(t, "verdict_report_accepted")
	client := NewClient(recordedStatusURL, testutil.VCRHTTPClient(recorder))

	err := client.ReportVerdict(context.Background(), domain.VerdictReport{
		DeploymentID:    "d-7RXJ2QJ4B",
		HookExecutionID: "eyJlbmNyeXB0ZWREYXRhIjoiN2Z",
		Status:          domain.VerdictSucceeded,
	})
	if err != nil {
		t.Fatalf("ReportVerdict() error = %v", err)
	}
}

func TestClient_ReportVerdict_RecordedConflict(t *testing.T) {
	recorder := testutil.NewVCRRecorder(t, "verdict_report_conflict")
	client := NewClient(recordedStatusURL, testutil.VCRHTTPClient(recorder))

	err := client.ReportVerdict(context.Background(), domain.VerdictReport{
		DeploymentID:    "d-7RXJ2QJ4B",
		HookExecutionID: "eyJlbmNyeXB0ZWREYXRhIjoiN2Z",
		Status:          domain.VerdictFailed,
	})
	if !errors.Is(err, ErrVerdictAlreadyReported) {
		t.Fatalf("ReportVerdict() error = %v, want ErrVerdictAlreadyReported", err)
	}
}

// The client and the handler agree on the wire format.
func TestClient_AgainstHandler(t *testing.T) {
	ledger := NewLedger()
	server := httptest.NewServer(NewHandler(ledger))
	defer server.Close()

	client := NewClient(server.URL+"/lifecycle-events/status", nil)
	ev := ledger.Issue("d-1")
	report := domain.VerdictReport{DeploymentID: ev.DeploymentID, HookExecutionID: ev.HookExecutionID, Status: domain.VerdictSucceeded}

	if err := client.ReportVerdict(context.Background(), report); err != nil {
		t.Fatalf("ReportVerdict() error = %v", err)
	}
	rv, resolved, err := ledger.Resolution(ev)
	if err != nil || !resolved || rv.Verdict != domain.VerdictSucceeded {
		t.Fatalf("Resolution() = %+v, %v, %v", rv, resolved, err)
	}

	if err := client.ReportVerdict(context.Background(), report); !errors.Is(err, ErrVerdictAlreadyReported) {
		t.Errorf("second ReportVerdict() error = %v, want ErrVerdictAlreadyReported", err)
	}

	unknown := domain.VerdictReport{DeploymentID: "d-1", HookExecutionID: "nope", Status: domain.VerdictFailed}
	if err := client.ReportVerdict(context.Background(), unknown); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("unknown ReportVerdict() error = %v, want ErrUnknownEvent", err)
	}
}
