package intake_test

import (
	"testing"

	"pressline/internal/domain"
	"pressline/internal/intake"
)

func TestNormalizeJobStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"open", domain.JobOpen},
		{"Completed", domain.JobCompleted},
		{"SHIPPED ", domain.JobCompleted},
		{"Delivered to customer", domain.JobCompleted},
		{"invoiced", domain.JobCompleted},
		{"Cancelled by sales", domain.JobCancelled},
		{"VOID", domain.JobCancelled},
		{"in production", domain.JobOpen},
		{"", domain.JobOpen},
	}
	for _, c := range cases {
		if got := intake.NormalizeJobStatus(c.raw); got != c.want {
			t.Errorf("NormalizeJobStatus(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestNormalizeStageStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"pending", domain.StagePending},
		{"Active", domain.StageActive},
		{"In Progress", domain.StageActive},
		{"running", domain.StageActive},
		{"Done", domain.StageCompleted},
		{"finished yesterday", domain.StageCompleted},
		{"skipped", domain.StageSkipped},
		{"N/A", domain.StageSkipped},
		{"queued", domain.StagePending},
		{"", domain.StagePending},
	}
	for _, c := range cases {
		if got := intake.NormalizeStageStatus(c.raw); got != c.want {
			t.Errorf("NormalizeStageStatus(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}
