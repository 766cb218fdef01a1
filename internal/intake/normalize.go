// Package intake maps free-form status text from external systems onto the
// closed status enums. Substring matching is confined to this boundary; the
// scheduling core only ever sees normalized statuses.
package intake

import (
	"strings"

	"pressline/internal/domain"
)

var jobDoneMarkers = []string{"shipped", "delivered", "done", "complete", "invoiced"}
var jobCancelMarkers = []string{"cancel", "void", "abort"}

// NormalizeJobStatus maps external job status text to a closed enum value.
// Already-normalized values pass through unchanged.
func NormalizeJobStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if domain.ValidJobStatus(s) {
		return s
	}
	for _, m := range jobCancelMarkers {
		if strings.Contains(s, m) {
			return domain.JobCancelled
		}
	}
	for _, m := range jobDoneMarkers {
		if strings.Contains(s, m) {
			return domain.JobCompleted
		}
	}
	return domain.JobOpen
}

// NormalizeStageStatus maps external stage status text to a closed enum value.
func NormalizeStageStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if domain.ValidStageStatus(s) {
		return s
	}
	switch {
	case strings.Contains(s, "skip"), strings.Contains(s, "n/a"):
		return domain.StageSkipped
	case strings.Contains(s, "done"), strings.Contains(s, "complete"), strings.Contains(s, "finish"):
		return domain.StageCompleted
	case strings.Contains(s, "progress"), strings.Contains(s, "running"), strings.Contains(s, "active"):
		return domain.StageActive
	}
	return domain.StagePending
}
