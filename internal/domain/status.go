package domain

import "fmt"

// Job statuses.
const (
	JobOpen      = "open"
	JobCompleted = "completed"
	JobCancelled = "cancelled"
)

// Workflow stage statuses.
const (
	StagePending   = "pending"
	StageActive    = "active"
	StageCompleted = "completed"
	StageSkipped   = "skipped"
)

// StageDone reports whether a stage no longer blocks its successor.
func StageDone(status string) bool {
	return status == StageCompleted || status == StageSkipped
}

func ValidJobStatus(s string) bool {
	switch s {
	case JobOpen, JobCompleted, JobCancelled:
		return true
	}
	return false
}

func ValidStageStatus(s string) bool {
	switch s {
	case StagePending, StageActive, StageCompleted, StageSkipped:
		return true
	}
	return false
}

// EnsureStageTransition validates a stage status change. A pending stage may
// become active or be skipped; an active stage may complete or be skipped.
func EnsureStageTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case StagePending:
		if newStatus == StageActive || newStatus == StageSkipped {
			return nil
		}
	case StageActive:
		if newStatus == StageCompleted || newStatus == StageSkipped {
			return nil
		}
	}
	return fmt.Errorf("invalid stage status transition %s -> %s", oldStatus, newStatus)
}
