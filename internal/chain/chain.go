// Package chain derives read-only workflow facts for a single job: progress,
// the current stage, remaining effort and bottleneck stages. It never
// schedules anything.
package chain

import (
	"fmt"
	"sort"

	"pressline/internal/domain"
)

// bottleneckFactor marks stages whose day-equivalent duration exceeds this
// multiple of the chain average.
const bottleneckFactor = 1.5

type Chain struct {
	JobID            string                 `json:"job_id"`
	Stages           []domain.WorkflowStage `json:"stages"`
	CompletedCount   int                    `json:"completed_count"`
	CurrentIndex     int                    `json:"current_index"`
	RemainingMinutes int                    `json:"remaining_minutes"`
	RemainingDays    float64                `json:"remaining_days"`
	Bottlenecks      []string               `json:"bottlenecks,omitempty"`
}

// ValidateOrdering checks the chain invariant: contiguous stage_order from 1
// and at most one active stage. The planner uses this to reject malformed
// jobs without aborting a batch.
func ValidateOrdering(stages []domain.WorkflowStage) error {
	active := 0
	seen := make(map[int]bool, len(stages))
	for _, s := range stages {
		if seen[s.StageOrder] {
			return fmt.Errorf("duplicate stage_order %d", s.StageOrder)
		}
		seen[s.StageOrder] = true
		if s.Status == domain.StageActive {
			active++
		}
		if !domain.ValidStageStatus(s.Status) {
			return fmt.Errorf("stage %s has unknown status %q", s.ID, s.Status)
		}
	}
	for i := 1; i <= len(stages); i++ {
		if !seen[i] {
			return fmt.Errorf("stage_order not contiguous: missing %d", i)
		}
	}
	if active > 1 {
		return fmt.Errorf("%d stages active, at most one allowed", active)
	}
	return nil
}

// Sort orders stages by stage_order in place.
func Sort(stages []domain.WorkflowStage) {
	sort.Slice(stages, func(i, j int) bool { return stages[i].StageOrder < stages[j].StageOrder })
}

// Resolve computes the derived chain view. shiftMinutes converts remaining
// minutes into day-equivalents; zero disables the conversion.
func Resolve(jobID string, stages []domain.WorkflowStage, shiftMinutes int) (Chain, error) {
	if err := ValidateOrdering(stages); err != nil {
		return Chain{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	ordered := make([]domain.WorkflowStage, len(stages))
	copy(ordered, stages)
	Sort(ordered)

	c := Chain{JobID: jobID, Stages: ordered, CurrentIndex: -1}
	for i, s := range ordered {
		switch s.Status {
		case domain.StageCompleted:
			c.CompletedCount++
		case domain.StageActive:
			if c.CurrentIndex == -1 || ordered[c.CurrentIndex].Status != domain.StageActive {
				c.CurrentIndex = i
			}
		case domain.StagePending:
			if c.CurrentIndex == -1 {
				c.CurrentIndex = i
			}
		}
		if !domain.StageDone(s.Status) {
			c.RemainingMinutes += s.EstimatedMinutes
		}
	}
	if shiftMinutes > 0 {
		c.RemainingDays = float64(c.RemainingMinutes) / float64(shiftMinutes)
		c.Bottlenecks = bottlenecks(ordered, shiftMinutes)
	}
	return c, nil
}

// bottlenecks returns stage-instance IDs whose day-equivalent duration
// exceeds bottleneckFactor times the chain average.
func bottlenecks(stages []domain.WorkflowStage, shiftMinutes int) []string {
	if len(stages) == 0 {
		return nil
	}
	total := 0.0
	days := make([]float64, len(stages))
	for i, s := range stages {
		days[i] = float64(s.EstimatedMinutes) / float64(shiftMinutes)
		total += days[i]
	}
	avg := total / float64(len(stages))
	if avg == 0 {
		return nil
	}
	var out []string
	for i, s := range stages {
		if days[i] > bottleneckFactor*avg {
			out = append(out, s.ID)
		}
	}
	return out
}

// NextEligible returns the lowest-order stage that is pending or active and
// whose predecessor is completed or skipped. ok is false when the job has no
// eligible stage.
func NextEligible(stages []domain.WorkflowStage) (domain.WorkflowStage, bool) {
	ordered := make([]domain.WorkflowStage, len(stages))
	copy(ordered, stages)
	Sort(ordered)
	for i, s := range ordered {
		if s.Status != domain.StagePending && s.Status != domain.StageActive {
			continue
		}
		if i > 0 && !domain.StageDone(ordered[i-1].Status) {
			return domain.WorkflowStage{}, false
		}
		return s, true
	}
	return domain.WorkflowStage{}, false
}
