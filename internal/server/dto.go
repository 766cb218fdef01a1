package server

import (
	"fmt"
	"time"

	"pressline/internal/domain"
	"pressline/internal/planner"
)

// Request payloads

type CreateJobRequest struct {
	ID        *string `json:"id,omitempty"`
	WorkOrder string  `json:"work_order"`
	Customer  *string `json:"customer,omitempty"`
	DueDate   *string `json:"due_date,omitempty" format:"date"`
	Category  *string `json:"category,omitempty"`
	Expedited bool    `json:"expedited,omitempty"`
}

type AssignCategoryRequest struct {
	Category string `json:"category"`
}

type SetJobStatusRequest struct {
	Status string `json:"status" enum:"open,completed,cancelled"`
}

type SetQueuePosRequest struct {
	QueuePos *int `json:"queue_pos"`
}

type ScheduleJobsRequest struct {
	JobIDs          []string `json:"job_ids"`
	ForceReschedule bool     `json:"force_reschedule,omitempty"`
}

type StageUpdateRequest struct {
	WSID    string            `json:"workflow_stage_id"`
	JobID   string            `json:"job_id"`
	StageID string            `json:"stage_id"`
	Start   string            `json:"start" format:"date-time"`
	End     string            `json:"end" format:"date-time"`
	Slots   []SlotPlanRequest `json:"slots,omitempty"`
}

type SlotPlanRequest struct {
	Date    string `json:"date" format:"date"`
	Start   string `json:"start" format:"date-time"`
	End     string `json:"end" format:"date-time"`
	Minutes int    `json:"minutes"`
}

type CapacityProfileRequest struct {
	DailyMinutes    int    `json:"daily_minutes"`
	Start           string `json:"start,omitempty"`
	End             string `json:"end,omitempty"`
	MaxParallelJobs int    `json:"max_parallel_jobs"`
	SetupMinutes    int    `json:"setup_minutes"`
}

// Response payloads

type SnapshotResponse struct {
	Now        string                            `json:"now" format:"date-time"`
	Jobs       []SnapshotJob                     `json:"jobs"`
	Profiles   map[string]domain.CapacityProfile `json:"profiles"`
	QueueTails map[string]string                 `json:"queue_tails,omitempty"`
}

type SnapshotJob struct {
	Job    domain.Job             `json:"job"`
	Stages []domain.WorkflowStage `json:"stages"`
}

type PlanResponse struct {
	Updates        []StageUpdateRequest `json:"updates"`
	JobsConsidered int                  `json:"jobs_considered"`
	ScheduledCount int                  `json:"scheduled_count"`
	SlotsPlanned   int                  `json:"slots_planned"`
	Skipped        []SkippedJobResponse `json:"skipped,omitempty"`
}

type SkippedJobResponse struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

func snapshotResponse(snap planner.Snapshot) SnapshotResponse {
	out := SnapshotResponse{
		Now:      snap.Now.UTC().Format(time.RFC3339),
		Profiles: snap.Profiles,
	}
	for _, js := range snap.Jobs {
		out.Jobs = append(out.Jobs, SnapshotJob{Job: js.Job, Stages: js.Stages})
	}
	if len(snap.QueueTails) > 0 {
		out.QueueTails = map[string]string{}
		for stageID, t := range snap.QueueTails {
			out.QueueTails[stageID] = t.UTC().Format(time.RFC3339)
		}
	}
	return out
}

func planResponse(res planner.Result) PlanResponse {
	out := PlanResponse{
		JobsConsidered: res.JobsConsidered,
		ScheduledCount: len(res.Updates),
		SlotsPlanned:   res.SlotsPlanned,
	}
	for _, u := range res.Updates {
		out.Updates = append(out.Updates, stageUpdateResponse(u))
	}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, SkippedJobResponse{JobID: s.JobID, Reason: s.Reason})
	}
	return out
}

func stageUpdateResponse(u planner.StageUpdate) StageUpdateRequest {
	out := StageUpdateRequest{
		WSID:    u.WSID,
		JobID:   u.JobID,
		StageID: u.StageID,
		Start:   u.Start.UTC().Format(time.RFC3339),
		End:     u.End.UTC().Format(time.RFC3339),
	}
	for _, s := range u.Slots {
		out.Slots = append(out.Slots, SlotPlanRequest{
			Date:    s.Date,
			Start:   s.Start.UTC().Format(time.RFC3339),
			End:     s.End.UTC().Format(time.RFC3339),
			Minutes: s.Minutes,
		})
	}
	return out
}

func parseStageUpdates(in []StageUpdateRequest) ([]planner.StageUpdate, error) {
	out := make([]planner.StageUpdate, 0, len(in))
	for i, r := range in {
		if r.WSID == "" {
			return nil, fmt.Errorf("update %d: workflow_stage_id is required", i)
		}
		start, err := time.Parse(time.RFC3339, r.Start)
		if err != nil {
			return nil, fmt.Errorf("update %d start: %w", i, err)
		}
		end, err := time.Parse(time.RFC3339, r.End)
		if err != nil {
			return nil, fmt.Errorf("update %d end: %w", i, err)
		}
		u := planner.StageUpdate{WSID: r.WSID, JobID: r.JobID, StageID: r.StageID, Start: start, End: end}
		for j, s := range r.Slots {
			ss, err := time.Parse(time.RFC3339, s.Start)
			if err != nil {
				return nil, fmt.Errorf("update %d slot %d start: %w", i, j, err)
			}
			se, err := time.Parse(time.RFC3339, s.End)
			if err != nil {
				return nil, fmt.Errorf("update %d slot %d end: %w", i, j, err)
			}
			u.Slots = append(u.Slots, planner.SlotPlan{Date: s.Date, Start: ss, End: se, Minutes: s.Minutes})
		}
		out = append(out, u)
	}
	return out, nil
}
