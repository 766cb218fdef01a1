package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pressline/internal/chain"
	"pressline/internal/domain"
	"pressline/internal/events"
	"pressline/internal/planner"
	"pressline/internal/repo"
)

// ErrSchedulerBusy signals that another commit holds the scheduler lease.
// Retryable: callers should back off and retry, not treat as permanent.
var ErrSchedulerBusy = errors.New("scheduler busy: another commit holds the lease")

const (
	schedulerLeaseName = "scheduler"
	schedulerLeaseTTL  = 2 * time.Minute
)

// ExportSchedulerInput builds the immutable snapshot a planning run consumes:
// every open job with its stage states, resolved capacity profiles and the
// tail of each stage's committed queue.
func (e Engine) ExportSchedulerInput(ctx context.Context) (planner.Snapshot, error) {
	now := e.now().In(e.Calendar.Location())
	snap := planner.Snapshot{Now: now, QueueTails: map[string]time.Time{}}

	// Stored profiles override config-declared ones.
	stored, err := e.Repo.ListCapacityProfiles(ctx)
	if err != nil {
		return snap, err
	}
	for _, p := range stored {
		e.Capacity.Put(p)
	}

	jobs, err := e.Repo.ListOpenJobs(ctx)
	if err != nil {
		return snap, err
	}
	stageIDs := map[string]bool{}
	for _, j := range jobs {
		stages, err := e.Repo.ListJobStages(ctx, j.ID)
		if err != nil {
			return snap, err
		}
		if len(stages) == 0 {
			continue
		}
		for _, s := range stages {
			stageIDs[s.StageID] = true
		}
		snap.Jobs = append(snap.Jobs, planner.JobState{Job: j, Stages: stages})
	}
	ids := make([]string, 0, len(stageIDs))
	for id := range stageIDs {
		ids = append(ids, id)
	}
	snap.Profiles = e.Capacity.CapacitiesFor(ids)

	tails, err := e.Repo.QueueTails(ctx, now.UTC().Format(time.RFC3339))
	if err != nil {
		return snap, err
	}
	for stageID, tail := range tails {
		t, err := time.Parse(time.RFC3339, tail)
		if err != nil {
			e.Logger.Warn("ignoring unparseable queue tail", "stage", stageID, "tail", tail)
			continue
		}
		snap.QueueTails[stageID] = t.In(e.Calendar.Location())
	}
	return snap, nil
}

// PlanSchedule is the sequential planner's public entry point: pure compute,
// no writes.
func (e Engine) PlanSchedule(snap planner.Snapshot) (planner.Result, error) {
	return planner.New(e.Calendar, e.Logger).Plan(snap)
}

// ApplyOptions mirror the commit boundary flags.
type ApplyOptions struct {
	Commit      bool
	OnlyIfUnset bool
	AsProposed  bool
	ActorID     string
}

type Violation struct {
	JobID      string `json:"job_id"`
	WSID       string `json:"workflow_stage_id"`
	StageOrder int    `json:"stage_order"`
	Message    string `json:"message"`
}

type ApplyResult struct {
	Updated    int         `json:"updated"`
	SkippedSet int         `json:"skipped_already_set"`
	Violations []Violation `json:"violations,omitempty"`
}

// ApplyStageUpdates atomically applies proposed assignments to stage and slot
// state. With Commit false the same shape is computed and rolled back. The
// post-write validation pass reports precedence violations without undoing
// the write; partial progress beats losing still-valid slots.
func (e Engine) ApplyStageUpdates(ctx context.Context, updates []planner.StageUpdate, opts ApplyOptions) (ApplyResult, error) {
	var res ApplyResult
	if opts.Commit {
		if err := e.acquireLease(ctx, opts.ActorID); err != nil {
			return res, err
		}
		defer e.releaseLease(opts.ActorID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	affectedJobs := map[string]bool{}
	for _, u := range updates {
		ws, err := e.Repo.GetWorkflowStageTx(ctx, tx, u.WSID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				e.Logger.Warn("stage update references unknown stage instance", "ws", u.WSID)
				continue
			}
			return res, err
		}
		if opts.OnlyIfUnset && ws.ScheduledStart != nil {
			res.SkippedSet++
			continue
		}
		start := u.Start.UTC().Format(time.RFC3339)
		end := u.End.UTC().Format(time.RFC3339)
		if err := e.Repo.SetStageScheduleTx(ctx, tx, u.WSID, &start, &end, opts.AsProposed); err != nil {
			return res, err
		}
		if !opts.AsProposed {
			if err := e.Repo.DeleteStageSlotsTx(ctx, tx, u.WSID); err != nil {
				return res, err
			}
			for _, sp := range u.Slots {
				slot := domain.TimeSlot{
					ID:      uuid.New().String(),
					StageID: u.StageID,
					JobID:   u.JobID,
					WSID:    u.WSID,
					Date:    sp.Date,
					Start:   sp.Start.UTC().Format(time.RFC3339),
					End:     sp.End.UTC().Format(time.RFC3339),
					Minutes: sp.Minutes,
				}
				if err := e.Repo.InsertSlotTx(ctx, tx, slot); err != nil {
					return res, err
				}
			}
		}
		affectedJobs[u.JobID] = true
		res.Updated++
	}

	for jobID := range affectedJobs {
		stages, err := e.Repo.ListJobStagesTx(ctx, tx, jobID)
		if err != nil {
			return res, err
		}
		res.Violations = append(res.Violations, validatePrecedence(jobID, stages, opts.AsProposed)...)
	}

	if !opts.Commit {
		return res, nil
	}
	if err := e.Events.Append(ctx, tx, "schedule.applied", "schedule", "", opts.ActorID, events.EventPayload{
		"updated":    res.Updated,
		"skipped":    res.SkippedSet,
		"violations": len(res.Violations),
		"proposed":   opts.AsProposed,
	}); err != nil {
		return res, err
	}
	return res, tx.Commit()
}

// validatePrecedence checks that no stage starts before its immediate
// predecessor ends, over whichever schedule fields were written.
func validatePrecedence(jobID string, stages []domain.WorkflowStage, proposed bool) []Violation {
	chain.Sort(stages)
	var out []Violation
	for i := 1; i < len(stages); i++ {
		prev, cur := stages[i-1], stages[i]
		prevEnd, curStart := prev.ScheduledEnd, cur.ScheduledStart
		if proposed {
			prevEnd, curStart = prev.ProposedEnd, cur.ProposedStart
		}
		if prevEnd == nil || curStart == nil {
			continue
		}
		if *curStart < *prevEnd {
			out = append(out, Violation{
				JobID:      jobID,
				WSID:       cur.ID,
				StageOrder: cur.StageOrder,
				Message:    fmt.Sprintf("stage %d starts %s before predecessor ends %s", cur.StageOrder, *curStart, *prevEnd),
			})
		}
	}
	return out
}

func (e Engine) acquireLease(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		ownerID = "scheduler"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC()
	existing, err := e.Repo.GetLeaseTx(ctx, tx, schedulerLeaseName)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err == nil && existing.OwnerID != ownerID {
		exp, perr := time.Parse(time.RFC3339, existing.ExpiresAt)
		if perr == nil && now.Before(exp) {
			return ErrSchedulerBusy
		}
	}
	lease := domain.SchedulerLease{
		Name:       schedulerLeaseName,
		OwnerID:    ownerID,
		AcquiredAt: now.Format(time.RFC3339),
		ExpiresAt:  now.Add(schedulerLeaseTTL).Format(time.RFC3339),
	}
	if err := e.Repo.UpsertLeaseTx(ctx, tx, lease); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) releaseLease(ownerID string) {
	if ownerID == "" {
		ownerID = "scheduler"
	}
	if err := e.Repo.DeleteLease(context.Background(), schedulerLeaseName, ownerID); err != nil {
		e.Logger.Warn("release scheduler lease", "error", err)
	}
}

// ScheduleRunResult combines one planning pass with its commit outcome.
type ScheduleRunResult struct {
	JobsConsidered int                  `json:"jobs_considered"`
	ScheduledCount int                  `json:"scheduled_count"`
	SlotsPlanned   int                  `json:"slots_planned"`
	Skipped        []planner.SkippedJob `json:"skipped,omitempty"`
	Apply          ApplyResult          `json:"apply"`
}

// RescheduleAll runs export -> plan -> apply over every open job.
func (e Engine) RescheduleAll(ctx context.Context, opts ApplyOptions) (ScheduleRunResult, error) {
	snap, err := e.ExportSchedulerInput(ctx)
	if err != nil {
		return ScheduleRunResult{}, err
	}
	return e.runPlan(ctx, snap, opts)
}

// ScheduleJobs plans and applies only the named jobs, appending behind each
// stage's existing committed queue. forceReschedule overrides onlyIfUnset.
func (e Engine) ScheduleJobs(ctx context.Context, jobIDs []string, forceReschedule bool, opts ApplyOptions) (ScheduleRunResult, error) {
	snap, err := e.ExportSchedulerInput(ctx)
	if err != nil {
		return ScheduleRunResult{}, err
	}
	want := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		want[id] = true
	}
	filtered := snap.Jobs[:0]
	for _, js := range snap.Jobs {
		if want[js.Job.ID] || want[js.Job.WorkOrder] {
			filtered = append(filtered, js)
		}
	}
	snap.Jobs = filtered
	if forceReschedule {
		opts.OnlyIfUnset = false
	}
	return e.runPlan(ctx, snap, opts)
}

func (e Engine) runPlan(ctx context.Context, snap planner.Snapshot, opts ApplyOptions) (ScheduleRunResult, error) {
	planRes, err := e.PlanSchedule(snap)
	if err != nil {
		return ScheduleRunResult{}, err
	}
	applyRes, err := e.ApplyStageUpdates(ctx, planRes.Updates, opts)
	if err != nil {
		return ScheduleRunResult{}, err
	}
	return ScheduleRunResult{
		JobsConsidered: planRes.JobsConsidered,
		ScheduledCount: len(planRes.Updates),
		SlotsPlanned:   planRes.SlotsPlanned,
		Skipped:        planRes.Skipped,
		Apply:          applyRes,
	}, nil
}

// ChainFor resolves a job's workflow chain with derived progress fields.
func (e Engine) ChainFor(ctx context.Context, jobID string) (chain.Chain, error) {
	if _, err := e.Repo.GetJob(ctx, jobID); err != nil {
		return chain.Chain{}, err
	}
	stages, err := e.Repo.ListJobStages(ctx, jobID)
	if err != nil {
		return chain.Chain{}, err
	}
	shift := e.Calendar.DefaultShiftMinutes(e.now())
	return chain.Resolve(jobID, stages, shift)
}
