package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pressline/internal/domain"
	"pressline/internal/events"
	"pressline/internal/repo"
	"pressline/internal/spillover"
)

// ErrReconcileRunning signals that a reconciliation pass is already in
// flight; the trigger is skipped, never run in parallel with itself.
var ErrReconcileRunning = errors.New("reconciliation already running")

type ReconcileSummary struct {
	Success                bool     `json:"success"`
	SpilloverJobsProcessed int      `json:"spillover_jobs_processed"`
	TotalStageReschedules  int      `json:"total_stage_reschedules"`
	OperationsLog          []string `json:"operations_log,omitempty"`
}

// RunNightlyReconciliation runs the spillover engine end-to-end: detect
// incomplete past slots, relocate remainders, cascade delays through the
// affected stage queues, and commit the result under the scheduler lease.
func (e Engine) RunNightlyReconciliation(ctx context.Context, actorID string) (ReconcileSummary, error) {
	if !e.reconcileBusy.CompareAndSwap(false, true) {
		return ReconcileSummary{}, ErrReconcileRunning
	}
	defer e.reconcileBusy.Store(false)

	slots, err := e.Repo.ListSlots(ctx, repo.SlotFilters{})
	if err != nil {
		return ReconcileSummary{}, err
	}
	eng := spillover.New(e.Calendar, e.Logger)
	res, err := eng.Run(spillover.Input{Now: e.now().In(e.Calendar.Location()), Slots: slots})
	if err != nil {
		return ReconcileSummary{}, err
	}
	summary := ReconcileSummary{Success: true, OperationsLog: res.Log}
	if len(res.Deletes) == 0 && len(res.Moves) == 0 {
		return summary, nil
	}

	if err := e.acquireLease(ctx, actorID); err != nil {
		return ReconcileSummary{}, err
	}
	defer e.releaseLease(actorID)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReconcileSummary{}, err
	}
	defer tx.Rollback()

	affectedWS := map[string]bool{}
	jobsSeen := map[string]bool{}
	for _, id := range res.Deletes {
		if err := e.Repo.DeleteSlotTx(ctx, tx, id); err != nil {
			return ReconcileSummary{}, err
		}
	}
	for _, ins := range res.Inserts {
		slot := domain.TimeSlot{
			ID:      uuid.New().String(),
			StageID: ins.StageID,
			JobID:   ins.JobID,
			WSID:    ins.WSID,
			Date:    ins.Date,
			Start:   ins.Start.UTC().Format(time.RFC3339),
			End:     ins.End.UTC().Format(time.RFC3339),
			Minutes: ins.Minutes,
		}
		if err := e.Repo.InsertSlotTx(ctx, tx, slot); err != nil {
			return ReconcileSummary{}, err
		}
		affectedWS[ins.WSID] = true
		jobsSeen[ins.JobID] = true
	}
	moveWS := map[string]string{}
	for _, s := range slots {
		moveWS[s.ID] = s.WSID
	}
	for _, mv := range res.Moves {
		if err := e.Repo.MoveSlotTx(ctx, tx, mv.SlotID, mv.NewDate,
			mv.NewStart.UTC().Format(time.RFC3339), mv.NewEnd.UTC().Format(time.RFC3339)); err != nil {
			return ReconcileSummary{}, err
		}
		if ws := moveWS[mv.SlotID]; ws != "" {
			affectedWS[ws] = true
		}
	}

	// Propagate new slot windows back onto the owning stage instances so
	// downstream consumers see consistent state without re-querying slots.
	for wsID := range affectedWS {
		start, end, found, err := e.Repo.StageWindowTx(ctx, tx, wsID)
		if err != nil {
			return ReconcileSummary{}, err
		}
		if !found {
			continue
		}
		if err := e.Repo.SetStageScheduleTx(ctx, tx, wsID, &start, &end, false); err != nil {
			return ReconcileSummary{}, err
		}
	}

	for _, imp := range res.Impacts {
		if err := e.Events.Append(ctx, tx, "spillover.impact", "workflow_stage", imp.WSID, actorID, events.EventPayload{
			"job_id":           imp.JobID,
			"stage_id":         imp.StageID,
			"original_start":   imp.OriginalStart,
			"new_start":        imp.NewStart,
			"original_minutes": imp.OriginalMins,
			"remaining":        imp.RemainingMins,
			"cascade_minutes":  imp.CascadeMinutes,
		}); err != nil {
			return ReconcileSummary{}, err
		}
	}
	summary.SpilloverJobsProcessed = len(jobsSeen)
	summary.TotalStageReschedules = len(affectedWS)
	if err := e.Events.Append(ctx, tx, "reconciliation.completed", "schedule", "", actorID, events.EventPayload{
		"spillover_jobs": summary.SpilloverJobsProcessed,
		"reschedules":    summary.TotalStageReschedules,
	}); err != nil {
		return ReconcileSummary{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReconcileSummary{}, err
	}
	e.Logger.Info("reconciliation completed",
		"spillover_jobs", summary.SpilloverJobsProcessed,
		"stage_reschedules", summary.TotalStageReschedules)
	return summary, nil
}
