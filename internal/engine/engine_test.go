package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/migrate"
	"pressline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// 2026-01-05 09:00 UTC is a Monday, mid-shift on the default calendar.
var fixedNow = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn, config.Default("plant-1"), nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.Now = func() time.Time { return fixedNow }
	ctx := context.Background()
	if err := eng.SeedFromConfig(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mustCreateJob(t *testing.T, env testEnv, workOrder, category string) domain.Job {
	t.Helper()
	j, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		WorkOrder: workOrder,
		Customer:  "Acme Printing",
		Category:  category,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create job %s: %v", workOrder, err)
	}
	return j
}

func TestCreateJobInstantiatesWorkflow(t *testing.T) {
	env := newTestEnv(t)
	j := mustCreateJob(t, env, "1001", "offset-standard")
	if j.Category == nil || *j.Category != "offset-standard" {
		t.Fatalf("category not recorded: %+v", j)
	}
	stages, err := env.Engine.Repo.ListJobStages(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 5 {
		t.Fatalf("expected 5 stages, got %d", len(stages))
	}
	for i, s := range stages {
		if s.StageOrder != i+1 {
			t.Fatalf("stage order not contiguous: %+v", stages)
		}
		if s.Status != domain.StagePending {
			t.Fatalf("new stage should be pending, got %s", s.Status)
		}
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "job.created", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one job.created event, got %d", len(evts))
	}
}

func TestCreateJobRejectsUnknownCategory(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{WorkOrder: "1", Category: "no-such"})
	if err == nil {
		t.Fatal("unknown category should be rejected")
	}
}

func TestAssignCategoryOnceOnly(t *testing.T) {
	env := newTestEnv(t)
	j := mustCreateJob(t, env, "1002", "")
	if _, err := env.Engine.AssignCategory(env.Ctx, j.ID, "digital-quick", "tester"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.AssignCategory(env.Ctx, j.ID, "offset-standard", "tester"); err == nil {
		t.Fatal("reassigning a category over an existing workflow must fail")
	}
}

func TestStageTransitionsAndAutoComplete(t *testing.T) {
	env := newTestEnv(t)
	j := mustCreateJob(t, env, "1003", "digital-quick")
	stages, err := env.Engine.Repo.ListJobStages(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Starting stage 2 while stage 1 is pending violates precedence.
	if _, err := env.Engine.StartStage(env.Ctx, stages[1].ID, "tester"); err == nil {
		t.Fatal("starting out of order should fail")
	}

	if _, err := env.Engine.StartStage(env.Ctx, stages[0].ID, "tester"); err != nil {
		t.Fatalf("start stage 1: %v", err)
	}
	// A second active stage is not allowed even in order.
	if _, err := env.Engine.StartStage(env.Ctx, stages[1].ID, "tester"); err == nil {
		t.Fatal("two active stages should be rejected")
	}
	if _, err := env.Engine.CompleteStage(env.Ctx, stages[0].ID, "tester"); err != nil {
		t.Fatalf("complete stage 1: %v", err)
	}
	if _, err := env.Engine.SkipStage(env.Ctx, stages[1].ID, "tester"); err != nil {
		t.Fatalf("skip stage 2: %v", err)
	}
	if _, err := env.Engine.StartStage(env.Ctx, stages[2].ID, "tester"); err != nil {
		t.Fatalf("start stage 3: %v", err)
	}
	if _, err := env.Engine.CompleteStage(env.Ctx, stages[2].ID, "tester"); err != nil {
		t.Fatalf("complete stage 3: %v", err)
	}

	j, err = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != domain.JobCompleted {
		t.Fatalf("finishing the chain should complete the job, got %s", j.Status)
	}
}

func TestExpediteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	j := mustCreateJob(t, env, "1004", "")
	j, err := env.Engine.ExpediteJob(env.Ctx, j.ID, "tester")
	if err != nil || !j.Expedited || j.ExpeditedAt == nil {
		t.Fatalf("expedite: %v %+v", err, j)
	}
	first := *j.ExpeditedAt
	j, err = env.Engine.ExpediteJob(env.Ctx, j.ID, "tester")
	if err != nil || *j.ExpeditedAt != first {
		t.Fatalf("second expedite must be a no-op: %v %+v", err, j)
	}
}

func TestScheduleRunCommitsAndRespectsOnlyIfUnset(t *testing.T) {
	env := newTestEnv(t)
	mustCreateJob(t, env, "2001", "digital-quick")
	mustCreateJob(t, env, "2002", "digital-quick")

	opts := engine.ApplyOptions{Commit: true, OnlyIfUnset: true, ActorID: "tester"}
	res, err := env.Engine.RescheduleAll(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Apply.Updated != 2 {
		t.Fatalf("expected 2 stages scheduled, got %+v", res.Apply)
	}
	slots, err := env.Engine.Repo.ListSlots(env.Ctx, repo.SlotFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) == 0 {
		t.Fatal("committed run must materialize time slots")
	}
	if len(res.Apply.Violations) != 0 {
		t.Fatalf("unexpected precedence violations: %+v", res.Apply.Violations)
	}

	// Re-running with onlyIfUnset leaves already-scheduled stages alone.
	again, err := env.Engine.RescheduleAll(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if again.Apply.Updated != 0 || again.Apply.SkippedSet != 2 {
		t.Fatalf("onlyIfUnset rerun should change nothing, got %+v", again.Apply)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	j := mustCreateJob(t, env, "2003", "digital-quick")
	res, err := env.Engine.RescheduleAll(env.Ctx, engine.ApplyOptions{Commit: false, OnlyIfUnset: true, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Apply.Updated != 1 {
		t.Fatalf("dry run should report the would-be update, got %+v", res.Apply)
	}
	stages, err := env.Engine.Repo.ListJobStages(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stages[0].ScheduledStart != nil || stages[0].ProposedStart != nil {
		t.Fatalf("dry run must not persist schedules: %+v", stages[0])
	}
	slots, err := env.Engine.Repo.ListSlots(env.Ctx, repo.SlotFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 0 {
		t.Fatalf("dry run must not persist slots, got %d", len(slots))
	}
}

func TestProposedModeLeavesCommittedFieldsAlone(t *testing.T) {
	env := newTestEnv(t)
	j := mustCreateJob(t, env, "2004", "digital-quick")
	_, err := env.Engine.RescheduleAll(env.Ctx, engine.ApplyOptions{Commit: true, OnlyIfUnset: true, AsProposed: true, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	stages, err := env.Engine.Repo.ListJobStages(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stages[0].ProposedStart == nil {
		t.Fatal("proposed fields should be written")
	}
	if stages[0].ScheduledStart != nil {
		t.Fatal("committed fields must stay null in proposed mode")
	}
	slots, err := env.Engine.Repo.ListSlots(env.Ctx, repo.SlotFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 0 {
		t.Fatalf("proposed mode must not materialize slots, got %d", len(slots))
	}
}

func TestSchedulerLeaseBlocksConcurrentCommit(t *testing.T) {
	env := newTestEnv(t)
	mustCreateJob(t, env, "2005", "digital-quick")

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	lease := domain.SchedulerLease{
		Name:       "scheduler",
		OwnerID:    "someone-else",
		AcquiredAt: fixedNow.Format(time.RFC3339),
		ExpiresAt:  fixedNow.Add(time.Hour).Format(time.RFC3339),
	}
	if err := env.Engine.Repo.UpsertLeaseTx(env.Ctx, tx, lease); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.RescheduleAll(env.Ctx, engine.ApplyOptions{Commit: true, ActorID: "tester"})
	if !errors.Is(err, engine.ErrSchedulerBusy) {
		t.Fatalf("expected ErrSchedulerBusy, got %v", err)
	}

	// Dry runs do not need the lease.
	if _, err := env.Engine.RescheduleAll(env.Ctx, engine.ApplyOptions{Commit: false, ActorID: "tester"}); err != nil {
		t.Fatalf("dry run should not contend for the lease: %v", err)
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	env := newTestEnv(t)
	mustCreateJob(t, env, "2006", "digital-quick")

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	lease := domain.SchedulerLease{
		Name:       "scheduler",
		OwnerID:    "someone-else",
		AcquiredAt: fixedNow.Add(-2 * time.Hour).Format(time.RFC3339),
		ExpiresAt:  fixedNow.Add(-time.Hour).Format(time.RFC3339),
	}
	if err := env.Engine.Repo.UpsertLeaseTx(env.Ctx, tx, lease); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.RescheduleAll(env.Ctx, engine.ApplyOptions{Commit: true, ActorID: "tester"}); err != nil {
		t.Fatalf("expired lease should be reclaimed: %v", err)
	}
}

func TestNightlyReconciliation(t *testing.T) {
	env := newTestEnv(t)
	j1 := mustCreateJob(t, env, "3001", "digital-quick")
	j2 := mustCreateJob(t, env, "3002", "digital-quick")
	s1, err := env.Engine.Repo.ListJobStages(env.Ctx, j1.ID)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := env.Engine.Repo.ListJobStages(env.Ctx, j2.ID)
	if err != nil {
		t.Fatal(err)
	}

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	// An incomplete slot from Monday afternoon.
	spilled := domain.TimeSlot{
		ID: "slot-spilled", StageID: "prepress", JobID: j1.ID, WSID: s1[0].ID,
		Date:    "2026-01-05",
		Start:   time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC).Format(time.RFC3339),
		End:     time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC).Format(time.RFC3339),
		Minutes: 120,
	}
	// Queued work on the same stage two days out.
	queued := domain.TimeSlot{
		ID: "slot-queued", StageID: "prepress", JobID: j2.ID, WSID: s2[0].ID,
		Date:    "2026-01-07",
		Start:   time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC).Format(time.RFC3339),
		End:     time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC).Format(time.RFC3339),
		Minutes: 60,
	}
	for _, s := range []domain.TimeSlot{spilled, queued} {
		if err := env.Engine.Repo.InsertSlotTx(env.Ctx, tx, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	// Nightly pass shortly after Tuesday midnight.
	env.Engine.Now = func() time.Time { return time.Date(2026, 1, 6, 0, 30, 0, 0, time.UTC) }
	sum, err := env.Engine.RunNightlyReconciliation(env.Ctx, "nightly")
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Success || sum.SpilloverJobsProcessed != 1 || sum.TotalStageReschedules != 2 {
		t.Fatalf("summary: %+v", sum)
	}

	slots, err := env.Engine.Repo.ListSlots(env.Ctx, repo.SlotFilters{})
	if err != nil {
		t.Fatal(err)
	}
	var relocated, moved *domain.TimeSlot
	for i := range slots {
		switch {
		case slots[i].WSID == s1[0].ID:
			relocated = &slots[i]
		case slots[i].ID == "slot-queued":
			moved = &slots[i]
		}
	}
	if relocated == nil || moved == nil {
		t.Fatalf("expected relocated and moved slots, got %+v", slots)
	}
	// The whole slot elapsed, so the remainder is the 30-minute floor,
	// relocated to Tuesday's shift start.
	if relocated.ID == "slot-spilled" {
		t.Fatal("spilled slot should have been replaced")
	}
	if relocated.Date != "2026-01-06" || relocated.Minutes != 30 {
		t.Fatalf("relocated slot: %+v", relocated)
	}
	if relocated.Start != "2026-01-06T08:00:00Z" {
		t.Fatalf("relocated start: %s", relocated.Start)
	}
	// Queued work pushed by the spilled slot's full 120 minutes.
	if moved.Start != "2026-01-07T10:00:00Z" || moved.End != "2026-01-07T11:00:00Z" {
		t.Fatalf("queued slot not cascaded: %+v", moved)
	}

	// The owning stage records were repointed at the new windows.
	s1, err = env.Engine.Repo.ListJobStages(env.Ctx, j1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s1[0].ScheduledStart == nil || *s1[0].ScheduledStart != "2026-01-06T08:00:00Z" {
		t.Fatalf("stage schedule not propagated: %+v", s1[0])
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "spillover.impact", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one spillover.impact event, got %d", len(evts))
	}
}

func TestReconciliationNoopWhenNothingSpilled(t *testing.T) {
	env := newTestEnv(t)
	sum, err := env.Engine.RunNightlyReconciliation(env.Ctx, "nightly")
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Success || sum.TotalStageReschedules != 0 {
		t.Fatalf("empty pass summary: %+v", sum)
	}
}

func TestChainForDerivesProgress(t *testing.T) {
	env := newTestEnv(t)
	j := mustCreateJob(t, env, "4001", "digital-quick")
	c, err := env.Engine.ChainFor(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Stages) != 3 || c.RemainingMinutes != 150 {
		t.Fatalf("chain: %+v", c)
	}
	if c.CurrentIndex != 0 {
		t.Fatalf("current index: got %d, want 0", c.CurrentIndex)
	}
}

func TestSetQueuePosition(t *testing.T) {
	env := newTestEnv(t)
	j := mustCreateJob(t, env, "4002", "digital-quick")
	stages, err := env.Engine.Repo.ListJobStages(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	pos := 2
	if err := env.Engine.SetQueuePosition(env.Ctx, stages[0].ID, &pos, "tester"); err != nil {
		t.Fatal(err)
	}
	ws, err := env.Engine.Repo.GetWorkflowStage(env.Ctx, stages[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if ws.QueuePos == nil || *ws.QueuePos != 2 {
		t.Fatalf("queue pos not set: %+v", ws)
	}
	if err := env.Engine.SetQueuePosition(env.Ctx, stages[0].ID, nil, "tester"); err != nil {
		t.Fatal(err)
	}
	ws, err = env.Engine.Repo.GetWorkflowStage(env.Ctx, stages[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if ws.QueuePos != nil {
		t.Fatalf("queue pos not cleared: %+v", ws)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := engine.New(nil, nil, nil); err == nil {
		t.Fatal("expected an error for a nil config")
	}
}
