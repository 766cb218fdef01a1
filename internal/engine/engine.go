package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pressline/internal/calendar"
	"pressline/internal/capacity"
	"pressline/internal/config"
	"pressline/internal/domain"
	"pressline/internal/events"
	"pressline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Calendar *calendar.Calendar
	Capacity *capacity.Model
	Logger   *slog.Logger
	Now      func() time.Time

	// reconcileBusy is shared across copies so the nightly pass stays a
	// singleton even when Engine is passed by value.
	reconcileBusy *atomic.Bool
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("engine: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cal, err := calendar.New(cfg)
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:            db,
		Repo:          repo.Repo{DB: db},
		Events:        events.Writer{DB: db},
		Config:        cfg,
		Calendar:      cal,
		Capacity:      capacity.New(cfg, logger),
		Logger:        logger,
		Now:           time.Now,
		reconcileBusy: &atomic.Bool{},
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC() string {
	return e.now().UTC().Format(time.RFC3339)
}

// SeedFromConfig upserts config-declared production stages and capacity
// profiles into the database so planning and reporting share one source.
func (e Engine) SeedFromConfig(ctx context.Context) error {
	for id, def := range e.Config.Stages {
		name := def.Name
		if name == "" {
			name = id
		}
		if err := e.Repo.UpsertProductionStage(ctx, domain.ProductionStage{ID: id, Name: name, Color: def.Color}); err != nil {
			return fmt.Errorf("seed stage %s: %w", id, err)
		}
	}
	for id := range e.Config.Capacity.Profiles {
		p := e.Capacity.CapacityFor(id)
		if err := e.Repo.UpsertCapacityProfile(ctx, p); err != nil {
			return fmt.Errorf("seed capacity profile %s: %w", id, err)
		}
	}
	return nil
}

// JobCreateOptions are parameters for job intake.
type JobCreateOptions struct {
	ID        string
	WorkOrder string
	Customer  string
	DueDate   string
	Category  string
	Expedited bool
	ActorID   string
}

func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	if opts.WorkOrder == "" {
		return domain.Job{}, errors.New("work order is required")
	}
	if opts.Category != "" {
		if _, ok := e.Config.Categories[opts.Category]; !ok {
			return domain.Job{}, fmt.Errorf("category %s not defined", opts.Category)
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowRFC()
	j := domain.Job{
		ID:        id,
		WorkOrder: opts.WorkOrder,
		Customer:  opts.Customer,
		Status:    domain.JobOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.DueDate != "" {
		if _, err := time.Parse("2006-01-02", opts.DueDate); err != nil {
			return domain.Job{}, fmt.Errorf("due date: expected YYYY-MM-DD: %w", err)
		}
		j.DueDate = &opts.DueDate
	}
	if opts.Expedited {
		j.Expedited = true
		ts := now
		j.ExpeditedAt = &ts
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertJobTx(ctx, tx, j); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "job.created", "job", j.ID, opts.ActorID, events.EventPayload{"work_order": j.WorkOrder}); err != nil {
		return domain.Job{}, err
	}
	if opts.Category != "" {
		if err := e.instantiateWorkflowTx(ctx, tx, &j, opts.Category, opts.ActorID); err != nil {
			return domain.Job{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// AssignCategory sets a job's category and instantiates its workflow chain
// from the category template. A job with an existing chain is rejected.
func (e Engine) AssignCategory(ctx context.Context, jobID, category, actorID string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return j, err
	}
	stages, err := e.Repo.ListJobStages(ctx, jobID)
	if err != nil {
		return j, err
	}
	if len(stages) > 0 {
		return j, errors.New("job already has a workflow; category cannot be reassigned")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return j, err
	}
	defer tx.Rollback()
	if err := e.instantiateWorkflowTx(ctx, tx, &j, category, actorID); err != nil {
		return j, err
	}
	if err := tx.Commit(); err != nil {
		return j, err
	}
	return j, nil
}

func (e Engine) instantiateWorkflowTx(ctx context.Context, tx *sql.Tx, j *domain.Job, category, actorID string) error {
	cat, ok := e.Config.Categories[category]
	if !ok {
		return fmt.Errorf("category %s not defined", category)
	}
	for i, cs := range cat.Stages {
		ws := domain.WorkflowStage{
			ID:               uuid.New().String(),
			JobID:            j.ID,
			StageID:          cs.Stage,
			StageOrder:       i + 1,
			Status:           domain.StagePending,
			EstimatedMinutes: cs.Minutes,
		}
		if err := e.Repo.InsertWorkflowStageTx(ctx, tx, ws); err != nil {
			return fmt.Errorf("insert workflow stage %d: %w", i+1, err)
		}
	}
	j.Category = &category
	j.UpdatedAt = e.nowRFC()
	if err := e.Repo.UpdateJobTx(ctx, tx, *j); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "job.workflow.instantiated", "job", j.ID, actorID, events.EventPayload{
		"category": category,
		"stages":   len(cat.Stages),
	})
}

// ExpediteJob flags a job for priority scheduling. The flag takes effect on
// the next planning pass.
func (e Engine) ExpediteJob(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return j, err
	}
	if j.Status != domain.JobOpen {
		return j, fmt.Errorf("job %s is %s, only open jobs can be expedited", jobID, j.Status)
	}
	if j.Expedited {
		return j, nil
	}
	now := e.nowRFC()
	j.Expedited = true
	j.ExpeditedAt = &now
	j.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return j, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return j, err
	}
	if err := e.Events.Append(ctx, tx, "job.expedited", "job", j.ID, actorID, events.EventPayload{"expedited_at": now}); err != nil {
		return j, err
	}
	return j, tx.Commit()
}

// SetJobStatus terminates a job. Jobs are never deleted.
func (e Engine) SetJobStatus(ctx context.Context, jobID, status, actorID string) (domain.Job, error) {
	if !domain.ValidJobStatus(status) {
		return domain.Job{}, fmt.Errorf("unknown job status %q", status)
	}
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return j, err
	}
	if j.Status == status {
		return j, nil
	}
	if j.Status != domain.JobOpen {
		return j, fmt.Errorf("job %s is already %s", jobID, j.Status)
	}
	old := j.Status
	j.Status = status
	j.UpdatedAt = e.nowRFC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return j, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return j, err
	}
	if err := e.Events.Append(ctx, tx, "job.status", "job", j.ID, actorID, events.EventPayload{"from": old, "to": status}); err != nil {
		return j, err
	}
	return j, tx.Commit()
}

// StartStage activates a stage instance. Precedence is a hard constraint:
// every lower-order stage must be completed or skipped, and no sibling stage
// may already be active.
func (e Engine) StartStage(ctx context.Context, wsID, actorID string) (domain.WorkflowStage, error) {
	return e.transitionStage(ctx, wsID, domain.StageActive, actorID)
}

// CompleteStage completes an active stage and its slots. When the last stage
// of a job finishes, the job is status-terminated as completed.
func (e Engine) CompleteStage(ctx context.Context, wsID, actorID string) (domain.WorkflowStage, error) {
	return e.transitionStage(ctx, wsID, domain.StageCompleted, actorID)
}

// SkipStage marks a stage as not applicable for its job.
func (e Engine) SkipStage(ctx context.Context, wsID, actorID string) (domain.WorkflowStage, error) {
	return e.transitionStage(ctx, wsID, domain.StageSkipped, actorID)
}

func (e Engine) transitionStage(ctx context.Context, wsID, target, actorID string) (domain.WorkflowStage, error) {
	ws, err := e.Repo.GetWorkflowStage(ctx, wsID)
	if err != nil {
		return ws, err
	}
	if err := domain.EnsureStageTransition(ws.Status, target); err != nil {
		return ws, err
	}
	siblings, err := e.Repo.ListJobStages(ctx, ws.JobID)
	if err != nil {
		return ws, err
	}
	if target == domain.StageActive {
		for _, s := range siblings {
			if s.ID == ws.ID {
				continue
			}
			if s.Status == domain.StageActive {
				return ws, fmt.Errorf("stage %s is already active for this job", s.ID)
			}
			if s.StageOrder < ws.StageOrder && !domain.StageDone(s.Status) {
				return ws, fmt.Errorf("stage order %d is not complete", s.StageOrder)
			}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ws, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStageStatusTx(ctx, tx, ws.ID, target); err != nil {
		return ws, err
	}
	if target == domain.StageCompleted {
		if err := e.Repo.MarkStageSlotsCompletedTx(ctx, tx, ws.ID); err != nil {
			return ws, err
		}
	}
	old := ws.Status
	ws.Status = target
	if err := e.Events.Append(ctx, tx, "stage."+target, "workflow_stage", ws.ID, actorID, events.EventPayload{
		"job_id": ws.JobID, "stage_id": ws.StageID, "from": old,
	}); err != nil {
		return ws, err
	}
	if domain.StageDone(target) && chainFinished(siblings, ws) {
		j, err := e.Repo.GetJob(ctx, ws.JobID)
		if err != nil {
			return ws, err
		}
		j.Status = domain.JobCompleted
		j.UpdatedAt = e.nowRFC()
		if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
			return ws, err
		}
		if err := e.Events.Append(ctx, tx, "job.status", "job", j.ID, actorID, events.EventPayload{
			"from": domain.JobOpen, "to": domain.JobCompleted,
		}); err != nil {
			return ws, err
		}
	}
	return ws, tx.Commit()
}

// chainFinished reports whether every stage of the job is done once ws has
// taken its new status.
func chainFinished(siblings []domain.WorkflowStage, ws domain.WorkflowStage) bool {
	for _, s := range siblings {
		if s.ID == ws.ID {
			continue
		}
		if !domain.StageDone(s.Status) {
			return false
		}
	}
	return domain.StageDone(ws.Status)
}

// SetQueuePosition sets or clears a stage's explicit queue ordering. nil
// means "no explicit order".
func (e Engine) SetQueuePosition(ctx context.Context, wsID string, pos *int, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetQueuePosTx(ctx, tx, wsID, pos); err != nil {
		return err
	}
	payload := events.EventPayload{}
	if pos != nil {
		payload["queue_pos"] = *pos
	}
	if err := e.Events.Append(ctx, tx, "stage.queue_pos", "workflow_stage", wsID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
