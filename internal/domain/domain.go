package domain

type Job struct {
	ID          string  `json:"id"`
	WorkOrder   string  `json:"work_order"`
	Customer    string  `json:"customer,omitempty"`
	Category    *string `json:"category,omitempty"`
	Status      string  `json:"status" enum:"open,completed,cancelled"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
	Expedited   bool    `json:"expedited"`
	ExpeditedAt *string `json:"expedited_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type ProductionStage struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// WorkflowStage is one job's occurrence of a production stage. StageOrder is
// 1-based and contiguous within a job. QueuePos is nil when no explicit queue
// ordering was requested.
type WorkflowStage struct {
	ID               string  `json:"id"`
	JobID            string  `json:"job_id"`
	StageID          string  `json:"stage_id"`
	StageOrder       int     `json:"stage_order"`
	Status           string  `json:"status" enum:"pending,active,completed,skipped"`
	EstimatedMinutes int     `json:"estimated_minutes"`
	QueuePos         *int    `json:"queue_pos,omitempty"`
	ScheduledStart   *string `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd     *string `json:"scheduled_end,omitempty" format:"date-time"`
	ProposedStart    *string `json:"proposed_start,omitempty" format:"date-time"`
	ProposedEnd      *string `json:"proposed_end,omitempty" format:"date-time"`
}

type CapacityProfile struct {
	StageID         string `json:"stage_id"`
	DailyMinutes    int    `json:"daily_minutes"`
	StartHour       int    `json:"start_hour"`
	StartMinute     int    `json:"start_minute"`
	EndHour         int    `json:"end_hour"`
	EndMinute       int    `json:"end_minute"`
	MaxParallelJobs int    `json:"max_parallel_jobs"`
	SetupMinutes    int    `json:"setup_minutes"`
}

type TimeSlot struct {
	ID        string `json:"id"`
	StageID   string `json:"stage_id"`
	JobID     string `json:"job_id"`
	WSID      string `json:"workflow_stage_id"`
	Date      string `json:"date" format:"date"`
	Start     string `json:"start" format:"date-time"`
	End       string `json:"end" format:"date-time"`
	Minutes   int    `json:"minutes"`
	Completed bool   `json:"completed"`
}

// SpilloverImpact is the audit record produced when incomplete work is pushed
// forward; it is written to the event log, never mutated.
type SpilloverImpact struct {
	JobID          string `json:"job_id"`
	WSID           string `json:"workflow_stage_id"`
	StageID        string `json:"stage_id"`
	OriginalStart  string `json:"original_start" format:"date-time"`
	NewStart       string `json:"new_start" format:"date-time"`
	OriginalMins   int    `json:"original_minutes"`
	RemainingMins  int    `json:"remaining_minutes"`
	CascadeMinutes int    `json:"cascade_minutes"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type SchedulerLease struct {
	Name       string `json:"name"`
	OwnerID    string `json:"owner_id"`
	AcquiredAt string `json:"acquired_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}
