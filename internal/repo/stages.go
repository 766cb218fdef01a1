package repo

import (
	"context"
	"database/sql"

	"pressline/internal/domain"
)

const wsCols = `id,job_id,stage_id,stage_order,status,estimated_minutes,queue_pos,scheduled_start,scheduled_end,proposed_start,proposed_end`

func scanWorkflowStage(scan func(dest ...any) error) (domain.WorkflowStage, error) {
	var ws domain.WorkflowStage
	var queuePos sql.NullInt64
	var schedStart, schedEnd, propStart, propEnd sql.NullString
	err := scan(&ws.ID, &ws.JobID, &ws.StageID, &ws.StageOrder, &ws.Status, &ws.EstimatedMinutes,
		&queuePos, &schedStart, &schedEnd, &propStart, &propEnd)
	if err == sql.ErrNoRows {
		return ws, ErrNotFound
	}
	if err != nil {
		return ws, err
	}
	if queuePos.Valid {
		p := int(queuePos.Int64)
		ws.QueuePos = &p
	}
	if schedStart.Valid {
		ws.ScheduledStart = &schedStart.String
	}
	if schedEnd.Valid {
		ws.ScheduledEnd = &schedEnd.String
	}
	if propStart.Valid {
		ws.ProposedStart = &propStart.String
	}
	if propEnd.Valid {
		ws.ProposedEnd = &propEnd.String
	}
	return ws, nil
}

func (r Repo) InsertWorkflowStageTx(ctx context.Context, tx *sql.Tx, ws domain.WorkflowStage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_stages(`+wsCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ws.ID, ws.JobID, ws.StageID, ws.StageOrder, ws.Status, ws.EstimatedMinutes,
		nullableIntPtr(ws.QueuePos), nullableStringPtr(ws.ScheduledStart), nullableStringPtr(ws.ScheduledEnd),
		nullableStringPtr(ws.ProposedStart), nullableStringPtr(ws.ProposedEnd))
	return err
}

func (r Repo) GetWorkflowStage(ctx context.Context, id string) (domain.WorkflowStage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+wsCols+` FROM workflow_stages WHERE id=?`, id)
	return scanWorkflowStage(row.Scan)
}

func (r Repo) GetWorkflowStageTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkflowStage, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+wsCols+` FROM workflow_stages WHERE id=?`, id)
	return scanWorkflowStage(row.Scan)
}

func (r Repo) ListJobStages(ctx context.Context, jobID string) ([]domain.WorkflowStage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+wsCols+` FROM workflow_stages WHERE job_id=? ORDER BY stage_order`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowStage
	for rows.Next() {
		ws, err := scanWorkflowStage(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ws)
	}
	return res, rows.Err()
}

func (r Repo) ListJobStagesTx(ctx context.Context, tx *sql.Tx, jobID string) ([]domain.WorkflowStage, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+wsCols+` FROM workflow_stages WHERE job_id=? ORDER BY stage_order`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowStage
	for rows.Next() {
		ws, err := scanWorkflowStage(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ws)
	}
	return res, rows.Err()
}

func (r Repo) UpdateStageStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE workflow_stages SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetQueuePosTx(ctx context.Context, tx *sql.Tx, id string, pos *int) error {
	res, err := tx.ExecContext(ctx, `UPDATE workflow_stages SET queue_pos=? WHERE id=?`, nullableIntPtr(pos), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStageScheduleTx writes committed or proposed schedule fields.
func (r Repo) SetStageScheduleTx(ctx context.Context, tx *sql.Tx, id string, start, end *string, proposed bool) error {
	query := `UPDATE workflow_stages SET scheduled_start=?, scheduled_end=? WHERE id=?`
	if proposed {
		query = `UPDATE workflow_stages SET proposed_start=?, proposed_end=? WHERE id=?`
	}
	res, err := tx.ExecContext(ctx, query, nullableStringPtr(start), nullableStringPtr(end), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertCapacityProfile(ctx context.Context, p domain.CapacityProfile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO capacity_profiles(stage_id,daily_minutes,start_hour,start_minute,end_hour,end_minute,max_parallel_jobs,setup_minutes)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(stage_id) DO UPDATE SET daily_minutes=excluded.daily_minutes, start_hour=excluded.start_hour,
start_minute=excluded.start_minute, end_hour=excluded.end_hour, end_minute=excluded.end_minute,
max_parallel_jobs=excluded.max_parallel_jobs, setup_minutes=excluded.setup_minutes`,
		p.StageID, p.DailyMinutes, p.StartHour, p.StartMinute, p.EndHour, p.EndMinute, p.MaxParallelJobs, p.SetupMinutes)
	return err
}

func (r Repo) ListCapacityProfiles(ctx context.Context) ([]domain.CapacityProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage_id,daily_minutes,start_hour,start_minute,end_hour,end_minute,max_parallel_jobs,setup_minutes FROM capacity_profiles ORDER BY stage_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CapacityProfile
	for rows.Next() {
		var p domain.CapacityProfile
		if err := rows.Scan(&p.StageID, &p.DailyMinutes, &p.StartHour, &p.StartMinute, &p.EndHour, &p.EndMinute, &p.MaxParallelJobs, &p.SetupMinutes); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
