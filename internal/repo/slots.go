package repo

import (
	"context"
	"database/sql"
	"strings"

	"pressline/internal/domain"
)

const slotCols = `id,stage_id,job_id,workflow_stage_id,slot_date,slot_start,slot_end,duration_minutes,is_completed`

func scanSlot(scan func(dest ...any) error) (domain.TimeSlot, error) {
	var s domain.TimeSlot
	var completed int
	err := scan(&s.ID, &s.StageID, &s.JobID, &s.WSID, &s.Date, &s.Start, &s.End, &s.Minutes, &completed)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Completed = completed != 0
	return s, nil
}

func (r Repo) InsertSlotTx(ctx context.Context, tx *sql.Tx, s domain.TimeSlot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO time_slots(`+slotCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.StageID, s.JobID, s.WSID, s.Date, s.Start, s.End, s.Minutes, boolInt(s.Completed))
	return err
}

func (r Repo) DeleteSlotTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM time_slots WHERE id=?`, id)
	return err
}

// DeleteStageSlotsTx removes all slots for a stage instance, used when a
// reschedule replaces its placement.
func (r Repo) DeleteStageSlotsTx(ctx context.Context, tx *sql.Tx, wsID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM time_slots WHERE workflow_stage_id=?`, wsID)
	return err
}

func (r Repo) MoveSlotTx(ctx context.Context, tx *sql.Tx, id, date, start, end string) error {
	res, err := tx.ExecContext(ctx, `UPDATE time_slots SET slot_date=?, slot_start=?, slot_end=? WHERE id=?`, date, start, end, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkSlotCompleted(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE time_slots SET is_completed=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStageSlotsCompletedTx completes every slot of a stage instance.
func (r Repo) MarkStageSlotsCompletedTx(ctx context.Context, tx *sql.Tx, wsID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE time_slots SET is_completed=1 WHERE workflow_stage_id=?`, wsID)
	return err
}

type SlotFilters struct {
	StageID   string
	JobID     string
	WSID      string
	Completed *bool
	Limit     int
}

func (r Repo) ListSlots(ctx context.Context, f SlotFilters) ([]domain.TimeSlot, error) {
	var clauses []string
	var args []any
	if f.StageID != "" {
		clauses = append(clauses, "stage_id=?")
		args = append(args, f.StageID)
	}
	if f.JobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, f.JobID)
	}
	if f.WSID != "" {
		clauses = append(clauses, "workflow_stage_id=?")
		args = append(args, f.WSID)
	}
	if f.Completed != nil {
		clauses = append(clauses, "is_completed=?")
		args = append(args, boolInt(*f.Completed))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + slotCols + ` FROM time_slots ` + where + ` ORDER BY slot_start, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// StageWindowTx returns the min start and max end over a stage instance's
// slots; found is false when it has none.
func (r Repo) StageWindowTx(ctx context.Context, tx *sql.Tx, wsID string) (start, end string, found bool, err error) {
	var s, e sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT MIN(slot_start), MAX(slot_end) FROM time_slots WHERE workflow_stage_id=?`, wsID).Scan(&s, &e)
	if err != nil {
		return "", "", false, err
	}
	if !s.Valid || !e.Valid {
		return "", "", false, nil
	}
	return s.String, e.String, true, nil
}

// QueueTails returns, per stage, the latest slot_end among incomplete slots
// ending after the given instant: the tail of each stage's committed queue.
func (r Repo) QueueTails(ctx context.Context, after string) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage_id, MAX(slot_end) FROM time_slots WHERE is_completed=0 AND slot_end > ? GROUP BY stage_id`, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]string{}
	for rows.Next() {
		var stageID string
		var tail sql.NullString
		if err := rows.Scan(&stageID, &tail); err != nil {
			return nil, err
		}
		if tail.Valid {
			res[stageID] = tail.String
		}
	}
	return res, rows.Err()
}
