package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pressline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const jobCols = `id,work_order,customer,category,status,due_date,expedited,expedited_at,created_at,updated_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var customer, category, dueDate, expeditedAt sql.NullString
	var expedited int
	err := scan(&j.ID, &j.WorkOrder, &customer, &category, &j.Status, &dueDate, &expedited, &expeditedAt, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if customer.Valid {
		j.Customer = customer.String
	}
	if category.Valid {
		j.Category = &category.String
	}
	if dueDate.Valid {
		j.DueDate = &dueDate.String
	}
	j.Expedited = expedited != 0
	if expeditedAt.Valid {
		j.ExpeditedAt = &expeditedAt.String
	}
	return j, nil
}

func (r Repo) InsertJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(`+jobCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.WorkOrder, nullable(j.Customer), nullableStringPtr(j.Category), j.Status,
		nullableStringPtr(j.DueDate), boolInt(j.Expedited), nullableStringPtr(j.ExpeditedAt), j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) UpdateJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `UPDATE jobs SET customer=?, category=?, status=?, due_date=?, expedited=?, expedited_at=?, updated_at=? WHERE id=?`,
		nullable(j.Customer), nullableStringPtr(j.Category), j.Status, nullableStringPtr(j.DueDate),
		boolInt(j.Expedited), nullableStringPtr(j.ExpeditedAt), j.UpdatedAt, j.ID)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

func (r Repo) GetJobByWorkOrder(ctx context.Context, wo string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE work_order=?`, wo)
	return scanJob(row.Scan)
}

type JobFilters struct {
	Status    string
	Expedited *bool
	Limit     int
}

func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Expedited != nil {
		clauses = append(clauses, "expedited=?")
		args = append(args, boolInt(*f.Expedited))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + jobCols + ` FROM jobs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) ListOpenJobs(ctx context.Context) ([]domain.Job, error) {
	return r.ListJobs(ctx, JobFilters{Status: domain.JobOpen})
}

func (r Repo) UpsertProductionStage(ctx context.Context, s domain.ProductionStage) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO production_stages(id,name,color) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, color=excluded.color`, s.ID, s.Name, nullable(s.Color))
	return err
}

func (r Repo) ListProductionStages(ctx context.Context) ([]domain.ProductionStage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(color,'') FROM production_stages ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProductionStage
	for rows.Next() {
		var s domain.ProductionStage
		if err := rows.Scan(&s.ID, &s.Name, &s.Color); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
