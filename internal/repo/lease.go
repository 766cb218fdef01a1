package repo

import (
	"context"
	"database/sql"
	"strings"

	"pressline/internal/domain"
)

func (r Repo) GetLeaseTx(ctx context.Context, tx *sql.Tx, name string) (domain.SchedulerLease, error) {
	var l domain.SchedulerLease
	err := tx.QueryRowContext(ctx, `SELECT name,owner_id,acquired_at,expires_at FROM scheduler_leases WHERE name=?`, name).
		Scan(&l.Name, &l.OwnerID, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) UpsertLeaseTx(ctx context.Context, tx *sql.Tx, l domain.SchedulerLease) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO scheduler_leases(name,owner_id,acquired_at,expires_at) VALUES (?,?,?,?)
ON CONFLICT(name) DO UPDATE SET owner_id=excluded.owner_id, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at`,
		l.Name, l.OwnerID, l.AcquiredAt, l.ExpiresAt)
	return err
}

func (r Repo) DeleteLease(ctx context.Context, name, ownerID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM scheduler_leases WHERE name=? AND owner_id=?`, name, ownerID)
	return err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
