package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/orneryd/storefront/pkg/audit"
)

// AppendAudit implements audit.Store. Records already past ExpiresAt are
// dropped.
func (s *Store) AppendAudit(ctx context.Context, rec *audit.Record) error {
	if rec == nil {
		return errors.New("nil audit record")
	}
	now := s.now()
	if rec.ID == "" {
		rec.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now.UTC()
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.Timestamp.Add(audit.RetentionPeriod)
	}
	if !rec.ExpiresAt.After(now) {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (id, action, email, ip_address, user_agent, status, reason, timestamp, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, string(rec.Action), strings.ToLower(rec.Email), rec.IPAddress, rec.UserAgent,
		string(rec.Status), rec.Reason, rec.Timestamp, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// buildAuditQuery renders q as a SELECT over live records, newest first.
func buildAuditQuery(q audit.Query, now time.Time) (string, []any) {
	var (
		where = []string{"expires_at > $1"}
		args  = []any{now}
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.Email != "" {
		add("email = $%d", q.Email)
	}
	if q.IPAddress != "" {
		add("ip_address = $%d", q.IPAddress)
	}
	if q.Action != "" {
		add("action = $%d", string(q.Action))
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if !q.Since.IsZero() {
		add("timestamp >= $%d", q.Since)
	}
	if !q.Until.IsZero() {
		add("timestamp <= $%d", q.Until)
	}
	args = append(args, q.Limit)

	query := `select id, action, email, ip_address, user_agent, status, reason, timestamp, expires_at
		from audit_logs where ` + strings.Join(where, " and ") +
		fmt.Sprintf(" order by timestamp desc, id desc limit $%d", len(args))
	return query, args
}

// QueryAudit implements audit.Store.
func (s *Store) QueryAudit(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	query, args := buildAuditQuery(q.Normalize(), s.now())
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	out := []audit.Record{}
	for rows.Next() {
		var (
			rec    audit.Record
			action string
			status string
		)
		if err := rows.Scan(&rec.ID, &action, &rec.Email, &rec.IPAddress, &rec.UserAgent,
			&status, &rec.Reason, &rec.Timestamp, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		rec.Action = audit.Action(action)
		rec.Status = audit.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeExpiredAudit deletes records whose retention ended at or before now
// and returns how many were removed.
func (s *Store) PurgeExpiredAudit(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_logs where expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purging audit records: %w", err)
	}
	return res.RowsAffected()
}

var _ audit.Store = (*Store)(nil)
