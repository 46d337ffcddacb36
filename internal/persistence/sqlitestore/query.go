package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/store"
)

var countedTables = []string{
	"accounts", "territories", "territory_members", "rewards", "objects",
	"container_items", "notifications", "exec_queue", "audits",
}

// Counts returns the row count of every table.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(countedTables))
	for _, t := range countedTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t).Scan(&n); err != nil {
			return nil, classify("count "+t, err)
		}
		out[t] = n
	}
	return out, nil
}

type AuditFilter struct {
	Actor string
	Kind  audit.Kind
	Limit int
}

// Audits returns the newest audit entries first.
func (s *Store) Audits(ctx context.Context, f AuditFilter) ([]audit.Entry, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q := `SELECT raw_json FROM audits WHERE 1=1`
	var args []any
	if f.Actor != "" {
		q += ` AND actor=?`
		args = append(args, f.Actor)
	}
	if f.Kind != "" {
		q += ` AND kind=?`
		args = append(args, string(f.Kind))
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("audits", err)
	}
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, classify("audits", err)
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("audits: decode: %w", err)
		}
		out = append(out, e)
	}
	return out, classify("audits", rows.Err())
}

func (s *Store) Items(ctx context.Context, netID string) ([]store.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT container_net_id,classname,quantity FROM container_items WHERE container_net_id=? ORDER BY id`, netID)
	if err != nil {
		return nil, classify("items", err)
	}
	defer rows.Close()
	var out []store.Item
	for rows.Next() {
		var it store.Item
		if err := rows.Scan(&it.ContainerNetID, &it.Classname, &it.Quantity); err != nil {
			return nil, classify("items", err)
		}
		out = append(out, it)
	}
	return out, classify("items", rows.Err())
}

func (s *Store) Notifications(ctx context.Context, uid string) ([]store.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid,kind,title,body,created_at FROM notifications WHERE uid=? ORDER BY id`, uid)
	if err != nil {
		return nil, classify("notifications", err)
	}
	defer rows.Close()
	var out []store.Notification
	for rows.Next() {
		var (
			n       store.Notification
			created string
		)
		if err := rows.Scan(&n.UID, &n.Kind, &n.Title, &n.Body, &created); err != nil {
			return nil, classify("notifications", err)
		}
		n.CreatedAt = parseTime(created)
		out = append(out, n)
	}
	return out, classify("notifications", rows.Err())
}

// TerritoriesOf returns every territory uid owns or belongs to, by id.
func (s *Store) TerritoriesOf(ctx context.Context, uid string) ([]store.Territory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM territories WHERE owner_uid=?
		 UNION SELECT territory_id FROM territory_members WHERE uid=?
		 ORDER BY 1`, uid, uid)
	if err != nil {
		return nil, classify("territories of "+uid, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, classify("territories of "+uid, err)
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, classify("territories of "+uid, err)
	}

	out := make([]store.Territory, 0, len(ids))
	for _, id := range ids {
		t, err := s.Territory(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

type QueuedExec struct {
	ID        int64
	Code      string
	ExecuteOn string
	QueuedAt  string
}

// PendingExecs lists queued exec calls oldest first.
func (s *Store) PendingExecs(ctx context.Context, limit int) ([]QueuedExec, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,code,execute_on,queued_at FROM exec_queue ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, classify("exec queue", err)
	}
	defer rows.Close()
	var out []QueuedExec
	for rows.Next() {
		var q QueuedExec
		if err := rows.Scan(&q.ID, &q.Code, &q.ExecuteOn, &q.QueuedAt); err != nil {
			return nil, classify("exec queue", err)
		}
		out = append(out, q)
	}
	return out, classify("exec queue", rows.Err())
}
