package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/fuelstock/fuel"
)

// =============================================================================
// NOTIFICATIONS (fuel.Notifier interface)
// =============================================================================

func (r *repo) Notify(ctx context.Context, n fuel.Notification) error {
	_, err := r.exec(ctx, `
		INSERT INTO notifications (id, type, product, tank_id, description, priority, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, string(n.Type), string(n.Product), nullString(n.TankID), n.Description,
		string(n.Priority), string(n.Status), formatTime(n.CreatedAt),
	)
	return wrap("insert notification", err)
}

func (r *repo) HasUnread(ctx context.Context, typ fuel.NotificationType, product fuel.FuelType) (bool, error) {
	var count int
	err := r.queryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE type = ? AND product = ? AND status = ?
	`, string(typ), string(product), string(fuel.NotificationUnread)).Scan(&count)
	if err != nil {
		return false, wrap("count notifications", err)
	}
	return count > 0, nil
}

func (r *repo) Resolve(ctx context.Context, typ fuel.NotificationType, product fuel.FuelType) (int, error) {
	res, err := r.exec(ctx, `
		UPDATE notifications SET status = ?
		WHERE type = ? AND product = ? AND status = ?
	`, string(fuel.NotificationResolved), string(typ), string(product), string(fuel.NotificationUnread))
	if err != nil {
		return 0, wrap("resolve notifications", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("resolve notifications", err)
	}
	return int(n), nil
}

// ListNotifications returns newest first.
func (r *repo) ListNotifications(ctx context.Context, f fuel.NotificationFilter) ([]fuel.Notification, error) {
	var w filter
	if f.Type != "" {
		w.add("type = ?", string(f.Type))
	}
	if f.Product != "" {
		w.add("product = ?", string(f.Product))
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	query := `SELECT id, type, product, tank_id, description, priority, status, created_at
		FROM notifications` + w.where() + ` ORDER BY created_at DESC, id DESC`
	args := w.args
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list notifications", err)
	}
	defer rows.Close()

	var out []fuel.Notification
	for rows.Next() {
		var (
			n                                  fuel.Notification
			typ, product, priority, status, at string
			tankID                             sql.NullString
		)
		if err := rows.Scan(&n.ID, &typ, &product, &tankID, &n.Description, &priority, &status, &at); err != nil {
			return nil, wrap("scan notification", err)
		}
		n.Type = fuel.NotificationType(typ)
		n.Product = fuel.FuelType(product)
		n.TankID = tankID.String
		n.Priority = fuel.Priority(priority)
		n.Status = fuel.NotificationStatus(status)
		if n.CreatedAt, err = parseTime(at); err != nil {
			return nil, wrap("scan notification", err)
		}
		out = append(out, n)
	}
	return out, wrap("list notifications", rows.Err())
}

// =============================================================================
// AUDIT LOG (fuel.AuditLog interface)
// =============================================================================

func (r *repo) Append(ctx context.Context, e fuel.AuditEntry) error {
	var details sql.NullString
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := r.exec(ctx, `
		INSERT INTO audit_log (id, action, entity_type, entity_id, actor, notes, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Action, e.EntityType, e.EntityID, nullString(e.Actor), nullString(e.Notes),
		details, formatTime(e.Timestamp),
	)
	return wrap("append audit", err)
}

// Query returns newest first.
func (r *repo) Query(ctx context.Context, f fuel.AuditFilter) ([]fuel.AuditEntry, error) {
	var w filter
	if f.EntityType != "" {
		w.add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		w.add("entity_id = ?", f.EntityID)
	}
	if f.Action != "" {
		w.add("action = ?", f.Action)
	}
	query := `SELECT id, action, entity_type, entity_id, actor, notes, details_json, created_at
		FROM audit_log` + w.where() + ` ORDER BY created_at DESC, id DESC`
	args := w.args
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, wrap("query audit", err)
	}
	defer rows.Close()

	var out []fuel.AuditEntry
	for rows.Next() {
		var (
			e                     fuel.AuditEntry
			actor, notes, details sql.NullString
			at                    string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &actor, &notes, &details, &at); err != nil {
			return nil, wrap("scan audit", err)
		}
		e.Actor = actor.String
		e.Notes = notes.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit %s details: %w", e.ID, err)
			}
		}
		if e.Timestamp, err = parseTime(at); err != nil {
			return nil, wrap("scan audit", err)
		}
		out = append(out, e)
	}
	return out, wrap("query audit", rows.Err())
}
