package sqldb

import (
	"context"
	"fmt"
)

// schema is portable between SQLite and PostgreSQL. One statement per entry.
var schema = []string{
	// Tanks (config + projection)
	`CREATE TABLE IF NOT EXISTS tanks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		product TEXT NOT NULL,
		capacity TEXT NOT NULL,
		shape TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		current_stock TEXT NOT NULL,
		current_level INTEGER NOT NULL,
		low_stock_alert INTEGER NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tanks_product_active
		ON tanks(product, active)`,

	// Ledger (append-only)
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		tank_id TEXT NOT NULL REFERENCES tanks(id),
		seq BIGINT NOT NULL,
		tx_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		previous_stock TEXT NOT NULL,
		new_stock TEXT NOT NULL,
		actor TEXT,
		details_json TEXT,
		created_at TEXT NOT NULL
	)`,
	// CRITICAL: one entry per (tank, seq); a second writer for the same seq loses
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_tank_seq
		ON ledger_entries(tank_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_tank_created
		ON ledger_entries(tank_id, created_at)`,

	// Adjustments
	`CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		tank_id TEXT NOT NULL REFERENCES tanks(id),
		adjustment_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		reason TEXT NOT NULL,
		dip_reading TEXT,
		proposed_by TEXT,
		previous_stock TEXT NOT NULL,
		target_stock TEXT NOT NULL,
		status TEXT NOT NULL,
		decided_by TEXT,
		decision_notes TEXT,
		decided_at TEXT,
		materialized INTEGER NOT NULL DEFAULT 0,
		ledger_entry_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_adjustments_tank_status
		ON adjustments(tank_id, status)`,

	// Sales
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		fuel_type TEXT NOT NULL,
		liters TEXT NOT NULL,
		status TEXT NOT NULL,
		tank_deducted INTEGER NOT NULL DEFAULT 0,
		tank_id TEXT,
		created_at TEXT NOT NULL
	)`,

	// Calibration charts
	`CREATE TABLE IF NOT EXISTS calibration_points (
		tank_id TEXT NOT NULL REFERENCES tanks(id),
		position INTEGER NOT NULL,
		dip_mm TEXT NOT NULL,
		volume TEXT NOT NULL,
		PRIMARY KEY (tank_id, position)
	)`,

	// Closing readings
	`CREATE TABLE IF NOT EXISTS readings (
		id TEXT PRIMARY KEY,
		tank_id TEXT NOT NULL REFERENCES tanks(id),
		volume TEXT NOT NULL,
		dip_mm TEXT,
		recorded_by TEXT,
		recorded_at TEXT NOT NULL,
		notes TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_tank_recorded
		ON readings(tank_id, recorded_at)`,

	// Notifications
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		product TEXT NOT NULL,
		tank_id TEXT,
		description TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_type_product_status
		ON notifications(type, product, status)`,

	// Audit trail
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		actor TEXT,
		notes TEXT,
		details_json TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_log(entity_type, entity_id)`,
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Reset deletes all data. Intended for tests and demo resets.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"audit_log", "notifications", "readings", "calibration_points",
		"sales", "adjustments", "ledger_entries", "tanks",
	}
	return s.atomic(ctx, func(r *repo) error {
		for _, t := range tables {
			if _, err := r.exec(ctx, "DELETE FROM "+t); err != nil {
				return wrap("reset "+t, err)
			}
		}
		return nil
	})
}
