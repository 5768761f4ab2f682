package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/fuelstock/fuel"
)

// =============================================================================
// TANK STORE
// =============================================================================

const tankColumns = `id, name, product, capacity, shape, active, current_stock,
	current_level, low_stock_alert, version, created_at, updated_at`

// CreateTank inserts a tank. Name and ID are unique.
func (r *repo) CreateTank(ctx context.Context, t fuel.Tank) error {
	_, err := r.exec(ctx, `
		INSERT INTO tanks (`+tankColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Name, string(t.Product), t.Capacity, string(t.Shape), boolInt(t.Active),
		t.CurrentStock, t.CurrentLevel, boolInt(t.LowStockAlert), t.Version,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fuel.ErrDuplicateTank
		}
		return wrap("create tank", err)
	}
	return nil
}

func (r *repo) GetTank(ctx context.Context, id string) (fuel.Tank, error) {
	row := r.queryRow(ctx, `SELECT `+tankColumns+` FROM tanks WHERE id = ?`, id)
	t, err := scanTank(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fuel.Tank{}, &fuel.TankNotFoundError{TankID: id}
	}
	if err != nil {
		return fuel.Tank{}, wrap("get tank", err)
	}
	return t, nil
}

func (r *repo) ListTanks(ctx context.Context, f fuel.TankFilter) ([]fuel.Tank, error) {
	var w filter
	if f.Product != "" {
		w.add("product = ?", string(f.Product))
	}
	if f.ActiveOnly {
		w.add("active = ?", 1)
	}
	rows, err := r.query(ctx, `SELECT `+tankColumns+` FROM tanks`+w.where()+` ORDER BY name`, w.args...)
	if err != nil {
		return nil, wrap("list tanks", err)
	}
	defer rows.Close()

	var tanks []fuel.Tank
	for rows.Next() {
		t, err := scanTank(rows)
		if err != nil {
			return nil, wrap("scan tank", err)
		}
		tanks = append(tanks, t)
	}
	return tanks, wrap("list tanks", rows.Err())
}

// SaveProjection is a compare-and-set on version.
func (r *repo) SaveProjection(ctx context.Context, t fuel.Tank, expectedVersion int64) error {
	res, err := r.exec(ctx, `
		UPDATE tanks
		SET current_stock = ?, current_level = ?, low_stock_alert = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		t.CurrentStock, t.CurrentLevel, boolInt(t.LowStockAlert), t.Version, formatTime(t.UpdatedAt),
		t.ID, expectedVersion,
	)
	if err != nil {
		return wrap("save projection", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("save projection", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetTank(ctx, t.ID); err != nil {
		return err
	}
	return fmt.Errorf("%w: tank %s moved past version %d", fuel.ErrConcurrentModification, t.ID, expectedVersion)
}

func (r *repo) SetTankActive(ctx context.Context, id string, active bool, at time.Time) error {
	res, err := r.exec(ctx, `UPDATE tanks SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), formatTime(at), id)
	if err != nil {
		return wrap("set tank active", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &fuel.TankNotFoundError{TankID: id}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTank(s scanner) (fuel.Tank, error) {
	var (
		t                   fuel.Tank
		product, shape      string
		active, lowStock    int
		createdAt, updateAt string
	)
	err := s.Scan(
		&t.ID, &t.Name, &product, &t.Capacity, &shape, &active, &t.CurrentStock,
		&t.CurrentLevel, &lowStock, &t.Version, &createdAt, &updateAt,
	)
	if err != nil {
		return t, err
	}
	t.Product = fuel.FuelType(product)
	t.Shape = fuel.TankShape(shape)
	t.Active = active == 1
	t.LowStockAlert = lowStock == 1
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updateAt); err != nil {
		return t, err
	}
	return t, nil
}

// =============================================================================
// LEDGER STORE (append-only)
// =============================================================================

const entryColumns = `id, tank_id, seq, tx_type, quantity, previous_stock, new_stock,
	actor, details_json, created_at`

// entryDetails is the JSON column holding the type-specific payload.
type entryDetails struct {
	Purchase   *fuel.PurchaseDetails   `json:"purchase,omitempty"`
	Adjustment *fuel.AdjustmentDetails `json:"adjustment,omitempty"`
	Sale       *fuel.SaleDetails       `json:"sale,omitempty"`
	Delivery   *fuel.DeliveryDetails   `json:"delivery,omitempty"`
}

// InsertEntry appends one entry. A (tank_id, seq) clash means another
// writer committed first.
func (r *repo) InsertEntry(ctx context.Context, e fuel.LedgerEntry) error {
	details, err := json.Marshal(entryDetails{
		Purchase:   e.Purchase,
		Adjustment: e.Adjustment,
		Sale:       e.Sale,
		Delivery:   e.Delivery,
	})
	if err != nil {
		return fmt.Errorf("encode entry details: %w", err)
	}

	_, err = r.exec(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.TankID, e.Seq, string(e.Type), e.Quantity, e.PreviousStock, e.NewStock,
		nullString(e.Actor), string(details), formatTime(e.CreatedAt),
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("%w: tank %s seq %d already written", fuel.ErrConcurrentModification, e.TankID, e.Seq)
	case isForeignKeyViolation(err):
		return &fuel.TankNotFoundError{TankID: e.TankID}
	}
	return wrap("insert ledger entry", err)
}

// Entries returns the tank's entries ordered by seq. Zero bounds are open.
func (r *repo) Entries(ctx context.Context, tankID string, from, to time.Time) ([]fuel.LedgerEntry, error) {
	var w filter
	w.add("tank_id = ?", tankID)
	if !from.IsZero() {
		w.add("created_at >= ?", formatTime(from))
	}
	if !to.IsZero() {
		w.add("created_at <= ?", formatTime(to))
	}
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries`+w.where()+` ORDER BY seq ASC`, w.args...)
}

func (r *repo) LastEntryBefore(ctx context.Context, tankID string, t time.Time) (*fuel.LedgerEntry, error) {
	var w filter
	w.add("tank_id = ?", tankID)
	if !t.IsZero() {
		w.add("created_at < ?", formatTime(t))
	}
	entries, err := r.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries`+w.where()+` ORDER BY seq DESC LIMIT 1`, w.args...)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (r *repo) queryEntries(ctx context.Context, query string, args ...any) ([]fuel.LedgerEntry, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, wrap("query ledger", err)
	}
	defer rows.Close()

	var entries []fuel.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrap("scan ledger entry", err)
		}
		entries = append(entries, e)
	}
	return entries, wrap("query ledger", rows.Err())
}

func scanEntry(s scanner) (fuel.LedgerEntry, error) {
	var (
		e         fuel.LedgerEntry
		txType    string
		actor     sql.NullString
		details   sql.NullString
		createdAt string
	)
	err := s.Scan(
		&e.ID, &e.TankID, &e.Seq, &txType, &e.Quantity, &e.PreviousStock, &e.NewStock,
		&actor, &details, &createdAt,
	)
	if err != nil {
		return e, err
	}
	e.Type = fuel.TxType(txType)
	e.Actor = actor.String
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	if details.Valid && details.String != "" {
		var d entryDetails
		if err := json.Unmarshal([]byte(details.String), &d); err != nil {
			return e, fmt.Errorf("decode entry %s details: %w", e.ID, err)
		}
		e.Purchase, e.Adjustment, e.Sale, e.Delivery = d.Purchase, d.Adjustment, d.Sale, d.Delivery
	}
	return e, nil
}
