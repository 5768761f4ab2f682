package sqldb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/warp/fuelstock/fuel"
)

// =============================================================================
// ADJUSTMENT STORE
// =============================================================================

const adjustmentColumns = `id, tank_id, adjustment_type, quantity, reason, dip_reading, proposed_by,
	previous_stock, target_stock, status, decided_by, decision_notes, decided_at,
	materialized, ledger_entry_id, created_at, updated_at`

func (r *repo) CreateAdjustment(ctx context.Context, a fuel.Adjustment) error {
	_, err := r.exec(ctx, `
		INSERT INTO adjustments (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.TankID, string(a.Type), a.Quantity, a.Reason, nullDecimal(a.DipReading), nullString(a.ProposedBy),
		a.PreviousStock, a.TargetStock, string(a.Status), nullString(a.DecidedBy), nullString(a.DecisionNotes),
		nullTime(a.DecidedAt), boolInt(a.Materialized), nullString(a.LedgerEntryID),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if isForeignKeyViolation(err) {
		return &fuel.TankNotFoundError{TankID: a.TankID}
	}
	return wrap("create adjustment", err)
}

func (r *repo) GetAdjustment(ctx context.Context, id string) (fuel.Adjustment, error) {
	row := r.queryRow(ctx, `SELECT `+adjustmentColumns+` FROM adjustments WHERE id = ?`, id)
	a, err := scanAdjustment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fuel.Adjustment{}, fuel.ErrAdjustmentNotFound
	}
	if err != nil {
		return fuel.Adjustment{}, wrap("get adjustment", err)
	}
	return a, nil
}

// ListAdjustments returns oldest first.
func (r *repo) ListAdjustments(ctx context.Context, f fuel.AdjustmentFilter) ([]fuel.Adjustment, error) {
	var w filter
	if f.TankID != "" {
		w.add("tank_id = ?", f.TankID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	rows, err := r.query(ctx,
		`SELECT `+adjustmentColumns+` FROM adjustments`+w.where()+` ORDER BY created_at ASC, id ASC`, w.args...)
	if err != nil {
		return nil, wrap("list adjustments", err)
	}
	defer rows.Close()

	var out []fuel.Adjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, wrap("scan adjustment", err)
		}
		out = append(out, a)
	}
	return out, wrap("list adjustments", rows.Err())
}

// TransitionAdjustment is a compare-and-set on status.
func (r *repo) TransitionAdjustment(ctx context.Context, a fuel.Adjustment, from fuel.AdjustmentStatus) error {
	res, err := r.exec(ctx, `
		UPDATE adjustments
		SET status = ?, decided_by = ?, decision_notes = ?, decided_at = ?,
		    materialized = ?, ledger_entry_id = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(a.Status), nullString(a.DecidedBy), nullString(a.DecisionNotes), nullTime(a.DecidedAt),
		boolInt(a.Materialized), nullString(a.LedgerEntryID), formatTime(a.UpdatedAt),
		a.ID, string(from),
	)
	if err != nil {
		return wrap("transition adjustment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("transition adjustment", err)
	}
	if n == 1 {
		return nil
	}
	cur, err := r.GetAdjustment(ctx, a.ID)
	if err != nil {
		return err
	}
	return &fuel.AlreadyProcessedError{Kind: "adjustment", ID: a.ID, Status: string(cur.Status)}
}

func scanAdjustment(s scanner) (fuel.Adjustment, error) {
	var (
		a                                     fuel.Adjustment
		typ, status                           string
		dip                                   decimal.NullDecimal
		proposedBy, decidedBy, notes, entryID sql.NullString
		decidedAt                             sql.NullString
		materialized                          int
		createdAt, updatedAt                  string
	)
	err := s.Scan(
		&a.ID, &a.TankID, &typ, &a.Quantity, &a.Reason, &dip, &proposedBy,
		&a.PreviousStock, &a.TargetStock, &status, &decidedBy, &notes, &decidedAt,
		&materialized, &entryID, &createdAt, &updatedAt,
	)
	if err != nil {
		return a, err
	}
	a.Type = fuel.AdjustmentType(typ)
	a.Status = fuel.AdjustmentStatus(status)
	if dip.Valid {
		v := dip.Decimal
		a.DipReading = &v
	}
	a.ProposedBy = proposedBy.String
	a.DecidedBy = decidedBy.String
	a.DecisionNotes = notes.String
	a.Materialized = materialized == 1
	a.LedgerEntryID = entryID.String
	if a.DecidedAt, err = parseNullTime(decidedAt); err != nil {
		return a, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return a, err
	}
	return a, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// =============================================================================
// SALE STORE
// =============================================================================

const saleColumns = `id, fuel_type, liters, status, tank_deducted, tank_id, created_at`

// CreateSale registers a sale. A second registration of the same id is rejected.
func (r *repo) CreateSale(ctx context.Context, s fuel.Sale) error {
	_, err := r.exec(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, string(s.FuelType), s.Liters, string(s.Status), boolInt(s.TankDeducted),
		nullString(s.TankID), formatTime(s.CreatedAt),
	)
	if isUniqueViolation(err) {
		return &fuel.AlreadyProcessedError{Kind: "sale", ID: s.ID, Status: "registered"}
	}
	return wrap("create sale", err)
}

func (r *repo) GetSale(ctx context.Context, id string) (fuel.Sale, error) {
	var (
		s                fuel.Sale
		fuelType, status string
		deducted         int
		tankID           sql.NullString
		createdAt        string
	)
	err := r.queryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id).Scan(
		&s.ID, &fuelType, &s.Liters, &status, &deducted, &tankID, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fuel.Sale{}, fuel.ErrSaleNotFound
	}
	if err != nil {
		return fuel.Sale{}, wrap("get sale", err)
	}
	s.FuelType = fuel.FuelType(fuelType)
	s.Status = fuel.SaleStatus(status)
	s.TankDeducted = deducted == 1
	s.TankID = tankID.String
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return fuel.Sale{}, wrap("get sale", err)
	}
	return s, nil
}

func (r *repo) SetSaleStatus(ctx context.Context, id string, status fuel.SaleStatus) error {
	res, err := r.exec(ctx, `UPDATE sales SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return wrap("set sale status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fuel.ErrSaleNotFound
	}
	return nil
}

// MarkSaleDeducted flips tank_deducted from 0 to 1 exactly once.
func (r *repo) MarkSaleDeducted(ctx context.Context, id, tankID string) error {
	res, err := r.exec(ctx, `
		UPDATE sales SET tank_deducted = 1, tank_id = ?
		WHERE id = ? AND tank_deducted = 0
	`, tankID, id)
	if err != nil {
		return wrap("mark sale deducted", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("mark sale deducted", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetSale(ctx, id); err != nil {
		return err
	}
	return &fuel.AlreadyProcessedError{Kind: "sale", ID: id, Status: "deducted"}
}
