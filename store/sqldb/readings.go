package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fuelstock/calibration"
	"github.com/warp/fuelstock/fuel"
)

// =============================================================================
// CALIBRATION STORE
// =============================================================================

// CalibrationPoints returns the chart in stored (ascending dip) order.
func (r *repo) CalibrationPoints(ctx context.Context, tankID string) (calibration.Table, error) {
	rows, err := r.query(ctx, `
		SELECT dip_mm, volume FROM calibration_points
		WHERE tank_id = ?
		ORDER BY position ASC
	`, tankID)
	if err != nil {
		return nil, wrap("load calibration", err)
	}
	defer rows.Close()

	var table calibration.Table
	for rows.Next() {
		var p calibration.Point
		if err := rows.Scan(&p.DipMM, &p.Volume); err != nil {
			return nil, wrap("scan calibration point", err)
		}
		table = append(table, p)
	}
	return table, wrap("load calibration", rows.Err())
}

// ReplaceCalibration swaps the whole chart atomically.
func (r *repo) ReplaceCalibration(ctx context.Context, tankID string, table calibration.Table) error {
	return r.atomic(ctx, func(tx *repo) error {
		if _, err := tx.exec(ctx, `DELETE FROM calibration_points WHERE tank_id = ?`, tankID); err != nil {
			return wrap("clear calibration", err)
		}
		for i, p := range table {
			_, err := tx.exec(ctx, `
				INSERT INTO calibration_points (tank_id, position, dip_mm, volume)
				VALUES (?, ?, ?, ?)
			`, tankID, i, p.DipMM, p.Volume)
			if isForeignKeyViolation(err) {
				return &fuel.TankNotFoundError{TankID: tankID}
			}
			if err != nil {
				return wrap("insert calibration point", err)
			}
		}
		return nil
	})
}

// =============================================================================
// READING STORE
// =============================================================================

const readingColumns = `id, tank_id, volume, dip_mm, recorded_by, recorded_at, notes`

func (r *repo) InsertReading(ctx context.Context, rd fuel.Reading) error {
	_, err := r.exec(ctx, `
		INSERT INTO readings (`+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rd.ID, rd.TankID, rd.Volume, nullDecimal(rd.DipMM), nullString(rd.RecordedBy),
		formatTime(rd.RecordedAt), nullString(rd.Notes),
	)
	if isForeignKeyViolation(err) {
		return &fuel.TankNotFoundError{TankID: rd.TankID}
	}
	return wrap("insert reading", err)
}

// LatestReading returns the newest reading in [from, asOf], or nil.
func (r *repo) LatestReading(ctx context.Context, tankID string, from, asOf time.Time) (*fuel.Reading, error) {
	var (
		rd                fuel.Reading
		dip               decimal.NullDecimal
		recordedBy, notes sql.NullString
		recordedAt        string
	)
	err := r.queryRow(ctx, `
		SELECT `+readingColumns+` FROM readings
		WHERE tank_id = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, tankID, formatTime(from), formatTime(asOf)).Scan(
		&rd.ID, &rd.TankID, &rd.Volume, &dip, &recordedBy, &recordedAt, &notes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("latest reading", err)
	}
	if dip.Valid {
		v := dip.Decimal
		rd.DipMM = &v
	}
	rd.RecordedBy = recordedBy.String
	rd.Notes = notes.String
	if rd.RecordedAt, err = parseTime(recordedAt); err != nil {
		return nil, wrap("latest reading", err)
	}
	return &rd, nil
}
