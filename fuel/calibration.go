package fuel

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fuelstock/calibration"
)

// =============================================================================
// CALIBRATION SERVICE - Per-tank charts on top of the pure interpolator
// =============================================================================

type CalibrationService struct {
	Store  TxStore
	Audit  auditor
	Logger *zap.Logger
}

// CalculateVolumeFromDip converts a dip reading on the tank to liters.
func (s *CalibrationService) CalculateVolumeFromDip(ctx context.Context, tankID string, dip decimal.Decimal) (calibration.Result, error) {
	tank, err := s.Store.GetTank(ctx, tankID)
	if err != nil {
		return calibration.Result{}, err
	}
	points, err := s.Store.CalibrationPoints(ctx, tankID)
	if err != nil {
		return calibration.Result{}, err
	}
	res, err := calibration.Calculate(points, tank.Capacity, dip)
	if err != nil {
		return calibration.Result{}, fmt.Errorf("tank %s: %w", tankID, err)
	}
	return res, nil
}

// UploadCalibrationTable replaces the tank's chart with the normalized rows.
func (s *CalibrationService) UploadCalibrationTable(ctx context.Context, tankID string, rows []calibration.Row, actor string) (calibration.Table, error) {
	table, err := calibration.Normalize(rows)
	if err != nil {
		return nil, err
	}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetTank(ctx, tankID); err != nil {
			return err
		}
		return tx.ReplaceCalibration(ctx, tankID, table)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("calibration table replaced",
		zap.String("tank_id", tankID),
		zap.Int("rows", len(rows)),
		zap.Int("points", len(table)))
	s.Audit.record(ctx, AuditEntry{
		Action:     AuditCalibrationUploaded,
		EntityType: "tank",
		EntityID:   tankID,
		Actor:      actor,
		Details:    map[string]any{"rows": len(rows), "points": len(table)},
	})
	return table, nil
}

// AddCalibrationPoint inserts or replaces one point of the tank's chart.
func (s *CalibrationService) AddCalibrationPoint(ctx context.Context, tankID string, p calibration.Point, actor string) (calibration.Table, error) {
	if !p.Valid() {
		return nil, &FieldError{Field: "point", Message: "dip and volume must be non-negative"}
	}

	// The whole chart is read and rewritten; both must sit in one transaction.
	var table calibration.Table
	err := s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetTank(ctx, tankID); err != nil {
			return err
		}
		current, err := tx.CalibrationPoints(ctx, tankID)
		if err != nil {
			return err
		}
		table = calibration.Upsert(current, p)
		return tx.ReplaceCalibration(ctx, tankID, table)
	})
	if err != nil {
		return nil, err
	}

	s.Audit.record(ctx, AuditEntry{
		Action:     AuditCalibrationPointSet,
		EntityType: "tank",
		EntityID:   tankID,
		Actor:      actor,
		Details: map[string]any{
			"dip_mm": p.DipMM.String(),
			"volume": p.Volume.String(),
			"points": len(table),
		},
	})
	return table, nil
}

// volumeAt converts a dip with the store the caller is already using.
func volumeAt(ctx context.Context, store Store, tankID string, dip decimal.Decimal) (decimal.Decimal, error) {
	points, err := store.CalibrationPoints(ctx, tankID)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := calibration.Interpolate(points, dip)
	if err != nil {
		return decimal.Zero, fmt.Errorf("tank %s: %w", tankID, err)
	}
	return v, nil
}
