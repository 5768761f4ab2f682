/*
Package calibration converts dip readings into volumes.

PURPOSE:
  Every tank has a calibration chart: a set of (dip height in mm, volume in
  liters) control points measured when the tank was installed. A physical
  dip reading is converted to liters by linear interpolation between the two
  points that bracket it.

BOUNDARY POLICY:
  Readings below the first point or above the last point are CLAMPED to the
  nearest endpoint's volume. The chart is never extrapolated: a dip above the
  last control point reports the last calibrated volume.

TABLE INVARIANTS:
  - Points are unique by dip height
  - Points are sorted ascending by dip height
  - Dip and volume are finite and non-negative

This package is pure: no IO, no state beyond the table passed in.

SEE ALSO:
  - import.go: bulk upload normalization and CSV/XLSX row parsing
  - fuel/calibration.go: persistence and per-tank lookups
*/
package calibration

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoCalibrationData is returned when interpolating against an empty table.
	ErrNoCalibrationData = errors.New("no calibration data")

	// ErrEmptyCalibrationData is returned when a bulk import yields zero valid rows.
	ErrEmptyCalibrationData = errors.New("calibration import produced no valid rows")

	// ErrInvalidDip is returned for negative dip readings.
	ErrInvalidDip = errors.New("invalid dip reading")
)

var hundred = decimal.NewFromInt(100)

// Point is one control point of a calibration chart.
type Point struct {
	DipMM  decimal.Decimal `json:"dip_mm"`
	Volume decimal.Decimal `json:"volume"`
}

// Table is a calibration chart sorted ascending by dip.
type Table []Point

// Result is the outcome of a dip-to-volume conversion.
type Result struct {
	DipMM               decimal.Decimal `json:"dip_mm"`
	Volume              decimal.Decimal `json:"volume"`
	RemainingPercentage decimal.Decimal `json:"remaining_percentage"`
	PointsUsed          int             `json:"points_used"`
}

// Interpolate returns the volume for a dip reading.
func Interpolate(points Table, dip decimal.Decimal) (decimal.Decimal, error) {
	if len(points) == 0 {
		return decimal.Zero, ErrNoCalibrationData
	}
	if dip.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s mm", ErrInvalidDip, dip)
	}

	first, last := points[0], points[len(points)-1]
	if !dip.GreaterThan(first.DipMM) {
		return first.Volume, nil
	}
	if !dip.LessThan(last.DipMM) {
		return last.Volume, nil
	}

	// First point with DipMM >= dip; i >= 1 because dip > first.DipMM.
	i := sort.Search(len(points), func(i int) bool {
		return !points[i].DipMM.LessThan(dip)
	})
	hi := points[i]
	if hi.DipMM.Equal(dip) {
		return hi.Volume, nil
	}
	lo := points[i-1]

	span := hi.DipMM.Sub(lo.DipMM)
	volume := lo.Volume.Add(dip.Sub(lo.DipMM).Mul(hi.Volume.Sub(lo.Volume)).Div(span))
	return volume, nil
}

// Calculate converts a dip reading and reports the fill percentage against capacity.
func Calculate(points Table, capacity, dip decimal.Decimal) (Result, error) {
	volume, err := Interpolate(points, dip)
	if err != nil {
		return Result{}, err
	}

	pct := decimal.Zero
	if capacity.IsPositive() {
		pct = volume.Div(capacity).Mul(hundred).Round(2)
	}

	return Result{
		DipMM:               dip,
		Volume:              volume.Round(3),
		RemainingPercentage: pct,
		PointsUsed:          len(points),
	}, nil
}

// Upsert replaces the point at p.DipMM or inserts it, keeping the table sorted.
func Upsert(points Table, p Point) Table {
	out := make(Table, 0, len(points)+1)
	replaced := false
	for _, existing := range points {
		if existing.DipMM.Equal(p.DipMM) {
			out = append(out, p)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, p)
	}
	out.sort()
	return out
}

// Valid reports whether a point can be stored.
func (p Point) Valid() bool {
	return !p.DipMM.IsNegative() && !p.Volume.IsNegative()
}

func (t Table) sort() {
	sort.SliceStable(t, func(i, j int) bool {
		return t[i].DipMM.LessThan(t[j].DipMM)
	})
}
