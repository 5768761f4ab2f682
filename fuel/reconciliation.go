/*
reconciliation.go - Expected vs. reported closing stock

PURPOSE:
  Re-derives what each tank should hold from its ledger and compares it
  with the closing stock an operator reported. Findings are advisory: they
  never block a stock operation and are surfaced through notifications.

EXPECTED STOCK (per tank, for a window):
  opening     = previous stock of the first entry in the window
                (no entries: new stock of the last entry before the window)
  purchases   = Σ quantity of purchase and delivery entries
  consumption = Σ max(0, previous + purchases_of_entry - new) per entry
  expected    = opening + purchases - consumption

  Consumption is floored per entry, so an upward correction is not counted
  as negative sales.

DISCREPANCY:
  |actual - expected| >  Tolerance             -> flagged
  |actual - expected| >  HighSeverityThreshold -> High, else Medium

  Pending adjustments of the same tank are attached to each finding as
  candidate explanations. They are reported, never applied.

The math (ComputeExpected, Classify) is pure; the service does the IO.
*/
package fuel

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	DefaultTolerance             = decimal.NewFromInt(1)
	DefaultHighSeverityThreshold = decimal.NewFromInt(100)
)

type Severity string

const (
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// =============================================================================
// PURE MATH
// =============================================================================

// Expected is the breakdown of an expected-stock computation.
type Expected struct {
	Opening     decimal.Decimal `json:"opening"`
	Purchases   decimal.Decimal `json:"purchases"`
	Consumption decimal.Decimal `json:"consumption"`
	Closing     decimal.Decimal `json:"closing"`
	Entries     int             `json:"entries"`
}

func (e Expected) add(o Expected) Expected {
	return Expected{
		Opening:     e.Opening.Add(o.Opening),
		Purchases:   e.Purchases.Add(o.Purchases),
		Consumption: e.Consumption.Add(o.Consumption),
		Closing:     e.Closing.Add(o.Closing),
		Entries:     e.Entries + o.Entries,
	}
}

// ComputeExpected folds a tank's entries, ordered by Seq, from opening.
func ComputeExpected(opening decimal.Decimal, entries []LedgerEntry) Expected {
	exp := Expected{Opening: opening, Purchases: decimal.Zero, Consumption: decimal.Zero, Entries: len(entries)}
	for _, e := range entries {
		purchased := decimal.Zero
		if e.Type == TxPurchase || e.Type == TxDelivery {
			purchased = e.Quantity
		}
		exp.Purchases = exp.Purchases.Add(purchased)

		consumed := e.PreviousStock.Add(purchased).Sub(e.NewStock)
		if consumed.IsPositive() {
			exp.Consumption = exp.Consumption.Add(consumed)
		}
	}
	exp.Closing = exp.Opening.Add(exp.Purchases).Sub(exp.Consumption)
	return exp
}

// Classify reports whether diff is a discrepancy and how severe it is.
func Classify(diff, tolerance, high decimal.Decimal) (Severity, bool) {
	abs := diff.Abs()
	if !abs.GreaterThan(tolerance) {
		return "", false
	}
	if abs.GreaterThan(high) {
		return SeverityHigh, true
	}
	return SeverityMedium, true
}

// =============================================================================
// REPORT
// =============================================================================

type Discrepancy struct {
	TankID             string          `json:"tank_id"`
	TankName           string          `json:"tank_name"`
	Product            FuelType        `json:"product"`
	Expected           decimal.Decimal `json:"expected"`
	Actual             decimal.Decimal `json:"actual"`
	Difference         decimal.Decimal `json:"difference"`
	Severity           Severity        `json:"severity"`
	ReadingID          string          `json:"reading_id"`
	ReadingAt          time.Time       `json:"reading_at"`
	PendingAdjustments []Adjustment    `json:"pending_adjustments"`
}

type DiscrepancyReport struct {
	Product       FuelType        `json:"product"`
	From          time.Time       `json:"from"`
	AsOf          time.Time       `json:"as_of"`
	Tolerance     decimal.Decimal `json:"tolerance"`
	Checked       int             `json:"checked"`
	Discrepancies []Discrepancy   `json:"discrepancies"`
	// Unreconciled lists active tanks with no closing reading in the window.
	Unreconciled []string `json:"unreconciled"`
}

// =============================================================================
// RECONCILIATION SERVICE
// =============================================================================

type ReconciliationService struct {
	Store                 TxStore
	Notifications         Notifier
	Audit                 auditor
	Logger                *zap.Logger
	Tolerance             decimal.Decimal
	HighSeverityThreshold decimal.Decimal
	Clock                 func() time.Time
}

// ExpectedClosingStock sums the expected closing stock of every tank of product.
func (s *ReconciliationService) ExpectedClosingStock(ctx context.Context, product FuelType, from, to time.Time) (Expected, error) {
	if !product.Valid() {
		return Expected{}, &FieldError{Field: "product", Message: fmt.Sprintf("unknown fuel type %q", product)}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return Expected{}, &FieldError{Field: "to", Message: "must not be before from"}
	}
	tanks, err := s.Store.ListTanks(ctx, TankFilter{Product: product})
	if err != nil {
		return Expected{}, err
	}
	total := Expected{Opening: decimal.Zero, Purchases: decimal.Zero, Consumption: decimal.Zero, Closing: decimal.Zero}
	for _, t := range tanks {
		exp, err := s.expectedForTank(ctx, t.ID, from, to)
		if err != nil {
			return Expected{}, err
		}
		total = total.add(exp)
	}
	return total, nil
}

func (s *ReconciliationService) expectedForTank(ctx context.Context, tankID string, from, to time.Time) (Expected, error) {
	entries, err := s.Store.Entries(ctx, tankID, from, to)
	if err != nil {
		return Expected{}, err
	}
	opening := decimal.Zero
	switch {
	case len(entries) > 0:
		opening = entries[0].PreviousStock
	case !from.IsZero():
		last, err := s.Store.LastEntryBefore(ctx, tankID, from)
		if err != nil {
			return Expected{}, err
		}
		if last != nil {
			opening = last.NewStock
		}
	}
	return ComputeExpected(opening, entries), nil
}

// FindDiscrepancies compares, for each active tank of product, the latest
// closing reading of asOf's UTC day with the stock the ledger implies at the
// moment of that reading.
func (s *ReconciliationService) FindDiscrepancies(ctx context.Context, product FuelType, asOf time.Time) (DiscrepancyReport, error) {
	if !product.Valid() {
		return DiscrepancyReport{}, &FieldError{Field: "product", Message: fmt.Sprintf("unknown fuel type %q", product)}
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()
	from := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)

	report := DiscrepancyReport{
		Product:       product,
		From:          from,
		AsOf:          asOf,
		Tolerance:     s.tolerance(),
		Discrepancies: []Discrepancy{},
		Unreconciled:  []string{},
	}

	tanks, err := s.Store.ListTanks(ctx, TankFilter{Product: product, ActiveOnly: true})
	if err != nil {
		return DiscrepancyReport{}, err
	}
	for _, t := range tanks {
		reading, err := s.Store.LatestReading(ctx, t.ID, from, asOf)
		if err != nil {
			return DiscrepancyReport{}, err
		}
		if reading == nil {
			report.Unreconciled = append(report.Unreconciled, t.ID)
			continue
		}
		report.Checked++

		exp, err := s.expectedForTank(ctx, t.ID, from, reading.RecordedAt)
		if err != nil {
			return DiscrepancyReport{}, err
		}
		diff := reading.Volume.Sub(exp.Closing)
		sev, flagged := Classify(diff, s.tolerance(), s.highThreshold())
		if !flagged {
			continue
		}

		pending, err := s.Store.ListAdjustments(ctx, AdjustmentFilter{TankID: t.ID, Status: AdjustmentPending})
		if err != nil {
			return DiscrepancyReport{}, err
		}
		if pending == nil {
			pending = []Adjustment{}
		}
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			TankID:             t.ID,
			TankName:           t.Name,
			Product:            t.Product,
			Expected:           exp.Closing,
			Actual:             reading.Volume,
			Difference:         diff,
			Severity:           sev,
			ReadingID:          reading.ID,
			ReadingAt:          reading.RecordedAt,
			PendingAdjustments: pending,
		})
	}

	if n := len(report.Discrepancies); n > 0 {
		s.Logger.Info("discrepancies found",
			zap.String("product", string(product)),
			zap.Time("as_of", asOf),
			zap.Int("count", n))
	}
	return report, nil
}

// RaiseDiscrepancyAlerts emits one discrepancy notification per product while
// an earlier one is still unread. Failures are logged.
func (s *ReconciliationService) RaiseDiscrepancyAlerts(ctx context.Context, report DiscrepancyReport) int {
	if s.Notifications == nil || len(report.Discrepancies) == 0 {
		return 0
	}
	log := s.Logger.With(zap.String("product", string(report.Product)))
	open, err := s.Notifications.HasUnread(ctx, NotifyDiscrepancy, report.Product)
	if err != nil {
		log.Warn("discrepancy lookup failed", zap.Error(err))
		return 0
	}
	if open {
		return 0
	}

	priority := PriorityMedium
	worst := report.Discrepancies[0]
	for _, d := range report.Discrepancies {
		if d.Severity == SeverityHigh {
			priority = PriorityHigh
		}
		if d.Difference.Abs().GreaterThan(worst.Difference.Abs()) {
			worst = d
		}
	}
	n := Notification{
		ID:       NewID("ntf"),
		Type:     NotifyDiscrepancy,
		Product:  report.Product,
		TankID:   worst.TankID,
		Priority: priority,
		Status:   NotificationUnread,
		Description: fmt.Sprintf("%d tank(s) off expected stock; %s expected %s L, reported %s L",
			len(report.Discrepancies), worst.TankName, worst.Expected.StringFixed(2), worst.Actual.StringFixed(2)),
		CreatedAt: s.now(),
	}
	if err := s.Notifications.Notify(ctx, n); err != nil {
		log.Warn("notification failed", zap.String("type", string(n.Type)), zap.Error(err))
		return 0
	}
	return 1
}

// =============================================================================
// CLOSING READINGS
// =============================================================================

// ReadingInput is an operator's closing stock. Either Volume or DipMM is set;
// a dip is converted with the tank's calibration chart.
type ReadingInput struct {
	TankID     string           `json:"tank_id" validate:"required"`
	Volume     *decimal.Decimal `json:"volume,omitempty"`
	DipMM      *decimal.Decimal `json:"dip_mm,omitempty"`
	RecordedAt *time.Time       `json:"recorded_at,omitempty"`
	Notes      string           `json:"notes,omitempty"`
	Actor      string           `json:"-"`
}

func (s *ReconciliationService) RecordClosingReading(ctx context.Context, in ReadingInput) (Reading, error) {
	if err := checkRequired("reading", in); err != nil {
		return Reading{}, err
	}
	tank, err := s.Store.GetTank(ctx, in.TankID)
	if err != nil {
		return Reading{}, err
	}

	var volume decimal.Decimal
	switch {
	case in.Volume != nil:
		volume = *in.Volume
	case in.DipMM != nil:
		volume, err = volumeAt(ctx, s.Store, tank.ID, *in.DipMM)
		if err != nil {
			return Reading{}, err
		}
	default:
		return Reading{}, &MissingFieldError{Type: "reading", Field: "volume"}
	}
	if volume.IsNegative() {
		return Reading{}, &FieldError{Field: "volume", Message: "must not be negative"}
	}
	if volume.GreaterThan(tank.Capacity) {
		return Reading{}, &CapacityError{TankID: tank.ID, Capacity: tank.Capacity, Requested: volume}
	}

	at := s.now()
	if in.RecordedAt != nil {
		at = in.RecordedAt.UTC()
	}
	r := Reading{
		ID:         NewID("rdg"),
		TankID:     tank.ID,
		Volume:     volume,
		DipMM:      in.DipMM,
		RecordedBy: in.Actor,
		RecordedAt: at,
		Notes:      in.Notes,
	}
	if err := s.Store.InsertReading(ctx, r); err != nil {
		return Reading{}, err
	}
	s.Audit.record(ctx, AuditEntry{
		Action:     AuditClosingReadingStored,
		EntityType: "tank",
		EntityID:   tank.ID,
		Actor:      in.Actor,
		Notes:      in.Notes,
		Details: map[string]any{
			"reading_id": r.ID,
			"volume":     r.Volume.String(),
			"projection": tank.CurrentStock.String(),
		},
	})
	return r, nil
}

func (s *ReconciliationService) tolerance() decimal.Decimal {
	if s.Tolerance.IsZero() {
		return DefaultTolerance
	}
	return s.Tolerance
}

func (s *ReconciliationService) highThreshold() decimal.Decimal {
	if s.HighSeverityThreshold.IsZero() {
		return DefaultHighSeverityThreshold
	}
	return s.HighSeverityThreshold
}

func (s *ReconciliationService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}
