/*
adjustment.go - Approval gate for manual stock corrections

PURPOSE:
  Operators never write stock directly. A correction is proposed, sits in
  Pending with zero effect on the tank, and only an approval turns it into
  an adjustment ledger entry.

STATE MACHINE:
  ┌─────────┐  Decide(approved)  ┌──────────┐
  │ Pending │ ─────────────────▶ │ Approved │ ─▶ one adjustment entry
  └─────────┘                    └──────────┘
       │      Decide(rejected)   ┌──────────┐
       └───────────────────────▶ │ Rejected │ ─▶ no ledger effect
                                 └──────────┘

  Approved and Rejected are terminal. Deciding again fails with
  ErrAlreadyProcessed and writes nothing.

APPROVAL IS ONE TRANSACTION:
  The Pending -> Approved transition, the ledger entry, the projection and
  Materialized=true commit together inside the ledger's commit path. If any
  of them fails (capacity, storage error, cancelled ctx) the transaction
  rolls back and the proposal is still Pending. There is no window where a
  proposal is Approved but not materialized.

TARGET STOCK:
  addition     previous + quantity
  deduction    previous - quantity (InsufficientStock below zero)
  calibration  quantity is the new absolute stock
  daily_update quantity is the new absolute stock

  Relative types are re-based on the live stock at approval time, so an
  approved +500 always adds 500 even if sales happened meanwhile. Absolute
  types set exactly the proposed target.
*/
package fuel

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ADJUSTMENT SERVICE
// =============================================================================

type AdjustmentService struct {
	Store  TxStore
	Ledger *Ledger
	Audit  auditor
	Logger *zap.Logger
}

// ProposeInput describes a correction. Quantity may be omitted for absolute
// types when DipReading is given; the tank's calibration chart supplies it.
type ProposeInput struct {
	TankID     string           `json:"tank_id" validate:"required"`
	Type       AdjustmentType   `json:"type" validate:"required"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	Reason     string           `json:"reason" validate:"required"`
	DipReading *decimal.Decimal `json:"dip_reading,omitempty"`
	Actor      string           `json:"-"`
}

// Propose stores a Pending adjustment. It does not touch the ledger or the tank.
func (s *AdjustmentService) Propose(ctx context.Context, in ProposeInput) (Adjustment, error) {
	if err := checkRequired(string(TxAdjustment), in); err != nil {
		return Adjustment{}, err
	}
	if !in.Type.Valid() {
		return Adjustment{}, &FieldError{Field: "type", Message: fmt.Sprintf("unknown adjustment type %q", in.Type)}
	}

	tank, err := s.Store.GetTank(ctx, in.TankID)
	if err != nil {
		return Adjustment{}, err
	}
	if !tank.Active {
		return Adjustment{}, fmt.Errorf("%w: %s", ErrTankInactive, tank.ID)
	}

	qty, err := s.quantity(ctx, in)
	if err != nil {
		return Adjustment{}, err
	}
	target, err := targetStock(tank, in.Type, qty)
	if err != nil {
		return Adjustment{}, err
	}

	now := s.Ledger.now()
	adj := Adjustment{
		ID:            NewID("adj"),
		TankID:        tank.ID,
		Type:          in.Type,
		Quantity:      qty,
		Reason:        in.Reason,
		DipReading:    in.DipReading,
		ProposedBy:    in.Actor,
		PreviousStock: tank.CurrentStock,
		TargetStock:   target,
		Status:        AdjustmentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreateAdjustment(ctx, adj); err != nil {
		return Adjustment{}, err
	}

	s.Logger.Info("adjustment proposed",
		zap.String("adjustment_id", adj.ID),
		zap.String("tank_id", adj.TankID),
		zap.String("type", string(adj.Type)),
		zap.String("previous_stock", adj.PreviousStock.String()),
		zap.String("target_stock", adj.TargetStock.String()))
	s.Audit.record(ctx, AuditEntry{
		Action:     AuditAdjustmentProposed,
		EntityType: "adjustment",
		EntityID:   adj.ID,
		Actor:      in.Actor,
		Notes:      adj.Reason,
		Details: map[string]any{
			"tank_id":        adj.TankID,
			"type":           adj.Type,
			"quantity":       adj.Quantity.String(),
			"previous_stock": adj.PreviousStock.String(),
			"target_stock":   adj.TargetStock.String(),
		},
	})
	return adj, nil
}

func (s *AdjustmentService) quantity(ctx context.Context, in ProposeInput) (decimal.Decimal, error) {
	if in.Quantity != nil {
		if in.Quantity.IsNegative() {
			return decimal.Zero, &FieldError{Field: "quantity", Message: "must not be negative"}
		}
		if !in.Type.Absolute() && in.Quantity.IsZero() {
			return decimal.Zero, &FieldError{Field: "quantity", Message: "must be greater than zero"}
		}
		return *in.Quantity, nil
	}
	if in.Type.Absolute() && in.DipReading != nil {
		return volumeAt(ctx, s.Store, in.TankID, *in.DipReading)
	}
	return decimal.Zero, &MissingFieldError{Type: string(TxAdjustment), Field: "quantity"}
}

// targetStock computes where the tank lands if the adjustment is applied to tank.
func targetStock(tank Tank, typ AdjustmentType, qty decimal.Decimal) (decimal.Decimal, error) {
	var target decimal.Decimal
	switch typ {
	case AdjustAddition:
		target = tank.CurrentStock.Add(qty)
	case AdjustDeduction:
		target = tank.CurrentStock.Sub(qty)
		if target.IsNegative() {
			return decimal.Zero, &InsufficientStockError{TankID: tank.ID, Available: tank.CurrentStock, Requested: qty}
		}
	case AdjustCalibration, AdjustDailyUpdate:
		target = qty
	default:
		return decimal.Zero, &FieldError{Field: "type", Message: fmt.Sprintf("unknown adjustment type %q", typ)}
	}
	if target.GreaterThan(tank.Capacity) {
		return decimal.Zero, &CapacityError{TankID: tank.ID, Capacity: tank.Capacity, Requested: target}
	}
	return target, nil
}

// =============================================================================
// DECISION
// =============================================================================

type DecideInput struct {
	ID       string `json:"id" validate:"required"`
	Approved bool   `json:"approved"`
	Notes    string `json:"notes,omitempty"`
	Actor    string `json:"-"`
}

// Decide approves or rejects a Pending adjustment.
func (s *AdjustmentService) Decide(ctx context.Context, in DecideInput) (Adjustment, error) {
	if err := checkRequired("decision", in); err != nil {
		return Adjustment{}, err
	}
	pre, err := s.Store.GetAdjustment(ctx, in.ID)
	if err != nil {
		return Adjustment{}, err
	}
	if pre.Status.Terminal() {
		return Adjustment{}, &AlreadyProcessedError{Kind: "adjustment", ID: pre.ID, Status: string(pre.Status)}
	}

	if in.Approved {
		return s.approve(ctx, pre, in)
	}
	return s.reject(ctx, pre, in)
}

func (s *AdjustmentService) approve(ctx context.Context, pre Adjustment, in DecideInput) (Adjustment, error) {
	var decided Adjustment

	build := func(tx Store, tank Tank) (LedgerEntry, error) {
		cur, err := tx.GetAdjustment(ctx, pre.ID)
		if err != nil {
			return LedgerEntry{}, err
		}
		if cur.Status != AdjustmentPending {
			return LedgerEntry{}, &AlreadyProcessedError{Kind: "adjustment", ID: cur.ID, Status: string(cur.Status)}
		}
		target, err := targetStock(tank, cur.Type, cur.Quantity)
		if err != nil {
			return LedgerEntry{}, err
		}
		decided = cur
		return LedgerEntry{
			Type:          TxAdjustment,
			Quantity:      target.Sub(tank.CurrentStock),
			PreviousStock: tank.CurrentStock,
			NewStock:      target,
			Actor:         in.Actor,
			Adjustment: &AdjustmentDetails{
				Reason:         cur.Reason,
				AdjustmentID:   cur.ID,
				AdjustmentType: cur.Type,
				DipReading:     cur.DipReading,
				ProposedStock:  cur.TargetStock,
			},
		}, nil
	}

	after := func(tx Store, entry LedgerEntry, _ Tank) error {
		at := entry.CreatedAt
		decided.Status = AdjustmentApproved
		decided.DecidedBy = in.Actor
		decided.DecisionNotes = in.Notes
		decided.DecidedAt = &at
		decided.Materialized = true
		decided.LedgerEntryID = entry.ID
		decided.UpdatedAt = at
		return tx.TransitionAdjustment(ctx, decided, AdjustmentPending)
	}

	entry, tank, err := s.Ledger.run(ctx, pre.TankID, s.Ledger.MaxRetries, build, after)
	if err != nil {
		s.Logger.Warn("adjustment approval rolled back",
			zap.String("adjustment_id", pre.ID),
			zap.String("tank_id", pre.TankID),
			zap.Error(err))
		return Adjustment{}, err
	}

	s.Logger.Info("adjustment approved",
		zap.String("adjustment_id", decided.ID),
		zap.String("entry_id", entry.ID),
		zap.String("new_stock", tank.CurrentStock.String()))
	s.Audit.record(ctx, AuditEntry{
		Action:     AuditAdjustmentApproved,
		EntityType: "adjustment",
		EntityID:   decided.ID,
		Actor:      in.Actor,
		Notes:      in.Notes,
		Timestamp:  entry.CreatedAt,
		Details: map[string]any{
			"before": map[string]any{
				"status": AdjustmentPending,
				"stock":  entry.PreviousStock.String(),
			},
			"after": map[string]any{
				"status": AdjustmentApproved,
				"stock":  entry.NewStock.String(),
			},
			"ledger_entry_id": entry.ID,
			"proposed_stock":  decided.TargetStock.String(),
		},
	})
	return decided, nil
}

func (s *AdjustmentService) reject(ctx context.Context, pre Adjustment, in DecideInput) (Adjustment, error) {
	now := s.Ledger.now()
	decided := pre
	decided.Status = AdjustmentRejected
	decided.DecidedBy = in.Actor
	decided.DecisionNotes = in.Notes
	decided.DecidedAt = &now
	decided.UpdatedAt = now

	if err := s.Store.TransitionAdjustment(ctx, decided, AdjustmentPending); err != nil {
		return Adjustment{}, err
	}

	s.Logger.Info("adjustment rejected", zap.String("adjustment_id", decided.ID))
	s.Audit.record(ctx, AuditEntry{
		Action:     AuditAdjustmentRejected,
		EntityType: "adjustment",
		EntityID:   decided.ID,
		Actor:      in.Actor,
		Notes:      in.Notes,
		Timestamp:  now,
		Details: map[string]any{
			"before": map[string]any{"status": AdjustmentPending},
			"after":  map[string]any{"status": AdjustmentRejected},
		},
	})
	return decided, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListPending returns Pending proposals, optionally for one tank.
func (s *AdjustmentService) ListPending(ctx context.Context, tankID string) ([]Adjustment, error) {
	return s.Store.ListAdjustments(ctx, AdjustmentFilter{TankID: tankID, Status: AdjustmentPending})
}

func (s *AdjustmentService) Get(ctx context.Context, id string) (Adjustment, error) {
	return s.Store.GetAdjustment(ctx, id)
}
