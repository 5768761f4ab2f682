package fuel

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SALE DEDUCTION - Exactly once per verified sale
// =============================================================================
//
// The sale's TankDeducted flag is the idempotency key. It is re-checked and
// set inside the same transaction that appends the sale entry, so the flag
// is true if and only if the entry exists. Retried verifications after a
// timeout read the flag and return the tank unchanged.
//
// Stock never goes negative: a sale larger than the tank holds deducts what
// is there and is logged as a deviation for reconciliation to pick up.

type SaleService struct {
	Store         TxStore
	Ledger        *Ledger
	Registry      *Registry
	Notifications Notifier
	Audit         auditor
	Logger        *zap.Logger
}

// errAlreadyDeducted aborts the transaction when a concurrent caller won.
var errAlreadyDeducted = errors.New("sale already deducted")

type SaleInput struct {
	ID       string          `json:"id,omitempty"`
	FuelType FuelType        `json:"fuel_type" validate:"required"`
	Liters   decimal.Decimal `json:"liters"`
}

// RegisterSale records an unverified sale as the point-of-sale reports it.
func (s *SaleService) RegisterSale(ctx context.Context, in SaleInput) (Sale, error) {
	if err := checkRequired("sale", in); err != nil {
		return Sale{}, err
	}
	if !in.FuelType.Valid() {
		return Sale{}, &FieldError{Field: "fuel_type", Message: fmt.Sprintf("unknown fuel type %q", in.FuelType)}
	}
	if !in.Liters.IsPositive() {
		return Sale{}, &FieldError{Field: "liters", Message: "must be greater than zero"}
	}
	sale := Sale{
		ID:        in.ID,
		FuelType:  in.FuelType,
		Liters:    in.Liters,
		Status:    SalePending,
		CreatedAt: s.Ledger.now(),
	}
	if sale.ID == "" {
		sale.ID = NewID("sal")
	}
	if err := s.Store.CreateSale(ctx, sale); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// VerifySale marks the sale verified and deducts it from its tank.
func (s *SaleService) VerifySale(ctx context.Context, saleID, actor string) (Tank, error) {
	sale, err := s.Store.GetSale(ctx, saleID)
	if err != nil {
		return Tank{}, err
	}
	if sale.Status == SaleRejected {
		return Tank{}, &AlreadyProcessedError{Kind: "sale", ID: sale.ID, Status: string(sale.Status)}
	}
	if sale.Status != SaleVerified {
		if err := s.Store.SetSaleStatus(ctx, saleID, SaleVerified); err != nil {
			return Tank{}, err
		}
	}
	return s.DeductForVerifiedSale(ctx, saleID, actor)
}

// DeductForVerifiedSale appends one sale entry for a verified sale. Calling it
// again for the same sale returns the current tank and writes nothing.
func (s *SaleService) DeductForVerifiedSale(ctx context.Context, saleID, actor string) (Tank, error) {
	sale, err := s.Store.GetSale(ctx, saleID)
	if err != nil {
		return Tank{}, err
	}
	if sale.Status != SaleVerified {
		return Tank{}, fmt.Errorf("%w: sale %s is %s", ErrSaleNotVerified, sale.ID, sale.Status)
	}

	tankID := sale.TankID
	if tankID == "" {
		tank, err := s.Registry.ActiveTankForProduct(ctx, sale.FuelType)
		if err != nil {
			return Tank{}, err
		}
		tankID = tank.ID
	}
	if sale.TankDeducted {
		return s.Store.GetTank(ctx, tankID)
	}

	var clamped bool
	build := func(tx Store, tank Tank) (LedgerEntry, error) {
		cur, err := tx.GetSale(ctx, saleID)
		if err != nil {
			return LedgerEntry{}, err
		}
		if cur.TankDeducted {
			return LedgerEntry{}, errAlreadyDeducted
		}
		deducted := cur.Liters
		clamped = deducted.GreaterThan(tank.CurrentStock)
		if clamped {
			deducted = tank.CurrentStock
		}
		return LedgerEntry{
			Type:          TxSale,
			Quantity:      deducted,
			PreviousStock: tank.CurrentStock,
			NewStock:      tank.CurrentStock.Sub(deducted),
			Actor:         actor,
			Sale: &SaleDetails{
				SaleID:          cur.ID,
				RequestedLiters: cur.Liters,
				Clamped:         clamped,
			},
		}, nil
	}
	after := func(tx Store, _ LedgerEntry, tank Tank) error {
		return tx.MarkSaleDeducted(ctx, saleID, tank.ID)
	}

	entry, tank, err := s.Ledger.run(ctx, tankID, s.Ledger.MaxRetries, build, after)
	switch {
	case errors.Is(err, errAlreadyDeducted):
		return s.Store.GetTank(ctx, tankID)
	case err != nil:
		return Tank{}, err
	}

	if clamped {
		s.Logger.Warn("sale deduction clamped at zero stock",
			zap.String("sale_id", sale.ID),
			zap.String("tank_id", tank.ID),
			zap.String("requested", sale.Liters.String()),
			zap.String("deducted", entry.Quantity.String()))
		s.notifyClamped(ctx, sale, tank, entry)
	}
	s.Audit.record(ctx, AuditEntry{
		Action:     AuditSaleDeducted,
		EntityType: "sale",
		EntityID:   sale.ID,
		Actor:      actor,
		Timestamp:  entry.CreatedAt,
		Details: map[string]any{
			"tank_id":         tank.ID,
			"ledger_entry_id": entry.ID,
			"requested":       sale.Liters.String(),
			"deducted":        entry.Quantity.String(),
			"clamped":         clamped,
		},
	})
	return tank, nil
}

func (s *SaleService) notifyClamped(ctx context.Context, sale Sale, tank Tank, entry LedgerEntry) {
	if s.Notifications == nil {
		return
	}
	n := Notification{
		ID:       NewID("ntf"),
		Type:     NotifySaleClamped,
		Product:  tank.Product,
		TankID:   tank.ID,
		Priority: PriorityHigh,
		Status:   NotificationUnread,
		Description: fmt.Sprintf("sale %s requested %s L but %s held only %s L",
			sale.ID, sale.Liters, tank.Name, entry.PreviousStock),
		CreatedAt: entry.CreatedAt,
	}
	if err := s.Notifications.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.Logger.Warn("notification failed", zap.String("type", string(n.Type)), zap.Error(err))
	}
}
