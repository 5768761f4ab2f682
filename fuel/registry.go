package fuel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// TANK REGISTRY - Static config; live fields belong to the ledger
// =============================================================================

type Registry struct {
	Store  TxStore
	Ledger *Ledger
	Audit  auditor
	Logger *zap.Logger
	Clock  func() time.Time
}

// CreateTank registers a tank. A positive opening stock is booked as a
// delivery entry in the same transaction, so the projection always has a
// ledger entry behind it.
func (r *Registry) CreateTank(ctx context.Context, spec TankSpec, actor string) (Tank, error) {
	if err := checkRequired("tank", spec); err != nil {
		return Tank{}, err
	}
	if !spec.Product.Valid() {
		return Tank{}, &FieldError{Field: "product", Message: fmt.Sprintf("unknown fuel type %q", spec.Product)}
	}
	if spec.Shape == "" {
		spec.Shape = ShapeHorizontalCylinder
	}
	if !spec.Shape.Valid() {
		return Tank{}, &FieldError{Field: "shape", Message: fmt.Sprintf("unknown tank shape %q", spec.Shape)}
	}
	if !spec.Capacity.IsPositive() {
		return Tank{}, &FieldError{Field: "capacity", Message: "must be greater than zero"}
	}
	if spec.OpeningStock.IsNegative() {
		return Tank{}, &FieldError{Field: "opening_stock", Message: "must not be negative"}
	}
	if spec.OpeningStock.GreaterThan(spec.Capacity) {
		return Tank{}, &CapacityError{Capacity: spec.Capacity, Requested: spec.OpeningStock}
	}

	now := r.now()
	tank := Tank{
		ID:           NewID("tnk"),
		Name:         spec.Name,
		Product:      spec.Product,
		Capacity:     spec.Capacity,
		Shape:        spec.Shape,
		Active:       true,
		CurrentStock: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tank.LowStockAlert = tank.CurrentLevel <= r.Ledger.alertThreshold()

	err := r.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateTank(ctx, tank); err != nil {
			return err
		}
		if !spec.OpeningStock.IsPositive() {
			return nil
		}
		entry := LedgerEntry{
			ID:            NewID("led"),
			TankID:        tank.ID,
			Seq:           1,
			Type:          TxDelivery,
			Quantity:      spec.OpeningStock,
			PreviousStock: decimal.Zero,
			NewStock:      spec.OpeningStock,
			Actor:         actor,
			CreatedAt:     now,
			Delivery:      &DeliveryDetails{Reference: "opening-stock"},
		}
		if err := entry.Validate(); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		next := tank.withStock(spec.OpeningStock, r.Ledger.alertThreshold(), now)
		if err := tx.SaveProjection(ctx, next, tank.Version); err != nil {
			return err
		}
		tank = next
		return nil
	})
	if err != nil {
		return Tank{}, err
	}

	r.Logger.Info("tank created",
		zap.String("tank_id", tank.ID),
		zap.String("name", tank.Name),
		zap.String("product", string(tank.Product)),
		zap.String("opening_stock", tank.CurrentStock.String()))
	r.Audit.record(ctx, AuditEntry{
		Action:     AuditTankCreated,
		EntityType: "tank",
		EntityID:   tank.ID,
		Actor:      actor,
		Details: map[string]any{
			"name":          tank.Name,
			"product":       tank.Product,
			"capacity":      tank.Capacity.String(),
			"opening_stock": tank.CurrentStock.String(),
		},
	})
	r.Ledger.Alerts.Evaluate(ctx, tank)
	return tank, nil
}

// DeactivateTank is a soft delete. Ledger entries keep referencing the tank.
func (r *Registry) DeactivateTank(ctx context.Context, id, actor string) (Tank, error) {
	tank, err := r.Store.GetTank(ctx, id)
	if err != nil {
		return Tank{}, err
	}
	if !tank.Active {
		return tank, nil
	}
	// Under the tank lock so no stock write is in flight.
	unlock, err := r.Ledger.Locker.Lock(ctx, id)
	if err != nil {
		return Tank{}, fmt.Errorf("lock tank %s: %w", id, err)
	}
	err = r.Store.SetTankActive(ctx, id, false, r.now())
	unlock()
	if err != nil {
		return Tank{}, err
	}
	tank.Active = false

	r.Audit.record(ctx, AuditEntry{
		Action:     AuditTankDeactivated,
		EntityType: "tank",
		EntityID:   id,
		Actor:      actor,
		Details:    map[string]any{"stock": tank.CurrentStock.String()},
	})
	return tank, nil
}

// GetTankSnapshot returns the tank with its live projection.
func (r *Registry) GetTankSnapshot(ctx context.Context, id string) (Tank, error) {
	return r.Store.GetTank(ctx, id)
}

func (r *Registry) ListTanks(ctx context.Context, filter TankFilter) ([]Tank, error) {
	return r.Store.ListTanks(ctx, filter)
}

// ActiveTankForProduct resolves the single active tank holding product.
func (r *Registry) ActiveTankForProduct(ctx context.Context, product FuelType) (Tank, error) {
	tanks, err := r.Store.ListTanks(ctx, TankFilter{Product: product, ActiveOnly: true})
	if err != nil {
		return Tank{}, err
	}
	if len(tanks) != 1 {
		return Tank{}, &TankNotFoundError{Product: product, Matches: len(tanks)}
	}
	return tanks[0], nil
}

func (r *Registry) now() time.Time {
	if r.Clock == nil {
		return time.Now().UTC()
	}
	return r.Clock().UTC()
}

// =============================================================================
// SEED FILE - Tanks created at startup
// =============================================================================

// LoadTankSeed reads a JSON array of TankSpec from path and creates every tank
// whose name is not registered yet. It returns the number of tanks created.
func (r *Registry) LoadTankSeed(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read tank seed: %w", err)
	}
	var specs []TankSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return 0, fmt.Errorf("parse tank seed %s: %w", path, err)
	}

	created := 0
	for _, spec := range specs {
		_, err := r.CreateTank(ctx, spec, "seed")
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicateTank):
			r.Logger.Debug("seed tank exists", zap.String("name", spec.Name))
		default:
			return created, fmt.Errorf("seed tank %q: %w", spec.Name, err)
		}
	}
	return created, nil
}
