/*
ledger.go - Append-only stock ledger and the tank projection

PURPOSE:
  The Ledger is the only writer of tank stock. Every purchase, delivery,
  verified sale and approved adjustment becomes exactly one LedgerEntry,
  and the tank's live fields are rewritten from that entry in the same
  store transaction.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted. Corrections are
     new adjustment entries.
  2. ARITHMETIC: new = previous + SignedEffect(type, quantity),
     0 <= new <= capacity. Checked before persistence.
  3. PROJECTION: tank.CurrentStock == NewStock of the tank's newest entry.
     Entry and projection commit together or not at all.
  4. ORDER: entries of one tank carry Seq 1, 2, 3, ... in the order their
     writers entered the critical section.

COMMIT PATH (run):
  lock(tank) -> WithTx {
      re-read tank            live snapshot, inactive tanks refuse writes
      build(entry)            caller computes prev/new from the snapshot
      validate                required fields, arithmetic, capacity
      InsertEntry             unique (tank, seq)
      SaveProjection          conditional on tank.Version
      after(entry)            caller's extra writes (flags, transitions)
  } -> unlock -> alert policy (best effort)

  A ConcurrentModification inside the transaction rolls it back and is
  retried with a fresh snapshot, up to MaxRetries times.

SEE ALSO:
  - validate.go: Validate and SignedEffect
  - store.go: conditional write contracts
  - adjustment.go, sale.go: callers that add their own writes via after
*/
package fuel

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultMaxRetries = 3

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store      TxStore
	Locker     TankLocker
	Alerts     *AlertPolicy
	Logger     *zap.Logger
	MaxRetries int
	Clock      func() time.Time
}

func NewLedger(store TxStore, locker TankLocker, alerts *AlertPolicy, logger *zap.Logger) *Ledger {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		Store:      store,
		Locker:     locker,
		Alerts:     alerts,
		Logger:     logger,
		MaxRetries: DefaultMaxRetries,
		Clock:      time.Now,
	}
}

// buildFunc computes the next entry from the live tank inside the transaction.
type buildFunc func(tx Store, tank Tank) (LedgerEntry, error)

// afterFunc writes the caller's own records in the same transaction.
type afterFunc func(tx Store, entry LedgerEntry, tank Tank) error

// Append validates and persists a fully formed entry.
//
// entry.PreviousStock must equal the tank's current stock; if another writer
// moved the tank first, ErrConcurrentModification is returned and nothing is
// written. Use Apply to have the entry recomputed on conflict.
func (l *Ledger) Append(ctx context.Context, entry LedgerEntry) (LedgerEntry, Tank, error) {
	if err := entry.Validate(); err != nil {
		return LedgerEntry{}, Tank{}, err
	}
	return l.run(ctx, entry.TankID, 0, func(_ Store, _ Tank) (LedgerEntry, error) {
		return entry, nil
	}, nil)
}

// Apply runs read-snapshot -> build -> conditional write, retrying the whole
// step on ErrConcurrentModification up to MaxRetries times.
func (l *Ledger) Apply(ctx context.Context, tankID string, build func(Tank) (LedgerEntry, error)) (LedgerEntry, Tank, error) {
	return l.run(ctx, tankID, l.MaxRetries, func(_ Store, tank Tank) (LedgerEntry, error) {
		return build(tank)
	}, nil)
}

func (l *Ledger) run(ctx context.Context, tankID string, retries int, build buildFunc, after afterFunc) (LedgerEntry, Tank, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		entry, tank, err := l.commit(ctx, tankID, build, after)
		if err == nil {
			l.Logger.Info("ledger entry appended",
				zap.String("tank_id", tank.ID),
				zap.String("entry_id", entry.ID),
				zap.String("type", string(entry.Type)),
				zap.Int64("seq", entry.Seq),
				zap.String("previous_stock", entry.PreviousStock.String()),
				zap.String("new_stock", entry.NewStock.String()))

			// Outside the lock; never fails the append.
			l.Alerts.Evaluate(context.WithoutCancel(ctx), tank)
			return entry, tank, nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return LedgerEntry{}, Tank{}, err
		}
		lastErr = err
		l.Logger.Debug("ledger write conflict, retrying",
			zap.String("tank_id", tankID), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return LedgerEntry{}, Tank{}, lastErr
}

// commit is one attempt under the tank lock.
func (l *Ledger) commit(ctx context.Context, tankID string, build buildFunc, after afterFunc) (LedgerEntry, Tank, error) {
	unlock, err := l.Locker.Lock(ctx, tankID)
	if err != nil {
		return LedgerEntry{}, Tank{}, fmt.Errorf("lock tank %s: %w", tankID, err)
	}
	defer unlock()

	var (
		entry LedgerEntry
		next  Tank
	)
	err = l.Store.WithTx(ctx, func(tx Store) error {
		cur, err := tx.GetTank(ctx, tankID)
		if err != nil {
			return err
		}
		if !cur.Active {
			return fmt.Errorf("%w: %s", ErrTankInactive, tankID)
		}

		e, err := build(tx, cur)
		if err != nil {
			return err
		}
		if e.ID == "" {
			e.ID = NewID("led")
		}
		e.TankID = cur.ID
		e.Seq = cur.Version + 1
		e.CreatedAt = l.now()

		if err := e.Validate(); err != nil {
			return err
		}
		if !e.PreviousStock.Equal(cur.CurrentStock) {
			return fmt.Errorf("%w: tank %s holds %s, entry expects %s",
				ErrConcurrentModification, cur.ID, cur.CurrentStock, e.PreviousStock)
		}
		if e.NewStock.GreaterThan(cur.Capacity) {
			return &CapacityError{TankID: cur.ID, Capacity: cur.Capacity, Requested: e.NewStock}
		}

		if err := tx.InsertEntry(ctx, e); err != nil {
			return err
		}
		n := cur.withStock(e.NewStock, l.alertThreshold(), e.CreatedAt)
		if err := tx.SaveProjection(ctx, n, cur.Version); err != nil {
			return err
		}
		if after != nil {
			if err := after(tx, e, n); err != nil {
				return err
			}
		}
		entry, next = e, n
		return nil
	})
	if err != nil {
		return LedgerEntry{}, Tank{}, err
	}
	return entry, next, nil
}

func (l *Ledger) alertThreshold() int {
	if l.Alerts == nil {
		return DefaultAlertThreshold
	}
	return l.Alerts.AlertThreshold
}

func (l *Ledger) now() time.Time {
	if l.Clock == nil {
		return time.Now().UTC()
	}
	return l.Clock().UTC()
}

// =============================================================================
// STOCK IN - Purchases and deliveries
// =============================================================================

type PurchaseInput struct {
	TankID        string          `json:"tank_id" validate:"required"`
	Product       FuelType        `json:"product,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Rate          decimal.Decimal `json:"rate"`
	Value         decimal.Decimal `json:"value"`
	Supplier      string          `json:"supplier"`
	InvoiceNumber string          `json:"invoice_number"`
	Actor         string          `json:"-"`
}

// RecordPurchase appends a purchase entry. Product defaults to the tank's.
func (l *Ledger) RecordPurchase(ctx context.Context, in PurchaseInput) (LedgerEntry, Tank, error) {
	if err := checkRequired(string(TxPurchase), in); err != nil {
		return LedgerEntry{}, Tank{}, err
	}
	return l.Apply(ctx, in.TankID, func(tank Tank) (LedgerEntry, error) {
		product := in.Product
		if product == "" {
			product = tank.Product
		}
		if product != tank.Product {
			return LedgerEntry{}, &FieldError{Field: "product", Message: fmt.Sprintf(
				"tank %s holds %s, not %s", tank.ID, tank.Product, product)}
		}
		return LedgerEntry{
			Type:          TxPurchase,
			Quantity:      in.Quantity,
			PreviousStock: tank.CurrentStock,
			NewStock:      tank.CurrentStock.Add(in.Quantity),
			Actor:         in.Actor,
			Purchase: &PurchaseDetails{
				Product:       product,
				Supplier:      in.Supplier,
				InvoiceNumber: in.InvoiceNumber,
				Rate:          in.Rate,
				Value:         in.Value,
			},
		}, nil
	})
}

type DeliveryInput struct {
	TankID    string          `json:"tank_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	Reference string          `json:"reference,omitempty"`
	Actor     string          `json:"-"`
}

func (l *Ledger) RecordDelivery(ctx context.Context, in DeliveryInput) (LedgerEntry, Tank, error) {
	if err := checkRequired(string(TxDelivery), in); err != nil {
		return LedgerEntry{}, Tank{}, err
	}
	return l.Apply(ctx, in.TankID, func(tank Tank) (LedgerEntry, error) {
		return LedgerEntry{
			Type:          TxDelivery,
			Quantity:      in.Quantity,
			PreviousStock: tank.CurrentStock,
			NewStock:      tank.CurrentStock.Add(in.Quantity),
			Actor:         in.Actor,
			Delivery:      &DeliveryDetails{Reference: in.Reference},
		}, nil
	})
}

// =============================================================================
// READ SIDE
// =============================================================================

// History returns the tank's entries in [from, to], ordered by Seq.
func (l *Ledger) History(ctx context.Context, tankID string, from, to time.Time) ([]LedgerEntry, error) {
	if _, err := l.Store.GetTank(ctx, tankID); err != nil {
		return nil, err
	}
	return l.Store.Entries(ctx, tankID, from, to)
}

// ProjectionCheck is the outcome of replaying a tank's ledger.
type ProjectionCheck struct {
	TankID         string          `json:"tank_id"`
	Entries        int             `json:"entries"`
	LedgerStock    decimal.Decimal `json:"ledger_stock"`
	ProjectedStock decimal.Decimal `json:"projected_stock"`
	Consistent     bool            `json:"consistent"`
	Problems       []string        `json:"problems,omitempty"`
}

// VerifyProjection replays the chain and compares it with the tank's live fields.
func (l *Ledger) VerifyProjection(ctx context.Context, tankID string) (ProjectionCheck, error) {
	tank, err := l.Store.GetTank(ctx, tankID)
	if err != nil {
		return ProjectionCheck{}, err
	}
	entries, err := l.Store.Entries(ctx, tankID, time.Time{}, time.Time{})
	if err != nil {
		return ProjectionCheck{}, err
	}

	check := ProjectionCheck{
		TankID:         tankID,
		Entries:        len(entries),
		LedgerStock:    decimal.Zero,
		ProjectedStock: tank.CurrentStock,
	}
	for i, e := range entries {
		if !e.PreviousStock.Equal(check.LedgerStock) {
			check.Problems = append(check.Problems, fmt.Sprintf(
				"entry %d (seq %d): previous stock %s, chain is at %s", i, e.Seq, e.PreviousStock, check.LedgerStock))
		}
		if err := e.Validate(); err != nil {
			check.Problems = append(check.Problems, fmt.Sprintf("entry %d (seq %d): %v", i, e.Seq, err))
		}
		if e.Seq != int64(i+1) {
			check.Problems = append(check.Problems, fmt.Sprintf("entry %d: seq %d out of order", i, e.Seq))
		}
		check.LedgerStock = e.NewStock
	}
	if !check.LedgerStock.Equal(tank.CurrentStock) {
		check.Problems = append(check.Problems, fmt.Sprintf(
			"projection %s != ledger %s", tank.CurrentStock, check.LedgerStock))
	}
	if tank.Version != int64(len(entries)) {
		check.Problems = append(check.Problems, fmt.Sprintf(
			"version %d != %d entries", tank.Version, len(entries)))
	}
	check.Consistent = len(check.Problems) == 0
	return check, nil
}
