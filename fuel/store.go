/*
store.go - Persistence contracts for the stock engine

PURPOSE:
  Typed repositories injected into the engine at construction. There is no
  global model registry: every component receives the Store it needs.

KEY INTERFACES:
  Store:    tanks, ledger, adjustments, sales, calibration, readings
  TxStore:  Store + WithTx for multi-record atomic commit
  Notifier: notification sink (low stock, discrepancies)
  AuditLog: compliance trail, independent of the ledger

APPEND-ONLY CONTRACT:
  LedgerStore has InsertEntry and reads. No Update, no Delete. Corrections
  are new entries.

CONDITIONAL WRITES:
  SaveProjection, TransitionAdjustment and MarkSaleDeducted are
  compare-and-set operations. They fail with ErrConcurrentModification or
  ErrAlreadyProcessed when the row moved since it was read, so two writers
  can never both win.

IMPLEMENTATIONS:
  - fuel/store/memory.go: in-memory, snapshot + rollback transactions
  - store/sqldb: SQLite and PostgreSQL through database/sql
*/
package fuel

import (
	"context"
	"time"

	"github.com/warp/fuelstock/calibration"
)

// =============================================================================
// STORE - Typed repositories
// =============================================================================

type TankStore interface {
	// CreateTank fails with ErrDuplicateTank if the name is taken.
	CreateTank(ctx context.Context, tank Tank) error

	// GetTank fails with ErrTankNotFound.
	GetTank(ctx context.Context, id string) (Tank, error)

	ListTanks(ctx context.Context, filter TankFilter) ([]Tank, error)

	// SaveProjection writes the live stock fields of tank if the stored
	// version still equals expectedVersion, else ErrConcurrentModification.
	SaveProjection(ctx context.Context, tank Tank, expectedVersion int64) error

	SetTankActive(ctx context.Context, id string, active bool, at time.Time) error
}

type LedgerStore interface {
	// InsertEntry appends an entry. (TankID, Seq) is unique; a clash means
	// another writer got there first and yields ErrConcurrentModification.
	InsertEntry(ctx context.Context, entry LedgerEntry) error

	// Entries returns the tank's entries ordered by Seq. Zero bounds are open.
	Entries(ctx context.Context, tankID string, from, to time.Time) ([]LedgerEntry, error)

	// LastEntryBefore returns the newest entry created strictly before t, or nil.
	// A zero t returns the newest entry overall.
	LastEntryBefore(ctx context.Context, tankID string, t time.Time) (*LedgerEntry, error)
}

type AdjustmentStore interface {
	CreateAdjustment(ctx context.Context, a Adjustment) error

	// GetAdjustment fails with ErrAdjustmentNotFound.
	GetAdjustment(ctx context.Context, id string) (Adjustment, error)

	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error)

	// TransitionAdjustment stores a's decision fields if the stored status
	// equals from, else ErrAlreadyProcessed.
	TransitionAdjustment(ctx context.Context, a Adjustment, from AdjustmentStatus) error
}

type SaleStore interface {
	CreateSale(ctx context.Context, s Sale) error

	// GetSale fails with ErrSaleNotFound.
	GetSale(ctx context.Context, id string) (Sale, error)

	SetSaleStatus(ctx context.Context, id string, status SaleStatus) error

	// MarkSaleDeducted sets tank_deducted and the tank link if the flag is
	// still false, else ErrAlreadyProcessed.
	MarkSaleDeducted(ctx context.Context, id string, tankID string) error
}

type CalibrationStore interface {
	CalibrationPoints(ctx context.Context, tankID string) (calibration.Table, error)
	ReplaceCalibration(ctx context.Context, tankID string, table calibration.Table) error
}

type ReadingStore interface {
	InsertReading(ctx context.Context, r Reading) error

	// LatestReading returns the newest reading recorded in [from, asOf], or nil.
	LatestReading(ctx context.Context, tankID string, from, asOf time.Time) (*Reading, error)
}

// Store bundles every repository the engine reads and writes.
type Store interface {
	TankStore
	LedgerStore
	AdjustmentStore
	SaleStore
	CalibrationStore
	ReadingStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error (or ctx is cancelled), nothing fn wrote is kept.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// NOTIFICATIONS - Best-effort sink, never blocks stock operations
// =============================================================================

type NotificationType string

const (
	NotifyLowStock       NotificationType = "low_stock"
	NotifyStockRecovered NotificationType = "stock_recovered"
	NotifyDiscrepancy    NotificationType = "discrepancy"
	NotifySaleClamped    NotificationType = "sale_clamped"
)

type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationResolved NotificationStatus = "resolved"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Notification struct {
	ID          string             `json:"id"`
	Type        NotificationType   `json:"type"`
	Product     FuelType           `json:"product"`
	TankID      string             `json:"tank_id,omitempty"`
	Description string             `json:"description"`
	Priority    Priority           `json:"priority"`
	Status      NotificationStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

type NotificationFilter struct {
	Type    NotificationType
	Product FuelType
	Status  NotificationStatus
	Limit   int
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error

	// HasUnread reports whether an unread notification of the type exists for the product.
	HasUnread(ctx context.Context, typ NotificationType, product FuelType) (bool, error)

	// Resolve marks unread notifications of the type for the product resolved.
	Resolve(ctx context.Context, typ NotificationType, product FuelType) (int, error)

	ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)
}
