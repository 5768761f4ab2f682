/*
Package fuel is the stock engine of a retail fuel station.

PURPOSE:
  Tracks how much product each physical tank holds and guarantees that the
  number can always be explained. The engine owns five things:

    - Tank Registry:        static tank config + the cached stock projection
    - Stock Ledger:         append-only history of every stock-affecting event
    - Adjustment Workflow:  Pending -> Approved | Rejected gate for corrections
    - Sale Deduction:       exactly-once deduction for verified sales
    - Reconciliation:       expected vs. reported closing stock

KEY CONCEPTS IN THIS FILE (types.go):
  - FuelType / TankShape: closed sets, validated on input
  - Tank: config + projection (CurrentStock, CurrentLevel, LowStockAlert)
  - LedgerEntry: immutable record with explicit previous/new stock
  - TxType: closed variant; each type carries its own payload and effect
  - Adjustment: operator-proposed correction awaiting a decision
  - Sale: external sale carrying the tank-deducted flag

DESIGN PRINCIPLES:
  1. The ledger is the truth. Tank.CurrentStock is a projection of the last
     ledger entry and is written only by the ledger commit path.
  2. Quantities are decimal.Decimal liters; no floating point.
  3. Every mutation of a tank is serialized per tank and committed together
     with its ledger entry.

SEE ALSO:
  - ledger.go: append + projection
  - adjustment.go: approval workflow
  - sale.go: verified-sale deduction
  - reconciliation.go: discrepancy detection
*/
package fuel

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRODUCT & SHAPE
// =============================================================================

// FuelType is the product held by a tank.
type FuelType string

const (
	FuelPetrol        FuelType = "petrol"
	FuelDiesel        FuelType = "diesel"
	FuelPremiumPetrol FuelType = "premium_petrol"
	FuelKerosene      FuelType = "kerosene"
	FuelCNG           FuelType = "cng"
)

// FuelTypes lists every supported product.
var FuelTypes = []FuelType{FuelPetrol, FuelDiesel, FuelPremiumPetrol, FuelKerosene, FuelCNG}

func (f FuelType) Valid() bool {
	for _, ft := range FuelTypes {
		if f == ft {
			return true
		}
	}
	return false
}

type TankShape string

const (
	ShapeHorizontalCylinder TankShape = "horizontal_cylinder"
	ShapeVerticalCylinder   TankShape = "vertical_cylinder"
	ShapeRectangular        TankShape = "rectangular"
)

func (s TankShape) Valid() bool {
	switch s {
	case ShapeHorizontalCylinder, ShapeVerticalCylinder, ShapeRectangular:
		return true
	}
	return false
}

// =============================================================================
// TANK
// =============================================================================

// Tank is a physical storage tank.
//
// CurrentStock, CurrentLevel, LowStockAlert and Version form the projection.
// They always equal what the most recent ledger entry implies.
type Tank struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Product  FuelType        `json:"product"`
	Capacity decimal.Decimal `json:"capacity"`
	Shape    TankShape       `json:"shape"`
	Active   bool            `json:"active"`

	CurrentStock  decimal.Decimal `json:"current_stock"`
	CurrentLevel  int             `json:"current_level"`
	LowStockAlert bool            `json:"low_stock_alert"`

	// Version counts ledger entries; it is the optimistic-lock token and the
	// sequence number of the last entry.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LevelPercent returns round(stock/capacity*100).
func LevelPercent(stock, capacity decimal.Decimal) int {
	if !capacity.IsPositive() {
		return 0
	}
	return int(stock.Div(capacity).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

// withStock returns the projection after a ledger entry moved the tank to stock.
func (t Tank) withStock(stock decimal.Decimal, alertThreshold int, at time.Time) Tank {
	next := t
	next.CurrentStock = stock
	next.CurrentLevel = LevelPercent(stock, t.Capacity)
	next.LowStockAlert = next.CurrentLevel <= alertThreshold
	next.Version = t.Version + 1
	next.UpdatedAt = at
	return next
}

// TankSpec configures a new tank.
type TankSpec struct {
	Name         string          `json:"name" validate:"required"`
	Product      FuelType        `json:"product" validate:"required"`
	Capacity     decimal.Decimal `json:"capacity"`
	Shape        TankShape       `json:"shape"`
	OpeningStock decimal.Decimal `json:"opening_stock"`
}

type TankFilter struct {
	Product    FuelType
	ActiveOnly bool
}

// =============================================================================
// LEDGER ENTRY - One immutable stock-affecting event
// =============================================================================

type TxType string

const (
	TxPurchase   TxType = "purchase"
	TxSale       TxType = "sale"
	TxAdjustment TxType = "adjustment"
	TxDelivery   TxType = "delivery"
)

// LedgerEntry records one change of a tank's stock.
//
// Quantity is unsigned for purchase, delivery and sale (direction is implied
// by the type) and signed for adjustment.
type LedgerEntry struct {
	ID            string          `json:"id"`
	TankID        string          `json:"tank_id"`
	Seq           int64           `json:"seq"`
	Type          TxType          `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	PreviousStock decimal.Decimal `json:"previous_stock"`
	NewStock      decimal.Decimal `json:"new_stock"`
	Actor         string          `json:"actor"`
	CreatedAt     time.Time       `json:"created_at"`

	Purchase   *PurchaseDetails   `json:"purchase,omitempty"`
	Adjustment *AdjustmentDetails `json:"adjustment,omitempty"`
	Sale       *SaleDetails       `json:"sale,omitempty"`
	Delivery   *DeliveryDetails   `json:"delivery,omitempty"`
}

type PurchaseDetails struct {
	Product       FuelType        `json:"product" validate:"required"`
	Supplier      string          `json:"supplier" validate:"required"`
	InvoiceNumber string          `json:"invoice_number" validate:"required"`
	Rate          decimal.Decimal `json:"rate"`
	Value         decimal.Decimal `json:"value"`
}

type AdjustmentDetails struct {
	Reason         string           `json:"reason" validate:"required"`
	AdjustmentID   string           `json:"adjustment_id,omitempty"`
	AdjustmentType AdjustmentType   `json:"adjustment_type,omitempty"`
	DipReading     *decimal.Decimal `json:"dip_reading,omitempty"`
	ProposedStock  decimal.Decimal  `json:"proposed_stock"`
}

type SaleDetails struct {
	SaleID          string          `json:"sale_id" validate:"required"`
	RequestedLiters decimal.Decimal `json:"requested_liters"`
	Clamped         bool            `json:"clamped"`
}

type DeliveryDetails struct {
	Reference string `json:"reference,omitempty"`
}

// =============================================================================
// ADJUSTMENT PROPOSAL
// =============================================================================

type AdjustmentType string

const (
	AdjustAddition    AdjustmentType = "addition"
	AdjustDeduction   AdjustmentType = "deduction"
	AdjustCalibration AdjustmentType = "calibration"
	AdjustDailyUpdate AdjustmentType = "daily_update"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustAddition, AdjustDeduction, AdjustCalibration, AdjustDailyUpdate:
		return true
	}
	return false
}

// Absolute reports whether the quantity is the new stock rather than a delta.
func (t AdjustmentType) Absolute() bool {
	return t == AdjustCalibration || t == AdjustDailyUpdate
}

type AdjustmentStatus string

const (
	AdjustmentPending  AdjustmentStatus = "pending"
	AdjustmentApproved AdjustmentStatus = "approved"
	AdjustmentRejected AdjustmentStatus = "rejected"
)

func (s AdjustmentStatus) Terminal() bool {
	return s == AdjustmentApproved || s == AdjustmentRejected
}

// Adjustment is a proposed correction. It has no effect on stock until approved.
type Adjustment struct {
	ID            string           `json:"id"`
	TankID        string           `json:"tank_id"`
	Type          AdjustmentType   `json:"type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Reason        string           `json:"reason"`
	DipReading    *decimal.Decimal `json:"dip_reading,omitempty"`
	ProposedBy    string           `json:"proposed_by"`
	PreviousStock decimal.Decimal  `json:"previous_stock"`
	TargetStock   decimal.Decimal  `json:"target_stock"`

	Status        AdjustmentStatus `json:"status"`
	DecidedBy     string           `json:"decided_by,omitempty"`
	DecisionNotes string           `json:"decision_notes,omitempty"`
	DecidedAt     *time.Time       `json:"decided_at,omitempty"`

	// Materialized is set in the same transaction that writes the ledger entry.
	Materialized  bool   `json:"materialized"`
	LedgerEntryID string `json:"ledger_entry_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AdjustmentFilter struct {
	TankID string
	Status AdjustmentStatus
}

// =============================================================================
// SALE (external entity, referenced)
// =============================================================================

type SaleStatus string

const (
	SalePending  SaleStatus = "pending"
	SaleVerified SaleStatus = "verified"
	SaleRejected SaleStatus = "rejected"
)

type Sale struct {
	ID           string          `json:"id"`
	FuelType     FuelType        `json:"fuel_type"`
	Liters       decimal.Decimal `json:"liters"`
	Status       SaleStatus      `json:"status"`
	TankDeducted bool            `json:"tank_deducted"`
	TankID       string          `json:"tank_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// =============================================================================
// CLOSING READING - Operator-reported actual stock
// =============================================================================

type Reading struct {
	ID         string           `json:"id"`
	TankID     string           `json:"tank_id"`
	Volume     decimal.Decimal  `json:"volume"`
	DipMM      *decimal.Decimal `json:"dip_mm,omitempty"`
	RecordedBy string           `json:"recorded_by"`
	RecordedAt time.Time        `json:"recorded_at"`
	Notes      string           `json:"notes,omitempty"`
}
