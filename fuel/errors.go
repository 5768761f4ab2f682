/*
errors.go - Error kinds of the stock engine

ERROR CATEGORIES:
  1. Validation   - rejected before any write (missing field, bad entry,
                    capacity, insufficient stock)
  2. State        - AlreadyProcessed, SaleNotVerified, TankInactive
  3. Lookup       - TankNotFound, AdjustmentNotFound, SaleNotFound
  4. Concurrency  - ConcurrentModification (retry signal)
  5. Persistence  - storage failure, always surfaced on stock paths

Every rejected mutation returns one of these with the offending field or
condition attached; callers branch with errors.Is / errors.As.
*/
package fuel

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/fuelstock/calibration"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation             = errors.New("validation failed")
	ErrMissingField           = errors.New("missing required field")
	ErrInvalidEntry           = errors.New("invalid ledger entry")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrAlreadyProcessed       = errors.New("already processed")
	ErrTankNotFound           = errors.New("tank not found")
	ErrTankInactive           = errors.New("tank is inactive")
	ErrDuplicateTank          = errors.New("tank name already exists")
	ErrAdjustmentNotFound     = errors.New("adjustment not found")
	ErrSaleNotFound           = errors.New("sale not found")
	ErrSaleNotVerified        = errors.New("sale not verified")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrPersistence            = errors.New("persistence failure")

	ErrNoCalibrationData    = calibration.ErrNoCalibrationData
	ErrEmptyCalibrationData = calibration.ErrEmptyCalibrationData
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MissingFieldError names the required field that was absent.
type MissingFieldError struct {
	Type  string
	Field string
}

func (e *MissingFieldError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("missing required field: %s", e.Field)
	}
	return fmt.Sprintf("missing required field for %s: %s", e.Type, e.Field)
}

func (e *MissingFieldError) Unwrap() error        { return ErrMissingField }
func (e *MissingFieldError) Is(target error) bool { return target == ErrValidation }

// InvalidEntryError describes which ledger invariant an entry broke.
type InvalidEntryError struct {
	Reason string
}

func (e *InvalidEntryError) Error() string        { return "invalid ledger entry: " + e.Reason }
func (e *InvalidEntryError) Unwrap() error        { return ErrInvalidEntry }
func (e *InvalidEntryError) Is(target error) bool { return target == ErrValidation }

// FieldError is a generic invalid-input error for a named field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Message) }
func (e *FieldError) Unwrap() error { return ErrValidation }

type CapacityError struct {
	TankID    string
	Capacity  decimal.Decimal
	Requested decimal.Decimal
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded on tank %s: resulting stock %s > capacity %s",
		e.TankID, e.Requested, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

type InsufficientStockError struct {
	TankID    string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock on tank %s: available %s, requested %s",
		e.TankID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type AlreadyProcessedError struct {
	Kind   string
	ID     string
	Status string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("%s %s already processed (status %s)", e.Kind, e.ID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error { return ErrAlreadyProcessed }

// TankNotFoundError is returned when a tank lookup by id or product fails.
type TankNotFoundError struct {
	TankID  string
	Product FuelType
	Matches int
}

func (e *TankNotFoundError) Error() string {
	if e.TankID != "" {
		return fmt.Sprintf("tank not found: %s", e.TankID)
	}
	if e.Matches > 1 {
		return fmt.Sprintf("tank not found: %d active tanks hold %s, expected exactly one", e.Matches, e.Product)
	}
	return fmt.Sprintf("tank not found: no active tank holds %s", e.Product)
}

func (e *TankNotFoundError) Unwrap() error { return ErrTankNotFound }

// PersistenceError wraps a storage-layer failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string   { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrNoCalibrationData) ||
		errors.Is(err, ErrEmptyCalibrationData) ||
		errors.Is(err, calibration.ErrInvalidDip) ||
		errors.Is(err, ErrSaleNotVerified) ||
		errors.Is(err, ErrTankInactive)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTankNotFound) ||
		errors.Is(err, ErrAdjustmentNotFound) ||
		errors.Is(err, ErrSaleNotFound)
}

// IsConflict returns true for state conflicts the caller cannot fix by retrying input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrDuplicateTank)
}
