package fuel

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRY VALIDATION - Runs before anything is written
// =============================================================================

var validate = newValidator()

// newValidator reports fields by their json name so errors match the wire.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkRequired runs the struct tags of v and maps the first failure to a
// MissingFieldError for kind.
func checkRequired(kind string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return &MissingFieldError{Type: kind, Field: fe.Field()}
		}
		return &FieldError{Field: fe.Field(), Message: fmt.Sprintf("failed %q", fe.Tag())}
	}
	return &FieldError{Field: kind, Message: err.Error()}
}

// SignedEffect returns the stock delta an entry of typ with quantity applies.
func SignedEffect(typ TxType, qty decimal.Decimal) (decimal.Decimal, error) {
	switch typ {
	case TxPurchase, TxDelivery:
		return qty, nil
	case TxSale:
		return qty.Neg(), nil
	case TxAdjustment:
		return qty, nil
	}
	return decimal.Zero, &FieldError{Field: "type", Message: fmt.Sprintf("unknown transaction type %q", typ)}
}

// Validate checks the type-specific required fields and the stock arithmetic
// of an entry. Capacity is checked against the tank by the ledger.
func (e LedgerEntry) Validate() error {
	if e.TankID == "" {
		return &MissingFieldError{Type: string(e.Type), Field: "tank_id"}
	}
	if e.Type == "" {
		return &MissingFieldError{Field: "type"}
	}

	switch e.Type {
	case TxPurchase:
		if e.Purchase == nil {
			return &MissingFieldError{Type: string(e.Type), Field: "purchase"}
		}
		if err := checkRequired(string(e.Type), *e.Purchase); err != nil {
			return err
		}
		if !e.Quantity.IsPositive() {
			return &MissingFieldError{Type: string(e.Type), Field: "quantity"}
		}
		if !e.Purchase.Rate.IsPositive() {
			return &MissingFieldError{Type: string(e.Type), Field: "rate"}
		}
		if !e.Purchase.Value.IsPositive() {
			return &MissingFieldError{Type: string(e.Type), Field: "value"}
		}
	case TxDelivery:
		if !e.Quantity.IsPositive() {
			return &MissingFieldError{Type: string(e.Type), Field: "quantity"}
		}
	case TxSale:
		if e.Sale == nil {
			return &MissingFieldError{Type: string(e.Type), Field: "sale"}
		}
		if err := checkRequired(string(e.Type), *e.Sale); err != nil {
			return err
		}
		if e.Quantity.IsNegative() {
			return &InvalidEntryError{Reason: "sale quantity must not be negative"}
		}
	case TxAdjustment:
		if e.Adjustment == nil {
			return &MissingFieldError{Type: string(e.Type), Field: "reason"}
		}
		if err := checkRequired(string(e.Type), *e.Adjustment); err != nil {
			return err
		}
	default:
		return &FieldError{Field: "type", Message: fmt.Sprintf("unknown transaction type %q", e.Type)}
	}

	if e.PreviousStock.IsNegative() {
		return &InvalidEntryError{Reason: fmt.Sprintf("previous stock %s is negative", e.PreviousStock)}
	}
	if e.NewStock.IsNegative() {
		return &InvalidEntryError{Reason: fmt.Sprintf("new stock %s is negative", e.NewStock)}
	}

	effect, err := SignedEffect(e.Type, e.Quantity)
	if err != nil {
		return err
	}
	if want := e.PreviousStock.Add(effect); !want.Equal(e.NewStock) {
		return &InvalidEntryError{Reason: fmt.Sprintf(
			"new stock %s != previous stock %s + effect %s", e.NewStock, e.PreviousStock, effect)}
	}
	return nil
}
