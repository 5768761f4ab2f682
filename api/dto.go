/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  validator tags and are checked before anything reaches the engine; the
  engine re-checks its own invariants.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers
  - Domain types (fuel.Tank, fuel.LedgerEntry, ...) are returned as-is;
    their json tags are the wire contract.

VALIDATION:
  RequestValidator wraps go-playground/validator with English messages keyed
  by json field name. A failed request answers 400 with
  {"error": "Validation failed", "code": "validation", "details": {field: message}}.

SEE ALSO:
  - handlers.go: Uses these types
  - fuel/types.go: Domain types
*/
package api

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/shopspring/decimal"

	"github.com/warp/fuelstock/calibration"
	"github.com/warp/fuelstock/fuel"
)

// =============================================================================
// TANKS
// =============================================================================

type CreateTankRequest struct {
	Name         string          `json:"name" validate:"required,max=100"`
	Product      fuel.FuelType   `json:"product" validate:"required,fuel_type"`
	Capacity     decimal.Decimal `json:"capacity"`
	Shape        fuel.TankShape  `json:"shape,omitempty" validate:"omitempty,oneof=horizontal_cylinder vertical_cylinder rectangular"`
	OpeningStock decimal.Decimal `json:"opening_stock"`
}

func (r CreateTankRequest) spec() fuel.TankSpec {
	return fuel.TankSpec{
		Name:         strings.TrimSpace(r.Name),
		Product:      r.Product,
		Capacity:     r.Capacity,
		Shape:        r.Shape,
		OpeningStock: r.OpeningStock,
	}
}

// PurchaseRequest records fuel bought from a supplier. Product defaults to the tank's.
type PurchaseRequest struct {
	Product       fuel.FuelType   `json:"product,omitempty" validate:"omitempty,fuel_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Rate          decimal.Decimal `json:"rate"`
	Value         decimal.Decimal `json:"value"`
	Supplier      string          `json:"supplier" validate:"required"`
	InvoiceNumber string          `json:"invoice_number" validate:"required"`
}

type DeliveryRequest struct {
	Quantity  decimal.Decimal `json:"quantity"`
	Reference string          `json:"reference,omitempty"`
}

// LedgerResponse is returned by every write that appends a ledger entry.
type LedgerResponse struct {
	Entry fuel.LedgerEntry `json:"entry"`
	Tank  fuel.Tank        `json:"tank"`
}

// =============================================================================
// CALIBRATION
// =============================================================================

// CalibrationUploadRequest is the JSON form of a chart upload. CSV and XLSX
// bodies are parsed into the same rows.
type CalibrationUploadRequest struct {
	Rows []calibration.Row `json:"rows" validate:"required,min=1"`
}

type CalibrationPointRequest struct {
	DipMM  decimal.Decimal `json:"dip_mm"`
	Volume decimal.Decimal `json:"volume"`
}

type CalibrationResponse struct {
	TankID string            `json:"tank_id"`
	Points int               `json:"points"`
	Table  calibration.Table `json:"table"`
}

// =============================================================================
// READINGS, ADJUSTMENTS, SALES
// =============================================================================

// ReadingRequest is a closing stock reading. Either volume or dip_mm is required.
type ReadingRequest struct {
	Volume     *decimal.Decimal `json:"volume,omitempty" validate:"required_without=DipMM"`
	DipMM      *decimal.Decimal `json:"dip_mm,omitempty"`
	RecordedAt *time.Time       `json:"recorded_at,omitempty"`
	Notes      string           `json:"notes,omitempty" validate:"max=500"`
}

type ProposeAdjustmentRequest struct {
	TankID     string              `json:"tank_id" validate:"required"`
	Type       fuel.AdjustmentType `json:"type" validate:"required,oneof=addition deduction calibration daily_update"`
	Quantity   *decimal.Decimal    `json:"quantity,omitempty"`
	Reason     string              `json:"reason" validate:"required,max=500"`
	DipReading *decimal.Decimal    `json:"dip_reading,omitempty"`
}

// DecisionRequest approves or rejects a pending adjustment.
type DecisionRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Notes    string `json:"notes,omitempty" validate:"max=500"`
}

type RegisterSaleRequest struct {
	ID       string          `json:"id,omitempty"`
	FuelType fuel.FuelType   `json:"fuel_type" validate:"required,fuel_type"`
	Liters   decimal.Decimal `json:"liters"`
}

type SaleResponse struct {
	SaleID string    `json:"sale_id"`
	Tank   fuel.Tank `json:"tank"`
}

// =============================================================================
// MISC RESPONSES
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// RequestValidator checks request DTOs and renders failures in English.
type RequestValidator struct {
	validate *validator.Validate
	trans    ut.Translator
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	locale := en.New()
	trans, _ := ut.New(locale, locale).GetTranslator("en")
	_ = entranslations.RegisterDefaultTranslations(v, trans)

	_ = v.RegisterValidation("fuel_type", func(fl validator.FieldLevel) bool {
		return fuel.FuelType(fl.Field().String()).Valid()
	})
	products := make([]string, len(fuel.FuelTypes))
	for i, ft := range fuel.FuelTypes {
		products[i] = string(ft)
	}
	_ = v.RegisterTranslation("fuel_type", trans, func(t ut.Translator) error {
		return t.Add("fuel_type", "{0} must be one of "+strings.Join(products, ", "), true)
	}, func(t ut.Translator, fe validator.FieldError) string {
		msg, _ := t.T("fuel_type", fe.Field())
		return msg
	})

	return &RequestValidator{validate: v, trans: trans}
}

// Check returns nil when v is valid, else a message per json field.
func (rv *RequestValidator) Check(v any) map[string]string {
	err := rv.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"request": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Translate(rv.trans)
	}
	return out
}
