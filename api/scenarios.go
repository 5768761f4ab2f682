/*
scenarios.go - Demo station loaders for development and demonstrations

PURPOSE:
  Provides pre-built station states that populate the database through the
  engine itself, so every demo tank has a real ledger behind its stock.

AVAILABLE SCENARIOS:
  single-tank:   One petrol tank, a purchase, a verified sale, a clean closing
  low-stock:     Diesel tank below the alert threshold, then refilled
  discrepancy:   Closing reading 250 L short with a pending correction
  calibrated:    Tank with a dip chart and a dip-based closing reading

HOW SCENARIOS WORK:
  1. Reset database (clear all data)
  2. Create tanks (opening stock becomes a delivery entry)
  3. Run purchases, sales, readings and adjustments through fuel.Engine

USAGE VIA API (only routed when resets are allowed):
  POST /api/scenarios/load
  {"scenario_id": "discrepancy"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - server.go: route registration
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/fuelstock/calibration"
	"github.com/warp/fuelstock/fuel"
)

const scenarioActor = "demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-tank",
		Name:        "Single Tank",
		Description: "Petrol tank with a purchase, a verified sale and a matching closing reading",
		Category:    "ledger",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Diesel tank drops under the alert threshold and is refilled past recovery",
		Category:    "alerts",
	},
	{
		ID:          "discrepancy",
		Name:        "Discrepancy",
		Description: "Closing reading 250 L under the ledger with a pending deduction adjustment",
		Category:    "reconciliation",
	},
	{
		ID:          "calibrated",
		Name:        "Calibrated Tank",
		Description: "Horizontal tank with a dip chart; closing stock recorded as a dip",
		Category:    "calibration",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"single-tank": (*Handler).loadSingleTankScenario,
	"low-stock":   (*Handler).loadLowStockScenario,
	"discrepancy": (*Handler).loadDiscrepancyScenario,
	"calibrated":  (*Handler).loadCalibratedScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("%q", req.ScenarioID))
		return
	}
	if h.Admin == nil {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Admin.Reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSingleTankScenario(ctx context.Context) error {
	e := h.Engine
	tank, err := e.Tanks.CreateTank(ctx, fuel.TankSpec{
		Name:         "Petrol 1",
		Product:      fuel.FuelPetrol,
		Capacity:     decimal.NewFromInt(10000),
		Shape:        fuel.ShapeHorizontalCylinder,
		OpeningStock: decimal.NewFromInt(6000),
	}, scenarioActor)
	if err != nil {
		return err
	}

	if _, _, err := e.Ledger.RecordPurchase(ctx, fuel.PurchaseInput{
		TankID:        tank.ID,
		Quantity:      decimal.NewFromInt(2000),
		Rate:          decimal.RequireFromString("1.42"),
		Value:         decimal.RequireFromString("2840"),
		Supplier:      "Northern Fuels",
		InvoiceNumber: "NF-1001",
		Actor:         scenarioActor,
	}); err != nil {
		return err
	}

	sale, err := e.Sales.RegisterSale(ctx, fuel.SaleInput{FuelType: fuel.FuelPetrol, Liters: decimal.NewFromInt(500)})
	if err != nil {
		return err
	}
	tank, err = e.Sales.VerifySale(ctx, sale.ID, scenarioActor)
	if err != nil {
		return err
	}

	_, err = e.Reconciliation.RecordClosingReading(ctx, fuel.ReadingInput{
		TankID: tank.ID,
		Volume: &tank.CurrentStock,
		Notes:  "end of shift",
		Actor:  scenarioActor,
	})
	return err
}

func (h *Handler) loadLowStockScenario(ctx context.Context) error {
	e := h.Engine
	tank, err := e.Tanks.CreateTank(ctx, fuel.TankSpec{
		Name:         "Diesel 1",
		Product:      fuel.FuelDiesel,
		Capacity:     decimal.NewFromInt(8000),
		Shape:        fuel.ShapeVerticalCylinder,
		OpeningStock: decimal.NewFromInt(2000),
	}, scenarioActor)
	if err != nil {
		return err
	}

	// 2000 -> 1200 (15%) raises low_stock.
	sale, err := e.Sales.RegisterSale(ctx, fuel.SaleInput{FuelType: fuel.FuelDiesel, Liters: decimal.NewFromInt(800)})
	if err != nil {
		return err
	}
	if _, err := e.Sales.VerifySale(ctx, sale.ID, scenarioActor); err != nil {
		return err
	}

	// 1200 -> 3200 (40%) resolves it.
	_, _, err = e.Ledger.RecordDelivery(ctx, fuel.DeliveryInput{
		TankID:    tank.ID,
		Quantity:  decimal.NewFromInt(2000),
		Reference: "truck 7",
		Actor:     scenarioActor,
	})
	return err
}

func (h *Handler) loadDiscrepancyScenario(ctx context.Context) error {
	e := h.Engine
	tank, err := e.Tanks.CreateTank(ctx, fuel.TankSpec{
		Name:         "Petrol 2",
		Product:      fuel.FuelPetrol,
		Capacity:     decimal.NewFromInt(12000),
		Shape:        fuel.ShapeHorizontalCylinder,
		OpeningStock: decimal.NewFromInt(9000),
	}, scenarioActor)
	if err != nil {
		return err
	}

	actual := tank.CurrentStock.Sub(decimal.NewFromInt(250))
	if _, err := e.Reconciliation.RecordClosingReading(ctx, fuel.ReadingInput{
		TankID: tank.ID,
		Volume: &actual,
		Notes:  "suspected leak",
		Actor:  scenarioActor,
	}); err != nil {
		return err
	}

	qty := decimal.NewFromInt(250)
	_, err = e.Adjustments.Propose(ctx, fuel.ProposeInput{
		TankID:   tank.ID,
		Type:     fuel.AdjustDeduction,
		Quantity: &qty,
		Reason:   "closing dip 250 L under ledger",
		Actor:    scenarioActor,
	})
	return err
}

func (h *Handler) loadCalibratedScenario(ctx context.Context) error {
	e := h.Engine
	tank, err := e.Tanks.CreateTank(ctx, fuel.TankSpec{
		Name:         "Premium 1",
		Product:      fuel.FuelPremiumPetrol,
		Capacity:     decimal.NewFromInt(5000),
		Shape:        fuel.ShapeHorizontalCylinder,
		OpeningStock: decimal.NewFromInt(2500),
	}, scenarioActor)
	if err != nil {
		return err
	}

	rows := []calibration.Row{
		{Dip: "0", Volume: "0"},
		{Dip: "500", Volume: "1100"},
		{Dip: "1000", Volume: "2500"},
		{Dip: "1500", Volume: "3900"},
		{Dip: "2000", Volume: "5000"},
	}
	if _, err := e.Calibration.UploadCalibrationTable(ctx, tank.ID, rows, scenarioActor); err != nil {
		return err
	}

	dip := decimal.NewFromInt(1000)
	_, err = e.Reconciliation.RecordClosingReading(ctx, fuel.ReadingInput{
		TankID: tank.ID,
		DipMM:  &dip,
		Notes:  "dip stick",
		Actor:  scenarioActor,
	})
	return err
}
