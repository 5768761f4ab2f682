/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Tank lifecycle, stock in, ledger and projection check
- Request validation and error codes
- Adjustment approval, sale deduction idempotency
- Calibration uploads (JSON, CSV)
- Discrepancy report and notifications
- Demo scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuelstock/calibration"
	"github.com/warp/fuelstock/fuel"
	"github.com/warp/fuelstock/store/sqldb"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testAPI struct {
	router  *chi.Mux
	handler *Handler
	store   *sqldb.Store
}

func newTestAPI(t *testing.T, opts RouterOptions) *testAPI {
	t.Helper()
	st, err := sqldb.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng, err := fuel.NewEngine(fuel.Options{Store: st, Notifications: st, Audit: st})
	require.NoError(t, err)

	h := NewHandler(eng, st, nil)
	return &testAPI{router: NewRouter(h, opts), handler: h, store: st}
}

// do sends a JSON request as actor ("" sends no actor header).
func (a *testAPI) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		rdr = jsonReader(t, body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func jsonReader(t *testing.T, body any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func (a *testAPI) createTank(t *testing.T, name string, product fuel.FuelType, capacity, opening string) fuel.Tank {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/tanks", "op-1", map[string]any{
		"name":          name,
		"product":       product,
		"capacity":      capacity,
		"opening_stock": opening,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[fuel.Tank](t, rec)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertStock(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "stock: want %s, got %s", want, got)
}

// =============================================================================
// TANKS & LEDGER
// =============================================================================

func TestTankLifecycle_PurchaseLedgerAndVerify(t *testing.T) {
	// GIVEN: A petrol tank opened with 1000 L
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Petrol 1", fuel.FuelPetrol, "10000", "1000")
	assertStock(t, "1000", tank.CurrentStock)
	assert.Equal(t, 10, tank.CurrentLevel)

	// WHEN: A 500 L purchase is recorded
	rec := a.do(t, http.MethodPost, "/api/tanks/"+tank.ID+"/purchases", "op-1", map[string]any{
		"quantity":       "500",
		"rate":           "1.40",
		"value":          "700",
		"supplier":       "Northern Fuels",
		"invoice_number": "NF-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[LedgerResponse](t, rec)

	// THEN: The entry and the projection agree
	assert.Equal(t, fuel.TxPurchase, resp.Entry.Type)
	assertStock(t, "1000", resp.Entry.PreviousStock)
	assertStock(t, "1500", resp.Entry.NewStock)
	assertStock(t, "1500", resp.Tank.CurrentStock)
	assert.Equal(t, "op-1", resp.Entry.Actor)

	rec = a.do(t, http.MethodGet, "/api/tanks/"+tank.ID+"/ledger", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]fuel.LedgerEntry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, fuel.TxDelivery, entries[0].Type)
	assert.Equal(t, "opening-stock", entries[0].Delivery.Reference)

	rec = a.do(t, http.MethodGet, "/api/tanks/"+tank.ID+"/verify", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decodeBody[fuel.ProjectionCheck](t, rec)
	assert.True(t, check.Consistent, check.Problems)
	assert.Equal(t, 2, check.Entries)
}

func TestListTanks_FiltersByProduct(t *testing.T) {
	// GIVEN: One petrol and one diesel tank
	a := newTestAPI(t, RouterOptions{})
	a.createTank(t, "Petrol 1", fuel.FuelPetrol, "10000", "0")
	a.createTank(t, "Diesel 1", fuel.FuelDiesel, "10000", "0")

	// WHEN/THEN: Listing by product returns only that product
	rec := a.do(t, http.MethodGet, "/api/tanks?product=diesel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tanks := decodeBody[[]fuel.Tank](t, rec)
	require.Len(t, tanks, 1)
	assert.Equal(t, "Diesel 1", tanks[0].Name)

	rec = a.do(t, http.MethodGet, "/api/tanks?product=jet_a1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeactivateTank_RefusesWrites(t *testing.T) {
	// GIVEN: A deactivated tank
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Petrol 1", fuel.FuelPetrol, "10000", "1000")
	rec := a.do(t, http.MethodDelete, "/api/tanks/"+tank.ID, "op-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[fuel.Tank](t, rec).Active)

	// WHEN: A delivery targets it
	rec = a.do(t, http.MethodPost, "/api/tanks/"+tank.ID+"/deliveries", "op-1", map[string]any{"quantity": "10"})

	// THEN: 422 tank_inactive
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "tank_inactive", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCreateTank_ValidationDetails(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(t, http.MethodPost, "/api/tanks", "op-1", map[string]any{
		"product":  "jet_a1",
		"capacity": "100",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp.Code)
	assert.Contains(t, resp.Details, "name")
	assert.Contains(t, resp.Details["product"], "petrol")
}

func TestPurchase_CapacityExceeded(t *testing.T) {
	// GIVEN: A 1000 L tank holding 900 L
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Small", fuel.FuelKerosene, "1000", "900")

	// WHEN: 200 L more arrives
	rec := a.do(t, http.MethodPost, "/api/tanks/"+tank.ID+"/purchases", "op-1", map[string]any{
		"quantity":       "200",
		"rate":           "1.40",
		"value":          "280",
		"supplier":       "Northern Fuels",
		"invoice_number": "NF-2",
	})

	// THEN: 422 and the stock is untouched
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "capacity_exceeded", decodeBody[ErrorResponse](t, rec).Code)

	rec = a.do(t, http.MethodGet, "/api/tanks/"+tank.ID, "", nil)
	assertStock(t, "900", decodeBody[fuel.Tank](t, rec).CurrentStock)
}

func TestGetTank_NotFound(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(t, http.MethodGet, "/api/tanks/tnk_missing", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)
}

func TestWrites_RequireActor(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(t, http.MethodPost, "/api/tanks", "", map[string]any{"name": "x", "product": "petrol", "capacity": "1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/tanks", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// ADJUSTMENTS & SALES
// =============================================================================

func TestAdjustment_ProposeApproveOnce(t *testing.T) {
	// GIVEN: A tank at 1000 L and a pending 100 L deduction
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Petrol 1", fuel.FuelPetrol, "10000", "1000")

	rec := a.do(t, http.MethodPost, "/api/adjustments", "op-1", map[string]any{
		"tank_id":  tank.ID,
		"type":     "deduction",
		"quantity": "100",
		"reason":   "evaporation",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	adj := decodeBody[fuel.Adjustment](t, rec)
	assert.Equal(t, fuel.AdjustmentPending, adj.Status)
	assert.Equal(t, "op-1", adj.ProposedBy)

	rec = a.do(t, http.MethodGet, "/api/adjustments/pending?tank_id="+tank.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]fuel.Adjustment](t, rec), 1)

	// WHEN: A manager approves it
	rec = a.do(t, http.MethodPost, "/api/adjustments/"+adj.ID+"/decision", "mgr-1", map[string]any{"approved": true, "notes": "ok"})

	// THEN: The stock moves once
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decided := decodeBody[fuel.Adjustment](t, rec)
	assert.Equal(t, fuel.AdjustmentApproved, decided.Status)
	assert.Equal(t, "mgr-1", decided.DecidedBy)
	assert.True(t, decided.Materialized)

	rec = a.do(t, http.MethodGet, "/api/tanks/"+tank.ID, "", nil)
	assertStock(t, "900", decodeBody[fuel.Tank](t, rec).CurrentStock)

	// AND: A second decision is a conflict
	rec = a.do(t, http.MethodPost, "/api/adjustments/"+adj.ID+"/decision", "mgr-1", map[string]any{"approved": false})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_processed", decodeBody[ErrorResponse](t, rec).Code)
}

func TestDecision_RequiresApprovedFlag(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(t, http.MethodPost, "/api/adjustments/adj_x/decision", "mgr-1", map[string]any{"notes": "?"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeBody[ErrorResponse](t, rec).Code)
}

func TestSale_VerifyDeductsExactlyOnce(t *testing.T) {
	// GIVEN: A petrol tank at 1000 L and an unverified 300 L sale
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Petrol 1", fuel.FuelPetrol, "10000", "1000")

	rec := a.do(t, http.MethodPost, "/api/sales", "pos", map[string]any{"fuel_type": "petrol", "liters": "300"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeBody[fuel.Sale](t, rec)

	// WHEN: Deduction is requested before verification
	rec = a.do(t, http.MethodPost, "/api/sales/"+sale.ID+"/deduct", "pos", nil)

	// THEN: 422 sale_not_verified
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "sale_not_verified", decodeBody[ErrorResponse](t, rec).Code)

	// WHEN: Verified, then deducted again
	rec = a.do(t, http.MethodPost, "/api/sales/"+sale.ID+"/verify", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertStock(t, "700", decodeBody[SaleResponse](t, rec).Tank.CurrentStock)

	rec = a.do(t, http.MethodPost, "/api/sales/"+sale.ID+"/deduct", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: Only one sale entry exists
	assertStock(t, "700", decodeBody[SaleResponse](t, rec).Tank.CurrentStock)
	rec = a.do(t, http.MethodGet, "/api/tanks/"+tank.ID+"/ledger", "", nil)
	assert.Len(t, decodeBody[[]fuel.LedgerEntry](t, rec), 2)
}

// =============================================================================
// CALIBRATION
// =============================================================================

func TestCalibrationUpload_CSVThenVolume(t *testing.T) {
	// GIVEN: A tank and a CSV chart with a header line
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Premium 1", fuel.FuelPremiumPetrol, "4000", "0")

	req := httptest.NewRequest(http.MethodPost, "/api/tanks/"+tank.ID+"/calibration",
		strings.NewReader("dip,volume\n0,0\n1000,2000\n2000,4000\n"))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set(ActorHeader, "op-1")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	// THEN: Three points are stored
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decodeBody[CalibrationResponse](t, rec).Points)

	// AND: A dip between points interpolates
	rec = a.do(t, http.MethodGet, "/api/tanks/"+tank.ID+"/volume?dip=500", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[calibration.Result](t, rec)
	assertStock(t, "1000", res.Volume)
	assertStock(t, "25", res.RemainingPercentage)
}

func TestCalibrationUpload_JSONRowsAndPoint(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Diesel 1", fuel.FuelDiesel, "4000", "0")

	rec := a.do(t, http.MethodPost, "/api/tanks/"+tank.ID+"/calibration", "op-1", map[string]any{"rows": []map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/tanks/"+tank.ID+"/calibration", "op-1", map[string]any{
		"rows": []map[string]string{{"dip": "abc", "volume": "x"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "empty_calibration_data", decodeBody[ErrorResponse](t, rec).Code)

	rec = a.do(t, http.MethodPut, "/api/tanks/"+tank.ID+"/calibration/points", "op-1", map[string]any{
		"dip_mm": "100",
		"volume": "250",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBody[CalibrationResponse](t, rec).Points)
}

func TestCalculateVolume_NoChart(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Diesel 1", fuel.FuelDiesel, "4000", "0")

	rec := a.do(t, http.MethodGet, "/api/tanks/"+tank.ID+"/volume?dip=10", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_calibration_data", decodeBody[ErrorResponse](t, rec).Code)

	rec = a.do(t, http.MethodGet, "/api/tanks/"+tank.ID+"/volume", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestDiscrepancies_ReadingShortOfLedger(t *testing.T) {
	// GIVEN: A petrol tank at 1000 L and a closing reading of 700 L
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Petrol 1", fuel.FuelPetrol, "10000", "1000")

	rec := a.do(t, http.MethodPost, "/api/tanks/"+tank.ID+"/readings", "op-1", map[string]any{"volume": "700"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: Discrepancies are requested
	rec = a.do(t, http.MethodGet, "/api/reconciliation/petrol/discrepancies", "", nil)

	// THEN: One High discrepancy of -300 L
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[fuel.DiscrepancyReport](t, rec)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, fuel.SeverityHigh, report.Discrepancies[0].Severity)
	assertStock(t, "-300", report.Discrepancies[0].Difference)

	// AND: Expected stock for the product is the ledger's 1000 L
	rec = a.do(t, http.MethodGet, "/api/reconciliation/petrol/expected", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertStock(t, "1000", decodeBody[fuel.Expected](t, rec).Closing)
}

func TestReading_RequiresVolumeOrDip(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Petrol 1", fuel.FuelPetrol, "10000", "1000")

	rec := a.do(t, http.MethodPost, "/api/tanks/"+tank.ID+"/readings", "op-1", map[string]any{"notes": "forgot"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpected_InvalidRange(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(t, http.MethodGet, "/api/reconciliation/petrol/expected?from=2025-03-10&to=2025-03-01", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/reconciliation/jet_a1/expected", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduler_ScanRaisesOneAlertPerProduct(t *testing.T) {
	// GIVEN: Two petrol tanks both off by more than the tolerance
	a := newTestAPI(t, RouterOptions{})
	for _, name := range []string{"Petrol 1", "Petrol 2"} {
		tank := a.createTank(t, name, fuel.FuelPetrol, "10000", "1000")
		rec := a.do(t, http.MethodPost, "/api/tanks/"+tank.ID+"/readings", "op-1", map[string]any{"volume": "950"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	// WHEN: The scheduler scans twice
	s := NewReconciliationScheduler(a.handler.Engine, nil)
	first := s.Scan(context.Background())
	second := s.Scan(context.Background())

	// THEN: Both tanks are reported but only one notification is open
	assert.Equal(t, 1, first.Products)
	assert.Equal(t, 2, first.Discrepancies)
	assert.Equal(t, 1, first.Alerts)
	assert.Equal(t, 0, second.Alerts)

	rec := a.do(t, http.MethodGet, "/api/notifications?type=discrepancy", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ns := decodeBody[[]fuel.Notification](t, rec)
	require.Len(t, ns, 1)
	assert.Equal(t, fuel.PriorityMedium, ns[0].Priority)
}

func TestScheduler_StartStop(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	s := NewReconciliationScheduler(a.handler.Engine, nil)
	s.CheckInterval = 10 * time.Millisecond

	s.Start()
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop()

	s.Enabled = false
	s.Start()
	assert.Nil(t, s.ticker)
}

// =============================================================================
// AUDIT, ADMIN, SCENARIOS
// =============================================================================

func TestAudit_RecordsActor(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	tank := a.createTank(t, "Petrol 1", fuel.FuelPetrol, "10000", "0")

	rec := a.do(t, http.MethodGet, "/api/audit?entity_id="+tank.ID, "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]fuel.AuditEntry](t, rec)
	require.NotEmpty(t, entries)
	assert.Equal(t, "op-1", entries[0].Actor)

	rec = a.do(t, http.MethodGet, "/api/audit?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(t, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthResponse](t, rec).Store)
}

func TestReset_OnlyRoutedWhenAllowed(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	rec := a.do(t, http.MethodPost, "/api/admin/reset", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	a = newTestAPI(t, RouterOptions{AllowReset: true})
	a.createTank(t, "Petrol 1", fuel.FuelPetrol, "10000", "0")
	rec = a.do(t, http.MethodPost, "/api/admin/reset", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/tanks", "", nil)
	assert.Empty(t, decodeBody[[]fuel.Tank](t, rec))
}

func TestScenarios_LoadEach(t *testing.T) {
	a := newTestAPI(t, RouterOptions{AllowReset: true})

	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: s.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = a.do(t, http.MethodGet, "/api/scenarios/current", "", nil)
			assert.Equal(t, s.ID, decodeBody[ScenarioDTO](t, rec).ID)

			rec = a.do(t, http.MethodGet, "/api/tanks", "", nil)
			tanks := decodeBody[[]fuel.Tank](t, rec)
			require.Len(t, tanks, 1, "scenarios reset before loading")

			rec = a.do(t, http.MethodGet, "/api/tanks/"+tanks[0].ID+"/verify", "", nil)
			assert.True(t, decodeBody[fuel.ProjectionCheck](t, rec).Consistent)
		})
	}

	rec := a.do(t, http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_DiscrepancyLeavesPendingAdjustment(t *testing.T) {
	a := newTestAPI(t, RouterOptions{AllowReset: true})
	rec := a.do(t, http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: "discrepancy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/reconciliation/petrol/discrepancies", "", nil)
	report := decodeBody[fuel.DiscrepancyReport](t, rec)
	require.Len(t, report.Discrepancies, 1)
	assert.Len(t, report.Discrepancies[0].PendingAdjustments, 1)
}

// =============================================================================
// PURE HELPERS
// =============================================================================

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&fuel.TankNotFoundError{TankID: "x"}, http.StatusNotFound, "not_found"},
		{fuel.ErrDuplicateTank, http.StatusConflict, "duplicate_tank"},
		{&fuel.AlreadyProcessedError{Kind: "sale"}, http.StatusConflict, "already_processed"},
		{fmt.Errorf("commit: %w", fuel.ErrConcurrentModification), http.StatusConflict, "concurrent_modification"},
		{&fuel.InsufficientStockError{}, http.StatusUnprocessableEntity, "insufficient_stock"},
		{&fuel.MissingFieldError{Field: "reason"}, http.StatusBadRequest, "missing_field"},
		{&fuel.FieldError{Field: "quantity"}, http.StatusBadRequest, "validation"},
		{calibration.ErrInvalidDip, http.StatusBadRequest, "validation"},
		{&fuel.PersistenceError{Op: "insert", Err: errors.New("disk full")}, http.StatusInternalServerError, "internal"},
	}
	for _, c := range cases {
		status, code := classify(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
		assert.Equal(t, c.code, code, c.err.Error())
	}
}

func TestParseTimeParam(t *testing.T) {
	start, err := parseTimeParam("2025-03-10", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), start)

	end, err := parseTimeParam("2025-03-10", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 23, 59, 59, 999999999, time.UTC), end)

	exact, err := parseTimeParam("2025-03-10T12:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), exact)

	_, err = parseTimeParam("yesterday", false)
	assert.Error(t, err)
}
