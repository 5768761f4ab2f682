/*
handlers.go - HTTP API handlers for the fuel stock engine

PURPOSE:
  Exposes the stock engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to fuel.Engine.

ENDPOINTS:
  Tanks:
    GET    /api/tanks                       List tanks (?product=&active=true)
    POST   /api/tanks                       Create tank (opening stock -> delivery entry)
    GET    /api/tanks/{id}                  Tank snapshot
    DELETE /api/tanks/{id}                  Deactivate (soft delete)
    GET    /api/tanks/{id}/ledger           Ledger entries (?from=&to=)
    GET    /api/tanks/{id}/verify           Replay ledger against the projection

  Stock in:
    POST   /api/tanks/{id}/purchases        Supplier purchase
    POST   /api/tanks/{id}/deliveries       Delivery without invoice

  Calibration:
    POST   /api/tanks/{id}/calibration      Replace chart (JSON, CSV or XLSX body)
    PUT    /api/tanks/{id}/calibration/points  Upsert one point
    GET    /api/tanks/{id}/volume?dip=      Dip -> liters

  Reconciliation:
    POST   /api/tanks/{id}/readings         Closing reading
    GET    /api/reconciliation/{product}/expected?from=&to=
    GET    /api/reconciliation/{product}/discrepancies?as_of=

  Adjustments:
    POST   /api/adjustments                 Propose
    GET    /api/adjustments/pending         Pending queue (?tank_id=)
    GET    /api/adjustments/{id}
    POST   /api/adjustments/{id}/decision   Approve or reject

  Sales:
    POST   /api/sales                       Register (unverified)
    POST   /api/sales/{id}/verify           Verify and deduct
    POST   /api/sales/{id}/deduct           Deduct an already verified sale

ERROR HANDLING:
  Errors are returned as JSON ErrorResponse with a machine-readable code:
  - 400: Validation errors, invalid input
  - 401: No actor / bad token (auth.go)
  - 404: Tank, adjustment or sale not found
  - 409: Already processed, duplicate tank, concurrent modification
  - 422: Capacity, insufficient stock, unverified sale, inactive tank,
         missing calibration
  - 500: Persistence and unexpected errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fuelstock/calibration"
	"github.com/warp/fuelstock/fuel"
)

const (
	maxBodySize   = 1 << 20
	maxUploadSize = 10 << 20
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AdminStore is the optional maintenance surface of the backing store.
type AdminStore interface {
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *fuel.Engine
	Admin  AdminStore
	Logger *zap.Logger

	validator *RequestValidator

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over engine. admin may be nil.
func NewHandler(engine *fuel.Engine, admin AdminStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:    engine,
		Admin:     admin,
		Logger:    logger,
		validator: NewRequestValidator(),
	}
}

// =============================================================================
// TANK HANDLERS
// =============================================================================

func (h *Handler) ListTanks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := fuel.TankFilter{Product: fuel.FuelType(q.Get("product"))}
	if filter.Product != "" && !filter.Product.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid product", fmt.Errorf("unknown fuel type %q", filter.Product))
		return
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid active flag", err)
			return
		}
		filter.ActiveOnly = active
	}

	tanks, err := h.Engine.Tanks.ListTanks(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list tanks", err)
		return
	}
	if tanks == nil {
		tanks = []fuel.Tank{}
	}
	writeJSON(w, http.StatusOK, tanks)
}

func (h *Handler) CreateTank(w http.ResponseWriter, r *http.Request) {
	var req CreateTankRequest
	if !h.decode(w, r, &req) {
		return
	}

	tank, err := h.Engine.Tanks.CreateTank(r.Context(), req.spec(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to create tank", err)
		return
	}
	writeJSON(w, http.StatusCreated, tank)
}

// GetTank returns the tank with its live stock projection.
func (h *Handler) GetTank(w http.ResponseWriter, r *http.Request) {
	tank, err := h.Engine.Tanks.GetTankSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get tank", err)
		return
	}
	writeJSON(w, http.StatusOK, tank)
}

func (h *Handler) DeactivateTank(w http.ResponseWriter, r *http.Request) {
	tank, err := h.Engine.Tanks.DeactivateTank(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to deactivate tank", err)
		return
	}
	writeJSON(w, http.StatusOK, tank)
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r, "from", "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid time range", err)
		return
	}

	entries, err := h.Engine.Ledger.History(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		h.fail(w, r, "Failed to load ledger", err)
		return
	}
	if entries == nil {
		entries = []fuel.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// VerifyProjection replays the ledger and compares it to the cached stock.
func (h *Handler) VerifyProjection(w http.ResponseWriter, r *http.Request) {
	check, err := h.Engine.Ledger.VerifyProjection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to verify projection", err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// =============================================================================
// STOCK IN
// =============================================================================

func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, tank, err := h.Engine.Ledger.RecordPurchase(r.Context(), fuel.PurchaseInput{
		TankID:        chi.URLParam(r, "id"),
		Product:       req.Product,
		Quantity:      req.Quantity,
		Rate:          req.Rate,
		Value:         req.Value,
		Supplier:      req.Supplier,
		InvoiceNumber: req.InvoiceNumber,
		Actor:         ActorFrom(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "Failed to record purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, LedgerResponse{Entry: entry, Tank: tank})
}

func (h *Handler) RecordDelivery(w http.ResponseWriter, r *http.Request) {
	var req DeliveryRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, tank, err := h.Engine.Ledger.RecordDelivery(r.Context(), fuel.DeliveryInput{
		TankID:    chi.URLParam(r, "id"),
		Quantity:  req.Quantity,
		Reference: req.Reference,
		Actor:     ActorFrom(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "Failed to record delivery", err)
		return
	}
	writeJSON(w, http.StatusCreated, LedgerResponse{Entry: entry, Tank: tank})
}

// =============================================================================
// CALIBRATION
// =============================================================================

// UploadCalibration replaces the tank's chart. The body format follows the
// Content-Type: JSON rows, text/csv, an XLSX workbook, or a multipart form
// with a "file" field holding either of the latter.
func (h *Handler) UploadCalibration(w http.ResponseWriter, r *http.Request) {
	tankID := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	rows, err := h.calibrationRows(r)
	if err != nil {
		var details validationDetails
		if errors.As(err, &details) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Details: details})
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid calibration upload", err)
		return
	}

	table, err := h.Engine.Calibration.UploadCalibrationTable(r.Context(), tankID, rows, ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to upload calibration table", err)
		return
	}
	writeJSON(w, http.StatusOK, CalibrationResponse{TankID: tankID, Points: len(table), Table: table})
}

func (h *Handler) calibrationRows(r *http.Request) ([]calibration.Row, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/csv", "application/csv", "text/plain":
		return calibration.ParseCSV(r.Body)
	case xlsxMIME, "application/octet-stream":
		return calibration.ParseXLSX(r.Body)
	case "multipart/form-data":
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("form field \"file\": %w", err)
		}
		defer file.Close()
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".csv", ".txt":
			return calibration.ParseCSV(file)
		case ".xlsx":
			return calibration.ParseXLSX(file)
		}
		return nil, fmt.Errorf("unsupported file %q (want .csv or .xlsx)", header.Filename)
	default:
		var req CalibrationUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		if details := h.validator.Check(req); details != nil {
			return nil, validationDetails(details)
		}
		return req.Rows, nil
	}
}

func (h *Handler) AddCalibrationPoint(w http.ResponseWriter, r *http.Request) {
	var req CalibrationPointRequest
	if !h.decode(w, r, &req) {
		return
	}

	tankID := chi.URLParam(r, "id")
	table, err := h.Engine.Calibration.AddCalibrationPoint(r.Context(), tankID,
		calibration.Point{DipMM: req.DipMM, Volume: req.Volume}, ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to set calibration point", err)
		return
	}
	writeJSON(w, http.StatusOK, CalibrationResponse{TankID: tankID, Points: len(table), Table: table})
}

func (h *Handler) CalculateVolume(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("dip")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Missing dip parameter", nil)
		return
	}
	dip, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dip parameter", err)
		return
	}

	res, err := h.Engine.Calibration.CalculateVolumeFromDip(r.Context(), chi.URLParam(r, "id"), dip)
	if err != nil {
		h.fail(w, r, "Failed to calculate volume", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

func (h *Handler) RecordReading(w http.ResponseWriter, r *http.Request) {
	var req ReadingRequest
	if !h.decode(w, r, &req) {
		return
	}

	reading, err := h.Engine.Reconciliation.RecordClosingReading(r.Context(), fuel.ReadingInput{
		TankID:     chi.URLParam(r, "id"),
		Volume:     req.Volume,
		DipMM:      req.DipMM,
		RecordedAt: req.RecordedAt,
		Notes:      req.Notes,
		Actor:      ActorFrom(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "Failed to record reading", err)
		return
	}
	writeJSON(w, http.StatusCreated, reading)
}

// GetExpectedStock returns opening + purchases - consumption for the product.
func (h *Handler) GetExpectedStock(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r, "from", "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid time range", err)
		return
	}

	exp, err := h.Engine.Reconciliation.ExpectedClosingStock(r.Context(), fuel.FuelType(chi.URLParam(r, "product")), from, to)
	if err != nil {
		h.fail(w, r, "Failed to compute expected stock", err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) FindDiscrepancies(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseTimeParam(r.URL.Query().Get("as_of"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}

	report, err := h.Engine.Reconciliation.FindDiscrepancies(r.Context(), fuel.FuelType(chi.URLParam(r, "product")), asOf)
	if err != nil {
		h.fail(w, r, "Failed to find discrepancies", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

func (h *Handler) ProposeAdjustment(w http.ResponseWriter, r *http.Request) {
	var req ProposeAdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	adj, err := h.Engine.Adjustments.Propose(r.Context(), fuel.ProposeInput{
		TankID:     req.TankID,
		Type:       req.Type,
		Quantity:   req.Quantity,
		Reason:     req.Reason,
		DipReading: req.DipReading,
		Actor:      ActorFrom(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "Failed to propose adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, adj)
}

func (h *Handler) ListPendingAdjustments(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Engine.Adjustments.ListPending(r.Context(), r.URL.Query().Get("tank_id"))
	if err != nil {
		h.fail(w, r, "Failed to list pending adjustments", err)
		return
	}
	if pending == nil {
		pending = []fuel.Adjustment{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) GetAdjustment(w http.ResponseWriter, r *http.Request) {
	adj, err := h.Engine.Adjustments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get adjustment", err)
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

// DecideAdjustment approves (writes the ledger entry) or rejects a pending adjustment.
func (h *Handler) DecideAdjustment(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	adj, err := h.Engine.Adjustments.Decide(r.Context(), fuel.DecideInput{
		ID:       chi.URLParam(r, "id"),
		Approved: *req.Approved,
		Notes:    req.Notes,
		Actor:    ActorFrom(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "Failed to decide adjustment", err)
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

func (h *Handler) RegisterSale(w http.ResponseWriter, r *http.Request) {
	var req RegisterSaleRequest
	if !h.decode(w, r, &req) {
		return
	}

	sale, err := h.Engine.Sales.RegisterSale(r.Context(), fuel.SaleInput{
		ID:       req.ID,
		FuelType: req.FuelType,
		Liters:   req.Liters,
	})
	if err != nil {
		h.fail(w, r, "Failed to register sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (h *Handler) VerifySale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tank, err := h.Engine.Sales.VerifySale(r.Context(), id, ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to verify sale", err)
		return
	}
	writeJSON(w, http.StatusOK, SaleResponse{SaleID: id, Tank: tank})
}

// DeductSale is idempotent: a second call returns the tank unchanged.
func (h *Handler) DeductSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tank, err := h.Engine.Sales.DeductForVerifiedSale(r.Context(), id, ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to deduct sale", err)
		return
	}
	writeJSON(w, http.StatusOK, SaleResponse{SaleID: id, Tank: tank})
}

// =============================================================================
// NOTIFICATIONS & AUDIT
// =============================================================================

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := limitParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if h.Engine.Notifications == nil {
		writeJSON(w, http.StatusOK, []fuel.Notification{})
		return
	}

	ns, err := h.Engine.Notifications.ListNotifications(r.Context(), fuel.NotificationFilter{
		Type:    fuel.NotificationType(q.Get("type")),
		Product: fuel.FuelType(q.Get("product")),
		Status:  fuel.NotificationStatus(q.Get("status")),
		Limit:   limit,
	})
	if err != nil {
		h.fail(w, r, "Failed to list notifications", err)
		return
	}
	if ns == nil {
		ns = []fuel.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := limitParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if h.Engine.Audit == nil {
		writeJSON(w, http.StatusOK, []fuel.AuditEntry{})
		return
	}

	entries, err := h.Engine.Audit.Query(r.Context(), fuel.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Action:     q.Get("action"),
		Limit:      limit,
	})
	if err != nil {
		h.fail(w, r, "Failed to query audit log", err)
		return
	}
	if entries == nil {
		entries = []fuel.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// ADMIN
// =============================================================================

// Health pings the store when it supports it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Admin == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Store: "memory"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Admin.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Store: "ok"})
}

// ResetDatabase wipes every table. Only routed in development.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Admin == nil {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Admin.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	h.Logger.Warn("database reset", zap.String("actor", ActorFrom(r.Context())))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps an engine error to its status and code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case fuel.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, fuel.ErrDuplicateTank):
		return http.StatusConflict, "duplicate_tank"
	case errors.Is(err, fuel.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case fuel.IsRetryable(err):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, fuel.ErrCapacityExceeded):
		return http.StatusUnprocessableEntity, "capacity_exceeded"
	case errors.Is(err, fuel.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "insufficient_stock"
	case errors.Is(err, fuel.ErrSaleNotVerified):
		return http.StatusUnprocessableEntity, "sale_not_verified"
	case errors.Is(err, fuel.ErrTankInactive):
		return http.StatusUnprocessableEntity, "tank_inactive"
	case errors.Is(err, fuel.ErrNoCalibrationData):
		return http.StatusUnprocessableEntity, "no_calibration_data"
	case errors.Is(err, fuel.ErrEmptyCalibrationData):
		return http.StatusUnprocessableEntity, "empty_calibration_data"
	case errors.Is(err, fuel.ErrMissingField):
		return http.StatusBadRequest, "missing_field"
	case errors.Is(err, fuel.ErrInvalidEntry):
		return http.StatusBadRequest, "invalid_entry"
	case fuel.IsClientError(err):
		return http.StatusBadRequest, "validation"
	}
	return http.StatusInternalServerError, "internal"
}

// decode reads a JSON body into dst and validates it. It writes the error
// response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if details := h.validator.Check(dst); details != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Details: details})
		return false
	}
	return true
}

type validationDetails map[string]string

func (v validationDetails) Error() string {
	parts := make([]string, 0, len(v))
	for field, msg := range v {
		parts = append(parts, field+": "+msg)
	}
	return strings.Join(parts, "; ")
}

// parseTimeParam accepts RFC 3339 or YYYY-MM-DD. A bare date means the start
// of that UTC day, or its last instant when endOfDay is set. Empty is zero.
func parseTimeParam(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", raw)
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

func timeRange(r *http.Request, fromKey, toKey string) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get(fromKey), false)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%s: %w", fromKey, err)
	}
	to, err := parseTimeParam(q.Get(toKey), true)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%s: %w", toKey, err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%s is before %s", toKey, fromKey)
	}
	return from, to, nil
}

func limitParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a non-negative integer", raw)
	}
	return n, nil
}
