// Package store provides in-memory implementations of the fuel store contracts.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/fuelstock/calibration"
	"github.com/warp/fuelstock/fuel"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements fuel.TxStore, fuel.Notifier and fuel.AuditLog.
type Memory struct {
	mu sync.RWMutex
	st *state

	notifications []fuel.Notification
	audit         []fuel.AuditEntry
}

var (
	_ fuel.TxStore  = (*Memory)(nil)
	_ fuel.Notifier = (*Memory)(nil)
	_ fuel.AuditLog = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// state is everything WithTx can roll back.
type state struct {
	tanks       map[string]fuel.Tank
	names       map[string]string
	entries     map[string][]fuel.LedgerEntry
	adjustments map[string]fuel.Adjustment
	sales       map[string]fuel.Sale
	calibration map[string]calibration.Table
	readings    map[string][]fuel.Reading
}

func newState() *state {
	return &state{
		tanks:       make(map[string]fuel.Tank),
		names:       make(map[string]string),
		entries:     make(map[string][]fuel.LedgerEntry),
		adjustments: make(map[string]fuel.Adjustment),
		sales:       make(map[string]fuel.Sale),
		calibration: make(map[string]calibration.Table),
		readings:    make(map[string][]fuel.Reading),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.tanks {
		c.tanks[k] = v
	}
	for k, v := range s.names {
		c.names[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = append([]fuel.LedgerEntry{}, v...)
	}
	for k, v := range s.adjustments {
		c.adjustments[k] = v
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	for k, v := range s.calibration {
		c.calibration[k] = append(calibration.Table{}, v...)
	}
	for k, v := range s.readings {
		c.readings[k] = append([]fuel.Reading{}, v...)
	}
	return c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(fuel.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	view := &txView{st: m.st}

	err := fn(view)
	if err == nil {
		// A cancelled caller must not see a half-committed operation.
		err = ctx.Err()
	}
	if err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView is the Store handed to fn. The parent lock is already held.
type txView struct {
	st *state
}

func (v *txView) CreateTank(_ context.Context, t fuel.Tank) error { return v.st.createTank(t) }
func (v *txView) GetTank(_ context.Context, id string) (fuel.Tank, error) {
	return v.st.getTank(id)
}
func (v *txView) ListTanks(_ context.Context, f fuel.TankFilter) ([]fuel.Tank, error) {
	return v.st.listTanks(f), nil
}
func (v *txView) SaveProjection(_ context.Context, t fuel.Tank, expected int64) error {
	return v.st.saveProjection(t, expected)
}
func (v *txView) SetTankActive(_ context.Context, id string, active bool, at time.Time) error {
	return v.st.setTankActive(id, active, at)
}
func (v *txView) InsertEntry(_ context.Context, e fuel.LedgerEntry) error { return v.st.insertEntry(e) }
func (v *txView) Entries(_ context.Context, tankID string, from, to time.Time) ([]fuel.LedgerEntry, error) {
	return v.st.entriesIn(tankID, from, to), nil
}
func (v *txView) LastEntryBefore(_ context.Context, tankID string, t time.Time) (*fuel.LedgerEntry, error) {
	return v.st.lastEntryBefore(tankID, t), nil
}
func (v *txView) CreateAdjustment(_ context.Context, a fuel.Adjustment) error {
	return v.st.createAdjustment(a)
}
func (v *txView) GetAdjustment(_ context.Context, id string) (fuel.Adjustment, error) {
	return v.st.getAdjustment(id)
}
func (v *txView) ListAdjustments(_ context.Context, f fuel.AdjustmentFilter) ([]fuel.Adjustment, error) {
	return v.st.listAdjustments(f), nil
}
func (v *txView) TransitionAdjustment(_ context.Context, a fuel.Adjustment, from fuel.AdjustmentStatus) error {
	return v.st.transitionAdjustment(a, from)
}
func (v *txView) CreateSale(_ context.Context, s fuel.Sale) error { return v.st.createSale(s) }
func (v *txView) GetSale(_ context.Context, id string) (fuel.Sale, error) {
	return v.st.getSale(id)
}
func (v *txView) SetSaleStatus(_ context.Context, id string, status fuel.SaleStatus) error {
	return v.st.setSaleStatus(id, status)
}
func (v *txView) MarkSaleDeducted(_ context.Context, id, tankID string) error {
	return v.st.markSaleDeducted(id, tankID)
}
func (v *txView) CalibrationPoints(_ context.Context, tankID string) (calibration.Table, error) {
	return v.st.calibrationPoints(tankID), nil
}
func (v *txView) ReplaceCalibration(_ context.Context, tankID string, t calibration.Table) error {
	return v.st.replaceCalibration(tankID, t)
}
func (v *txView) InsertReading(_ context.Context, r fuel.Reading) error { return v.st.insertReading(r) }
func (v *txView) LatestReading(_ context.Context, tankID string, from, asOf time.Time) (*fuel.Reading, error) {
	return v.st.latestReading(tankID, from, asOf), nil
}

// =============================================================================
// LOCKED ACCESSORS - Store methods outside a transaction
// =============================================================================

func (m *Memory) write(fn func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

func (m *Memory) CreateTank(_ context.Context, t fuel.Tank) error {
	return m.write(func(s *state) error { return s.createTank(t) })
}

func (m *Memory) GetTank(_ context.Context, id string) (fuel.Tank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getTank(id)
}

func (m *Memory) ListTanks(_ context.Context, f fuel.TankFilter) ([]fuel.Tank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listTanks(f), nil
}

func (m *Memory) SaveProjection(_ context.Context, t fuel.Tank, expected int64) error {
	return m.write(func(s *state) error { return s.saveProjection(t, expected) })
}

func (m *Memory) SetTankActive(_ context.Context, id string, active bool, at time.Time) error {
	return m.write(func(s *state) error { return s.setTankActive(id, active, at) })
}

func (m *Memory) InsertEntry(_ context.Context, e fuel.LedgerEntry) error {
	return m.write(func(s *state) error { return s.insertEntry(e) })
}

func (m *Memory) Entries(_ context.Context, tankID string, from, to time.Time) ([]fuel.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.entriesIn(tankID, from, to), nil
}

func (m *Memory) LastEntryBefore(_ context.Context, tankID string, t time.Time) (*fuel.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.lastEntryBefore(tankID, t), nil
}

func (m *Memory) CreateAdjustment(_ context.Context, a fuel.Adjustment) error {
	return m.write(func(s *state) error { return s.createAdjustment(a) })
}

func (m *Memory) GetAdjustment(_ context.Context, id string) (fuel.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getAdjustment(id)
}

func (m *Memory) ListAdjustments(_ context.Context, f fuel.AdjustmentFilter) ([]fuel.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listAdjustments(f), nil
}

func (m *Memory) TransitionAdjustment(_ context.Context, a fuel.Adjustment, from fuel.AdjustmentStatus) error {
	return m.write(func(s *state) error { return s.transitionAdjustment(a, from) })
}

func (m *Memory) CreateSale(_ context.Context, sale fuel.Sale) error {
	return m.write(func(s *state) error { return s.createSale(sale) })
}

func (m *Memory) GetSale(_ context.Context, id string) (fuel.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getSale(id)
}

func (m *Memory) SetSaleStatus(_ context.Context, id string, status fuel.SaleStatus) error {
	return m.write(func(s *state) error { return s.setSaleStatus(id, status) })
}

func (m *Memory) MarkSaleDeducted(_ context.Context, id, tankID string) error {
	return m.write(func(s *state) error { return s.markSaleDeducted(id, tankID) })
}

func (m *Memory) CalibrationPoints(_ context.Context, tankID string) (calibration.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.calibrationPoints(tankID), nil
}

func (m *Memory) ReplaceCalibration(_ context.Context, tankID string, t calibration.Table) error {
	return m.write(func(s *state) error { return s.replaceCalibration(tankID, t) })
}

func (m *Memory) InsertReading(_ context.Context, r fuel.Reading) error {
	return m.write(func(s *state) error { return s.insertReading(r) })
}

func (m *Memory) LatestReading(_ context.Context, tankID string, from, asOf time.Time) (*fuel.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.latestReading(tankID, from, asOf), nil
}

// =============================================================================
// STATE OPERATIONS - Caller holds the lock
// =============================================================================

func (s *state) createTank(t fuel.Tank) error {
	if _, taken := s.names[t.Name]; taken {
		return fuel.ErrDuplicateTank
	}
	if _, exists := s.tanks[t.ID]; exists {
		return fuel.ErrDuplicateTank
	}
	s.tanks[t.ID] = t
	s.names[t.Name] = t.ID
	return nil
}

func (s *state) getTank(id string) (fuel.Tank, error) {
	t, ok := s.tanks[id]
	if !ok {
		return fuel.Tank{}, &fuel.TankNotFoundError{TankID: id}
	}
	return t, nil
}

func (s *state) listTanks(f fuel.TankFilter) []fuel.Tank {
	var out []fuel.Tank
	for _, t := range s.tanks {
		if f.Product != "" && t.Product != f.Product {
			continue
		}
		if f.ActiveOnly && !t.Active {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *state) saveProjection(t fuel.Tank, expected int64) error {
	cur, ok := s.tanks[t.ID]
	if !ok {
		return &fuel.TankNotFoundError{TankID: t.ID}
	}
	if cur.Version != expected {
		return fuel.ErrConcurrentModification
	}
	cur.CurrentStock = t.CurrentStock
	cur.CurrentLevel = t.CurrentLevel
	cur.LowStockAlert = t.LowStockAlert
	cur.Version = t.Version
	cur.UpdatedAt = t.UpdatedAt
	s.tanks[t.ID] = cur
	return nil
}

func (s *state) setTankActive(id string, active bool, at time.Time) error {
	cur, ok := s.tanks[id]
	if !ok {
		return &fuel.TankNotFoundError{TankID: id}
	}
	cur.Active = active
	cur.UpdatedAt = at
	s.tanks[id] = cur
	return nil
}

func (s *state) insertEntry(e fuel.LedgerEntry) error {
	if _, ok := s.tanks[e.TankID]; !ok {
		return &fuel.TankNotFoundError{TankID: e.TankID}
	}
	entries := s.entries[e.TankID]
	if n := len(entries); n > 0 && entries[n-1].Seq >= e.Seq {
		return fuel.ErrConcurrentModification
	}
	s.entries[e.TankID] = append(entries, e)
	return nil
}

func (s *state) entriesIn(tankID string, from, to time.Time) []fuel.LedgerEntry {
	var out []fuel.LedgerEntry
	for _, e := range s.entries[tankID] {
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *state) lastEntryBefore(tankID string, t time.Time) *fuel.LedgerEntry {
	entries := s.entries[tankID]
	for i := len(entries) - 1; i >= 0; i-- {
		if t.IsZero() || entries[i].CreatedAt.Before(t) {
			e := entries[i]
			return &e
		}
	}
	return nil
}

func (s *state) createAdjustment(a fuel.Adjustment) error {
	s.adjustments[a.ID] = a
	return nil
}

func (s *state) getAdjustment(id string) (fuel.Adjustment, error) {
	a, ok := s.adjustments[id]
	if !ok {
		return fuel.Adjustment{}, fuel.ErrAdjustmentNotFound
	}
	return a, nil
}

func (s *state) listAdjustments(f fuel.AdjustmentFilter) []fuel.Adjustment {
	var out []fuel.Adjustment
	for _, a := range s.adjustments {
		if f.TankID != "" && a.TankID != f.TankID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *state) transitionAdjustment(a fuel.Adjustment, from fuel.AdjustmentStatus) error {
	cur, ok := s.adjustments[a.ID]
	if !ok {
		return fuel.ErrAdjustmentNotFound
	}
	if cur.Status != from {
		return &fuel.AlreadyProcessedError{Kind: "adjustment", ID: a.ID, Status: string(cur.Status)}
	}
	cur.Status = a.Status
	cur.DecidedBy = a.DecidedBy
	cur.DecisionNotes = a.DecisionNotes
	cur.DecidedAt = a.DecidedAt
	cur.Materialized = a.Materialized
	cur.LedgerEntryID = a.LedgerEntryID
	cur.UpdatedAt = a.UpdatedAt
	s.adjustments[a.ID] = cur
	return nil
}

func (s *state) createSale(sale fuel.Sale) error {
	if _, exists := s.sales[sale.ID]; exists {
		return &fuel.AlreadyProcessedError{Kind: "sale", ID: sale.ID, Status: "registered"}
	}
	s.sales[sale.ID] = sale
	return nil
}

func (s *state) getSale(id string) (fuel.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return fuel.Sale{}, fuel.ErrSaleNotFound
	}
	return sale, nil
}

func (s *state) setSaleStatus(id string, status fuel.SaleStatus) error {
	sale, ok := s.sales[id]
	if !ok {
		return fuel.ErrSaleNotFound
	}
	sale.Status = status
	s.sales[id] = sale
	return nil
}

func (s *state) markSaleDeducted(id, tankID string) error {
	sale, ok := s.sales[id]
	if !ok {
		return fuel.ErrSaleNotFound
	}
	if sale.TankDeducted {
		return &fuel.AlreadyProcessedError{Kind: "sale", ID: id, Status: "deducted"}
	}
	sale.TankDeducted = true
	sale.TankID = tankID
	s.sales[id] = sale
	return nil
}

func (s *state) calibrationPoints(tankID string) calibration.Table {
	return append(calibration.Table{}, s.calibration[tankID]...)
}

func (s *state) replaceCalibration(tankID string, t calibration.Table) error {
	s.calibration[tankID] = append(calibration.Table{}, t...)
	return nil
}

func (s *state) insertReading(r fuel.Reading) error {
	s.readings[r.TankID] = append(s.readings[r.TankID], r)
	return nil
}

func (s *state) latestReading(tankID string, from, asOf time.Time) *fuel.Reading {
	var best *fuel.Reading
	for _, r := range s.readings[tankID] {
		if r.RecordedAt.Before(from) || r.RecordedAt.After(asOf) {
			continue
		}
		if best == nil || !r.RecordedAt.Before(best.RecordedAt) {
			r := r
			best = &r
		}
	}
	return best
}

// =============================================================================
// NOTIFICATIONS & AUDIT - Outside the transactional state
// =============================================================================

func (m *Memory) Notify(_ context.Context, n fuel.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *Memory) HasUnread(_ context.Context, typ fuel.NotificationType, product fuel.FuelType) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notifications {
		if n.Type == typ && n.Product == product && n.Status == fuel.NotificationUnread {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Resolve(_ context.Context, typ fuel.NotificationType, product fuel.FuelType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resolved := 0
	for i, n := range m.notifications {
		if n.Type == typ && n.Product == product && n.Status == fuel.NotificationUnread {
			m.notifications[i].Status = fuel.NotificationResolved
			resolved++
		}
	}
	return resolved, nil
}

// ListNotifications returns newest first.
func (m *Memory) ListNotifications(_ context.Context, f fuel.NotificationFilter) ([]fuel.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []fuel.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if f.Type != "" && n.Type != f.Type {
			continue
		}
		if f.Product != "" && n.Product != f.Product {
			continue
		}
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Append(_ context.Context, e fuel.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// Query returns newest first.
func (m *Memory) Query(_ context.Context, f fuel.AuditFilter) ([]fuel.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []fuel.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
