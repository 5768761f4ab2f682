package fuel_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuelstock/fuel"
	"github.com/warp/fuelstock/fuel/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *testClock {
	return &testClock{now: time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
}

type harness struct {
	eng   *fuel.Engine
	mem   *store.Memory
	clock *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, store.NewMemory(), nil)
}

// newHarnessWith builds an engine over tx; mem receives notifications and audit.
func newHarnessWith(t *testing.T, mem *store.Memory, tx fuel.TxStore) *harness {
	t.Helper()
	if tx == nil {
		tx = mem
	}
	clk := newClock()
	eng, err := fuel.NewEngine(fuel.Options{
		Store:         tx,
		Notifications: mem,
		Audit:         mem,
		Clock:         clk.Now,
	})
	require.NoError(t, err)
	return &harness{eng: eng, mem: mem, clock: clk}
}

func (h *harness) tank(t *testing.T, name string, product fuel.FuelType, capacity, opening string) fuel.Tank {
	t.Helper()
	tank, err := h.eng.Tanks.CreateTank(context.Background(), fuel.TankSpec{
		Name:         name,
		Product:      product,
		Capacity:     d(capacity),
		OpeningStock: d(opening),
	}, "op-1")
	require.NoError(t, err)
	return tank
}

func (h *harness) purchase(t *testing.T, tankID, qty string) fuel.Tank {
	t.Helper()
	_, tank, err := h.eng.Ledger.RecordPurchase(context.Background(), purchaseInput(tankID, qty))
	require.NoError(t, err)
	return tank
}

func (h *harness) verifiedSale(t *testing.T, product fuel.FuelType, liters string) fuel.Sale {
	t.Helper()
	ctx := context.Background()
	sale, err := h.eng.Sales.RegisterSale(ctx, fuel.SaleInput{FuelType: product, Liters: d(liters)})
	require.NoError(t, err)
	require.NoError(t, h.mem.SetSaleStatus(ctx, sale.ID, fuel.SaleVerified))
	sale.Status = fuel.SaleVerified
	return sale
}

func (h *harness) entries(t *testing.T, tankID string) []fuel.LedgerEntry {
	t.Helper()
	entries, err := h.mem.Entries(context.Background(), tankID, time.Time{}, time.Time{})
	require.NoError(t, err)
	return entries
}

func (h *harness) current(t *testing.T, tankID string) fuel.Tank {
	t.Helper()
	tank, err := h.mem.GetTank(context.Background(), tankID)
	require.NoError(t, err)
	return tank
}

func (h *harness) notifications(t *testing.T, typ fuel.NotificationType) []fuel.Notification {
	t.Helper()
	ns, err := h.mem.ListNotifications(context.Background(), fuel.NotificationFilter{Type: typ})
	require.NoError(t, err)
	return ns
}

func purchaseInput(tankID, qty string) fuel.PurchaseInput {
	q := d(qty)
	return fuel.PurchaseInput{
		TankID:        tankID,
		Quantity:      q,
		Rate:          d("1.5"),
		Value:         q.Mul(d("1.5")),
		Supplier:      "Northern Fuels",
		InvoiceNumber: "INV-001",
		Actor:         "op-1",
	}
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errDiskFull = errors.New("disk full")

// faultyStore fails selected writes inside transactions.
type faultyStore struct {
	*store.Memory
	failInsert     error
	failTransition error
	failMarkSale   error
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(fuel.Store) error) error {
	return f.Memory.WithTx(ctx, func(tx fuel.Store) error {
		return fn(faultyTx{Store: tx, parent: f})
	})
}

type faultyTx struct {
	fuel.Store
	parent *faultyStore
}

func (f faultyTx) InsertEntry(ctx context.Context, e fuel.LedgerEntry) error {
	if f.parent.failInsert != nil {
		return f.parent.failInsert
	}
	return f.Store.InsertEntry(ctx, e)
}

func (f faultyTx) TransitionAdjustment(ctx context.Context, a fuel.Adjustment, from fuel.AdjustmentStatus) error {
	if f.parent.failTransition != nil {
		return f.parent.failTransition
	}
	return f.Store.TransitionAdjustment(ctx, a, from)
}

func (f faultyTx) MarkSaleDeducted(ctx context.Context, id, tankID string) error {
	if f.parent.failMarkSale != nil {
		return f.parent.failMarkSale
	}
	return f.Store.MarkSaleDeducted(ctx, id, tankID)
}
