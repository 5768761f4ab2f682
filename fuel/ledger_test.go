package fuel_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuelstock/fuel"
	"github.com/warp/fuelstock/fuel/store"
)

// =============================================================================
// TANK REGISTRY
// =============================================================================

func TestCreateTank_OpeningStockIsDeliveryEntry(t *testing.T) {
	h := newHarness(t)

	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "6000")

	assert.True(t, tank.CurrentStock.Equal(d("6000")))
	assert.Equal(t, 60, tank.CurrentLevel)
	assert.False(t, tank.LowStockAlert)
	assert.Equal(t, int64(1), tank.Version)

	entries := h.entries(t, tank.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, fuel.TxDelivery, entries[0].Type)
	assert.Equal(t, "opening-stock", entries[0].Delivery.Reference)
	assert.True(t, entries[0].PreviousStock.IsZero())
	assert.True(t, entries[0].NewStock.Equal(d("6000")))
}

func TestCreateTank_DuplicateName(t *testing.T) {
	h := newHarness(t)
	h.tank(t, "T1", fuel.FuelDiesel, "10000", "0")

	_, err := h.eng.Tanks.CreateTank(context.Background(), fuel.TankSpec{
		Name: "T1", Product: fuel.FuelPetrol, Capacity: d("5000"),
	}, "op-1")
	assert.ErrorIs(t, err, fuel.ErrDuplicateTank)
}

func TestCreateTank_RejectsBadConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.Tanks.CreateTank(ctx, fuel.TankSpec{Product: fuel.FuelDiesel, Capacity: d("100")}, "op")
	var missing *fuel.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "name", missing.Field)

	_, err = h.eng.Tanks.CreateTank(ctx, fuel.TankSpec{Name: "X", Product: "jet_a1", Capacity: d("100")}, "op")
	assert.ErrorIs(t, err, fuel.ErrValidation)

	_, err = h.eng.Tanks.CreateTank(ctx, fuel.TankSpec{Name: "X", Product: fuel.FuelDiesel, Capacity: d("0")}, "op")
	assert.ErrorIs(t, err, fuel.ErrValidation)

	_, err = h.eng.Tanks.CreateTank(ctx, fuel.TankSpec{
		Name: "X", Product: fuel.FuelDiesel, Capacity: d("100"), OpeningStock: d("101"),
	}, "op")
	assert.ErrorIs(t, err, fuel.ErrCapacityExceeded)
}

func TestActiveTankForProduct(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.Tanks.ActiveTankForProduct(ctx, fuel.FuelKerosene)
	assert.ErrorIs(t, err, fuel.ErrTankNotFound)

	t1 := h.tank(t, "P1", fuel.FuelPetrol, "10000", "5000")
	got, err := h.eng.Tanks.ActiveTankForProduct(ctx, fuel.FuelPetrol)
	require.NoError(t, err)
	assert.Equal(t, t1.ID, got.ID)

	h.tank(t, "P2", fuel.FuelPetrol, "10000", "5000")
	_, err = h.eng.Tanks.ActiveTankForProduct(ctx, fuel.FuelPetrol)
	var nf *fuel.TankNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 2, nf.Matches)

	_, err = h.eng.Tanks.DeactivateTank(ctx, t1.ID, "op")
	require.NoError(t, err)
	got, err = h.eng.Tanks.ActiveTankForProduct(ctx, fuel.FuelPetrol)
	require.NoError(t, err)
	assert.Equal(t, "P2", got.Name)
}

func TestLoadTankSeed_SkipsExistingNames(t *testing.T) {
	// GIVEN: A seed file with two tanks, one of which already exists
	h := newHarness(t)
	h.tank(t, "Diesel 1", fuel.FuelDiesel, "20000", "5000")
	path := filepath.Join(t.TempDir(), "tanks.json")
	seed := `[
		{"name": "Diesel 1", "product": "diesel", "capacity": "20000", "opening_stock": "0"},
		{"name": "Petrol 1", "product": "petrol", "capacity": "15000", "opening_stock": "4000"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	// WHEN: The seed is loaded
	n, err := h.eng.Tanks.LoadTankSeed(context.Background(), path)

	// THEN: Only the new tank is created, with its opening stock
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	petrol, err := h.eng.Tanks.ActiveTankForProduct(context.Background(), fuel.FuelPetrol)
	require.NoError(t, err)
	assert.True(t, petrol.CurrentStock.Equal(d("4000")))

	_, err = h.eng.Tanks.LoadTankSeed(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDeactivatedTank_RefusesStockWrites(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "5000")

	_, err := h.eng.Tanks.DeactivateTank(context.Background(), tank.ID, "op")
	require.NoError(t, err)

	_, _, err = h.eng.Ledger.RecordPurchase(context.Background(), purchaseInput(tank.ID, "100"))
	assert.ErrorIs(t, err, fuel.ErrTankInactive)
	assert.Len(t, h.entries(t, tank.ID), 1)
}

// =============================================================================
// LEDGER APPEND
// =============================================================================

func TestRecordPurchase_UpdatesProjection(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")

	entry, updated, err := h.eng.Ledger.RecordPurchase(context.Background(), purchaseInput(tank.ID, "2500"))
	require.NoError(t, err)

	assert.Equal(t, fuel.TxPurchase, entry.Type)
	assert.Equal(t, int64(2), entry.Seq)
	assert.True(t, entry.PreviousStock.Equal(d("1000")))
	assert.True(t, entry.NewStock.Equal(d("3500")))
	assert.Equal(t, fuel.FuelDiesel, entry.Purchase.Product)

	assert.True(t, updated.CurrentStock.Equal(d("3500")))
	assert.Equal(t, 35, updated.CurrentLevel)
	assert.False(t, updated.LowStockAlert)
	assert.Equal(t, updated, h.current(t, tank.ID))
}

func TestRecordPurchase_CapacityExceeded_NoWrite(t *testing.T) {
	// GIVEN: capacity 10000, stock 9000
	// WHEN: purchasing 1500
	// THEN: CapacityExceeded, no entry, no tank mutation
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "9000")

	_, _, err := h.eng.Ledger.RecordPurchase(context.Background(), purchaseInput(tank.ID, "1500"))

	var capErr *fuel.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, capErr.Requested.Equal(d("10500")))
	assert.Len(t, h.entries(t, tank.ID), 1)
	assert.Equal(t, tank, h.current(t, tank.ID))
}

func TestRecordPurchase_MissingFields(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")
	ctx := context.Background()

	cases := map[string]func(in *fuel.PurchaseInput){
		"supplier":       func(in *fuel.PurchaseInput) { in.Supplier = "" },
		"invoice_number": func(in *fuel.PurchaseInput) { in.InvoiceNumber = "" },
		"rate":           func(in *fuel.PurchaseInput) { in.Rate = d("0") },
		"value":          func(in *fuel.PurchaseInput) { in.Value = d("0") },
		"quantity":       func(in *fuel.PurchaseInput) { in.Quantity = d("0") },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			in := purchaseInput(tank.ID, "100")
			mutate(&in)

			_, _, err := h.eng.Ledger.RecordPurchase(ctx, in)

			var missing *fuel.MissingFieldError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, field, missing.Field)
			assert.Equal(t, "purchase", missing.Type)
			assert.ErrorIs(t, err, fuel.ErrValidation)
		})
	}
	assert.Len(t, h.entries(t, tank.ID), 1)
}

func TestRecordPurchase_WrongProduct(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")

	in := purchaseInput(tank.ID, "100")
	in.Product = fuel.FuelPetrol
	_, _, err := h.eng.Ledger.RecordPurchase(context.Background(), in)
	assert.ErrorIs(t, err, fuel.ErrValidation)
}

func TestAppend_RejectsBrokenArithmetic(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")

	_, _, err := h.eng.Ledger.Append(context.Background(), fuel.LedgerEntry{
		TankID:        tank.ID,
		Type:          fuel.TxDelivery,
		Quantity:      d("100"),
		PreviousStock: d("1000"),
		NewStock:      d("1200"),
	})
	assert.ErrorIs(t, err, fuel.ErrInvalidEntry)
	assert.Len(t, h.entries(t, tank.ID), 1)
}

func TestAppend_StalePreviousStock(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")

	_, _, err := h.eng.Ledger.Append(context.Background(), fuel.LedgerEntry{
		TankID:        tank.ID,
		Type:          fuel.TxDelivery,
		Quantity:      d("100"),
		PreviousStock: d("900"),
		NewStock:      d("1000"),
	})
	assert.ErrorIs(t, err, fuel.ErrConcurrentModification)
	assert.True(t, fuel.IsRetryable(err))
	assert.True(t, h.current(t, tank.ID).CurrentStock.Equal(d("1000")))
}

func TestAppend_AdjustmentNeedsReason(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")

	_, _, err := h.eng.Ledger.Append(context.Background(), fuel.LedgerEntry{
		TankID:        tank.ID,
		Type:          fuel.TxAdjustment,
		Quantity:      d("-100"),
		PreviousStock: d("1000"),
		NewStock:      d("900"),
		Adjustment:    &fuel.AdjustmentDetails{},
	})
	var missing *fuel.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "reason", missing.Field)
}

func TestAppend_NegativeStockRejected(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "100")

	_, _, err := h.eng.Ledger.Append(context.Background(), fuel.LedgerEntry{
		TankID:        tank.ID,
		Type:          fuel.TxAdjustment,
		Quantity:      d("-200"),
		PreviousStock: d("100"),
		NewStock:      d("-100"),
		Adjustment:    &fuel.AdjustmentDetails{Reason: "leak"},
	})
	assert.ErrorIs(t, err, fuel.ErrInvalidEntry)
}

func TestAppend_CancelledContext_NoWrite(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := h.eng.Ledger.RecordPurchase(ctx, purchaseInput(tank.ID, "100"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.entries(t, tank.ID), 1)
	assert.True(t, h.current(t, tank.ID).CurrentStock.Equal(d("1000")))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApply_ConcurrentWritersNeverLoseUpdates(t *testing.T) {
	// GIVEN: 1000 L, 25 goroutines each deducting 10 L through Apply
	// THEN: final stock is 750 and the chain has 26 contiguous entries
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")
	ctx := context.Background()

	const writers = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.eng.Ledger.Apply(ctx, tank.ID, func(cur fuel.Tank) (fuel.LedgerEntry, error) {
				return fuel.LedgerEntry{
					Type:          fuel.TxAdjustment,
					Quantity:      d("-10"),
					PreviousStock: cur.CurrentStock,
					NewStock:      cur.CurrentStock.Sub(d("10")),
					Adjustment:    &fuel.AdjustmentDetails{Reason: "evaporation"},
				}, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	final := h.current(t, tank.ID)
	assert.True(t, final.CurrentStock.Equal(d("750")), "got %s", final.CurrentStock)

	check, err := h.eng.Ledger.VerifyProjection(ctx, tank.ID)
	require.NoError(t, err)
	assert.True(t, check.Consistent, "%v", check.Problems)
	assert.Equal(t, writers+1, check.Entries)
}

// conflictingStore reports a conflict on the first n projection writes.
type conflictingStore struct {
	*store.Memory
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(fuel.Store) error) error {
	return c.Memory.WithTx(ctx, func(tx fuel.Store) error {
		return fn(conflictingTx{Store: tx, parent: c})
	})
}

type conflictingTx struct {
	fuel.Store
	parent *conflictingStore
}

func (c conflictingTx) SaveProjection(ctx context.Context, t fuel.Tank, expected int64) error {
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	if c.parent.conflicts > 0 {
		c.parent.conflicts--
		return fuel.ErrConcurrentModification
	}
	return c.Store.SaveProjection(ctx, t, expected)
}

func TestApply_RetriesThenSurfacesConflict(t *testing.T) {
	mem := store.NewMemory()
	cs := &conflictingStore{Memory: mem}
	h := newHarnessWith(t, mem, cs)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")

	// Two conflicts fit in the retry budget.
	cs.conflicts = 2
	_, updated, err := h.eng.Ledger.RecordPurchase(context.Background(), purchaseInput(tank.ID, "100"))
	require.NoError(t, err)
	assert.True(t, updated.CurrentStock.Equal(d("1100")))

	// More than the budget surfaces the conflict with nothing written.
	cs.conflicts = fuel.DefaultMaxRetries + 1
	_, _, err = h.eng.Ledger.RecordPurchase(context.Background(), purchaseInput(tank.ID, "100"))
	assert.ErrorIs(t, err, fuel.ErrConcurrentModification)
	assert.Len(t, h.entries(t, tank.ID), 2)
}

// =============================================================================
// READ SIDE
// =============================================================================

func TestHistory_WindowAndOrder(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")
	start := h.clock.Now()

	h.clock.Advance(time.Hour)
	h.purchase(t, tank.ID, "100")
	h.clock.Advance(time.Hour)
	h.purchase(t, tank.ID, "200")

	all, err := h.eng.Ledger.History(context.Background(), tank.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, e := range all {
		assert.Equal(t, int64(i+1), e.Seq)
	}

	window, err := h.eng.Ledger.History(context.Background(), tank.ID, start.Add(30*time.Minute), start.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.True(t, window[0].Quantity.Equal(d("100")))

	_, err = h.eng.Ledger.History(context.Background(), "tnk_missing", time.Time{}, time.Time{})
	assert.True(t, fuel.IsNotFound(err))
}

func TestProjection_AlwaysEqualsLastEntry(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "T1", fuel.FuelDiesel, "10000", "1000")
	ctx := context.Background()

	h.purchase(t, tank.ID, "3000")
	sale := h.verifiedSale(t, fuel.FuelDiesel, "700")
	_, err := h.eng.Sales.DeductForVerifiedSale(ctx, sale.ID, "cashier")
	require.NoError(t, err)
	_, _, err = h.eng.Ledger.RecordDelivery(ctx, fuel.DeliveryInput{TankID: tank.ID, Quantity: d("50"), Reference: "DN-9"})
	require.NoError(t, err)

	entries := h.entries(t, tank.ID)
	last := entries[len(entries)-1]
	current := h.current(t, tank.ID)
	assert.True(t, current.CurrentStock.Equal(last.NewStock))
	assert.True(t, current.CurrentStock.Equal(d("3350")))

	for _, e := range entries {
		effect, err := fuel.SignedEffect(e.Type, e.Quantity)
		require.NoError(t, err)
		assert.True(t, e.NewStock.Equal(e.PreviousStock.Add(effect)))
		assert.False(t, e.NewStock.IsNegative())
		assert.False(t, e.NewStock.GreaterThan(current.Capacity))
	}
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, fuel.IsClientError(&fuel.MissingFieldError{Field: "x"}))
	assert.True(t, fuel.IsClientError(&fuel.CapacityError{}))
	assert.True(t, fuel.IsNotFound(&fuel.TankNotFoundError{TankID: "x"}))
	assert.True(t, fuel.IsConflict(&fuel.AlreadyProcessedError{}))

	perr := &fuel.PersistenceError{Op: "insert entry", Err: errDiskFull}
	assert.True(t, errors.Is(perr, fuel.ErrPersistence))
	assert.True(t, errors.Is(perr, errDiskFull))
	assert.False(t, fuel.IsClientError(perr))
}
