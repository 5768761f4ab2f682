package fuel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuelstock/fuel"
	"github.com/warp/fuelstock/fuel/store"
)

// cancelAfterCommit cancels the caller's context right after a transaction
// commits, as a client disconnecting at that moment would.
type cancelAfterCommit struct {
	*store.Memory
	cancel context.CancelFunc
}

func (c *cancelAfterCommit) WithTx(ctx context.Context, fn func(fuel.Store) error) error {
	err := c.Memory.WithTx(ctx, fn)
	if err == nil && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return err
}

// ctxAudit refuses appends on a done context, like a database driver.
type ctxAudit struct {
	*store.Memory
}

func (a ctxAudit) Append(ctx context.Context, e fuel.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.Memory.Append(ctx, e)
}

func TestAudit_SurvivesCancellationAfterCommit(t *testing.T) {
	// GIVEN: An engine whose caller goes away as soon as a write commits
	mem := store.NewMemory()
	tx := &cancelAfterCommit{Memory: mem}
	eng, err := fuel.NewEngine(fuel.Options{Store: tx, Notifications: mem, Audit: ctxAudit{mem}})
	require.NoError(t, err)
	bg := context.Background()

	tank, err := eng.Tanks.CreateTank(bg, fuel.TankSpec{
		Name: "D1", Product: fuel.FuelDiesel, Capacity: d("5000"), OpeningStock: d("1000"),
	}, "op-1")
	require.NoError(t, err)
	adj, err := eng.Adjustments.Propose(bg, fuel.ProposeInput{
		TankID: tank.ID, Type: fuel.AdjustDeduction, Quantity: dp("100"), Reason: "dip check", Actor: "op-1",
	})
	require.NoError(t, err)
	sale, err := eng.Sales.RegisterSale(bg, fuel.SaleInput{FuelType: fuel.FuelDiesel, Liters: d("50")})
	require.NoError(t, err)
	require.NoError(t, mem.SetSaleStatus(bg, sale.ID, fuel.SaleVerified))

	// WHEN: The approval commits and the request is cancelled
	ctx, cancel := context.WithCancel(bg)
	tx.cancel = cancel
	_, err = eng.Adjustments.Decide(ctx, fuel.DecideInput{ID: adj.ID, Approved: true, Actor: "mgr-1"})
	require.NoError(t, err)

	// AND: The deduction commits and the request is cancelled
	ctx, cancel = context.WithCancel(bg)
	tx.cancel = cancel
	_, err = eng.Sales.DeductForVerifiedSale(ctx, sale.ID, "cashier")
	require.NoError(t, err)

	// THEN: Both audit rows are written
	approved, err := mem.Query(bg, fuel.AuditFilter{EntityID: adj.ID, Action: fuel.AuditAdjustmentApproved})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
	deducted, err := mem.Query(bg, fuel.AuditFilter{EntityID: sale.ID, Action: fuel.AuditSaleDeducted})
	require.NoError(t, err)
	assert.Len(t, deducted, 1)
}
