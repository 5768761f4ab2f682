package fuel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuelstock/fuel"
)

func TestNewAlertPolicy_RecoveryMustExceedAlert(t *testing.T) {
	_, err := fuel.NewAlertPolicy(nil, 20, 20, nil)
	assert.ErrorIs(t, err, fuel.ErrValidation)

	_, err = fuel.NewAlertPolicy(nil, 30, 20, nil)
	assert.ErrorIs(t, err, fuel.ErrValidation)

	p, err := fuel.NewAlertPolicy(nil, 20, 30, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, p.AlertThreshold)
}

func TestLowStockAlert_FlagFollowsLevel(t *testing.T) {
	h := newHarness(t)
	tank := h.tank(t, "D1", fuel.FuelDiesel, "1000", "200")
	assert.Equal(t, 20, tank.CurrentLevel)
	assert.True(t, tank.LowStockAlert, "level 20 is at the threshold")

	updated := h.purchase(t, tank.ID, "5")
	assert.Equal(t, 21, updated.CurrentLevel)
	assert.False(t, updated.LowStockAlert)
}

func TestLowStockAlert_HysteresisDoesNotFlap(t *testing.T) {
	// GIVEN: alert at <=20%, recovery at >30%
	// WHEN: the level moves 15% -> 25% -> 18% -> 28% -> 40%
	// THEN: one low_stock, resolved once, one stock_recovered
	h := newHarness(t)
	ctx := context.Background()
	tank := h.tank(t, "D1", fuel.FuelDiesel, "1000", "150")

	low := h.notifications(t, fuel.NotifyLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, fuel.NotificationUnread, low[0].Status)

	h.purchase(t, tank.ID, "100") // 25%: dead band
	sale := h.verifiedSale(t, fuel.FuelDiesel, "70")
	_, err := h.eng.Sales.DeductForVerifiedSale(ctx, sale.ID, "cashier") // 18%: still unread, no duplicate
	require.NoError(t, err)
	h.purchase(t, tank.ID, "100") // 28%: dead band

	low = h.notifications(t, fuel.NotifyLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, fuel.NotificationUnread, low[0].Status)
	assert.Empty(t, h.notifications(t, fuel.NotifyStockRecovered))

	h.purchase(t, tank.ID, "120") // 40%: recovered

	low = h.notifications(t, fuel.NotifyLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, fuel.NotificationResolved, low[0].Status)
	assert.Len(t, h.notifications(t, fuel.NotifyStockRecovered), 1)

	// Staying high raises nothing more.
	h.purchase(t, tank.ID, "10")
	assert.Len(t, h.notifications(t, fuel.NotifyStockRecovered), 1)
}

func TestLowStockAlert_OnePerProduct(t *testing.T) {
	h := newHarness(t)
	h.tank(t, "P1", fuel.FuelPetrol, "1000", "100")
	h.tank(t, "P2", fuel.FuelPetrol, "1000", "50")
	h.tank(t, "D1", fuel.FuelDiesel, "1000", "50")

	all := h.notifications(t, fuel.NotifyLowStock)
	require.Len(t, all, 2)
	products := []fuel.FuelType{all[0].Product, all[1].Product}
	assert.ElementsMatch(t, []fuel.FuelType{fuel.FuelPetrol, fuel.FuelDiesel}, products)
}

func TestLowStockAlert_SiblingRecoveryKeepsAlertOpen(t *testing.T) {
	// GIVEN: P1 at 10% with an unread low_stock, P2 at 50%
	h := newHarness(t)
	p1 := h.tank(t, "P1", fuel.FuelPetrol, "1000", "100")
	p2 := h.tank(t, "P2", fuel.FuelPetrol, "1000", "500")

	// WHEN: P2 rises to 51%
	h.purchase(t, p2.ID, "10")

	// THEN: P1 is still low, so the alert stays unread
	low := h.notifications(t, fuel.NotifyLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, p1.ID, low[0].TankID)
	assert.Equal(t, fuel.NotificationUnread, low[0].Status)
	assert.Empty(t, h.notifications(t, fuel.NotifyStockRecovered))

	// WHEN: P1 recovers to 40%
	h.purchase(t, p1.ID, "300")

	// THEN: Every petrol tank is above recovery; resolved once
	low = h.notifications(t, fuel.NotifyLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, fuel.NotificationResolved, low[0].Status)
	assert.Len(t, h.notifications(t, fuel.NotifyStockRecovered), 1)
}

func TestLowStockAlert_InactiveSiblingIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.tank(t, "P1", fuel.FuelPetrol, "1000", "100")
	p2 := h.tank(t, "P2", fuel.FuelPetrol, "1000", "100")

	_, err := h.eng.Tanks.DeactivateTank(ctx, p2.ID, "op")
	require.NoError(t, err)
	h.purchase(t, p1.ID, "300")

	low := h.notifications(t, fuel.NotifyLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, fuel.NotificationResolved, low[0].Status)
}
