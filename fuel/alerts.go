package fuel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// LOW-STOCK ALERT POLICY - Two thresholds, so the alert does not flap
// =============================================================================

const (
	DefaultAlertThreshold    = 20
	DefaultRecoveryThreshold = 30
)

// AlertPolicy raises and clears low-stock notifications.
//
//	level <= AlertThreshold     -> one unread low_stock per product
//	level >  RecoveryThreshold  -> resolve low_stock once every active tank
//	                               of the product is above it, emit stock_recovered
//	anything in between         -> no change
type AlertPolicy struct {
	Notifications     Notifier
	Tanks             TankStore
	AlertThreshold    int
	RecoveryThreshold int
	Logger            *zap.Logger
	Clock             func() time.Time
}

func NewAlertPolicy(n Notifier, alert, recovery int, logger *zap.Logger) (*AlertPolicy, error) {
	if alert < 0 || alert > 100 {
		return nil, &FieldError{Field: "alert_threshold", Message: "must be between 0 and 100"}
	}
	if recovery <= alert {
		return nil, &FieldError{Field: "recovery_threshold", Message: fmt.Sprintf(
			"must be greater than alert threshold %d", alert)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertPolicy{
		Notifications:     n,
		AlertThreshold:    alert,
		RecoveryThreshold: recovery,
		Logger:            logger,
		Clock:             time.Now,
	}, nil
}

// Evaluate runs after a committed stock change. It never fails the caller.
func (p *AlertPolicy) Evaluate(ctx context.Context, tank Tank) {
	if p == nil || p.Notifications == nil {
		return
	}
	log := p.Logger.With(zap.String("tank_id", tank.ID), zap.String("product", string(tank.Product)))

	switch {
	case tank.CurrentLevel <= p.AlertThreshold:
		open, err := p.Notifications.HasUnread(ctx, NotifyLowStock, tank.Product)
		if err != nil {
			log.Warn("low stock lookup failed", zap.Error(err))
			return
		}
		if open {
			return
		}
		priority := PriorityMedium
		if tank.CurrentLevel <= p.AlertThreshold/2 {
			priority = PriorityHigh
		}
		p.notify(ctx, log, Notification{
			Type:     NotifyLowStock,
			Product:  tank.Product,
			TankID:   tank.ID,
			Priority: priority,
			Description: fmt.Sprintf("%s is at %d%% (%s L of %s L)",
				tank.Name, tank.CurrentLevel, tank.CurrentStock.StringFixed(2), tank.Capacity.StringFixed(0)),
		})

	case tank.CurrentLevel > p.RecoveryThreshold:
		open, err := p.Notifications.HasUnread(ctx, NotifyLowStock, tank.Product)
		if err != nil {
			log.Warn("low stock lookup failed", zap.Error(err))
			return
		}
		if !open {
			return
		}
		low, err := p.siblingStillLow(ctx, tank)
		if err != nil {
			log.Warn("sibling tank lookup failed", zap.Error(err))
			return
		}
		if low != "" {
			log.Debug("low stock kept open", zap.String("low_tank_id", low))
			return
		}
		n, err := p.Notifications.Resolve(ctx, NotifyLowStock, tank.Product)
		if err != nil {
			log.Warn("resolve low stock failed", zap.Error(err))
			return
		}
		if n == 0 {
			return
		}
		p.notify(ctx, log, Notification{
			Type:        NotifyStockRecovered,
			Product:     tank.Product,
			TankID:      tank.ID,
			Priority:    PriorityLow,
			Description: fmt.Sprintf("%s recovered to %d%%", tank.Name, tank.CurrentLevel),
		})
	}
}

// siblingStillLow returns the id of another active tank of the product that
// has not recovered yet, or "".
func (p *AlertPolicy) siblingStillLow(ctx context.Context, tank Tank) (string, error) {
	if p.Tanks == nil {
		return "", nil
	}
	tanks, err := p.Tanks.ListTanks(ctx, TankFilter{Product: tank.Product, ActiveOnly: true})
	if err != nil {
		return "", err
	}
	for _, t := range tanks {
		if t.ID != tank.ID && t.CurrentLevel <= p.RecoveryThreshold {
			return t.ID, nil
		}
	}
	return "", nil
}

func (p *AlertPolicy) notify(ctx context.Context, log *zap.Logger, n Notification) {
	n.ID = NewID("ntf")
	n.Status = NotificationUnread
	n.CreatedAt = p.now()
	if err := p.Notifications.Notify(ctx, n); err != nil {
		log.Warn("notification failed", zap.String("type", string(n.Type)), zap.Error(err))
		return
	}
	log.Info("notification raised", zap.String("type", string(n.Type)), zap.String("priority", string(n.Priority)))
}

func (p *AlertPolicy) now() time.Time {
	if p.Clock == nil {
		return time.Now().UTC()
	}
	return p.Clock().UTC()
}
