package fuel

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE - Wires the services around one store
// =============================================================================

// Options configures NewEngine. Store is required; everything else defaults.
type Options struct {
	Store         TxStore
	Notifications Notifier
	Audit         AuditLog
	Locker        TankLocker
	Logger        *zap.Logger

	AlertThreshold        int
	RecoveryThreshold     int
	Tolerance             decimal.Decimal
	HighSeverityThreshold decimal.Decimal
	MaxRetries            int
	Clock                 func() time.Time
}

type Engine struct {
	Tanks          *Registry
	Ledger         *Ledger
	Adjustments    *AdjustmentService
	Sales          *SaleService
	Reconciliation *ReconciliationService
	Calibration    *CalibrationService
	Alerts         *AlertPolicy

	Notifications Notifier
	Audit         AuditLog
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("fuel: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.AlertThreshold == 0 && opts.RecoveryThreshold == 0 {
		opts.AlertThreshold = DefaultAlertThreshold
		opts.RecoveryThreshold = DefaultRecoveryThreshold
	}
	if opts.Tolerance.IsZero() {
		opts.Tolerance = DefaultTolerance
	}
	if opts.HighSeverityThreshold.IsZero() {
		opts.HighSeverityThreshold = DefaultHighSeverityThreshold
	}

	alerts, err := NewAlertPolicy(opts.Notifications, opts.AlertThreshold, opts.RecoveryThreshold, opts.Logger.Named("alerts"))
	if err != nil {
		return nil, err
	}
	alerts.Clock = opts.Clock
	alerts.Tanks = opts.Store

	ledger := NewLedger(opts.Store, opts.Locker, alerts, opts.Logger.Named("ledger"))
	ledger.Clock = opts.Clock
	if opts.MaxRetries > 0 {
		ledger.MaxRetries = opts.MaxRetries
	}

	audit := auditor{log: opts.Audit, logger: opts.Logger.Named("audit"), clock: func() time.Time { return opts.Clock().UTC() }}

	registry := &Registry{
		Store:  opts.Store,
		Ledger: ledger,
		Audit:  audit,
		Logger: opts.Logger.Named("tanks"),
		Clock:  opts.Clock,
	}
	return &Engine{
		Tanks:  registry,
		Ledger: ledger,
		Adjustments: &AdjustmentService{
			Store:  opts.Store,
			Ledger: ledger,
			Audit:  audit,
			Logger: opts.Logger.Named("adjustments"),
		},
		Sales: &SaleService{
			Store:         opts.Store,
			Ledger:        ledger,
			Registry:      registry,
			Notifications: opts.Notifications,
			Audit:         audit,
			Logger:        opts.Logger.Named("sales"),
		},
		Reconciliation: &ReconciliationService{
			Store:                 opts.Store,
			Notifications:         opts.Notifications,
			Audit:                 audit,
			Logger:                opts.Logger.Named("reconciliation"),
			Tolerance:             opts.Tolerance,
			HighSeverityThreshold: opts.HighSeverityThreshold,
			Clock:                 opts.Clock,
		},
		Calibration: &CalibrationService{
			Store:  opts.Store,
			Audit:  audit,
			Logger: opts.Logger.Named("calibration"),
		},
		Alerts:        alerts,
		Notifications: opts.Notifications,
		Audit:         opts.Audit,
	}, nil
}
