package fuel

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AUDIT TRAIL - Compliance record, never stock truth
// =============================================================================

const (
	AuditTankCreated          = "tank_created"
	AuditTankDeactivated      = "tank_deactivated"
	AuditAdjustmentProposed   = "adjustment_proposed"
	AuditAdjustmentApproved   = "adjustment_approved"
	AuditAdjustmentRejected   = "adjustment_rejected"
	AuditSaleDeducted         = "sale_deducted"
	AuditCalibrationUploaded  = "calibration_uploaded"
	AuditCalibrationPointSet  = "calibration_point_set"
	AuditClosingReadingStored = "closing_reading_recorded"
)

// AuditEntry is one action taken by an actor.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor"`
	Notes      string         `json:"notes,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Action     string
	Limit      int
}

// AuditLog stores the audit trail.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// auditor writes audit entries on a best-effort basis.
type auditor struct {
	log    AuditLog
	logger *zap.Logger
	clock  func() time.Time
}

func (a auditor) record(ctx context.Context, entry AuditEntry) {
	if a.log == nil {
		return
	}
	entry.ID = NewID("aud")
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.clock()
	}
	// Audit rows follow a commit; the caller going away must not drop them.
	if err := a.log.Append(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Warn("audit append failed",
			zap.String("action", entry.Action),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err))
	}
}
