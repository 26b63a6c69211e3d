package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit entity types and actions
const (
	AuditEntityDonation = "donation"
	AuditEntityProgram  = "program"
	AuditEntityOfficer  = "officer"

	AuditActionCreated          = "created"
	AuditActionPaymentValidated = "payment_validated"
	AuditActionDistributed      = "distributed"
	AuditActionLedgerRejected   = "ledger_rejected"
	AuditActionLedgerRegistered = "ledger_registered"
	AuditActionSyncRetry        = "sync_retry_requested"
)

// AuditService writes the append-only audit trail
type AuditService struct {
	repo *repositories.AuditRepository
	now  func() time.Time
}

// NewAuditService creates a new audit service
func NewAuditService(repo *repositories.AuditRepository) *AuditService {
	return &AuditService{repo: repo, now: time.Now}
}

// Record appends an entry inside tx so it commits or rolls back with the
// change it describes
func (s *AuditService) Record(ctx context.Context, tx *gorm.DB, entityType, entityID, action, performedBy string, details map[string]interface{}) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	entry := &models.AuditLog{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		PerformedBy: performedBy,
		Details:     datatypes.JSON(raw),
		CreatedAt:   s.now().UTC(),
	}
	return s.repo.WithTx(tx).Append(ctx, entry)
}

// Trail returns the audit entries of one entity, oldest first
func (s *AuditService) Trail(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	return s.repo.ListByEntity(ctx, entityType, entityID)
}
