package repositories

import (
	"context"

	"zakat-ledger/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// AuditRepository appends and reads audit rows. It has no update or delete.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *AuditRepository) WithTx(tx *gorm.DB) *AuditRepository {
	return &AuditRepository{db: tx}
}

// Append inserts an audit row
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByEntity lists the trail for one entity, oldest first
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}
