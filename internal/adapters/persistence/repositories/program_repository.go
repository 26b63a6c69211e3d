package repositories

import (
	"context"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProgramRepository handles donation program data access
type ProgramRepository struct {
	db *gorm.DB
}

// NewProgramRepository creates a new program repository
func NewProgramRepository(db *gorm.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *ProgramRepository) WithTx(tx *gorm.DB) *ProgramRepository {
	return &ProgramRepository{db: tx}
}

// GetByID gets a program by ID
func (r *ProgramRepository) GetByID(ctx context.Context, id string) (*models.Program, error) {
	var program models.Program
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&program).Error
	if err != nil {
		return nil, notFound(err, "program", id)
	}
	return &program, nil
}

// ListActive lists active programs ordered by ID
func (r *ProgramRepository) ListActive(ctx context.Context) ([]models.Program, error) {
	var programs []models.Program
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&programs).Error
	return programs, err
}

// CreateIfMissing inserts a program unless one with the same ID exists
func (r *ProgramRepository) CreateIfMissing(ctx context.Context, program *models.Program) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(program)
	return res.RowsAffected > 0, res.Error
}

// ListUnregistered lists programs the ledger has not acknowledged yet
func (r *ProgramRepository) ListUnregistered(ctx context.Context, limit int) ([]models.Program, error) {
	var programs []models.Program
	err := r.db.WithContext(ctx).
		Where("ledger_synced_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&programs).Error
	return programs, err
}

// ResetRegistrations forgets every ledger acknowledgement, for a ledger
// that starts empty
func (r *ProgramRepository) ResetRegistrations(ctx context.Context) error {
	return r.db.WithContext(ctx).Model(&models.Program{}).
		Where("ledger_synced_at IS NOT NULL").
		Updates(map[string]interface{}{
			"ledger_tx_id":     nil,
			"ledger_synced_at": nil,
		}).Error
}

// MarkRegistered records the ledger acknowledgement of a program
func (r *ProgramRepository) MarkRegistered(ctx context.Context, id string, txID *string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Program{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ledger_tx_id":     txID,
			"ledger_synced_at": at,
		}).Error
}

// AddCollected increments the program's collected total
func (r *ProgramRepository) AddCollected(ctx context.Context, id string, amount int64) error {
	return r.db.WithContext(ctx).Model(&models.Program{}).
		Where("id = ?", id).
		UpdateColumn("collected_amount", gorm.Expr("collected_amount + ?", amount)).Error
}

// AddDistributed increments the program's distributed total
func (r *ProgramRepository) AddDistributed(ctx context.Context, id string, amount int64) error {
	return r.db.WithContext(ctx).Model(&models.Program{}).
		Where("id = ?", id).
		UpdateColumn("distributed_amount", gorm.Expr("distributed_amount + ?", amount)).Error
}
