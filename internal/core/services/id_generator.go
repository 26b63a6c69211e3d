package services

import (
	"context"
	"fmt"
	"time"

	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/core/domain"

	"gorm.io/gorm"
)

// IDGenerator issues ZKT-YDSF-<ORG>-<YYYYMM>-<SEQ> donation IDs from the
// persisted sequence table
type IDGenerator struct {
	seqs *repositories.SequenceRepository
	loc  *time.Location
}

// NewIDGenerator creates a generator whose period follows loc
func NewIDGenerator(seqs *repositories.SequenceRepository, loc *time.Location) *IDGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &IDGenerator{seqs: seqs, loc: loc}
}

// Next reserves the next ID for organization inside tx
func (g *IDGenerator) Next(ctx context.Context, tx *gorm.DB, organization string, at time.Time) (string, error) {
	code, ok := domain.OrgCode(organization)
	if !ok {
		return "", &domain.ValidationError{Field: "organization", Reason: fmt.Sprintf("unknown organization %q", organization)}
	}

	local := at.In(g.loc)
	period := local.Format("200601")

	seq, err := g.seqs.WithTx(tx).Next(ctx, code, period)
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}
	if seq > domain.MaxDonationSequence {
		return "", fmt.Errorf("%w: %s %s", domain.ErrSequenceExhausted, code, period)
	}

	return domain.FormatDonationID(code, local, seq), nil
}
