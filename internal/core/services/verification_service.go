package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"zakat-ledger/internal/adapters/ledger"
	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/core/domain"

	"gorm.io/gorm"
)

// Mismatch is one field where the database and the ledger disagree
type Mismatch struct {
	Field    string `json:"field"`
	Database string `json:"database"`
	Ledger   string `json:"ledger"`
}

// Verification compares a donation with its ledger record
type Verification struct {
	DonationID string              `json:"donation_id"`
	SyncStatus string              `json:"sync_status"`
	OnLedger   bool                `json:"on_ledger"`
	Consistent bool                `json:"consistent"`
	Mismatches []Mismatch          `json:"mismatches"`
	Record     *ledger.ZakatRecord `json:"ledger_record,omitempty"`
}

// VerificationService reads the ledger out of band to confirm that what the
// database says was mirrored actually is. Never used on the request path of
// transitions or queries.
type VerificationService struct {
	donations *repositories.DonationRepository
	ledger    ledger.Client
}

// NewVerificationService creates a new verification service
func NewVerificationService(db *gorm.DB, client ledger.Client) *VerificationService {
	return &VerificationService{
		donations: repositories.NewDonationRepository(db),
		ledger:    client,
	}
}

// Verify loads the donation and its ledger record and lists every difference
func (s *VerificationService) Verify(ctx context.Context, donationID string) (*Verification, error) {
	donation, err := s.donations.GetByID(ctx, donationID)
	if err != nil {
		return nil, err
	}

	result := &Verification{
		DonationID: donation.ID,
		SyncStatus: donation.SyncStatus,
		Mismatches: []Mismatch{},
	}

	raw, err := s.ledger.Query(ctx, ledger.FnQueryZakat, donation.ID)
	var rejected *domain.LedgerRejectedError
	if errors.As(err, &rejected) {
		// the contract answers unknown keys with an error
		result.Mismatches = append(result.Mismatches, Mismatch{Field: "record", Database: "present", Ledger: "missing"})
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	var record ledger.ZakatRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode ledger record: %w", err)
	}
	result.OnLedger = true
	result.Record = &record
	result.Mismatches = compareRecord(donation, &record)
	result.Consistent = len(result.Mismatches) == 0
	return result, nil
}

func compareRecord(d *models.Donation, r *ledger.ZakatRecord) []Mismatch {
	mismatches := []Mismatch{}
	check := func(field, db, onLedger string) {
		if db != onLedger {
			mismatches = append(mismatches, Mismatch{Field: field, Database: db, Ledger: onLedger})
		}
	}

	check("status", d.Status, r.Status)
	check("amount", fmt.Sprintf("%d", d.Amount), fmt.Sprintf("%.0f", r.Amount))
	check("donor_name", d.DonorName, r.Muzakki)
	check("zakat_type", d.ZakatType, r.Type)
	check("organization", d.Organization, r.Organization)
	check("program_id", deref(d.ProgramID), r.ProgramID)
	check("referral_code", deref(d.ReferralCode), r.ReferralCode)
	if d.ValidatedAt != nil {
		check("payment_reference", deref(d.PaymentReference), r.ReceiptNumber)
	}
	if d.Distribution != nil {
		check("distribution_id", d.Distribution.ID, r.DistributionID)
		check("distribution_amount", fmt.Sprintf("%d", d.Distribution.Amount), fmt.Sprintf("%.0f", r.Distribution))
	}
	return mismatches
}
