package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/config"
	"zakat-ledger/internal/core/domain"
	"zakat-ledger/internal/pkg/logger"
	"zakat-ledger/internal/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	publicActor      = "public"
	defaultRecipient = "general-distribution"
)

// CreateDonationInput is the validated shape of a new donation
type CreateDonationInput struct {
	DonorName     string
	DonorPhone    string
	DonorEmail    string
	Amount        int64
	ZakatType     string
	PaymentMethod string
	ProgramID     string
	ReferralCode  string
	// CreatedBy is recorded in the audit trail; empty means a public submission
	CreatedBy string
}

// DistributeInput describes a disbursement. Zero Amount means the remaining
// balance; empty Recipient means the general distribution pool.
type DistributeInput struct {
	Recipient string
	Amount    int64
}

// DonationService is the donation state machine. Every transition commits
// the donation row, its audit entry and its outbox entry in one transaction
// while holding the donation's lock.
type DonationService struct {
	db            *gorm.DB
	donations     *repositories.DonationRepository
	programs      *repositories.ProgramRepository
	officers      *repositories.OfficerRepository
	distributions *repositories.DistributionRepository
	ids           *IDGenerator
	locks         KeyLocker
	audit         *AuditService
	sync          *SyncCoordinator
	notify        *NotificationService
	org           config.OrgConfig
	log           zerolog.Logger
	now           func() time.Time
}

// NewDonationService creates a new donation service
func NewDonationService(
	db *gorm.DB,
	ids *IDGenerator,
	locks KeyLocker,
	audit *AuditService,
	sync *SyncCoordinator,
	notify *NotificationService,
	org config.OrgConfig,
	log zerolog.Logger,
) *DonationService {
	return &DonationService{
		db:            db,
		donations:     repositories.NewDonationRepository(db),
		programs:      repositories.NewProgramRepository(db),
		officers:      repositories.NewOfficerRepository(db),
		distributions: repositories.NewDistributionRepository(db),
		ids:           ids,
		locks:         locks,
		audit:         audit,
		sync:          sync,
		notify:        notify,
		org:           org,
		log:           logger.Component(log, "donations"),
		now:           time.Now,
	}
}

// Create records a new pending donation and stages its AddZakat call
func (s *DonationService) Create(ctx context.Context, in CreateDonationInput) (*models.Donation, error) {
	if err := s.normalizeCreate(&in); err != nil {
		return nil, err
	}

	var donation *models.Donation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		organization := s.org.DefaultOrganization
		var programID *string
		if in.ProgramID != "" {
			program, err := s.programs.WithTx(tx).GetByID(ctx, in.ProgramID)
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.ValidationError{Field: "program_id", Reason: fmt.Sprintf("unknown program %q", in.ProgramID)}
			}
			if err != nil {
				return err
			}
			if !program.IsActive {
				return &domain.ValidationError{Field: "program_id", Reason: fmt.Sprintf("program %q is not active", in.ProgramID)}
			}
			organization = program.Organization
			programID = strPtr(program.ID)
		}

		var referralCode *string
		if in.ReferralCode != "" {
			officer, err := s.officers.WithTx(tx).GetByReferralCode(ctx, in.ReferralCode)
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.ValidationError{Field: "referral_code", Reason: fmt.Sprintf("unknown referral code %q", in.ReferralCode)}
			}
			if err != nil {
				return err
			}
			if !officer.IsActive {
				return &domain.ValidationError{Field: "referral_code", Reason: fmt.Sprintf("officer %q is not active", officer.ID)}
			}
			referralCode = strPtr(officer.ReferralCode)
		}

		now := s.now().UTC()
		id, err := s.ids.Next(ctx, tx, organization, now)
		if err != nil {
			return err
		}

		donation = &models.Donation{
			ID:            id,
			DonorName:     in.DonorName,
			DonorPhone:    in.DonorPhone,
			Amount:        in.Amount,
			ZakatType:     in.ZakatType,
			PaymentMethod: in.PaymentMethod,
			Organization:  organization,
			ProgramID:     programID,
			ReferralCode:  referralCode,
			Status:        string(domain.StatusPending),
			SyncStatus:    string(domain.SyncPending),
			TransitionSeq: seqCreated,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if in.DonorEmail != "" {
			donation.DonorEmail = strPtr(in.DonorEmail)
		}

		if err := s.donations.WithTx(tx).Create(ctx, donation); err != nil {
			return fmt.Errorf("insert donation: %w", err)
		}

		err = s.audit.Record(ctx, tx, AuditEntityDonation, donation.ID, AuditActionCreated, in.CreatedBy,
			map[string]interface{}{
				"amount":        donation.Amount,
				"zakat_type":    donation.ZakatType,
				"organization":  donation.Organization,
				"program_id":    in.ProgramID,
				"referral_code": in.ReferralCode,
			})
		if err != nil {
			return err
		}

		sub := addZakatSubmission(donation)
		return s.sync.Stage(ctx, tx, donation, sub.fn, sub.args)
	})
	if err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues("created").Inc()
	s.log.Info().
		Str("donation_id", donation.ID).
		Int64("amount", donation.Amount).
		Str("zakat_type", donation.ZakatType).
		Msg("donation created")

	s.notify.NotifyDonationCreated(donation)
	s.sync.Notify()
	return donation, nil
}

func (s *DonationService) normalizeCreate(in *CreateDonationInput) error {
	in.DonorName = strings.TrimSpace(in.DonorName)
	in.DonorPhone = strings.TrimSpace(in.DonorPhone)
	in.DonorEmail = strings.TrimSpace(in.DonorEmail)
	in.ProgramID = strings.TrimSpace(in.ProgramID)
	in.ReferralCode = strings.TrimSpace(in.ReferralCode)
	in.ZakatType = strings.ToLower(strings.TrimSpace(in.ZakatType))
	in.PaymentMethod = strings.ToLower(strings.TrimSpace(in.PaymentMethod))

	if in.DonorName == "" {
		return &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	if in.DonorPhone == "" {
		return &domain.ValidationError{Field: "phone", Reason: "is required"}
	}
	if in.Amount <= 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be a positive integer"}
	}
	if !domain.ZakatType(in.ZakatType).Valid() {
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("must be fitrah or maal, got %q", in.ZakatType)}
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = s.org.DefaultPaymentMethod
	}
	if !domain.PaymentMethod(in.PaymentMethod).Valid() {
		return &domain.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unsupported payment method %q", in.PaymentMethod)}
	}
	if in.ProgramID != "" {
		if err := domain.ValidateProgramID(in.ProgramID); err != nil {
			return err
		}
	}
	if in.CreatedBy == "" {
		in.CreatedBy = publicActor
	}
	return nil
}

// ValidatePayment moves a pending donation to collected. Repeating the call
// with the same payment reference is a no-op that returns the current donation.
func (s *DonationService) ValidatePayment(ctx context.Context, id, paymentReference string, actor domain.Actor) (*models.Donation, error) {
	if !actor.CanOperate() {
		return nil, domain.ErrForbidden
	}
	ref := strings.TrimSpace(paymentReference)
	if ref == "" {
		ref = "RCPT-" + id
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var donation *models.Donation
	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.donations.WithTx(tx).GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		donation = d

		switch domain.DonationStatus(d.Status) {
		case domain.StatusPending:
		case domain.StatusCollected:
			if deref(d.PaymentReference) == ref {
				return nil
			}
			return &domain.ConflictError{
				ID:     id,
				Reason: fmt.Sprintf("payment already validated with reference %q", deref(d.PaymentReference)),
			}
		default:
			if deref(d.PaymentReference) == ref {
				return nil
			}
			return &domain.InvalidTransitionError{ID: id, From: domain.DonationStatus(d.Status), To: domain.StatusCollected}
		}

		now := s.now().UTC()
		d.Status = string(domain.StatusCollected)
		d.PaymentReference = strPtr(ref)
		d.ValidatedAt = &now
		d.ValidatedBy = strPtr(actor.ID)
		d.TransitionSeq = seqValidated

		err = s.donations.WithTx(tx).UpdateFields(ctx, id, map[string]interface{}{
			"status":            d.Status,
			"payment_reference": ref,
			"validated_at":      now,
			"validated_by":      actor.ID,
			"transition_seq":    d.TransitionSeq,
		})
		if err != nil {
			return err
		}

		if d.ProgramID != nil {
			if err := s.programs.WithTx(tx).AddCollected(ctx, *d.ProgramID, d.Amount); err != nil {
				return err
			}
		}

		err = s.audit.Record(ctx, tx, AuditEntityDonation, id, AuditActionPaymentValidated, actor.ID,
			map[string]interface{}{
				"payment_reference": ref,
				"amount":            d.Amount,
				"role":              actor.Role,
			})
		if err != nil {
			return err
		}

		sub := validatePaymentSubmission(d)
		if err := s.sync.Stage(ctx, tx, d, sub.fn, sub.args); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		metrics.TransitionsTotal.WithLabelValues("validated").Inc()
		s.log.Info().Str("donation_id", id).Str("actor", actor.ID).Msg("payment validated")
		s.notify.NotifyPaymentValidated(donation, actor.ID)
		s.sync.Notify()
	}

	return s.donations.GetByID(ctx, donation.ID)
}

// Distribute records the disbursement of a collected donation
func (s *DonationService) Distribute(ctx context.Context, id string, in DistributeInput, actor domain.Actor) (*models.Donation, *models.Distribution, error) {
	if !actor.CanOperate() {
		return nil, nil, domain.ErrForbidden
	}
	if in.Amount < 0 {
		return nil, nil, &domain.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	recipient := strings.TrimSpace(in.Recipient)
	if recipient == "" {
		recipient = defaultRecipient
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	var distribution *models.Distribution
	var donation *models.Donation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.donations.WithTx(tx).GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		donation = d

		if d.Status != string(domain.StatusCollected) {
			return &domain.InvalidTransitionError{ID: id, From: domain.DonationStatus(d.Status), To: domain.StatusDistributed}
		}

		already, err := s.distributions.WithTx(tx).SumByDonation(ctx, id)
		if err != nil {
			return err
		}
		available := d.Amount - already
		amount := in.Amount
		if amount == 0 {
			amount = available
		}
		if amount > available || amount <= 0 {
			return &domain.InsufficientFundsError{ID: id, Requested: amount, Available: available}
		}

		now := s.now().UTC().Truncate(time.Second)
		distribution = &models.Distribution{
			ID:            fmt.Sprintf("DIST-%s-%s", now.Format("20060102"), uuid.NewString()[:8]),
			DonationID:    id,
			Recipient:     recipient,
			Amount:        amount,
			DistributedBy: actor.ID,
			CreatedAt:     now,
		}
		if err := s.distributions.WithTx(tx).Create(ctx, distribution); err != nil {
			return fmt.Errorf("insert distribution: %w", err)
		}

		d.Status = string(domain.StatusDistributed)
		d.DistributedAt = &now
		d.DistributedBy = strPtr(actor.ID)
		d.TransitionSeq = seqDistributed
		err = s.donations.WithTx(tx).UpdateFields(ctx, id, map[string]interface{}{
			"status":         d.Status,
			"distributed_at": now,
			"distributed_by": actor.ID,
			"transition_seq": d.TransitionSeq,
		})
		if err != nil {
			return err
		}

		if d.ProgramID != nil {
			if err := s.programs.WithTx(tx).AddDistributed(ctx, *d.ProgramID, amount); err != nil {
				return err
			}
		}

		err = s.audit.Record(ctx, tx, AuditEntityDonation, id, AuditActionDistributed, actor.ID,
			map[string]interface{}{
				"distribution_id": distribution.ID,
				"recipient":       recipient,
				"amount":          amount,
				"role":            actor.Role,
			})
		if err != nil {
			return err
		}

		sub := distributeSubmission(d, distribution)
		return s.sync.Stage(ctx, tx, d, sub.fn, sub.args)
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.TransitionsTotal.WithLabelValues("distributed").Inc()
	s.log.Info().
		Str("donation_id", id).
		Str("distribution_id", distribution.ID).
		Int64("amount", distribution.Amount).
		Str("actor", actor.ID).
		Msg("donation distributed")
	s.notify.NotifyDonationDistributed(donation, actor.ID)
	s.sync.Notify()

	updated, err := s.donations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, distribution, nil
}

// GetByID returns one donation with its distribution
func (s *DonationService) GetByID(ctx context.Context, id string) (*models.Donation, error) {
	return s.donations.GetByID(ctx, id)
}
