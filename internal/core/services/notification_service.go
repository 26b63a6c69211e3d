package services

import (
	"context"
	"sync"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/pkg/logger"

	"github.com/rs/zerolog"
)

// Routing keys for donation lifecycle events
const (
	EventDonationCreated     = "donation.created"
	EventDonationValidated   = "donation.validated"
	EventDonationDistributed = "donation.distributed"
	EventDonationSynced      = "donation.synced"
	EventDonationSyncFailed  = "donation.sync_failed"
)

const publishTimeout = 5 * time.Second

// DonationEvent is the payload published for every lifecycle event
type DonationEvent struct {
	DonationID   string    `json:"donation_id"`
	Status       string    `json:"status"`
	SyncStatus   string    `json:"sync_status"`
	Amount       int64     `json:"amount"`
	ZakatType    string    `json:"zakat_type"`
	Organization string    `json:"organization"`
	ProgramID    string    `json:"program_id,omitempty"`
	ReferralCode string    `json:"referral_code,omitempty"`
	LedgerTxID   string    `json:"ledger_tx_id,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NotificationService publishes lifecycle events in the background. A
// failed publish is logged and never fails the business operation.
type NotificationService struct {
	publisher EventPublisher
	exchange  string
	log       zerolog.Logger
	wg        sync.WaitGroup
}

// NewNotificationService creates a new notification service
func NewNotificationService(publisher EventPublisher, exchange string, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		publisher: publisher,
		exchange:  exchange,
		log:       logger.Component(log, "notifications"),
	}
}

// IsEnabled checks if a publisher is configured
func (s *NotificationService) IsEnabled() bool {
	return s != nil && s.publisher != nil
}

// NotifyDonationCreated announces a new donation
func (s *NotificationService) NotifyDonationCreated(d *models.Donation) {
	s.publish(EventDonationCreated, newDonationEvent(d, "", ""))
}

// NotifyPaymentValidated announces a validated payment
func (s *NotificationService) NotifyPaymentValidated(d *models.Donation, actor string) {
	s.publish(EventDonationValidated, newDonationEvent(d, actor, ""))
}

// NotifyDonationDistributed announces a distribution
func (s *NotificationService) NotifyDonationDistributed(d *models.Donation, actor string) {
	s.publish(EventDonationDistributed, newDonationEvent(d, actor, ""))
}

// NotifySynced announces that the ledger caught up with a donation
func (s *NotificationService) NotifySynced(d *models.Donation) {
	s.publish(EventDonationSynced, newDonationEvent(d, "", ""))
}

// NotifySyncFailed announces that a donation needs attention
func (s *NotificationService) NotifySyncFailed(d *models.Donation, reason string) {
	s.publish(EventDonationSyncFailed, newDonationEvent(d, "", reason))
}

func (s *NotificationService) publish(routingKey string, event DonationEvent) {
	if !s.IsEnabled() {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.publisher.Publish(ctx, s.exchange, routingKey, event); err != nil {
			s.log.Warn().Err(err).
				Str("routing_key", routingKey).
				Str("donation_id", event.DonationID).
				Msg("event publish failed")
		}
	}()
}

// Flush waits for in-flight publishes
func (s *NotificationService) Flush() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// Close flushes and closes the publisher
func (s *NotificationService) Close() {
	if !s.IsEnabled() {
		return
	}
	s.Flush()
	s.publisher.Close()
}

func newDonationEvent(d *models.Donation, actor, reason string) DonationEvent {
	event := DonationEvent{
		DonationID:   d.ID,
		Status:       d.Status,
		SyncStatus:   d.SyncStatus,
		Amount:       d.Amount,
		ZakatType:    d.ZakatType,
		Organization: d.Organization,
		Actor:        actor,
		Error:        reason,
		OccurredAt:   time.Now().UTC(),
	}
	if d.ProgramID != nil {
		event.ProgramID = *d.ProgramID
	}
	if d.ReferralCode != nil {
		event.ReferralCode = *d.ReferralCode
	}
	if d.LedgerTxID != nil {
		event.LedgerTxID = *d.LedgerTxID
	}
	return event
}
