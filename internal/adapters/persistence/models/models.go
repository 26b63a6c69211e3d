package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ============================================================
// Donations
// ============================================================

// Donation represents donations table
type Donation struct {
	ID               string     `gorm:"primaryKey;size:40" json:"id"`
	DonorName        string     `gorm:"size:150;not null;index" json:"donor_name"`
	DonorPhone       string     `gorm:"size:30;not null" json:"donor_phone"`
	DonorEmail       *string    `gorm:"size:150" json:"donor_email,omitempty"`
	Amount           int64      `gorm:"not null" json:"amount"`
	ZakatType        string     `gorm:"size:10;not null;index" json:"zakat_type"`
	PaymentMethod    string     `gorm:"size:20;not null" json:"payment_method"`
	Organization     string     `gorm:"size:60;not null" json:"organization"`
	ProgramID        *string    `gorm:"size:40;index" json:"program_id,omitempty"`
	ReferralCode     *string    `gorm:"size:40;index" json:"referral_code,omitempty"`
	Status           string     `gorm:"size:20;not null;index" json:"status"`
	SyncStatus       string     `gorm:"size:20;not null;index" json:"sync_status"`
	PaymentReference *string    `gorm:"size:100" json:"payment_reference,omitempty"`
	LedgerTxID       *string    `gorm:"size:100" json:"ledger_tx_id,omitempty"`
	TransitionSeq    int        `gorm:"not null" json:"-"`
	LastSyncError    *string    `gorm:"type:text" json:"last_sync_error,omitempty"`
	SyncedAt         *time.Time `json:"synced_at,omitempty"`
	ValidatedAt      *time.Time `json:"validated_at,omitempty"`
	ValidatedBy      *string    `gorm:"size:60" json:"validated_by,omitempty"`
	DistributedAt    *time.Time `json:"distributed_at,omitempty"`
	DistributedBy    *string    `gorm:"size:60" json:"distributed_by,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Distribution *Distribution `gorm:"foreignKey:DonationID;references:ID" json:"distribution,omitempty"`
}

func (Donation) TableName() string {
	return "donations"
}

// Program represents programs table
type Program struct {
	ID                string     `gorm:"primaryKey;size:40" json:"id"`
	Name              string     `gorm:"size:150;not null" json:"name"`
	Description       string     `gorm:"type:text" json:"description"`
	Organization      string     `gorm:"size:60;not null;index" json:"organization"`
	TargetAmount      *int64     `json:"target_amount,omitempty"`
	CollectedAmount   int64      `gorm:"not null" json:"collected_amount"`
	DistributedAmount int64      `gorm:"not null" json:"distributed_amount"`
	IsActive          bool       `gorm:"not null;index" json:"is_active"`
	LedgerTxID        *string    `gorm:"size:100" json:"ledger_tx_id,omitempty"`
	LedgerSyncedAt    *time.Time `json:"ledger_synced_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Program) TableName() string {
	return "programs"
}

// Officer represents officers table. Donations name an officer through its
// referral code.
type Officer struct {
	ID             string     `gorm:"primaryKey;size:40" json:"id"`
	Name           string     `gorm:"size:150;not null" json:"name"`
	ReferralCode   string     `gorm:"size:40;not null;uniqueIndex" json:"referral_code"`
	IsActive       bool       `gorm:"not null;index" json:"is_active"`
	LedgerTxID     *string    `gorm:"size:100" json:"ledger_tx_id,omitempty"`
	LedgerSyncedAt *time.Time `json:"ledger_synced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Officer) TableName() string {
	return "officers"
}

// Distribution represents distributions table. One row per donation.
type Distribution struct {
	ID            string    `gorm:"primaryKey;size:40" json:"id"`
	DonationID    string    `gorm:"size:40;not null;uniqueIndex" json:"donation_id"`
	Recipient     string    `gorm:"size:150;not null" json:"recipient"`
	Amount        int64     `gorm:"not null" json:"amount"`
	DistributedBy string    `gorm:"size:60;not null" json:"distributed_by"`
	LedgerTxID    *string   `gorm:"size:100" json:"ledger_tx_id,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (Distribution) TableName() string {
	return "distributions"
}

// ============================================================
// Audit
// ============================================================

// ErrAuditImmutable is returned when code tries to change an audit row
var ErrAuditImmutable = errors.New("audit log entries are append-only")

// AuditLog represents audit_logs table
type AuditLog struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	EntityType  string         `gorm:"size:30;not null;index:idx_audit_entity" json:"entity_type"`
	EntityID    string         `gorm:"size:40;not null;index:idx_audit_entity" json:"entity_id"`
	Action      string         `gorm:"size:40;not null" json:"action"`
	PerformedBy string         `gorm:"size:60;not null" json:"performed_by"`
	Details     datatypes.JSON `json:"details,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

func (a *AuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}

// ============================================================
// Ledger sync
// ============================================================

// Outbox entry statuses
const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxFailed     = "failed"
	OutboxRejected   = "rejected"
)

// Outbox aggregates. Program and officer entries register the catalogue
// that AddZakat refers to.
const (
	AggregateDonation = "donation"
	AggregateProgram  = "program"
	AggregateOfficer  = "officer"
)

// OutboxEntry represents ledger_outbox table. Entries for one aggregate are
// submitted strictly in Seq order.
type OutboxEntry struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	Aggregate        string         `gorm:"size:20;not null;default:donation" json:"aggregate"`
	AggregateID      string         `gorm:"size:40;not null;uniqueIndex:idx_outbox_aggregate_seq" json:"aggregate_id"`
	Seq              int            `gorm:"not null;uniqueIndex:idx_outbox_aggregate_seq" json:"seq"`
	Operation        string         `gorm:"size:40;not null" json:"operation"`
	Args             datatypes.JSON `gorm:"not null" json:"args"`
	IdempotencyToken string         `gorm:"size:60;not null;uniqueIndex" json:"idempotency_token"`
	Status           string         `gorm:"size:20;not null;index:idx_outbox_status_next" json:"status"`
	Attempts         int            `gorm:"not null" json:"attempts"`
	NextAttemptAt    time.Time      `gorm:"not null;index:idx_outbox_status_next" json:"next_attempt_at"`
	ClaimedAt        *time.Time     `json:"claimed_at,omitempty"`
	ParkedAt         *time.Time     `gorm:"index" json:"parked_at,omitempty"`
	LastError        *string        `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
}

func (OutboxEntry) TableName() string {
	return "ledger_outbox"
}

// IDSequence represents id_sequences table, the persisted per-organization
// monthly counter behind donation IDs
type IDSequence struct {
	OrgCode   string    `gorm:"primaryKey;size:3"`
	Period    string    `gorm:"primaryKey;size:6"`
	LastValue int       `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (IDSequence) TableName() string {
	return "id_sequences"
}

// AutoMigrate runs auto migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Program{},
		&Officer{},
		&Donation{},
		&Distribution{},
		&AuditLog{},
		&OutboxEntry{},
		&IDSequence{},
	)
}
