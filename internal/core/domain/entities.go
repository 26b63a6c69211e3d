package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Role represents the role carried by an authenticated actor
type Role string

const (
	RoleOfficer    Role = "OFFICER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Actor identifies who performs an operation. It is passed explicitly to
// every state-changing call instead of being read from ambient state.
type Actor struct {
	ID   string
	Role Role
}

// CanOperate reports whether the actor may validate or distribute donations
func (a Actor) CanOperate() bool {
	if a.ID == "" {
		return false
	}
	switch a.Role {
	case RoleOfficer, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether the actor may perform operator actions
func (a Actor) IsAdmin() bool {
	return a.ID != "" && (a.Role == RoleAdmin || a.Role == RoleSuperAdmin)
}

// DonationStatus is the lifecycle status of a donation. It only moves forward.
type DonationStatus string

const (
	StatusPending     DonationStatus = "pending"
	StatusCollected   DonationStatus = "collected"
	StatusDistributed DonationStatus = "distributed"
)

// Rank orders statuses along the lifecycle
func (s DonationStatus) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusCollected:
		return 2
	case StatusDistributed:
		return 3
	}
	return 0
}

func (s DonationStatus) Valid() bool {
	return s.Rank() > 0
}

// ZakatType is the kind of zakat being paid
type ZakatType string

const (
	ZakatFitrah ZakatType = "fitrah"
	ZakatMaal   ZakatType = "maal"
)

func (t ZakatType) Valid() bool {
	return t == ZakatFitrah || t == ZakatMaal
}

// SyncStatus tracks whether the ledger has caught up with the local record
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending_sync"
	SyncError   SyncStatus = "error"
)

func (s SyncStatus) Valid() bool {
	return s == SyncSynced || s == SyncPending || s == SyncError
}

// PaymentMethod is how the donor paid
type PaymentMethod string

const (
	PaymentTransfer   PaymentMethod = "transfer"
	PaymentEWallet    PaymentMethod = "ewallet"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentCash       PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentTransfer, PaymentEWallet, PaymentCreditCard, PaymentDebitCard, PaymentCash:
		return true
	}
	return false
}

// Collecting organizations and their three-letter codes
const (
	OrgMalang = "YDSF Malang"
	OrgJatim  = "YDSF Jatim"
)

var orgCodes = map[string]string{
	OrgMalang: "MLG",
	OrgJatim:  "JTM",
}

// OrgCode returns the ID code for a collecting organization
func OrgCode(organization string) (string, bool) {
	code, ok := orgCodes[organization]
	return code, ok
}

// DonorInfo holds the donor's contact details
type DonorInfo struct {
	Name  string
	Phone string
	Email string
}

// MaxDonationSequence is the largest per-organization monthly sequence
const MaxDonationSequence = 9999

var donationIDPattern = regexp.MustCompile(`^ZKT-YDSF-(MLG|JTM)-(\d{6})-(\d{4})$`)

// DonationID is the parsed form of ZKT-YDSF-<ORG3>-<YYYYMM>-<SEQ4>
type DonationID struct {
	OrgCode string
	Period  string
	Seq     int
}

// FormatDonationID builds a donation ID from its parts
func FormatDonationID(orgCode string, at time.Time, seq int) string {
	return fmt.Sprintf("ZKT-YDSF-%s-%s-%04d", orgCode, at.Format("200601"), seq)
}

// ParseDonationID validates and splits a donation ID
func ParseDonationID(id string) (DonationID, error) {
	m := donationIDPattern.FindStringSubmatch(id)
	if m == nil {
		return DonationID{}, &ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not a donation id", id)}
	}
	seq, _ := strconv.Atoi(m[3])
	if seq < 1 {
		return DonationID{}, &ValidationError{Field: "id", Reason: "sequence must start at 0001"}
	}
	return DonationID{OrgCode: m[1], Period: m[2], Seq: seq}, nil
}

var (
	programIDPattern = regexp.MustCompile(`^PROG-[A-Z0-9]+-\d+-\d+$`)
	officerIDPattern = regexp.MustCompile(`^OFF-[A-Z0-9]+-\d+-\d+$`)
)

// ValidateProgramID checks the PROG-<TYPE>-<N>-<SEQ> form the ledger accepts
func ValidateProgramID(id string) error {
	if !programIDPattern.MatchString(id) {
		return &ValidationError{Field: "program_id", Reason: fmt.Sprintf("%q is not a program id", id)}
	}
	return nil
}

// ValidateOfficerID checks the OFF-<TYPE>-<N>-<SEQ> form the ledger accepts
func ValidateOfficerID(id string) error {
	if !officerIDPattern.MatchString(id) {
		return &ValidationError{Field: "officer_id", Reason: fmt.Sprintf("%q is not an officer id", id)}
	}
	return nil
}
