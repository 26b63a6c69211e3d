// Package ledger talks to the append-only donation ledger
package ledger

import (
	"context"
)

// Chaincode functions. Names are part of the ledger contract and must not change.
const (
	FnCreateProgram     = "CreateProgram"
	FnRegisterOfficer   = "RegisterOfficer"
	FnAddZakat          = "AddZakat"
	FnValidatePayment   = "ValidatePayment"
	FnDistributeZakat   = "DistributeZakat"
	FnQueryZakat        = "QueryZakat"
	FnGetAllZakat       = "GetAllZakat"
	FnGetZakatByStatus  = "GetZakatByStatus"
	FnGetZakatByProgram = "GetZakatByProgram"
	FnGetZakatByOfficer = "GetZakatByOfficer"
	FnGetZakatByMuzakki = "GetZakatByMuzakki"
	FnGetAllPrograms    = "GetAllPrograms"
	FnGetDailyReport    = "GetDailyReport"
)

// TransientTokenKey carries the idempotency token as transient data so it is
// visible to the contract without being written to the block
const TransientTokenKey = "idempotencyToken"

// Receipt acknowledges a committed submission
type Receipt struct {
	TxID        string
	BlockNumber uint64
	// Replayed is set when the ledger already held the effect of this
	// submission, so no new transaction was written
	Replayed bool
}

// Client submits state changes to the ledger and reads it back for
// out-of-band verification. Errors from Submit are either
// *domain.LedgerUnavailableError or *domain.LedgerRejectedError.
type Client interface {
	Submit(ctx context.Context, fn, idempotencyToken string, args ...string) (*Receipt, error)
	Query(ctx context.Context, fn string, args ...string) ([]byte, error)
	Height(ctx context.Context) (uint64, error)
	Close() error
}

// ZakatRecord is the ledger's JSON shape of a donation
type ZakatRecord struct {
	ID             string  `json:"ID"`
	ProgramID      string  `json:"programID,omitempty"`
	Muzakki        string  `json:"muzakki"`
	Amount         float64 `json:"amount"`
	Type           string  `json:"type"`
	PaymentMethod  string  `json:"paymentMethod"`
	Status         string  `json:"status"`
	Organization   string  `json:"organization"`
	ReferralCode   string  `json:"referralCode,omitempty"`
	ReceiptNumber  string  `json:"receiptNumber"`
	Timestamp      string  `json:"timestamp"`
	ValidatedBy    string  `json:"validatedBy"`
	ValidationDate string  `json:"validationDate"`
	Mustahik       string  `json:"mustahik"`
	Distribution   float64 `json:"distribution"`
	DistributedAt  string  `json:"distributedAt"`
	DistributionID string  `json:"distributionID"`
	DistributedBy  string  `json:"distributedBy"`
}

// ProgramRecord is the ledger's JSON shape of a donation program
type ProgramRecord struct {
	ID          string  `json:"ID"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Target      float64 `json:"target"`
	Collected   float64 `json:"collected"`
	Distributed float64 `json:"distributed"`
	StartDate   string  `json:"startDate"`
	EndDate     string  `json:"endDate"`
	Status      string  `json:"status"`
	CreatedBy   string  `json:"createdBy"`
	CreatedAt   string  `json:"createdAt"`
}

// OfficerRecord is the ledger's JSON shape of a referring officer
type OfficerRecord struct {
	ID             string  `json:"ID"`
	Name           string  `json:"name"`
	ReferralCode   string  `json:"referralCode"`
	TotalReferred  float64 `json:"totalReferred"`
	CommissionRate float64 `json:"commissionRate"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"createdAt"`
}

// DailyReport is the ledger's GetDailyReport payload
type DailyReport struct {
	Date             string             `json:"date"`
	TotalAmount      float64            `json:"totalAmount"`
	TransactionCount int                `json:"transactionCount"`
	ByType           map[string]float64 `json:"byType"`
	ByProgram        map[string]float64 `json:"byProgram"`
}
