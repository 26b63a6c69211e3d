package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"zakat-ledger/internal/core/domain"

	"github.com/google/uuid"
)

var errLedgerDown = errors.New("ledger is offline")

// MemoryLedger is an in-process Client with the same contract rules as the
// chaincode. Submissions are idempotent per token.
type MemoryLedger struct {
	mu         sync.Mutex
	records    map[string]*ZakatRecord
	receipts   map[string]Receipt
	programs   map[string]*ProgramRecord
	officers   map[string]*OfficerRecord
	byReferral map[string]string
	height     uint64
	available  bool
	now        func() time.Time
}

// NewMemoryLedger creates an empty ledger with a genesis block
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records:    make(map[string]*ZakatRecord),
		receipts:   make(map[string]Receipt),
		programs:   make(map[string]*ProgramRecord),
		officers:   make(map[string]*OfficerRecord),
		byReferral: make(map[string]string),
		height:     1,
		available:  true,
		now:        time.Now,
	}
}

// SetAvailable simulates the ledger going offline and coming back
func (l *MemoryLedger) SetAvailable(up bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = up
}

// RegisterProgram writes a program into the genesis state without a block,
// the way the chaincode's InitLedger does
func (l *MemoryLedger) RegisterProgram(id, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.programs[id] = &ProgramRecord{ID: id, Name: name, Status: "active", CreatedBy: "system"}
}

// RegisterOfficer writes an officer into the genesis state without a block
func (l *MemoryLedger) RegisterOfficer(id, name, referralCode string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.officers[id] = &OfficerRecord{ID: id, Name: name, ReferralCode: referralCode, CommissionRate: 0.05, Status: "active"}
	l.byReferral[referralCode] = id
}

// Submit applies one state change
func (l *MemoryLedger) Submit(ctx context.Context, fn, idempotencyToken string, args ...string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.LedgerUnavailableError{Function: fn, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.available {
		return nil, &domain.LedgerUnavailableError{Function: fn, Err: errLedgerDown}
	}
	if r, ok := l.receipts[idempotencyToken]; ok {
		r.Replayed = true
		return &r, nil
	}

	var err error
	switch fn {
	case FnCreateProgram:
		err = l.createProgram(args)
	case FnRegisterOfficer:
		err = l.registerOfficer(args)
	case FnAddZakat:
		err = l.addZakat(args)
	case FnValidatePayment:
		err = l.validatePayment(args)
	case FnDistributeZakat:
		err = l.distributeZakat(args)
	default:
		err = fmt.Errorf("unknown function %s", fn)
	}
	if err != nil {
		return nil, &domain.LedgerRejectedError{Function: fn, Reason: err.Error()}
	}

	receipt := Receipt{
		TxID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		BlockNumber: l.height,
	}
	l.height++
	if idempotencyToken != "" {
		l.receipts[idempotencyToken] = receipt
	}
	return &receipt, nil
}

func (l *MemoryLedger) createProgram(args []string) error {
	if len(args) != 7 {
		return fmt.Errorf("CreateProgram expects 7 arguments, got %d", len(args))
	}
	id := args[0]
	if err := domain.ValidateProgramID(id); err != nil {
		return fmt.Errorf("invalid program ID format: %s", id)
	}
	for _, ts := range args[4:6] {
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			return fmt.Errorf("invalid timestamp format. Expected ISO 8601 format")
		}
	}
	target, err := parseAmount(args[3])
	if err != nil {
		return err
	}
	if _, exists := l.programs[id]; exists {
		return fmt.Errorf("program %s already exists", id)
	}

	l.programs[id] = &ProgramRecord{
		ID:          id,
		Name:        args[1],
		Description: args[2],
		Target:      target,
		StartDate:   args[4],
		EndDate:     args[5],
		Status:      "active",
		CreatedBy:   args[6],
		CreatedAt:   l.now().UTC().Format(time.RFC3339),
	}
	return nil
}

func (l *MemoryLedger) registerOfficer(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("RegisterOfficer expects 3 arguments, got %d", len(args))
	}
	id := args[0]
	if err := domain.ValidateOfficerID(id); err != nil {
		return fmt.Errorf("invalid officer ID format: %s", id)
	}
	if _, exists := l.officers[id]; exists {
		return fmt.Errorf("officer %s already exists", id)
	}

	l.officers[id] = &OfficerRecord{
		ID:             id,
		Name:           args[1],
		ReferralCode:   args[2],
		CommissionRate: 0.05,
		Status:         "active",
		CreatedAt:      l.now().UTC().Format(time.RFC3339),
	}
	l.byReferral[args[2]] = id
	return nil
}

func (l *MemoryLedger) addZakat(args []string) error {
	if len(args) != 8 {
		return fmt.Errorf("AddZakat expects 8 arguments, got %d", len(args))
	}
	id := args[0]
	if _, err := domain.ParseDonationID(id); err != nil {
		return err
	}
	if _, exists := l.records[id]; exists {
		return fmt.Errorf("zakat %s already exists", id)
	}
	if args[2] == "" {
		return fmt.Errorf("muzakki name cannot be empty")
	}
	amount, err := parseAmount(args[3])
	if err != nil {
		return err
	}
	if !domain.ZakatType(args[4]).Valid() {
		return fmt.Errorf("invalid zakat type %q", args[4])
	}
	if !domain.PaymentMethod(args[5]).Valid() {
		return fmt.Errorf("invalid payment method %q", args[5])
	}
	if _, ok := domain.OrgCode(args[6]); !ok {
		return fmt.Errorf("invalid organization %q", args[6])
	}
	if programID := args[1]; programID != "" {
		if err := domain.ValidateProgramID(programID); err != nil {
			return fmt.Errorf("invalid program ID format for '%s'", programID)
		}
		if _, ok := l.programs[programID]; !ok {
			return fmt.Errorf("program with ID '%s' does not exist", programID)
		}
	}
	if code := args[7]; code != "" {
		if _, ok := l.byReferral[code]; !ok {
			return fmt.Errorf("officer with referral code '%s' does not exist", code)
		}
	}

	l.records[id] = &ZakatRecord{
		ID:            id,
		ProgramID:     args[1],
		Muzakki:       args[2],
		Amount:        amount,
		Type:          args[4],
		PaymentMethod: args[5],
		Status:        string(domain.StatusPending),
		Organization:  args[6],
		ReferralCode:  args[7],
		Timestamp:     l.now().UTC().Format(time.RFC3339),
	}
	return nil
}

func (l *MemoryLedger) validatePayment(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("ValidatePayment expects 3 arguments, got %d", len(args))
	}
	record, ok := l.records[args[0]]
	if !ok {
		return fmt.Errorf("zakat %s does not exist", args[0])
	}
	if args[1] == "" {
		return fmt.Errorf("receipt number cannot be empty")
	}
	if record.Status != string(domain.StatusPending) {
		return fmt.Errorf("zakat %s is not in pending status, current status: %s", record.ID, record.Status)
	}
	record.Status = string(domain.StatusCollected)
	if program, ok := l.programs[record.ProgramID]; ok {
		program.Collected += record.Amount
	}
	if officerID, ok := l.byReferral[record.ReferralCode]; ok {
		l.officers[officerID].TotalReferred += record.Amount
	}
	record.ReceiptNumber = args[1]
	record.ValidatedBy = args[2]
	record.ValidationDate = l.now().UTC().Format(time.RFC3339)
	return nil
}

func (l *MemoryLedger) distributeZakat(args []string) error {
	if len(args) != 6 {
		return fmt.Errorf("DistributeZakat expects 6 arguments, got %d", len(args))
	}
	record, ok := l.records[args[0]]
	if !ok {
		return fmt.Errorf("zakat %s does not exist", args[0])
	}
	if record.Status != string(domain.StatusCollected) {
		return fmt.Errorf("zakat %s must be in 'collected' status before distribution. Current status: %s", record.ID, record.Status)
	}
	amount, err := parseAmount(args[3])
	if err != nil {
		return err
	}
	if amount > record.Amount {
		return fmt.Errorf("distribution amount %.0f exceeds original zakat amount %.0f", amount, record.Amount)
	}
	if _, err := time.Parse(time.RFC3339, args[4]); err != nil {
		return fmt.Errorf("invalid distribution timestamp: %w", err)
	}
	record.Status = string(domain.StatusDistributed)
	if program, ok := l.programs[record.ProgramID]; ok {
		program.Distributed += amount
	}
	record.DistributionID = args[1]
	record.Mustahik = args[2]
	record.Distribution = amount
	record.DistributedAt = args[4]
	record.DistributedBy = args[5]
	return nil
}

func parseAmount(raw string) (float64, error) {
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("amount must be a positive number, got %q", raw)
	}
	return amount, nil
}

// Query answers the read-only contract functions
func (l *MemoryLedger) Query(ctx context.Context, fn string, args ...string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.available {
		return nil, &domain.LedgerUnavailableError{Function: fn, Err: errLedgerDown}
	}

	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch fn {
	case FnQueryZakat:
		record, ok := l.records[arg(0)]
		if !ok {
			return nil, &domain.LedgerRejectedError{Function: fn, Reason: fmt.Sprintf("zakat %s does not exist", arg(0))}
		}
		return json.Marshal(record)
	case FnGetAllZakat:
		return json.Marshal(l.filter(func(*ZakatRecord) bool { return true }))
	case FnGetZakatByStatus:
		return json.Marshal(l.filter(func(r *ZakatRecord) bool { return r.Status == arg(0) }))
	case FnGetZakatByProgram:
		return json.Marshal(l.filter(func(r *ZakatRecord) bool { return r.ProgramID == arg(0) }))
	case FnGetZakatByOfficer:
		return json.Marshal(l.filter(func(r *ZakatRecord) bool { return r.ReferralCode == arg(0) }))
	case FnGetZakatByMuzakki:
		return json.Marshal(l.filter(func(r *ZakatRecord) bool { return r.Muzakki == arg(0) }))
	case FnGetAllPrograms:
		programs := make([]ProgramRecord, 0, len(l.programs))
		for _, p := range l.programs {
			programs = append(programs, *p)
		}
		sort.Slice(programs, func(i, j int) bool { return programs[i].ID < programs[j].ID })
		return json.Marshal(programs)
	case FnGetDailyReport:
		return l.dailyReport(fn, arg(0))
	}
	return nil, &domain.LedgerRejectedError{Function: fn, Reason: "unknown function"}
}

func (l *MemoryLedger) filter(keep func(*ZakatRecord) bool) []ZakatRecord {
	out := []ZakatRecord{}
	for _, r := range l.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// dailyReport sums payments validated on date, like the chaincode does
func (l *MemoryLedger) dailyReport(fn, date string) ([]byte, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, &domain.LedgerRejectedError{Function: fn, Reason: "invalid date format for report. Please use YYYY-MM-DD"}
	}
	start, end := day.Format(time.RFC3339), day.Add(24*time.Hour).Format(time.RFC3339)

	report := DailyReport{
		Date:      date,
		ByType:    map[string]float64{},
		ByProgram: map[string]float64{},
	}
	for _, r := range l.records {
		if r.Status != string(domain.StatusCollected) || r.ValidationDate < start || r.ValidationDate >= end {
			continue
		}
		report.TotalAmount += r.Amount
		report.TransactionCount++
		report.ByType[r.Type] += r.Amount
		if r.ProgramID != "" {
			report.ByProgram[r.ProgramID] += r.Amount
		}
	}
	return json.Marshal(report)
}

// Height returns the number of blocks written
func (l *MemoryLedger) Height(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.available {
		return 0, &domain.LedgerUnavailableError{Function: "GetChainInfo", Err: errLedgerDown}
	}
	return l.height, nil
}

// Record returns a copy of one ledger record
func (l *MemoryLedger) Record(id string) (ZakatRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok {
		return ZakatRecord{}, false
	}
	return *r, true
}

// Program returns a copy of one program record
func (l *MemoryLedger) Program(id string) (ProgramRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.programs[id]
	if !ok {
		return ProgramRecord{}, false
	}
	return *p, true
}

// Officer returns a copy of the officer holding referralCode
func (l *MemoryLedger) Officer(referralCode string) (OfficerRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byReferral[referralCode]
	if !ok {
		return OfficerRecord{}, false
	}
	return *l.officers[id], true
}

// Len returns the number of donation records
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *MemoryLedger) Close() error { return nil }
