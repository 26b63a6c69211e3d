package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"zakat-ledger/internal/core/domain"

	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	testID      = "ZKT-YDSF-MLG-202503-0001"
	testProgram = "PROG-YDSF-2024-0001"
)

func addArgs(id string) []string {
	return []string{id, testProgram, "Ahmad", "250000", "maal", "transfer", domain.OrgMalang, ""}
}

func newTestLedger() *MemoryLedger {
	l := NewMemoryLedger()
	l.RegisterProgram(testProgram, "Zakat Fitrah Ramadhan")
	return l
}

func TestMemoryLedgerLifecycle(t *testing.T) {
	l := newTestLedger()
	l.now = func() time.Time { return time.Date(2025, 3, 14, 3, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	r1, err := l.Submit(ctx, FnAddZakat, testID+"#1", addArgs(testID)...)
	require.NoError(t, err)
	assert.NotEmpty(t, r1.TxID)
	assert.False(t, r1.Replayed)

	_, err = l.Submit(ctx, FnValidatePayment, testID+"#2", testID, "RCPT-1", "officer-1")
	require.NoError(t, err)

	_, err = l.Submit(ctx, FnDistributeZakat, testID+"#3",
		testID, "DIST-20250314-abcd1234", "Panti Asuhan", "250000", "2025-03-14T04:00:00Z", "officer-1")
	require.NoError(t, err)

	record, ok := l.Record(testID)
	require.True(t, ok)
	assert.Equal(t, "distributed", record.Status)
	assert.Equal(t, "RCPT-1", record.ReceiptNumber)
	assert.Equal(t, float64(250000), record.Distribution)

	height, err := l.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), height)
}

func TestMemoryLedgerTokenReplay(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	first, err := l.Submit(ctx, FnAddZakat, testID+"#1", addArgs(testID)...)
	require.NoError(t, err)

	again, err := l.Submit(ctx, FnAddZakat, testID+"#1", addArgs(testID)...)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.TxID, again.TxID)
	assert.Equal(t, 1, l.Len())

	// Same record under a new token is a genuine duplicate
	_, err = l.Submit(ctx, FnAddZakat, testID+"#9", addArgs(testID)...)
	var rejected *domain.LedgerRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.True(t, IsReplay(FnAddZakat, rejected.Reason))
}

func TestMemoryLedgerRejectsOutOfOrder(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.Submit(ctx, FnAddZakat, testID+"#1", addArgs(testID)...)
	require.NoError(t, err)

	_, err = l.Submit(ctx, FnDistributeZakat, testID+"#2",
		testID, "DIST-1", "Panti", "1000", "2025-03-14T04:00:00Z", "officer-1")
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)

	_, err = l.Submit(ctx, FnAddZakat, "ZKT-YDSF-MLG-202503-0002#1",
		"ZKT-YDSF-MLG-202503-0002", "", "Budi", "-5", "maal", "transfer", domain.OrgMalang, "")
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)
}

func TestMemoryLedgerUnavailable(t *testing.T) {
	l := newTestLedger()
	l.SetAvailable(false)

	_, err := l.Submit(context.Background(), FnAddZakat, testID+"#1", addArgs(testID)...)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)

	_, err = l.Height(context.Background())
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)

	l.SetAvailable(true)
	_, err = l.Submit(context.Background(), FnAddZakat, testID+"#1", addArgs(testID)...)
	assert.NoError(t, err)
}

func TestMemoryLedgerQueries(t *testing.T) {
	l := newTestLedger()
	l.now = func() time.Time { return time.Date(2025, 3, 14, 3, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	_, err := l.Submit(ctx, FnAddZakat, testID+"#1", addArgs(testID)...)
	require.NoError(t, err)
	_, err = l.Submit(ctx, FnValidatePayment, testID+"#2", testID, "RCPT-1", "officer-1")
	require.NoError(t, err)

	raw, err := l.Query(ctx, FnGetZakatByStatus, "collected")
	require.NoError(t, err)
	var records []ZakatRecord
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 1)
	assert.Equal(t, testID, records[0].ID)

	raw, err = l.Query(ctx, FnGetDailyReport, "2025-03-14")
	require.NoError(t, err)
	var report DailyReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, 1, report.TransactionCount)
	assert.Equal(t, float64(250000), report.ByType["maal"])
	assert.Equal(t, float64(250000), report.ByProgram[testProgram])

	_, err = l.Query(ctx, FnQueryZakat, "ZKT-YDSF-JTM-202503-0001")
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)
}

func TestMemoryLedgerRequiresRegisteredCatalogue(t *testing.T) {
	l := NewMemoryLedger()
	l.now = func() time.Time { return time.Date(2025, 3, 14, 3, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	_, err := l.Submit(ctx, FnAddZakat, testID+"#1", addArgs(testID)...)
	var rejected *domain.LedgerRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.Reason, "program with ID '"+testProgram+"' does not exist")
	assert.False(t, IsReplay(FnAddZakat, rejected.Reason))

	// the short legacy form never passes the contract's format check
	legacy := addArgs(testID)
	legacy[1] = "PROG-2024-0001"
	_, err = l.Submit(ctx, FnAddZakat, testID+"#1", legacy...)
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.Reason, "invalid program ID format")

	_, err = l.Submit(ctx, FnCreateProgram, testProgram+"#1",
		testProgram, "Zakat Fitrah Ramadhan", "", "500000000", "2025-03-14T03:00:00Z", "2026-03-14T03:00:00Z", "system")
	require.NoError(t, err)

	withOfficer := addArgs(testID)
	withOfficer[7] = "REF001"
	_, err = l.Submit(ctx, FnAddZakat, testID+"#1", withOfficer...)
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.Reason, "officer with referral code 'REF001' does not exist")

	_, err = l.Submit(ctx, FnRegisterOfficer, "OFF-YDSF-2024-0001#1", "OFF-YDSF-2024-0001", "Ahmad Petugas", "REF001")
	require.NoError(t, err)
	_, err = l.Submit(ctx, FnAddZakat, testID+"#1", withOfficer...)
	require.NoError(t, err)
	_, err = l.Submit(ctx, FnValidatePayment, testID+"#2", testID, "RCPT-1", "officer-1")
	require.NoError(t, err)

	program, ok := l.Program(testProgram)
	require.True(t, ok)
	assert.Equal(t, float64(250000), program.Collected)
	officer, ok := l.Officer("REF001")
	require.True(t, ok)
	assert.Equal(t, float64(250000), officer.TotalReferred)

	// registering twice is reported the way a lost acknowledgement would see it
	_, err = l.Submit(ctx, FnRegisterOfficer, "OFF-YDSF-2024-0001#9", "OFF-YDSF-2024-0001", "Ahmad Petugas", "REF001")
	require.True(t, errors.As(err, &rejected))
	assert.True(t, IsReplay(FnRegisterOfficer, rejected.Reason))

	_, err = l.Submit(ctx, FnCreateProgram, "PROG-X#1", "PROG-X", "Bad", "", "1000", "2025-03-14T03:00:00Z", "2026-03-14T03:00:00Z", "system")
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)

	raw, err := l.Query(ctx, FnGetAllPrograms)
	require.NoError(t, err)
	var programs []ProgramRecord
	require.NoError(t, json.Unmarshal(raw, &programs))
	require.Len(t, programs, 1)
	assert.Equal(t, testProgram, programs[0].ID)
}

func TestClassifyGRPCErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), domain.ErrLedgerUnavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "timeout"), domain.ErrLedgerUnavailable},
		{"resource", status.Error(codes.ResourceExhausted, "busy"), domain.ErrLedgerUnavailable},
		{"context", context.DeadlineExceeded, domain.ErrLedgerUnavailable},
		{"plain", errors.New("broken pipe"), domain.ErrLedgerUnavailable},
		{"aborted", status.Error(codes.Aborted, "failed to endorse transaction"), domain.ErrLedgerRejected},
		{"invalid", status.Error(codes.InvalidArgument, "bad proposal"), domain.ErrLedgerRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(FnAddZakat, tt.err), tt.want)
		})
	}
}

func TestEndorsementDetailsDetectReplay(t *testing.T) {
	st, err := status.New(codes.Aborted, "failed to endorse transaction, see attached details for more info").
		WithDetails(&gateway.ErrorDetail{
			Address: "peer0.org1:7051",
			MspId:   "Org1MSP",
			Message: "chaincode response 500, zakat " + testID + " already exists",
		})
	require.NoError(t, err)

	var rejected *domain.LedgerRejectedError
	require.True(t, errors.As(classify(FnAddZakat, st.Err()), &rejected))
	assert.Contains(t, rejected.Reason, "already exists")
	assert.True(t, IsReplay(FnAddZakat, rejected.Reason))
	assert.False(t, IsReplay(FnValidatePayment, rejected.Reason))
}

func TestIsReplay(t *testing.T) {
	assert.True(t, IsReplay(FnValidatePayment, "zakat X is not in pending status, current status: collected"))
	assert.False(t, IsReplay(FnValidatePayment, "zakat X does not exist"))
	assert.True(t, IsReplay(FnDistributeZakat, "zakat X must be in 'collected' status before distribution. Current status: distributed"))
	assert.False(t, IsReplay(FnDistributeZakat, "zakat X must be in 'collected' status before distribution. Current status: pending"))
}

func TestClassifyCommit(t *testing.T) {
	assert.ErrorIs(t, classifyCommit(FnAddZakat, peer.TxValidationCode_MVCC_READ_CONFLICT), domain.ErrLedgerUnavailable)
	assert.ErrorIs(t, classifyCommit(FnAddZakat, peer.TxValidationCode_ENDORSEMENT_POLICY_FAILURE), domain.ErrLedgerRejected)
}
