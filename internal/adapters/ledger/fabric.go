package ledger

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"zakat-ledger/internal/core/domain"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// FabricConfig holds the gateway connection settings
type FabricConfig struct {
	PeerEndpoint        string
	GatewayPeer         string
	MSPID               string
	CertPath            string
	KeyPath             string
	TLSCertPath         string
	Channel             string
	Chaincode           string
	EvaluateTimeout     time.Duration
	EndorseTimeout      time.Duration
	SubmitTimeout       time.Duration
	CommitStatusTimeout time.Duration
}

// FabricClient is a Client backed by a Hyperledger Fabric gateway peer
type FabricClient struct {
	conn     *grpc.ClientConn
	gateway  *client.Gateway
	contract *client.Contract
	qscc     *client.Contract
	channel  string
}

// NewFabricClient connects to the gateway peer with an X.509 identity
func NewFabricClient(cfg FabricConfig) (*FabricClient, error) {
	certPEM, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	certificate, err := identity.CertificateFromPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	id, err := identity.NewX509Identity(cfg.MSPID, certificate)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	privateKey, err := identity.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	tlsPEM, err := os.ReadFile(cfg.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read TLS certificate: %w", err)
	}
	tlsCert, err := identity.CertificateFromPEM(tlsPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TLS certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(tlsCert)

	conn, err := grpc.NewClient(cfg.PeerEndpoint,
		grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(pool, cfg.GatewayPeer)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	gw, err := client.Connect(id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(cfg.EvaluateTimeout),
		client.WithEndorseTimeout(cfg.EndorseTimeout),
		client.WithSubmitTimeout(cfg.SubmitTimeout),
		client.WithCommitStatusTimeout(cfg.CommitStatusTimeout),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect gateway: %w", err)
	}

	network := gw.GetNetwork(cfg.Channel)
	return &FabricClient{
		conn:     conn,
		gateway:  gw,
		contract: network.GetContract(cfg.Chaincode),
		qscc:     network.GetContract("qscc"),
		channel:  cfg.Channel,
	}, nil
}

// Submit endorses, orders and waits for commit of one transaction
func (c *FabricClient) Submit(ctx context.Context, fn, idempotencyToken string, args ...string) (*Receipt, error) {
	proposal, err := c.contract.NewProposal(fn,
		client.WithArguments(args...),
		client.WithTransient(map[string][]byte{TransientTokenKey: []byte(idempotencyToken)}),
	)
	if err != nil {
		return nil, &domain.LedgerUnavailableError{Function: fn, Err: err}
	}

	transaction, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		return nil, classify(fn, err)
	}

	commit, err := transaction.SubmitWithContext(ctx)
	if err != nil {
		return nil, classify(fn, err)
	}

	st, err := commit.StatusWithContext(ctx)
	if err != nil {
		return nil, classify(fn, err)
	}
	if !st.Successful {
		return nil, classifyCommit(fn, st.Code)
	}

	return &Receipt{TxID: st.TransactionID, BlockNumber: st.BlockNumber}, nil
}

// Query evaluates a read-only function
func (c *FabricClient) Query(ctx context.Context, fn string, args ...string) ([]byte, error) {
	proposal, err := c.contract.NewProposal(fn, client.WithArguments(args...))
	if err != nil {
		return nil, &domain.LedgerUnavailableError{Function: fn, Err: err}
	}
	result, err := proposal.EvaluateWithContext(ctx)
	if err != nil {
		return nil, classify(fn, err)
	}
	return result, nil
}

// Height returns the channel's block height via the system query chaincode
func (c *FabricClient) Height(ctx context.Context) (uint64, error) {
	proposal, err := c.qscc.NewProposal("GetChainInfo", client.WithArguments(c.channel))
	if err != nil {
		return 0, &domain.LedgerUnavailableError{Function: "GetChainInfo", Err: err}
	}
	raw, err := proposal.EvaluateWithContext(ctx)
	if err != nil {
		return 0, classify("GetChainInfo", err)
	}

	info := &common.BlockchainInfo{}
	if err := proto.Unmarshal(raw, info); err != nil {
		return 0, fmt.Errorf("failed to decode chain info: %w", err)
	}
	return info.GetHeight(), nil
}

// Close releases the gateway and its connection
func (c *FabricClient) Close() error {
	c.gateway.Close()
	return c.conn.Close()
}

// classify maps transport and endorsement failures onto the two ledger error kinds
func classify(fn string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.LedgerUnavailableError{Function: fn, Err: err}
	}

	st, ok := status.FromError(err)
	if !ok {
		return &domain.LedgerUnavailableError{Function: fn, Err: err}
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Canceled:
		return &domain.LedgerUnavailableError{Function: fn, Err: err}
	}

	return &domain.LedgerRejectedError{Function: fn, Reason: statusReason(st)}
}

func statusReason(st *status.Status) string {
	parts := []string{st.Message()}
	for _, detail := range st.Details() {
		if d, ok := detail.(*gateway.ErrorDetail); ok {
			parts = append(parts, fmt.Sprintf("%s (%s): %s", d.GetAddress(), d.GetMspId(), d.GetMessage()))
		}
	}
	return strings.Join(parts, "; ")
}

// Read conflicts are resolved by resubmitting; other invalid codes are final
func classifyCommit(fn string, code peer.TxValidationCode) error {
	switch code {
	case peer.TxValidationCode_MVCC_READ_CONFLICT, peer.TxValidationCode_PHANTOM_READ_CONFLICT:
		return &domain.LedgerUnavailableError{Function: fn, Err: fmt.Errorf("commit failed with %s", code)}
	}
	return &domain.LedgerRejectedError{Function: fn, Reason: fmt.Sprintf("commit failed with %s", code)}
}

// IsReplay reports whether a rejection only says the ledger already applied
// this change, which happens when an earlier attempt committed but its
// acknowledgement was lost
func IsReplay(fn, reason string) bool {
	r := strings.ToLower(reason)
	switch fn {
	case FnAddZakat, FnCreateProgram, FnRegisterOfficer:
		return strings.Contains(r, "already exists")
	case FnValidatePayment:
		return strings.Contains(r, "is not in pending status") &&
			(strings.Contains(r, "current status: collected") || strings.Contains(r, "current status: distributed"))
	case FnDistributeZakat:
		return strings.Contains(r, "current status: distributed")
	}
	return false
}
