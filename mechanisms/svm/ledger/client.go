// Package ledger implements spltransfer.LedgerClient over Solana JSON-RPC.
package ledger

import (
	"context"
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	spltransfer "github.com/pai-labs/spltransfer"
	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

// Config holds the RPC connection settings
type Config struct {
	RPCURL string
	// Commitment used for reads and preflight. Defaults to confirmed.
	Commitment rpc.CommitmentType
	// RequestsPerSecond caps outgoing calls. Zero disables the limiter.
	RequestsPerSecond float64
	// Burst is the limiter bucket size. Defaults to 1.
	Burst int
}

// Client talks to one RPC endpoint
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
}

// New creates a client for cfg.RPCURL
func New(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	var rpcClient *rpc.Client
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		rpcClient = rpc.NewWithCustomRPCClient(rpc.NewWithLimiter(cfg.RPCURL, rate.Limit(cfg.RequestsPerSecond), burst))
	} else {
		rpcClient = rpc.New(cfg.RPCURL)
	}

	return NewFromRPC(rpcClient, cfg.Commitment), nil
}

// NewFromRPC wraps an existing RPC client
func NewFromRPC(rpcClient *rpc.Client, commitment rpc.CommitmentType) *Client {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{rpc: rpcClient, commitment: commitment}
}

// Close releases the underlying HTTP connections
func (c *Client) Close() error {
	return c.rpc.Close()
}

// GetNativeBalance implements spltransfer.LedgerClient
func (c *Client) GetNativeBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, addr, c.commitment)
	if err != nil {
		return 0, readError("getBalance", err)
	}
	return out.Value, nil
}

// GetSubAccount implements spltransfer.LedgerClient
func (c *Client) GetSubAccount(ctx context.Context, addr solana.PublicKey) (*spltransfer.SubAccount, error) {
	account, err := c.getAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !svm.IsTokenProgram(account.Owner) {
		return nil, spltransfer.NewLedgerError(spltransfer.ErrCodeInvalidOwner, "account is not owned by a token program", map[string]interface{}{
			"address": addr.String(),
			"owner":   account.Owner.String(),
		})
	}
	return decodeSubAccount(addr, account)
}

// ListSubAccountsByOwner implements spltransfer.LedgerClient. Both token
// programs are queried concurrently.
func (c *Client) ListSubAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]spltransfer.SubAccount, error) {
	programs := svm.TokenPrograms()
	results := make([][]spltransfer.SubAccount, len(programs))

	g, gctx := errgroup.WithContext(ctx)
	for i, programID := range programs {
		g.Go(func() error {
			out, err := c.rpc.GetTokenAccountsByOwner(gctx, owner,
				&rpc.GetTokenAccountsConfig{ProgramId: &programID},
				&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64, Commitment: c.commitment},
			)
			if err != nil {
				return readError("getTokenAccountsByOwner", err)
			}
			for _, keyed := range out.Value {
				if keyed == nil {
					continue
				}
				account, err := decodeSubAccount(keyed.Pubkey, &keyed.Account)
				if err != nil {
					log.WithError(err).WithField("address", keyed.Pubkey.String()).Warn("skipping undecodable token account")
					continue
				}
				results[i] = append(results[i], *account)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var accounts []spltransfer.SubAccount
	for _, r := range results {
		accounts = append(accounts, r...)
	}
	return accounts, nil
}

// GetAsset implements spltransfer.LedgerClient. The token program is taken
// from the mint's owner so Token-2022 mints are handled without configuration.
func (c *Client) GetAsset(ctx context.Context, mint solana.PublicKey) (*spltransfer.Asset, error) {
	account, err := c.getAccount(ctx, mint)
	if err != nil {
		return nil, err
	}
	if !svm.IsTokenProgram(account.Owner) {
		return nil, spltransfer.NewLedgerError(spltransfer.ErrCodeInvalidOwner, "asset was not created by a known token program", map[string]interface{}{
			"mint":  mint.String(),
			"owner": account.Owner.String(),
		})
	}

	mintData, err := svm.DecodeMint(account.Data.GetBinary())
	if err != nil {
		return nil, spltransfer.WrapLedgerError(spltransfer.ErrCodeInvalidResourceState, "mint data is malformed", err)
	}
	return &spltransfer.Asset{
		Mint:      mint,
		ProgramID: account.Owner,
		Decimals:  mintData.Decimals,
	}, nil
}

// GetAnchor implements spltransfer.LedgerClient
func (c *Client) GetAnchor(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, readError("getLatestBlockhash", err)
	}
	return out.Value.Blockhash, nil
}

// Submit implements spltransfer.LedgerClient. A JSON-RPC error response means
// the node refused the transaction; every other failure leaves its fate unknown.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction, opts spltransfer.SubmitOptions) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return solana.Signature{}, &spltransfer.LedgerError{
				Code:    spltransfer.ErrCodeInstructionFailed,
				Message: rpcErr.Message,
				Details: map[string]interface{}{"rpcCode": rpcErr.Code, "data": rpcErr.Data},
			}
		}
		return solana.Signature{}, spltransfer.WrapLedgerError(spltransfer.ErrCodeTransport, "sendTransaction failed", err)
	}
	return sig, nil
}

func (c *Client) getAccount(ctx context.Context, addr solana.PublicKey) (*rpc.Account, error) {
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		return nil, spltransfer.NewLedgerError(spltransfer.ErrCodeResourceNotFound, "account not found", map[string]interface{}{
			"address": addr.String(),
		})
	}
	if err != nil {
		return nil, readError("getAccountInfo", err)
	}
	return out.Value, nil
}

func decodeSubAccount(addr solana.PublicKey, account *rpc.Account) (*spltransfer.SubAccount, error) {
	decoded, err := svm.DecodeTokenAccount(account.Data.GetBinary())
	if err != nil {
		return nil, spltransfer.WrapLedgerError(spltransfer.ErrCodeInvalidResourceState, "token account data is malformed", err)
	}
	return &spltransfer.SubAccount{
		Address:   addr,
		Mint:      decoded.Mint,
		Owner:     decoded.Owner,
		ProgramID: account.Owner,
		Amount:    decoded.Amount,
	}, nil
}

func readError(method string, err error) error {
	return spltransfer.WrapLedgerError(spltransfer.ErrCodeTransport, method+" failed", err)
}

var _ spltransfer.LedgerClient = (*Client)(nil)
