package spltransfer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	solana "github.com/gagliardetto/solana-go"
	log "github.com/sirupsen/logrus"

	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

// DefaultFeeReserve is the native balance (0.0022 SOL) a sender must keep for
// fees and sub-account rent before a transfer is attempted.
const DefaultFeeReserve uint64 = 2_200_000

// TransferOrchestrator turns a TransferRequest into one signed, submitted
// transaction. The asset path provisions both sub-accounts first; the native
// path never touches the provisioner.
type TransferOrchestrator struct {
	ledger      LedgerClient
	assets      *AssetResolver
	balances    *BalanceReader
	provisioner Provisioner

	feeReserve uint64
	gate       bool
	now        func() time.Time
}

// OrchestratorOption configures a TransferOrchestrator
type OrchestratorOption func(*TransferOrchestrator)

// WithFeeReserve sets the lamports the sender must hold beyond the amount
func WithFeeReserve(lamports uint64) OrchestratorOption {
	return func(o *TransferOrchestrator) {
		o.feeReserve = lamports
	}
}

// WithoutPreflightGate skips the balance checks before submission
func WithoutPreflightGate() OrchestratorOption {
	return func(o *TransferOrchestrator) {
		o.gate = false
	}
}

// WithClock overrides the clock stamping SubmissionResult.SubmittedAt
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *TransferOrchestrator) {
		o.now = now
	}
}

// NewTransferOrchestrator wires an orchestrator from its collaborators
func NewTransferOrchestrator(
	ledger LedgerClient,
	assets *AssetResolver,
	balances *BalanceReader,
	provisioner Provisioner,
	opts ...OrchestratorOption,
) *TransferOrchestrator {
	o := &TransferOrchestrator{
		ledger:      ledger,
		assets:      assets,
		balances:    balances,
		provisioner: provisioner,
		feeReserve:  DefaultFeeReserve,
		gate:        true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transfer validates req, provisions sub-accounts on the asset path, then
// signs and submits the transfer. It returns as soon as the ledger accepted
// the transaction; acceptance is not finality.
//
// Submission failures come back in two flavours: ErrInstructionFailed means
// the ledger rejected the transaction, ErrOutcomeUnknown means it may have
// landed and must be reconciled before any retry.
func (o *TransferOrchestrator) Transfer(ctx context.Context, req TransferRequest) (*SubmissionResult, error) {
	if len(req.From) != ed25519PrivateKeySize {
		return nil, fmt.Errorf("source signing key is required")
	}
	if req.To.IsZero() {
		return nil, fmt.Errorf("destination address is required")
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	if req.IsNative() {
		return o.transferNative(ctx, req)
	}
	return o.transferAsset(ctx, req)
}

const ed25519PrivateKeySize = 64

func (o *TransferOrchestrator) transferNative(ctx context.Context, req TransferRequest) (*SubmissionResult, error) {
	from := req.From.PublicKey()

	lamports, err := ScaleAmount(req.Amount, NativeDecimals)
	if err != nil {
		return nil, err
	}

	if o.gate {
		if lamports > math.MaxUint64-o.feeReserve {
			return nil, NewLedgerError(ErrCodeInvalidAmount, "amount plus fee reserve overflows", nil)
		}
		if err := o.requireNative(ctx, from, lamports+o.feeReserve); err != nil {
			return nil, err
		}
	}

	ix, err := svm.NewNativeTransferInstruction(lamports, from, req.To)
	if err != nil {
		return nil, err
	}

	sig, submittedAt, err := o.submit(ctx, req, ix)
	if err != nil {
		return nil, err
	}
	return &SubmissionResult{
		RequestID:     req.RequestID,
		TransactionID: sig,
		SubmittedAt:   submittedAt,
		Source:        from,
		Destination:   req.To,
		RawAmount:     lamports,
	}, nil
}

func (o *TransferOrchestrator) transferAsset(ctx context.Context, req TransferRequest) (*SubmissionResult, error) {
	from := req.From.PublicKey()
	mint := *req.Mint

	asset, err := o.assets.Resolve(ctx, mint)
	if err != nil {
		return nil, err
	}
	raw, err := ScaleAmount(req.Amount, asset.Decimals)
	if err != nil {
		return nil, err
	}

	if o.gate {
		if err := o.requireNative(ctx, from, o.feeReserve); err != nil {
			return nil, err
		}
		held, _, err := o.balances.AssetBalance(ctx, from, mint)
		if err != nil {
			return nil, err
		}
		if held < raw {
			return nil, NewLedgerError(ErrCodeInsufficientFunds, "asset balance below transfer amount", map[string]interface{}{
				"mint":      mint.String(),
				"available": FormatAmount(held, asset.Decimals),
				"required":  FormatAmount(raw, asset.Decimals),
			})
		}
	}

	source, err := o.provisioner.Ensure(ctx, from, asset, req.From)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure source sub-account: %w", err)
	}
	destination, err := o.provisioner.Ensure(ctx, req.To, asset, req.From)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure destination sub-account: %w", err)
	}

	ix, err := svm.NewTransferCheckedInstruction(asset.ProgramID, raw, asset.Decimals,
		source.Address, asset.Mint, destination.Address, from)
	if err != nil {
		return nil, err
	}

	sig, submittedAt, err := o.submit(ctx, req, ix)
	if err != nil {
		return nil, err
	}
	return &SubmissionResult{
		RequestID:     req.RequestID,
		TransactionID: sig,
		SubmittedAt:   submittedAt,
		Source:        source.Address,
		Destination:   destination.Address,
		Mint:          &mint,
		RawAmount:     raw,
	}, nil
}

func (o *TransferOrchestrator) requireNative(ctx context.Context, owner solana.PublicKey, lamports uint64) error {
	native, err := o.balances.NativeBalance(ctx, owner)
	if err != nil {
		return err
	}
	if native < lamports {
		return NewLedgerError(ErrCodeInsufficientFunds, "native balance below required amount", map[string]interface{}{
			"owner":     owner.String(),
			"available": FormatAmount(native, NativeDecimals),
			"required":  FormatAmount(lamports, NativeDecimals),
		})
	}
	return nil
}

func (o *TransferOrchestrator) submit(ctx context.Context, req TransferRequest, ix solana.Instruction) (solana.Signature, time.Time, error) {
	anchor, err := o.ledger.GetAnchor(ctx)
	if err != nil {
		return solana.Signature{}, time.Time{}, err
	}
	tx, err := svm.BuildSignedTransaction(req.From, anchor, ix)
	if err != nil {
		return solana.Signature{}, time.Time{}, err
	}
	txID, err := svm.FirstSignature(tx)
	if err != nil {
		return solana.Signature{}, time.Time{}, err
	}

	logger := log.WithFields(log.Fields{
		"request_id": req.RequestID,
		"from":       req.From.PublicKey().String(),
		"to":         req.To.String(),
		"tx":         txID.String(),
	})

	// Nothing has left the process yet.
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, time.Time{}, err
	}

	sig, err := o.ledger.Submit(ctx, tx, SubmitOptions{SkipPreflight: true})
	if err != nil {
		if errors.Is(err, ErrInstructionFailed) {
			logger.WithError(err).Warn("transfer rejected")
			return solana.Signature{}, time.Time{}, err
		}
		logger.WithError(err).Error("transfer outcome unknown")
		outcome := WrapLedgerError(ErrCodeOutcomeUnknown, ErrOutcomeUnknown.Message, err)
		outcome.Details = map[string]interface{}{"transactionId": txID.String()}
		return solana.Signature{}, time.Time{}, outcome
	}

	logger.Info("transfer submitted")
	return sig, o.now(), nil
}
