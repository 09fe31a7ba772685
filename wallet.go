package spltransfer

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

// WalletConfig wires a Wallet
type WalletConfig struct {
	Ledger LedgerClient

	// KnownAssets resolve without a ledger read
	KnownAssets []svm.AssetInfo

	// PollPolicy bounds sub-account provisioning and balance confirmation.
	// Zero value means DefaultPolicy.
	PollPolicy Policy

	// FeeReserve in lamports. Zero value means DefaultFeeReserve.
	FeeReserve uint64

	DisablePreflightGate  bool
	StrictTransportErrors bool
}

// Wallet is the entry point for callers: transfer, ensure a sub-account,
// read balances.
type Wallet struct {
	ledger       LedgerClient
	assets       *AssetResolver
	provisioner  *AccountProvisioner
	balances     *BalanceReader
	orchestrator *TransferOrchestrator
	transferer   Transferer
}

// NewWallet creates a Wallet over cfg.Ledger
func NewWallet(cfg WalletConfig) (*Wallet, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}

	policy := cfg.PollPolicy
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	feeReserve := cfg.FeeReserve
	if feeReserve == 0 {
		feeReserve = DefaultFeeReserve
	}

	provisionerOpts := []ProvisionerOption{WithProvisionPolicy(policy)}
	if cfg.StrictTransportErrors {
		provisionerOpts = append(provisionerOpts, WithStrictTransportErrors())
	}
	orchestratorOpts := []OrchestratorOption{WithFeeReserve(feeReserve)}
	if cfg.DisablePreflightGate {
		orchestratorOpts = append(orchestratorOpts, WithoutPreflightGate())
	}

	assets := NewAssetResolver(cfg.Ledger, cfg.KnownAssets...)
	provisioner := NewAccountProvisioner(cfg.Ledger, provisionerOpts...)
	balances := NewBalanceReader(cfg.Ledger, assets, policy)
	orchestrator := NewTransferOrchestrator(cfg.Ledger, assets, balances, provisioner, orchestratorOpts...)

	return &Wallet{
		ledger:       cfg.Ledger,
		assets:       assets,
		provisioner:  provisioner,
		balances:     balances,
		orchestrator: orchestrator,
		transferer:   orchestrator,
	}, nil
}

// Use routes Transfer through wrap, e.g. a submission journal
func (w *Wallet) Use(wrap func(Transferer) Transferer) {
	w.transferer = wrap(w.transferer)
}

// Transfer submits req and returns once the ledger accepted it
func (w *Wallet) Transfer(ctx context.Context, req TransferRequest) (*SubmissionResult, error) {
	return w.transferer.Transfer(ctx, req)
}

// EnsureAccount makes sure owner has a sub-account for mint, paid by payer
func (w *Wallet) EnsureAccount(ctx context.Context, owner, mint solana.PublicKey, payer solana.PrivateKey) (*SubAccount, error) {
	asset, err := w.assets.Resolve(ctx, mint)
	if err != nil {
		return nil, err
	}
	return w.provisioner.Ensure(ctx, owner, asset, payer)
}

// GetBalances returns the native balance and all sub-accounts of owner
func (w *Wallet) GetBalances(ctx context.Context, owner solana.PublicKey) (*Balances, error) {
	return w.balances.Balances(ctx, owner)
}

// AssetBalance returns the raw balance and decimals of owner for mint
func (w *Wallet) AssetBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, uint8, error) {
	return w.balances.AssetBalance(ctx, owner, mint)
}

// NativeBalance returns the lamport balance of owner
func (w *Wallet) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	return w.balances.NativeBalance(ctx, owner)
}

// AwaitAssetBalance waits until owner holds at least minRaw of mint
func (w *Wallet) AwaitAssetBalance(ctx context.Context, owner, mint solana.PublicKey, minRaw uint64) (uint64, error) {
	return w.balances.AwaitAssetBalance(ctx, owner, mint, minRaw)
}

// ResolveAsset returns decimals and program of mint
func (w *Wallet) ResolveAsset(ctx context.Context, mint solana.PublicKey) (Asset, error) {
	return w.assets.Resolve(ctx, mint)
}

// Orchestrator returns the unwrapped transfer orchestrator
func (w *Wallet) Orchestrator() *TransferOrchestrator {
	return w.orchestrator
}
