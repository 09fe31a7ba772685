package spltransfer

import (
	"context"

	solana "github.com/gagliardetto/solana-go"
)

// LedgerClient is the narrow view of the ledger the provisioner, orchestrator
// and balance reader need. Implementations must be safe for concurrent use.
type LedgerClient interface {
	// GetNativeBalance returns the lamport balance of addr. An unknown address
	// has a zero balance, not an error.
	GetNativeBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)

	// GetSubAccount reads the token account at addr.
	//
	// Returns ErrResourceNotFound when nothing exists at addr, and
	// ErrInvalidOwner when addr exists but is not owned by a token program
	// (typically lamports sent to the address before it was provisioned).
	GetSubAccount(ctx context.Context, addr solana.PublicKey) (*SubAccount, error)

	// ListSubAccountsByOwner lists every token account owned by owner, across
	// both the SPL Token and Token-2022 programs.
	ListSubAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]SubAccount, error)

	// GetAsset reads the mint at addr and reports its decimals and owning program
	GetAsset(ctx context.Context, mint solana.PublicKey) (*Asset, error)

	// GetAnchor returns a recent blockhash to bind a transaction to
	GetAnchor(ctx context.Context) (solana.Hash, error)

	// Submit hands a signed transaction to the ledger and returns its id.
	// Rejections carry ErrInstructionFailed; anything else is ErrTransport.
	Submit(ctx context.Context, tx *solana.Transaction, opts SubmitOptions) (solana.Signature, error)
}

// Transferer is implemented by anything able to carry out a TransferRequest.
// The orchestrator and the journal wrapper both satisfy it.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (*SubmissionResult, error)
}

// Provisioner guarantees a sub-account exists for (owner, asset)
type Provisioner interface {
	Ensure(ctx context.Context, owner solana.PublicKey, asset Asset, payer solana.PrivateKey) (*SubAccount, error)
}
