package spltransfer

import (
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Asset describes a fungible asset class (a mint) together with the token
// program that owns it. The program is the namespace sub-accounts are derived in.
type Asset struct {
	Mint      solana.PublicKey `json:"mint"`
	ProgramID solana.PublicKey `json:"programId"`
	Decimals  uint8            `json:"decimals"`
}

// SubAccount is an associated token account: the unique account holding one
// asset for one owner. Its Address is a pure function of (Owner, Mint, ProgramID).
type SubAccount struct {
	Address   solana.PublicKey `json:"address"`
	Mint      solana.PublicKey `json:"mint"`
	Owner     solana.PublicKey `json:"owner"`
	ProgramID solana.PublicKey `json:"programId"`
	Amount    uint64           `json:"amount"`
	// Decimals is zero until the asset has been resolved.
	Decimals uint8 `json:"decimals"`
}

// UIAmount returns Amount expressed at the asset precision
func (a SubAccount) UIAmount() decimal.Decimal {
	return decimal.NewFromBigInt(newBigUint(a.Amount), -int32(a.Decimals))
}

// TransferRequest asks for Amount of Mint (or of the native asset when Mint is
// nil) to be moved from the owner of From to To.
type TransferRequest struct {
	// RequestID correlates the submission with journal entries. Optional.
	RequestID string
	From      solana.PrivateKey
	To        solana.PublicKey
	Mint      *solana.PublicKey
	Amount    decimal.Decimal
}

// IsNative reports whether the request moves the native asset
func (r TransferRequest) IsNative() bool {
	return r.Mint == nil
}

// SubmissionResult is returned once the ledger accepted a transaction.
// Acceptance is not finality.
type SubmissionResult struct {
	RequestID     string            `json:"requestId,omitempty"`
	TransactionID solana.Signature  `json:"transactionId"`
	SubmittedAt   time.Time         `json:"submittedAt"`
	Source        solana.PublicKey  `json:"source"`
	Destination   solana.PublicKey  `json:"destination"`
	Mint          *solana.PublicKey `json:"mint,omitempty"`
	RawAmount     uint64            `json:"rawAmount"`
}

// Balances is a snapshot of everything an owner holds
type Balances struct {
	Owner  solana.PublicKey `json:"owner"`
	Native uint64           `json:"native"`
	Assets []SubAccount     `json:"assets"`
}

// NativeUIAmount returns the native balance in whole units
func (b Balances) NativeUIAmount() decimal.Decimal {
	return decimal.NewFromBigInt(newBigUint(b.Native), -NativeDecimals)
}

// SubmitOptions tunes how a signed transaction is handed to the ledger
type SubmitOptions struct {
	SkipPreflight bool
}
