package http

import (
	"time"

	spltransfer "github.com/pai-labs/spltransfer"
)

// TransferBody is the request body of POST /v1/transfers. The source key is
// derived server-side from FromIndex; keys never travel over the wire.
type TransferBody struct {
	RequestID string `json:"requestId,omitempty"`
	FromIndex uint32 `json:"fromIndex"`
	To        string `json:"to" binding:"required"`
	Mint      string `json:"mint,omitempty"`
	Amount    string `json:"amount" binding:"required"`
}

// EnsureAccountBody is the request body of POST /v1/accounts
type EnsureAccountBody struct {
	Owner      string `json:"owner" binding:"required"`
	Mint       string `json:"mint" binding:"required"`
	PayerIndex uint32 `json:"payerIndex"`
}

// TransferResponse reports an accepted submission
type TransferResponse struct {
	RequestID     string    `json:"requestId"`
	TransactionID string    `json:"transactionId"`
	SubmittedAt   time.Time `json:"submittedAt"`
	Source        string    `json:"source"`
	Destination   string    `json:"destination"`
	Mint          string    `json:"mint,omitempty"`
	RawAmount     uint64    `json:"rawAmount"`
}

// AccountResponse describes one sub-account
type AccountResponse struct {
	Address   string `json:"address"`
	Owner     string `json:"owner"`
	Mint      string `json:"mint"`
	ProgramID string `json:"programId"`
	Amount    string `json:"amount"`
	RawAmount uint64 `json:"rawAmount"`
	Decimals  uint8  `json:"decimals"`
}

// BalancesResponse is the body of GET /v1/balances/:owner
type BalancesResponse struct {
	Owner     string            `json:"owner"`
	Native    string            `json:"native"`
	NativeRaw uint64            `json:"nativeRaw"`
	Assets    []AccountResponse `json:"assets"`
}

// ErrorResponse carries a LedgerError code, or "bad_request" and "internal"
// for failures outside the ledger taxonomy.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes outside the ledger taxonomy
const (
	CodeBadRequest = "bad_request"
	CodeNotFound   = "not_found"
	CodeConflict   = "conflict"
	CodeInternal   = "internal"
)

// NewTransferResponse renders a SubmissionResult
func NewTransferResponse(r *spltransfer.SubmissionResult) TransferResponse {
	resp := TransferResponse{
		RequestID:     r.RequestID,
		TransactionID: r.TransactionID.String(),
		SubmittedAt:   r.SubmittedAt,
		Source:        r.Source.String(),
		Destination:   r.Destination.String(),
		RawAmount:     r.RawAmount,
	}
	if r.Mint != nil {
		resp.Mint = r.Mint.String()
	}
	return resp
}

// NewAccountResponse renders a SubAccount
func NewAccountResponse(a spltransfer.SubAccount) AccountResponse {
	return AccountResponse{
		Address:   a.Address.String(),
		Owner:     a.Owner.String(),
		Mint:      a.Mint.String(),
		ProgramID: a.ProgramID.String(),
		Amount:    a.UIAmount().String(),
		RawAmount: a.Amount,
		Decimals:  a.Decimals,
	}
}

// NewBalancesResponse renders Balances
func NewBalancesResponse(b *spltransfer.Balances) BalancesResponse {
	resp := BalancesResponse{
		Owner:     b.Owner.String(),
		Native:    b.NativeUIAmount().String(),
		NativeRaw: b.Native,
		Assets:    make([]AccountResponse, 0, len(b.Assets)),
	}
	for _, a := range b.Assets {
		resp.Assets = append(resp.Assets, NewAccountResponse(a))
	}
	return resp
}
